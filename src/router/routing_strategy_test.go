package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"www.github.com/Wanderer0074348/HybridRouter/src/config"
	"www.github.com/Wanderer0074348/HybridRouter/src/ledger"
	"www.github.com/Wanderer0074348/HybridRouter/src/mocks"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
)

const (
	simplePrompt   = "Hi"
	moderatePrompt = "Can you debug this?"
	complexPrompt  = "Please analyze our system and design a scalable architecture for the new payment processing platform"
)

func testRouterConfig() *config.RouterConfig {
	return &config.RouterConfig{
		Providers:     config.DefaultProviders(),
		Chains:        config.DefaultChains(),
		TierTolerance: 1,
	}
}

// stubRecommender returns a fixed recommendation and records its inputs.
type stubRecommender struct {
	rec       *ledger.Recommendation
	err       error
	available []string
	bucket    string
}

func (s *stubRecommender) Recommend(ctx context.Context, prompt, complexity string, available []string) (*ledger.Recommendation, error) {
	s.available = available
	s.bucket = complexity
	return s.rec, s.err
}

func highConfidenceRec(provider, model string, quality float64) *ledger.Recommendation {
	return &ledger.Recommendation{
		Pattern: "general",
		Performance: &models.PatternPerformance{
			Pattern:        "general",
			Provider:       provider,
			Model:          model,
			RequestCount:   12,
			RatedCount:     8,
			Confidence:     models.ConfidenceHigh,
			CompositeScore: 0.9,
		},
		NormalizedQuality: &quality,
		Reasoning:         "Historical data for general prompts",
	}
}

func TestComplexityStrategy_BucketsFollowChains(t *testing.T) {
	s := NewComplexityStrategy(NewCatalog(testRouterConfig()))

	tests := []struct {
		prompt, provider, model, bucket string
	}{
		{simplePrompt, "groq", "llama-3.1-8b-instant", models.ComplexitySimple},
		{moderatePrompt, "openai", "gpt-4o-mini", models.ComplexityModerate},
		{complexPrompt, "anthropic", "claude-3-opus-20240229", models.ComplexityComplex},
	}
	for _, tt := range tests {
		t.Run(tt.bucket, func(t *testing.T) {
			d, err := s.Route(context.Background(), &models.RoutingContext{Prompt: tt.prompt})
			require.NoError(t, err)
			assert.Equal(t, tt.provider, d.Provider)
			assert.Equal(t, tt.model, d.Model)
			assert.Equal(t, models.ConfidenceMedium, d.Confidence)
			assert.Equal(t, models.StrategyComplexity, d.StrategyUsed)
			assert.False(t, d.FallbackUsed)
			assert.Equal(t, tt.bucket, d.Metadata["complexity_bucket"])
			assert.Equal(t, tt.bucket, d.Metadata["tier"])
		})
	}
}

func TestComplexityStrategy_AvailableProviders(t *testing.T) {
	s := NewComplexityStrategy(NewCatalog(testRouterConfig()))

	d, err := s.Route(context.Background(), &models.RoutingContext{
		Prompt:             simplePrompt,
		AvailableProviders: []string{"openai"},
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", d.Provider)
	assert.Equal(t, "gpt-3.5-turbo", d.Model)
	assert.True(t, d.FallbackUsed)

	// an unsatisfiable restriction is ignored
	d, err = s.Route(context.Background(), &models.RoutingContext{
		Prompt:             simplePrompt,
		AvailableProviders: []string{"mistral"},
	})
	require.NoError(t, err)
	assert.Equal(t, "groq", d.Provider)
	assert.Equal(t, "ignored", d.Metadata["available_providers"])
}

func TestComplexityStrategy_MaxCost(t *testing.T) {
	s := NewComplexityStrategy(NewCatalog(testRouterConfig()))

	// opus is ~$0.0196 for this prompt, gpt-4o ~$0.0026
	d, err := s.Route(context.Background(), &models.RoutingContext{Prompt: complexPrompt, MaxCostUSD: 0.005})
	require.NoError(t, err)
	assert.Equal(t, "openai", d.Provider)
	assert.Equal(t, "gpt-4o", d.Model)
	assert.True(t, d.FallbackUsed)

	d, err = s.Route(context.Background(), &models.RoutingContext{Prompt: complexPrompt, MaxCostUSD: 0.0000001})
	require.NoError(t, err)
	assert.Equal(t, "groq", d.Provider)
	assert.Equal(t, "unsatisfied", d.Metadata["cost_constraint"])
}

func TestComplexityStrategy_AlwaysConfiguredProvider(t *testing.T) {
	cfg := testRouterConfig()
	s := NewComplexityStrategy(NewCatalog(cfg))
	catalog := NewCatalog(cfg)

	prompts := []string{"", simplePrompt, moderatePrompt, complexPrompt, "Write a poem", "Solve 2x+3=7 step by step"}
	for _, p := range prompts {
		d, err := s.Route(context.Background(), &models.RoutingContext{Prompt: p})
		require.NoError(t, err, p)
		assert.True(t, catalog.Has(d.Provider), p)
		assert.NotEmpty(t, d.Model, p)
	}
}

func TestComplexityStrategy_NoProviders(t *testing.T) {
	s := NewComplexityStrategy(NewCatalog(&config.RouterConfig{}))
	_, err := s.Route(context.Background(), &models.RoutingContext{Prompt: simplePrompt})
	assert.ErrorIs(t, err, ErrRoutingUnavailable)
}

func TestLearningStrategy_NoDataUsesDefault(t *testing.T) {
	rec := &stubRecommender{}
	s := NewLearningStrategy(NewCatalog(testRouterConfig()), rec, nil)

	d, err := s.Route(context.Background(), &models.RoutingContext{Prompt: simplePrompt})
	require.NoError(t, err)
	assert.Equal(t, "groq", d.Provider)
	assert.Equal(t, "llama-3.1-8b-instant", d.Model)
	assert.Equal(t, models.ConfidenceLow, d.Confidence)
	assert.True(t, d.FallbackUsed)
	assert.Equal(t, models.StrategyLearning, d.StrategyUsed)
	assert.Equal(t, models.ComplexitySimple, rec.bucket)
}

func TestLearningStrategy_UsesRecommendation(t *testing.T) {
	rec := &stubRecommender{rec: highConfidenceRec("openai", "gpt-4o-mini", 0.9)}
	s := NewLearningStrategy(NewCatalog(testRouterConfig()), rec, nil)

	d, err := s.Route(context.Background(), &models.RoutingContext{
		Prompt:             simplePrompt,
		AvailableProviders: []string{"openai", "groq"},
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", d.Provider)
	assert.Equal(t, "gpt-4o-mini", d.Model)
	assert.Equal(t, models.ConfidenceHigh, d.Confidence)
	assert.False(t, d.FallbackUsed)
	assert.Equal(t, "12", d.Metadata["request_count"])
	assert.Equal(t, []string{"groq", "openai"}, rec.available)
}

func TestLearningStrategy_MinQuality(t *testing.T) {
	rec := &stubRecommender{rec: highConfidenceRec("openai", "gpt-4o-mini", 0.5)}
	s := NewLearningStrategy(NewCatalog(testRouterConfig()), rec, nil)

	d, err := s.Route(context.Background(), &models.RoutingContext{Prompt: simplePrompt, MinQuality: 0.8})
	require.NoError(t, err)
	assert.Equal(t, "groq", d.Provider)
	assert.Equal(t, models.ConfidenceLow, d.Confidence)
}

func TestLearningStrategy_BackendError(t *testing.T) {
	rec := &stubRecommender{err: errors.New("connection refused")}
	s := NewLearningStrategy(NewCatalog(testRouterConfig()), rec, nil)

	_, err := s.Route(context.Background(), &models.RoutingContext{Prompt: simplePrompt})
	assert.Error(t, err)
}

func newTestHybrid(learning Strategy) *HybridStrategy {
	catalog := NewCatalog(testRouterConfig())
	return NewHybridStrategy(learning, NewComplexityStrategy(catalog), catalog, 1, nil)
}

func TestHybridStrategy_RejectsFarTierMismatch(t *testing.T) {
	learning := new(mocks.MockStrategy)
	learning.On("Route", mock.Anything, mock.Anything).Return(&models.RoutingDecision{
		Provider:     "anthropic",
		Model:        "claude-3-opus-20240229",
		Confidence:   models.ConfidenceHigh,
		StrategyUsed: models.StrategyLearning,
	}, nil)

	d, err := newTestHybrid(learning).Route(context.Background(), &models.RoutingContext{Prompt: simplePrompt})
	require.NoError(t, err)

	assert.Equal(t, "groq", d.Provider)
	assert.Equal(t, "llama-3.1-8b-instant", d.Model)
	assert.Equal(t, models.StrategyHybrid, d.StrategyUsed)
	assert.Equal(t, models.ConfidenceMedium, d.Confidence)
	assert.Equal(t, "true", d.Metadata["learning_mismatch"])
	assert.Equal(t, "rejected", d.Metadata["validation"])
	assert.Equal(t, "claude-3-opus-20240229", d.Metadata["rejected_model"])
	assert.Contains(t, d.Reasoning, "2 tiers")
	learning.AssertExpectations(t)
}

func TestHybridStrategy_AcceptsAdjacentTier(t *testing.T) {
	learning := new(mocks.MockStrategy)
	learning.On("Route", mock.Anything, mock.Anything).Return(&models.RoutingDecision{
		Provider:     "openai",
		Model:        "gpt-4o-mini",
		Confidence:   models.ConfidenceHigh,
		StrategyUsed: models.StrategyLearning,
		Metadata:     map[string]string{"pattern": "general"},
	}, nil)

	d, err := newTestHybrid(learning).Route(context.Background(), &models.RoutingContext{Prompt: simplePrompt})
	require.NoError(t, err)

	assert.Equal(t, "openai", d.Provider)
	assert.Equal(t, models.ConfidenceHigh, d.Confidence)
	assert.Equal(t, models.StrategyHybrid, d.StrategyUsed)
	assert.Equal(t, "validated", d.Metadata["validation"])
	assert.Equal(t, "general", d.Metadata["pattern"])
	assert.Empty(t, d.Metadata["learning_mismatch"])
}

func TestHybridStrategy_LowerConfidenceIsExperimental(t *testing.T) {
	for _, conf := range []string{models.ConfidenceMedium, models.ConfidenceLow} {
		t.Run(conf, func(t *testing.T) {
			learning := new(mocks.MockStrategy)
			learning.On("Route", mock.Anything, mock.Anything).Return(&models.RoutingDecision{
				Provider:     "anthropic",
				Model:        "claude-3-opus-20240229",
				Confidence:   conf,
				StrategyUsed: models.StrategyLearning,
			}, nil)

			d, err := newTestHybrid(learning).Route(context.Background(), &models.RoutingContext{Prompt: simplePrompt})
			require.NoError(t, err)

			// no tier check below high confidence
			assert.Equal(t, "anthropic", d.Provider)
			assert.Equal(t, conf, d.Confidence)
			assert.Equal(t, "experimental", d.Metadata["validation"])
		})
	}
}

func TestHybridStrategy_LearningUnavailable(t *testing.T) {
	learning := new(mocks.MockStrategy)
	learning.On("Route", mock.Anything, mock.Anything).Return(nil, errors.New("redis: connection refused"))

	d, err := newTestHybrid(learning).Route(context.Background(), &models.RoutingContext{Prompt: complexPrompt})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyHybridFallback, d.StrategyUsed)
	assert.Equal(t, "anthropic", d.Provider)
	assert.Contains(t, d.Metadata["learning_error"], "connection refused")
}

func TestHybridStrategy_ZeroTolerance(t *testing.T) {
	learning := new(mocks.MockStrategy)
	learning.On("Route", mock.Anything, mock.Anything).Return(&models.RoutingDecision{
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		Confidence: models.ConfidenceHigh,
	}, nil)

	catalog := NewCatalog(testRouterConfig())
	h := NewHybridStrategy(learning, NewComplexityStrategy(catalog), catalog, 0, nil)

	d, err := h.Route(context.Background(), &models.RoutingContext{Prompt: simplePrompt})
	require.NoError(t, err)
	assert.Equal(t, "groq", d.Provider)
	assert.Equal(t, "true", d.Metadata["learning_mismatch"])
}
