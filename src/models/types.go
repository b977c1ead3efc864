package models

import (
	"encoding/json"
	"time"
)

// Confidence levels shared by routing decisions and historical estimates.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Strategy names recorded in RoutingDecision.StrategyUsed.
const (
	StrategyComplexity     = "complexity"
	StrategyLearning       = "learning"
	StrategyHybrid         = "hybrid"
	StrategyHybridFallback = "hybrid_fallback"
)

// Complexity buckets. They double as model tiers.
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
)

// ValidConfidence reports whether c is one of the three confidence levels.
func ValidConfidence(c string) bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// ConfidenceRank orders confidence levels: low < medium < high.
// Unknown values rank below low.
func ConfidenceRank(c string) int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

type RoutingDecision struct {
	Provider     string            `json:"provider"`
	Model        string            `json:"model"`
	Confidence   string            `json:"confidence"`
	StrategyUsed string            `json:"strategy_used"`
	Reasoning    string            `json:"reasoning"`
	FallbackUsed bool              `json:"fallback_used"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RoutingContext is the read-only input to a routing strategy.
type RoutingContext struct {
	Prompt             string   `json:"prompt"`
	RequestID          string   `json:"request_id,omitempty"`
	UserID             string   `json:"user_id,omitempty"`
	SessionID          string   `json:"session_id,omitempty"`
	AvailableProviders []string `json:"available_providers,omitempty"`
	MaxCostUSD         float64  `json:"max_cost_usd,omitempty"`
	MinQuality         float64  `json:"min_quality,omitempty"`
}

// CacheEntry is one stored provider response. The persisted field names are
// shared with other implementations and must not change.
type CacheEntry struct {
	CacheKey           string          `json:"cache_key"`
	PromptNormalized   string          `json:"prompt_normalized"`
	Embedding          []float32       `json:"embedding,omitempty"`
	Complexity         string          `json:"complexity"`
	Pattern            string          `json:"pattern"`
	Provider           string          `json:"provider"`
	Model              string          `json:"model"`
	Response           json.RawMessage `json:"response"`
	MaxTokens          int             `json:"max_tokens"`
	TokensIn           int             `json:"tokens_in"`
	TokensOut          int             `json:"tokens_out"`
	Cost               float64         `json:"cost"`
	CreatedAt          time.Time       `json:"created_at"`
	LastAccessed       time.Time       `json:"last_accessed"`
	HitCount           int             `json:"hit_count"`
	Upvotes            int             `json:"upvotes"`
	Downvotes          int             `json:"downvotes"`
	QualityScore       *float64        `json:"quality_score"`
	Invalidated        bool            `json:"invalidated"`
	InvalidationReason string          `json:"invalidation_reason,omitempty"`
}

// ResponseText returns the response payload as text when it was stored as a
// JSON string, otherwise the raw JSON.
func (e *CacheEntry) ResponseText() string {
	var s string
	if err := json.Unmarshal(e.Response, &s); err == nil {
		return s
	}
	return string(e.Response)
}

type FeedbackRecord struct {
	ID        string    `json:"id"`
	CacheKey  string    `json:"cache_key"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PatternPerformance is the ledger's aggregate for one (pattern, provider, model).
type PatternPerformance struct {
	Pattern        string   `json:"pattern"`
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
	RequestCount   int      `json:"request_count"`
	AvgCost        float64  `json:"avg_cost"`
	AvgQuality     *float64 `json:"avg_quality"`
	RatedCount     int      `json:"rated_count"`
	Upvotes        int      `json:"upvotes"`
	Downvotes      int      `json:"downvotes"`
	ValidityRate   float64  `json:"validity_rate"`
	Confidence     string   `json:"confidence"`
	CompositeScore float64  `json:"composite_score"`
}

// DecisionRecord is the immutable metrics row written per routing decision.
type DecisionRecord struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id,omitempty"`
	PromptPreview string    `json:"prompt_preview"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Confidence    string    `json:"confidence"`
	StrategyUsed  string    `json:"strategy_used"`
	FallbackUsed  bool      `json:"fallback_used"`
	AutoRoute     bool      `json:"auto_route"`
	EstimatedCost float64   `json:"estimated_cost"`
	CreatedAt     time.Time `json:"created_at"`
}

// PatternSnapshot is one append-only history row written by a retrain run.
type PatternSnapshot struct {
	RunID           string    `json:"run_id"`
	Pattern         string    `json:"pattern"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	SampleCount     int       `json:"sample_count"`
	AvgQuality      float64   `json:"avg_quality"`
	CorrectnessRate float64   `json:"correctness_rate"`
	Confidence      string    `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProviderResult is what a Provider returns after executing a prompt.
type ProviderResult struct {
	Text      string  `json:"text"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	Cost      float64 `json:"cost"`
}

// InferenceRequest is the HTTP body of the full inference flow.
type InferenceRequest struct {
	Prompt             string   `json:"prompt" binding:"required"`
	MaxTokens          int      `json:"max_tokens,omitempty"`
	AutoRoute          *bool    `json:"auto_route,omitempty"`
	UserID             string   `json:"user_id,omitempty"`
	SessionID          string   `json:"session_id,omitempty"`
	AvailableProviders []string `json:"available_providers,omitempty"`
	MaxCostUSD         float64  `json:"max_cost_usd,omitempty"`
	MinQuality         float64  `json:"min_quality,omitempty"`
}

type InferenceResponse struct {
	RequestID    string           `json:"request_id"`
	Response     string           `json:"response"`
	CacheKey     string           `json:"cache_key"`
	CacheHit     bool             `json:"cache_hit"`
	SemanticHit  bool             `json:"semantic_hit,omitempty"`
	Similarity   float64          `json:"similarity,omitempty"`
	Decision     *RoutingDecision `json:"decision,omitempty"`
	Provider     string           `json:"provider"`
	Model        string           `json:"model"`
	TokensIn     int              `json:"tokens_in"`
	TokensOut    int              `json:"tokens_out"`
	Cost         float64          `json:"cost"`
	QualityScore *float64         `json:"quality_score"`
	Latency      time.Duration    `json:"latency"`
	Timestamp    time.Time        `json:"timestamp"`
}

type FeedbackRequest struct {
	CacheKey string `json:"cache_key" binding:"required"`
	Rating   int    `json:"rating" binding:"required"`
	Comment  string `json:"comment,omitempty"`
}
