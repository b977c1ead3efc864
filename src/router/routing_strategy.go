package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"

	"www.github.com/Wanderer0074348/HybridRouter/src/analysis"
	"www.github.com/Wanderer0074348/HybridRouter/src/ledger"
	"www.github.com/Wanderer0074348/HybridRouter/src/logging"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
	"www.github.com/Wanderer0074348/HybridRouter/src/utils"
)

var (
	// ErrRoutingUnavailable means no configured provider can serve the request.
	ErrRoutingUnavailable = errors.New("no provider available for routing")
	// ErrInvalidDecision marks a strategy output that failed validation.
	ErrInvalidDecision = errors.New("invalid routing decision")
)

// Strategy turns a prompt into a routing decision.
type Strategy interface {
	Name() string
	Route(ctx context.Context, rc *models.RoutingContext) (*models.RoutingDecision, error)
}

// ComplexityStrategy routes by the prompt's complexity bucket along a fixed
// provider chain. It never reports more than medium confidence.
type ComplexityStrategy struct {
	catalog *Catalog
}

func NewComplexityStrategy(catalog *Catalog) *ComplexityStrategy {
	return &ComplexityStrategy{catalog: catalog}
}

func (s *ComplexityStrategy) Name() string { return models.StrategyComplexity }

func (s *ComplexityStrategy) Route(ctx context.Context, rc *models.RoutingContext) (*models.RoutingDecision, error) {
	score := analysis.ScoreComplexity(rc.Prompt)
	full := s.catalog.Chain(score.Bucket)
	chain, restricted := s.catalog.Available(full, rc.AvailableProviders)

	// positions refer to the full chain so a restricted pick counts as a descent
	position := make(map[string]int, len(full))
	for i, p := range full {
		position[p] = i
	}

	type candidate struct {
		provider, model string
		cost            float64
		pos             int
	}
	var candidates []candidate
	for _, p := range chain {
		m := s.catalog.ModelFor(p, score.Bucket)
		if m == "" {
			continue
		}
		candidates = append(candidates, candidate{p, m, utils.EstimateRequestCost(p, m, rc.Prompt), position[p]})
	}
	if len(candidates) == 0 {
		return nil, ErrRoutingUnavailable
	}

	pick := candidates[0]
	costOK := true
	if rc.MaxCostUSD > 0 {
		costOK = false
		for _, c := range candidates {
			if c.cost <= rc.MaxCostUSD {
				pick, costOK = c, true
				break
			}
		}
		if !costOK {
			// nothing fits the budget: cheapest wins
			for _, c := range candidates {
				if c.cost < pick.cost {
					pick = c
				}
			}
		}
	}

	decision := &models.RoutingDecision{
		Provider:     pick.provider,
		Model:        pick.model,
		Confidence:   models.ConfidenceMedium,
		StrategyUsed: models.StrategyComplexity,
		FallbackUsed: pick.pos > 0,
		Reasoning: fmt.Sprintf("Complexity %.2f (%s): %d tokens, %d keywords; routed to %s %s",
			score.Value, score.Bucket, score.Tokens, len(score.Keywords), pick.provider, pick.model),
		Metadata: map[string]string{
			"complexity_score":  strconv.FormatFloat(score.Value, 'f', 4, 64),
			"complexity_bucket": score.Bucket,
			"tier":              s.catalog.TierOf(pick.provider, pick.model),
			"estimated_cost":    strconv.FormatFloat(pick.cost, 'f', 6, 64),
		},
	}
	if !restricted {
		decision.Metadata["available_providers"] = "ignored"
	}
	if !costOK {
		decision.Metadata["cost_constraint"] = "unsatisfied"
	}
	return decision, nil
}

// Recommender is the ledger as seen by the learning strategy.
type Recommender interface {
	Recommend(ctx context.Context, prompt, complexity string, available []string) (*ledger.Recommendation, error)
}

// LearningStrategy routes on historical performance and falls back to the
// bucket default when the ledger has nothing to say.
type LearningStrategy struct {
	catalog     *Catalog
	recommender Recommender
	logger      *logrus.Logger
}

func NewLearningStrategy(catalog *Catalog, recommender Recommender, logger *logrus.Logger) *LearningStrategy {
	return &LearningStrategy{
		catalog:     catalog,
		recommender: recommender,
		logger:      logging.OrDiscard(logger),
	}
}

func (s *LearningStrategy) Name() string { return models.StrategyLearning }

// Route returns an error only when the ledger backend fails.
func (s *LearningStrategy) Route(ctx context.Context, rc *models.RoutingContext) (*models.RoutingDecision, error) {
	bucket := analysis.ScoreComplexity(rc.Prompt).Bucket
	available, _ := s.catalog.Available(s.catalog.Providers(), rc.AvailableProviders)

	rec, err := s.recommender.Recommend(ctx, rc.Prompt, bucket, available)
	if err != nil {
		return nil, fmt.Errorf("learning backend: %w", err)
	}

	if rec != nil && rc.MinQuality > 0 && (rec.NormalizedQuality == nil || *rec.NormalizedQuality < rc.MinQuality) {
		s.logger.WithFields(logrus.Fields{
			"provider":    rec.Performance.Provider,
			"model":       rec.Performance.Model,
			"min_quality": rc.MinQuality,
		}).Debug("Recommendation below minimum quality")
		rec = nil
	}

	if rec == nil {
		return s.defaultDecision(bucket, available)
	}

	p := rec.Performance
	decision := &models.RoutingDecision{
		Provider:     p.Provider,
		Model:        p.Model,
		Confidence:   p.Confidence,
		StrategyUsed: models.StrategyLearning,
		Reasoning:    rec.Reasoning,
		Metadata: map[string]string{
			"pattern":         rec.Pattern,
			"composite_score": strconv.FormatFloat(p.CompositeScore, 'f', 4, 64),
			"request_count":   strconv.Itoa(p.RequestCount),
			"widened":         strconv.FormatBool(rec.Widened),
		},
	}
	if rec.TrainedConfidence != "" {
		decision.Metadata["trained_confidence"] = rec.TrainedConfidence
	}
	return decision, nil
}

func (s *LearningStrategy) defaultDecision(bucket string, available []string) (*models.RoutingDecision, error) {
	chain, _ := s.catalog.Available(s.catalog.Chain(bucket), available)
	for _, p := range chain {
		if m := s.catalog.ModelFor(p, bucket); m != "" {
			return &models.RoutingDecision{
				Provider:     p,
				Model:        m,
				Confidence:   models.ConfidenceLow,
				StrategyUsed: models.StrategyLearning,
				FallbackUsed: true,
				Reasoning:    fmt.Sprintf("No historical data; using %s default %s %s", bucket, p, m),
				Metadata:     map[string]string{"complexity_bucket": bucket},
			}, nil
		}
	}
	return nil, ErrRoutingUnavailable
}

// HybridStrategy trusts the learning strategy only as far as the complexity
// heuristic agrees with it.
type HybridStrategy struct {
	learning   Strategy
	complexity Strategy
	catalog    *Catalog
	tolerance  int
	logger     *logrus.Logger
}

// NewHybridStrategy builds the hybrid. tolerance is the largest accepted tier
// difference for a high-confidence learned route.
func NewHybridStrategy(learning, complexity Strategy, catalog *Catalog, tolerance int, logger *logrus.Logger) *HybridStrategy {
	if tolerance < 0 {
		tolerance = 1
	}
	return &HybridStrategy{
		learning:   learning,
		complexity: complexity,
		catalog:    catalog,
		tolerance:  tolerance,
		logger:     logging.OrDiscard(logger),
	}
}

func (s *HybridStrategy) Name() string { return models.StrategyHybrid }

func (s *HybridStrategy) Route(ctx context.Context, rc *models.RoutingContext) (*models.RoutingDecision, error) {
	learned, err := s.learning.Route(ctx, rc)
	if err != nil {
		s.logger.WithError(err).Warn("Learning strategy unavailable, using complexity routing")
		d, cerr := s.complexity.Route(ctx, rc)
		if cerr != nil {
			return nil, cerr
		}
		out := withMetadata(d)
		out.StrategyUsed = models.StrategyHybridFallback
		out.Metadata["learning_error"] = err.Error()
		return out, nil
	}

	if learned.Confidence != models.ConfidenceHigh {
		out := withMetadata(learned)
		out.StrategyUsed = models.StrategyHybrid
		if models.ConfidenceRank(out.Confidence) > models.ConfidenceRank(models.ConfidenceMedium) {
			out.Confidence = models.ConfidenceMedium
		}
		out.Metadata["validation"] = "experimental"
		return out, nil
	}

	heuristic, err := s.complexity.Route(ctx, rc)
	if err != nil {
		return nil, err
	}

	learnedTier := s.catalog.TierOf(learned.Provider, learned.Model)
	heuristicTier := s.catalog.TierOf(heuristic.Provider, heuristic.Model)
	diff := int(math.Abs(float64(TierRank(learnedTier) - TierRank(heuristicTier))))

	if diff <= s.tolerance {
		out := withMetadata(learned)
		out.StrategyUsed = models.StrategyHybrid
		out.Metadata["validation"] = "validated"
		out.Metadata["learning_tier"] = learnedTier
		out.Metadata["complexity_tier"] = heuristicTier
		return out, nil
	}

	s.logger.WithFields(logrus.Fields{
		"learned_model":   learned.Model,
		"learned_tier":    learnedTier,
		"heuristic_model": heuristic.Model,
		"heuristic_tier":  heuristicTier,
	}).Warn("Rejected learned route outside heuristic tier range")

	out := withMetadata(heuristic)
	out.StrategyUsed = models.StrategyHybrid
	out.Reasoning = fmt.Sprintf("Learned route %s/%s (%s) is %d tiers from heuristic pick; %s",
		learned.Provider, learned.Model, learnedTier, diff, heuristic.Reasoning)
	out.Metadata["validation"] = "rejected"
	out.Metadata["learning_mismatch"] = "true"
	out.Metadata["rejected_provider"] = learned.Provider
	out.Metadata["rejected_model"] = learned.Model
	out.Metadata["learning_tier"] = learnedTier
	out.Metadata["complexity_tier"] = heuristicTier
	return out, nil
}

// withMetadata copies d with its own metadata map.
func withMetadata(d *models.RoutingDecision) *models.RoutingDecision {
	out := *d
	out.Metadata = make(map[string]string, len(d.Metadata)+4)
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	return &out
}
