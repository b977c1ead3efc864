package router

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"www.github.com/Wanderer0074348/HybridRouter/src/config"
	"www.github.com/Wanderer0074348/HybridRouter/src/logging"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
)

// Engine picks a strategy per call, validates its output and falls back to
// complexity routing on any failure. Every final decision reaches the sink.
type Engine struct {
	catalog    *Catalog
	complexity *ComplexityStrategy
	hybrid     Strategy
	sink       models.MetricsSink
	logger     *logrus.Logger
}

// NewEngine wires the three strategies. sink may be nil.
func NewEngine(cfg *config.RouterConfig, recommender Recommender, sink models.MetricsSink, logger *logrus.Logger) (*Engine, error) {
	if len(cfg.Providers) == 0 {
		return nil, ErrRoutingUnavailable
	}
	logger = logging.OrDiscard(logger)

	catalog := NewCatalog(cfg)
	complexity := NewComplexityStrategy(catalog)
	learning := NewLearningStrategy(catalog, recommender, logger)

	return &Engine{
		catalog:    catalog,
		complexity: complexity,
		hybrid:     NewHybridStrategy(learning, complexity, catalog, cfg.TierTolerance, logger),
		sink:       sink,
		logger:     logger,
	}, nil
}

func (e *Engine) strategyFor(autoRoute bool) Strategy {
	if autoRoute {
		return e.hybrid
	}
	return e.complexity
}

// Route returns a decision for prompt. rc may be nil; its Prompt is ignored in
// favor of prompt. Only ErrRoutingUnavailable is ever returned.
func (e *Engine) Route(ctx context.Context, prompt string, autoRoute bool, rc *models.RoutingContext) (*models.RoutingDecision, error) {
	if len(e.catalog.Providers()) == 0 {
		return nil, ErrRoutingUnavailable
	}

	req := models.RoutingContext{}
	if rc != nil {
		req = *rc
	}
	req.Prompt = prompt

	strategy := e.strategyFor(autoRoute)
	decision, err := strategy.Route(ctx, &req)
	if err == nil {
		err = e.validate(decision)
	}

	if err != nil {
		e.logger.WithError(err).WithField("strategy", strategy.Name()).Warn("Routing strategy failed, falling back to complexity routing")

		fallback, ferr := e.complexity.Route(ctx, &req)
		if ferr != nil {
			return nil, ferr
		}
		decision = withMetadata(fallback)
		decision.FallbackUsed = true
		decision.Metadata["fallback_reason"] = err.Error()
		decision.Metadata["failed_strategy"] = strategy.Name()
	}

	e.logger.WithFields(logrus.Fields{
		"provider":      decision.Provider,
		"model":         decision.Model,
		"strategy":      decision.StrategyUsed,
		"confidence":    decision.Confidence,
		"fallback_used": decision.FallbackUsed,
	}).Debug("Routing decision")

	if e.sink != nil {
		e.sink.Track(prompt, decision, autoRoute, req.RequestID)
	}
	return decision, nil
}

func (e *Engine) validate(d *models.RoutingDecision) error {
	switch {
	case d == nil:
		return fmt.Errorf("%w: empty decision", ErrInvalidDecision)
	case !e.catalog.Has(d.Provider):
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidDecision, d.Provider)
	case d.Model == "":
		return fmt.Errorf("%w: empty model", ErrInvalidDecision)
	case !models.ValidConfidence(d.Confidence):
		return fmt.Errorf("%w: confidence %q", ErrInvalidDecision, d.Confidence)
	}
	return nil
}
