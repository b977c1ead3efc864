// Package metrics records every routing decision on a best-effort side
// channel and answers cost-savings and summary queries over the log.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"www.github.com/Wanderer0074348/HybridRouter/src/logging"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
	"www.github.com/Wanderer0074348/HybridRouter/src/utils"
)

const (
	DefaultQueueSize     = 1024
	DefaultRetryAttempts = 3
	DefaultWindowDays    = 30

	defaultRetryDelay = 50 * time.Millisecond
	persistTimeout    = 5 * time.Second
	previewLength     = 100
)

// Collector queues decision records and persists them from a single worker.
// Track never blocks: a full queue drops the record.
type Collector struct {
	store      models.DecisionStore
	queue      chan *models.DecisionRecord
	retries    int
	retryDelay time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

type Options struct {
	QueueSize     int
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        *logrus.Logger
}

// NewCollector starts the persistence worker. Call Close to drain it.
func NewCollector(store models.DecisionStore, opts Options) *Collector {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	c := &Collector{
		store:      store,
		queue:      make(chan *models.DecisionRecord, opts.QueueSize),
		retries:    opts.RetryAttempts,
		retryDelay: opts.RetryDelay,
		logger:     logging.OrDiscard(opts.Logger),
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go c.run()
	return c
}

// Track builds an immutable record for decision and enqueues it.
func (c *Collector) Track(prompt string, decision *models.RoutingDecision, autoRoute bool, requestID string) {
	if decision == nil {
		return
	}
	observeDecision(decision.StrategyUsed, decision.Confidence, decision.FallbackUsed)

	rec := &models.DecisionRecord{
		ID:            uuid.NewString(),
		RequestID:     requestID,
		PromptPreview: preview(prompt),
		Provider:      decision.Provider,
		Model:         decision.Model,
		Confidence:    decision.Confidence,
		StrategyUsed:  decision.StrategyUsed,
		FallbackUsed:  decision.FallbackUsed,
		AutoRoute:     autoRoute,
		EstimatedCost: utils.EstimateRequestCost(decision.Provider, decision.Model, prompt),
		CreatedAt:     c.now().UTC(),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.drop("closed", rec)
		return
	}
	select {
	case c.queue <- rec:
	default:
		c.drop("queue_full", rec)
	}
}

// Dropped is the number of records that never reached storage.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops accepting records and waits for the queue to drain.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) run() {
	defer close(c.done)
	for rec := range c.queue {
		c.persist(rec)
	}
}

func (c *Collector) persist(rec *models.DecisionRecord) {
	var err error
	for attempt := 1; attempt <= c.retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err = c.store.AppendDecision(ctx, rec)
		cancel()
		if err == nil {
			return
		}
		if attempt < c.retries {
			time.Sleep(c.retryDelay * time.Duration(attempt))
		}
	}
	c.logger.WithError(err).WithField("attempts", c.retries).Warn("Failed to persist routing decision")
	c.drop("persist_failed", rec)
}

func (c *Collector) drop(reason string, rec *models.DecisionRecord) {
	c.dropped.Add(1)
	observeDrop(reason)
	c.logger.WithFields(logrus.Fields{
		"reason":   reason,
		"provider": rec.Provider,
		"model":    rec.Model,
	}).Debug("Dropped routing decision record")
}

// Savings compares manual (baseline) routing cost with auto-routed cost.
type Savings struct {
	WindowDays          int     `json:"window_days"`
	BaselineCost        float64 `json:"baseline_cost"`
	IntelligentCost     float64 `json:"intelligent_cost"`
	TotalSaved          float64 `json:"total_saved"`
	PercentSaved        float64 `json:"percent_saved"`
	BaselineRequests    int     `json:"baseline_requests"`
	IntelligentRequests int     `json:"intelligent_requests"`
}

// CostSavings sums estimated cost over the last windowDays days.
func (c *Collector) CostSavings(ctx context.Context, windowDays int) (*Savings, error) {
	windowDays = normalizeWindow(windowDays)
	records, err := c.store.ListDecisions(ctx, c.windowStart(windowDays))
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	s := &Savings{WindowDays: windowDays}
	for _, r := range records {
		if r.AutoRoute {
			s.IntelligentCost += r.EstimatedCost
			s.IntelligentRequests++
		} else {
			s.BaselineCost += r.EstimatedCost
			s.BaselineRequests++
		}
	}
	s.TotalSaved = s.BaselineCost - s.IntelligentCost
	if s.BaselineCost > 0 {
		s.PercentSaved = s.TotalSaved * 100 / s.BaselineCost
	}
	return s, nil
}

// Aggregate summarizes a group of decisions.
type Aggregate struct {
	Count             int     `json:"count"`
	TotalCost         float64 `json:"total_cost"`
	AvgCost           float64 `json:"avg_cost"`
	PctHighConfidence float64 `json:"pct_high_confidence"`
	FallbackCount     int     `json:"fallback_count"`

	high int
}

type Summary struct {
	WindowDays   int                   `json:"window_days"`
	Total        int                   `json:"total"`
	ByStrategy   map[string]*Aggregate `json:"by_strategy"`
	ByConfidence map[string]*Aggregate `json:"by_confidence"`
}

// Summary groups the window's decisions by strategy and by confidence.
func (c *Collector) Summary(ctx context.Context, windowDays int) (*Summary, error) {
	windowDays = normalizeWindow(windowDays)
	records, err := c.store.ListDecisions(ctx, c.windowStart(windowDays))
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	s := &Summary{
		WindowDays:   windowDays,
		Total:        len(records),
		ByStrategy:   make(map[string]*Aggregate),
		ByConfidence: make(map[string]*Aggregate),
	}
	for _, r := range records {
		add(s.ByStrategy, r.StrategyUsed, r)
		add(s.ByConfidence, r.Confidence, r)
	}
	for _, groups := range []map[string]*Aggregate{s.ByStrategy, s.ByConfidence} {
		for _, a := range groups {
			a.AvgCost = a.TotalCost / float64(a.Count)
			a.PctHighConfidence = float64(a.high) * 100 / float64(a.Count)
		}
	}
	return s, nil
}

func add(groups map[string]*Aggregate, key string, r *models.DecisionRecord) {
	a, ok := groups[key]
	if !ok {
		a = &Aggregate{}
		groups[key] = a
	}
	a.Count++
	a.TotalCost += r.EstimatedCost
	if r.Confidence == models.ConfidenceHigh {
		a.high++
	}
	if r.FallbackUsed {
		a.FallbackCount++
	}
}

func (c *Collector) windowStart(days int) time.Time {
	return c.now().Add(-time.Duration(days) * 24 * time.Hour)
}

func normalizeWindow(days int) int {
	if days <= 0 {
		return DefaultWindowDays
	}
	return days
}

func preview(prompt string) string {
	r := []rune(prompt)
	if len(r) <= previewLength {
		return prompt
	}
	return string(r[:previewLength]) + "..."
}
