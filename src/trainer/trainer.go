// Package trainer turns user feedback into per-pattern confidence snapshots.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"www.github.com/Wanderer0074348/HybridRouter/src/logging"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
)

const (
	DefaultLookback   = 30 * 24 * time.Hour
	DefaultMinSamples = 3

	// five-point scale
	upvotePoints   = 5.0
	downvotePoints = 1.0

	highCount       = 10
	highAvgQuality  = 4.0
	highCorrectness = 0.8
	mediumCount     = 5

	floorAvgQuality  = 3.5
	floorCorrectness = 0.7
)

// ErrRetrainInProgress is returned when another retrain holds the lock.
var ErrRetrainInProgress = errors.New("retrain already in progress")

// Store is the slice of storage the trainer reads and appends to.
type Store interface {
	GetEntry(ctx context.Context, key string) (*models.CacheEntry, error)
	models.FeedbackStore
	models.HistoryStore
}

// Publisher receives the accepted grades of the current feedback window. Each
// call replaces the previous one.
type Publisher interface {
	RefreshTrained(rows []*models.PatternSnapshot)
}

type Trainer struct {
	store      Store
	publisher  Publisher
	lookback   time.Duration
	minSamples int
	logger     *logrus.Logger
	now        func() time.Time

	running sync.Mutex
	// confidence per (pattern, model) accepted by the last applied run; nil
	// until one completes in this process. Guarded by running.
	last map[groupKey]string
}

type Options struct {
	Lookback   time.Duration
	MinSamples int
	Logger     *logrus.Logger
}

// New builds a trainer. publisher may be nil.
func New(store Store, publisher Publisher, opts Options) *Trainer {
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = DefaultMinSamples
	}
	return &Trainer{
		store:      store,
		publisher:  publisher,
		lookback:   opts.Lookback,
		minSamples: opts.MinSamples,
		logger:     logging.OrDiscard(opts.Logger),
		now:        time.Now,
	}
}

// Change is one (pattern, model) whose feedback earned medium or high confidence.
type Change struct {
	Pattern            string  `json:"pattern"`
	Provider           string  `json:"provider"`
	Model              string  `json:"model"`
	SampleCount        int     `json:"sample_count"`
	AvgQuality         float64 `json:"avg_quality"`
	CorrectnessRate    float64 `json:"correctness_rate"`
	Confidence         string  `json:"confidence"`
	PreviousConfidence string  `json:"previous_confidence,omitempty"`
}

type Result struct {
	RunID        string    `json:"run_id"`
	DryRun       bool      `json:"dry_run"`
	Changes      []Change  `json:"changes"`
	TotalChanges int       `json:"total_changes"`
	FeedbackSeen int       `json:"feedback_seen"`
	StartedAt    time.Time `json:"started_at"`
}

// Confidence grades a feedback aggregate. The quality floor overrides volume.
func Confidence(count int, avgQuality, correctness float64) string {
	switch {
	case avgQuality < floorAvgQuality || correctness < floorCorrectness:
		return models.ConfidenceLow
	case count >= highCount && avgQuality >= highAvgQuality && correctness >= highCorrectness:
		return models.ConfidenceHigh
	case count >= mediumCount:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

type groupKey struct{ pattern, model string }

type group struct {
	provider string
	count    int
	points   float64
	up       int
}

// Retrain grades the window's feedback by (pattern, model). Outside a dry
// run, every change is appended to history under a fresh run id and the
// publisher is refreshed with exactly this run's changes, so a model that
// lost its grade stops carrying one. History is never rewritten.
func (t *Trainer) Retrain(ctx context.Context, dryRun bool) (*Result, error) {
	if !t.running.TryLock() {
		return nil, ErrRetrainInProgress
	}
	defer t.running.Unlock()

	started := t.now().UTC()
	res := &Result{RunID: uuid.NewString(), DryRun: dryRun, StartedAt: started}

	changes, seen, err := t.evaluate(ctx, started)
	if err != nil {
		return nil, err
	}
	res.Changes = changes
	res.TotalChanges = len(changes)
	res.FeedbackSeen = seen

	previous, err := t.previousConfidence(ctx, started)
	if err != nil {
		return nil, err
	}
	for i := range res.Changes {
		c := &res.Changes[i]
		c.PreviousConfidence = previous[groupKey{c.Pattern, c.Model}]
	}

	log := t.logger.WithFields(logrus.Fields{
		"run_id":        res.RunID,
		"dry_run":       dryRun,
		"feedback":      res.FeedbackSeen,
		"total_changes": res.TotalChanges,
	})

	if dryRun {
		log.Info("Retrain dry run complete")
		return res, nil
	}

	rows := snapshots(res.RunID, started, res.Changes)
	if err := t.store.AppendSnapshots(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to append snapshots: %w", err)
	}

	t.last = make(map[groupKey]string, len(res.Changes))
	for _, c := range res.Changes {
		t.last[groupKey{c.Pattern, c.Model}] = c.Confidence
	}
	if t.publisher != nil {
		t.publisher.RefreshTrained(rows)
	}
	log.Info("Retrain complete")
	return res, nil
}

// evaluate grades the feedback of the window ending at now. Only medium and
// high grades come back, sorted by pattern then model.
func (t *Trainer) evaluate(ctx context.Context, now time.Time) ([]Change, int, error) {
	feedback, err := t.store.ListFeedback(ctx, now.Add(-t.lookback))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list feedback: %w", err)
	}

	groups, err := t.aggregate(ctx, feedback)
	if err != nil {
		return nil, 0, err
	}

	changes := []Change{}
	for k, g := range groups {
		if g.count < t.minSamples {
			continue
		}
		avg := g.points / float64(g.count)
		correctness := float64(g.up) / float64(g.count)
		conf := Confidence(g.count, avg, correctness)
		if conf == models.ConfidenceLow {
			continue
		}
		changes = append(changes, Change{
			Pattern:         k.pattern,
			Provider:        g.provider,
			Model:           k.model,
			SampleCount:     g.count,
			AvgQuality:      avg,
			CorrectnessRate: correctness,
			Confidence:      conf,
		})
	}
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if a.Pattern != b.Pattern {
			return a.Pattern < b.Pattern
		}
		return a.Model < b.Model
	})
	return changes, len(feedback), nil
}

func snapshots(runID string, at time.Time, changes []Change) []*models.PatternSnapshot {
	rows := make([]*models.PatternSnapshot, 0, len(changes))
	for _, c := range changes {
		rows = append(rows, &models.PatternSnapshot{
			RunID:           runID,
			Pattern:         c.Pattern,
			Provider:        c.Provider,
			Model:           c.Model,
			SampleCount:     c.SampleCount,
			AvgQuality:      c.AvgQuality,
			CorrectnessRate: c.CorrectnessRate,
			Confidence:      c.Confidence,
			CreatedAt:       at,
		})
	}
	return rows
}

func (t *Trainer) aggregate(ctx context.Context, feedback []*models.FeedbackRecord) (map[groupKey]*group, error) {
	entries := make(map[string]*models.CacheEntry)
	groups := make(map[groupKey]*group)

	for _, fb := range feedback {
		entry, seen := entries[fb.CacheKey]
		if !seen {
			e, err := t.store.GetEntry(ctx, fb.CacheKey)
			switch {
			case errors.Is(err, models.ErrNotFound):
				t.logger.WithField("cache_key", fb.CacheKey).Debug("Feedback for expired cache entry skipped")
			case err != nil:
				return nil, fmt.Errorf("failed to load cache entry %s: %w", fb.CacheKey, err)
			default:
				entry = e
			}
			entries[fb.CacheKey] = entry
		}
		if entry == nil {
			continue
		}

		k := groupKey{entry.Pattern, entry.Model}
		g, ok := groups[k]
		if !ok {
			g = &group{provider: entry.Provider}
			groups[k] = g
		}
		g.count++
		if fb.Rating > 0 {
			g.points += upvotePoints
			g.up++
		} else {
			g.points += downvotePoints
		}
	}
	return groups, nil
}

// previousConfidence is what the last applied run accepted per (pattern,
// model). Before any run in this process it reads the newest run recorded in
// the lookback window.
func (t *Trainer) previousConfidence(ctx context.Context, now time.Time) (map[groupKey]string, error) {
	if t.last != nil {
		return t.last, nil
	}
	rows, err := t.store.ListSnapshots(ctx, now.Add(-t.lookback))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	var newest *models.PatternSnapshot
	for _, row := range rows {
		if newest == nil || row.CreatedAt.After(newest.CreatedAt) {
			newest = row
		}
	}
	out := make(map[groupKey]string)
	for _, row := range rows {
		if row.RunID == newest.RunID {
			out[groupKey{row.Pattern, row.Model}] = row.Confidence
		}
	}
	return out, nil
}

// Publish grades the current feedback window without writing history and
// hands the result to the publisher. Used at startup, before the first run.
func (t *Trainer) Publish(ctx context.Context) error {
	if t.publisher == nil {
		return nil
	}
	now := t.now().UTC()
	changes, _, err := t.evaluate(ctx, now)
	if err != nil {
		return err
	}
	t.publisher.RefreshTrained(snapshots("", now, changes))
	return nil
}

// Run retrains every interval until ctx ends. Failed runs are logged and
// retried on the next tick.
func (t *Trainer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid retrain interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.WithField("interval", interval.String()).Info("Retrain scheduler started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Retrain scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := t.Retrain(ctx, false); err != nil && !errors.Is(err, ErrRetrainInProgress) {
				t.logger.WithError(err).Warn("Scheduled retrain failed")
			}
		}
	}
}
