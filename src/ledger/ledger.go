// Package ledger aggregates historical cache entries into ranked,
// confidence-annotated provider/model recommendations.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"www.github.com/Wanderer0074348/HybridRouter/src/analysis"
	"www.github.com/Wanderer0074348/HybridRouter/src/logging"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
	"www.github.com/Wanderer0074348/HybridRouter/src/quality"
)

const (
	DefaultLookback = 30 * 24 * time.Hour

	// composite weights
	qualityWeight  = 0.5
	costWeight     = 0.3
	validityWeight = 0.2

	// avg cost at or above this scores zero on the cost component
	costCeiling = 0.01

	// quality component for candidates without any rated entry
	neutralQuality = 0.5

	// a low-confidence top candidate needs this many requests to be recommended
	minRecommendRequests = 3

	highRequests   = 10
	highRated      = 5
	mediumRequests = 5
	mediumRated    = 2
)

// Ledger reads cache entries through the EntryStore; it holds no entry state
// of its own beyond the trained-confidence view published by the trainer.
type Ledger struct {
	entries  models.EntryStore
	scorer   *quality.Scorer
	lookback time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	trained atomic.Value // *trainedGrades
}

type trainedKey struct{ pattern, provider, model string }

// trainedGrades is the trainer's latest grading: the best confidence per
// pattern and the confidence of each accepted (pattern, provider, model).
type trainedGrades struct {
	byPattern map[string]string
	byModel   map[trainedKey]string
}

type Options struct {
	Lookback time.Duration
	Logger   *logrus.Logger
}

func New(entries models.EntryStore, scorer *quality.Scorer, opts Options) *Ledger {
	if scorer == nil {
		scorer = quality.NewScorer(quality.FormulaWilson, 0, quality.DefaultThreshold)
	}
	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	l := &Ledger{
		entries:  entries,
		scorer:   scorer,
		lookback: lookback,
		logger:   logging.OrDiscard(opts.Logger),
		now:      time.Now,
	}
	l.trained.Store(&trainedGrades{byPattern: map[string]string{}, byModel: map[trainedKey]string{}})
	return l
}

// ConfidenceFor grades the evidence behind an aggregate.
func ConfidenceFor(requestCount, ratedCount int) string {
	switch {
	case requestCount >= highRequests && ratedCount >= highRated:
		return models.ConfidenceHigh
	case requestCount >= mediumRequests && ratedCount >= mediumRated:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func confidencePenalty(confidence string) float64 {
	switch confidence {
	case models.ConfidenceHigh:
		return 1.0
	case models.ConfidenceMedium:
		return 0.85
	default:
		return 0.7
	}
}

// CompositeScore blends quality, cost and validity, discounted by confidence.
// normQuality is on [0, 1]; nil takes the neutral prior.
func CompositeScore(normQuality *float64, avgCost, validityRate float64, confidence string) float64 {
	q := neutralQuality
	if normQuality != nil {
		q = *normQuality
	}
	cost := 1 - avgCost/costCeiling
	if cost < 0 {
		cost = 0
	}
	raw := qualityWeight*q + costWeight*cost + validityWeight*validityRate
	return raw * confidencePenalty(confidence)
}

// NormalizedQuality maps a performance's average quality onto [0, 1] using
// the active formula. Nil when nothing was rated.
func (l *Ledger) NormalizedQuality(p *models.PatternPerformance) *float64 {
	if p.AvgQuality == nil {
		return nil
	}
	v := l.scorer.Normalize(*p.AvgQuality)
	return &v
}

type groupKey struct{ provider, model string }

type accumulator struct {
	requests   int
	valid      int
	costSum    float64
	qualitySum float64
	rated      int
	up, down   int
}

// Rank aggregates entries of the lookback window matching pattern and
// complexity (empty complexity matches any) and orders (provider, model)
// candidates by composite score, ties to the cheaper. Candidates whose every
// entry is invalidated are left out.
func (l *Ledger) Rank(ctx context.Context, pattern, complexity string, available []string) ([]*models.PatternPerformance, error) {
	entries, err := l.entries.ListEntries(ctx, models.EntryFilter{
		Since:              l.now().Add(-l.lookback),
		Pattern:            pattern,
		Complexity:         complexity,
		IncludeInvalidated: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	allowed := make(map[string]bool, len(available))
	for _, p := range available {
		allowed[p] = true
	}

	groups := make(map[groupKey]*accumulator)
	for _, e := range entries {
		if len(allowed) > 0 && !allowed[e.Provider] {
			continue
		}
		k := groupKey{e.Provider, e.Model}
		acc, ok := groups[k]
		if !ok {
			acc = &accumulator{}
			groups[k] = acc
		}
		acc.requests++
		acc.costSum += e.Cost
		acc.up += e.Upvotes
		acc.down += e.Downvotes
		if !e.Invalidated {
			acc.valid++
		}
		if e.QualityScore != nil {
			acc.rated++
			acc.qualitySum += *e.QualityScore
		}
	}

	out := make([]*models.PatternPerformance, 0, len(groups))
	for k, acc := range groups {
		if acc.valid == 0 {
			continue
		}
		perf := &models.PatternPerformance{
			Pattern:      pattern,
			Provider:     k.provider,
			Model:        k.model,
			RequestCount: acc.requests,
			AvgCost:      acc.costSum / float64(acc.requests),
			RatedCount:   acc.rated,
			Upvotes:      acc.up,
			Downvotes:    acc.down,
			ValidityRate: float64(acc.valid) / float64(acc.requests),
			Confidence:   ConfidenceFor(acc.requests, acc.rated),
		}
		if acc.rated > 0 {
			avg := acc.qualitySum / float64(acc.rated)
			perf.AvgQuality = &avg
		}
		perf.CompositeScore = CompositeScore(l.NormalizedQuality(perf), perf.AvgCost, perf.ValidityRate, perf.Confidence)
		out = append(out, perf)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.AvgCost != b.AvgCost {
			return a.AvgCost < b.AvgCost
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Model < b.Model
	})

	return out, nil
}

// Recommendation is the ledger's pick for a prompt.
type Recommendation struct {
	Pattern     string
	Complexity  string
	Performance *models.PatternPerformance
	// Widened is set when no entry matched the complexity bucket and the
	// ranking fell back to the whole pattern.
	Widened bool
	// NormalizedQuality is the top candidate's average quality on [0, 1].
	NormalizedQuality *float64
	// TrainedConfidence is the trainer's grade for the top candidate, if any.
	// It raises the candidate's confidence when it beats the evidence.
	TrainedConfidence string
	Reasoning         string
}

// Recommend identifies the prompt's pattern and returns the top candidate
// among available providers. It returns (nil, nil) when the evidence is too
// thin to recommend anything.
func (l *Ledger) Recommend(ctx context.Context, prompt, complexity string, available []string) (*Recommendation, error) {
	pattern := analysis.IdentifyPattern(prompt)

	ranked, err := l.Rank(ctx, pattern, complexity, available)
	if err != nil {
		return nil, err
	}
	widened := false
	if len(ranked) == 0 && complexity != "" {
		ranked, err = l.Rank(ctx, pattern, "", available)
		if err != nil {
			return nil, err
		}
		widened = true
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	top := ranked[0]
	trained := l.trainedView().byModel[trainedKey{pattern, top.Provider, top.Model}]
	if models.ConfidenceRank(trained) > models.ConfidenceRank(top.Confidence) {
		top.Confidence = trained
		top.CompositeScore = CompositeScore(l.NormalizedQuality(top), top.AvgCost, top.ValidityRate, top.Confidence)
	}
	if top.Confidence == models.ConfidenceLow && top.RequestCount < minRecommendRequests {
		l.logger.WithFields(logrus.Fields{
			"pattern":       pattern,
			"request_count": top.RequestCount,
		}).Debug("Insufficient history for recommendation")
		return nil, nil
	}

	return &Recommendation{
		Pattern:           pattern,
		Complexity:        complexity,
		Performance:       top,
		Widened:           widened,
		NormalizedQuality: l.NormalizedQuality(top),
		TrainedConfidence: trained,
		Reasoning:         l.reasoning(pattern, top, trained),
	}, nil
}

func (l *Ledger) reasoning(pattern string, p *models.PatternPerformance, trained string) string {
	out := fmt.Sprintf("Historical data for %s prompts: %s quality, $%.4f avg cost, %d samples (%d upvotes, %d downvotes)",
		pattern, qualityLabel(l.NormalizedQuality(p)), p.AvgCost, p.RequestCount, p.Upvotes, p.Downvotes)
	if trained != "" {
		out += fmt.Sprintf("; feedback training rates it %s", trained)
	}
	return out
}

func qualityLabel(q *float64) string {
	if q == nil {
		return "unrated"
	}
	switch {
	case *q >= 0.8:
		return "excellent"
	case *q >= 0.6:
		return "good"
	case *q >= 0.4:
		return "fair"
	default:
		return "poor"
	}
}

// PatternConfidence summarizes the evidence the ledger holds for a pattern.
type PatternConfidence struct {
	Pattern           string `json:"pattern"`
	SampleCount       int    `json:"sample_count"`
	Confidence        string `json:"confidence"`
	BestProvider      string `json:"best_provider,omitempty"`
	BestModel         string `json:"best_model,omitempty"`
	SamplesNeeded     int    `json:"samples_needed"`
	TrainedConfidence string `json:"trained_confidence,omitempty"`
}

// PatternConfidence reports every known pattern, including those without data.
func (l *Ledger) PatternConfidence(ctx context.Context) ([]PatternConfidence, error) {
	trained := l.trainedView().byPattern

	var out []PatternConfidence
	for _, pattern := range analysis.Patterns() {
		ranked, err := l.Rank(ctx, pattern, "", nil)
		if err != nil {
			return nil, err
		}

		pc := PatternConfidence{
			Pattern:           pattern,
			Confidence:        models.ConfidenceLow,
			SamplesNeeded:     samplesNeeded(0, 0),
			TrainedConfidence: trained[pattern],
		}
		for _, p := range ranked {
			pc.SampleCount += p.RequestCount
		}
		if len(ranked) > 0 {
			best := ranked[0]
			pc.Confidence = best.Confidence
			pc.BestProvider = best.Provider
			pc.BestModel = best.Model
			pc.SamplesNeeded = samplesNeeded(best.RequestCount, best.RatedCount)
		}
		out = append(out, pc)
	}
	return out, nil
}

// samplesNeeded is how many more requests/ratings reach high confidence.
func samplesNeeded(requests, rated int) int {
	n := highRequests - requests
	if r := highRated - rated; r > n {
		n = r
	}
	if n < 0 {
		return 0
	}
	return n
}

// RefreshTrained replaces the trained view with one retrain grading. A
// pattern or model missing from rows no longer carries a trained confidence.
func (l *Ledger) RefreshTrained(rows []*models.PatternSnapshot) {
	view := &trainedGrades{
		byPattern: make(map[string]string),
		byModel:   make(map[trainedKey]string, len(rows)),
	}
	for _, r := range rows {
		view.byModel[trainedKey{r.Pattern, r.Provider, r.Model}] = r.Confidence
		if models.ConfidenceRank(r.Confidence) > models.ConfidenceRank(view.byPattern[r.Pattern]) {
			view.byPattern[r.Pattern] = r.Confidence
		}
	}
	l.trained.Store(view)
}

// TrainedConfidence returns the best trained confidence for pattern, or "".
func (l *Ledger) TrainedConfidence(pattern string) string {
	return l.trainedView().byPattern[pattern]
}

func (l *Ledger) trainedView() *trainedGrades {
	return l.trained.Load().(*trainedGrades)
}
