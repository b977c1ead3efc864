package models

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by point lookups that find nothing.
var ErrNotFound = errors.New("not found")

// Provider executes a prompt against an LLM backend. Retry policy lives
// outside the router.
type Provider interface {
	Execute(ctx context.Context, provider, model, prompt string, maxTokens int) (*ProviderResult, error)
}

// Embedder turns text into a fixed-length unit-norm vector. Identical input
// yields identical output.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// EntryFilter narrows ListEntries. Zero values mean "any".
type EntryFilter struct {
	Since              time.Time
	Pattern            string
	Complexity         string
	Provider           string
	Model              string
	IncludeInvalidated bool
}

// Match reports whether e passes the filter.
func (f EntryFilter) Match(e *CacheEntry) bool {
	if !f.IncludeInvalidated && e.Invalidated {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if f.Pattern != "" && e.Pattern != f.Pattern {
		return false
	}
	if f.Complexity != "" && e.Complexity != f.Complexity {
		return false
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.Model != "" && e.Model != f.Model {
		return false
	}
	return true
}

// EntryStore persists cache entries.
type EntryStore interface {
	// GetEntry returns ErrNotFound when the key is absent.
	GetEntry(ctx context.Context, key string) (*CacheEntry, error)
	// UpsertEntry writes the response fields of e and resets hit_count. Votes,
	// quality score and the invalidation flag of an existing row are preserved.
	UpsertEntry(ctx context.Context, e *CacheEntry) error
	// TouchEntry bumps hit_count and sets last_accessed.
	TouchEntry(ctx context.Context, key string, at time.Time) error
	// IncrementVote atomically adds one up (rating>0) or down vote and
	// returns the counters after the increment.
	IncrementVote(ctx context.Context, key string, rating int) (up, down int, err error)
	// UpdateQuality stores score (nil clears it). invalidate=true sets the
	// invalidated flag; false never clears it.
	UpdateQuality(ctx context.Context, key string, score *float64, invalidate bool, reason string) error
	// NearestEntry returns the non-invalidated entry whose embedding has the
	// highest dot product with vec, if that similarity is >= threshold.
	// Returns ErrNotFound otherwise.
	NearestEntry(ctx context.Context, vec []float32, threshold float64) (*CacheEntry, float64, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]*CacheEntry, error)
}

type FeedbackStore interface {
	AppendFeedback(ctx context.Context, rec *FeedbackRecord) error
	ListFeedback(ctx context.Context, since time.Time) ([]*FeedbackRecord, error)
}

type DecisionStore interface {
	AppendDecision(ctx context.Context, rec *DecisionRecord) error
	ListDecisions(ctx context.Context, since time.Time) ([]*DecisionRecord, error)
}

type HistoryStore interface {
	AppendSnapshots(ctx context.Context, rows []*PatternSnapshot) error
	ListSnapshots(ctx context.Context, since time.Time) ([]*PatternSnapshot, error)
}

// Storage is the full persistence collaborator. Implementations must be safe
// for concurrent use.
type Storage interface {
	EntryStore
	FeedbackStore
	DecisionStore
	HistoryStore
	Close() error
}

// MetricsSink receives every final routing decision.
type MetricsSink interface {
	Track(prompt string, decision *RoutingDecision, autoRoute bool, requestID string)
}
