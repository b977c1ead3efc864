package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"www.github.com/Wanderer0074348/HybridRouter/src/analysis"
	"www.github.com/Wanderer0074348/HybridRouter/src/logging"
	"www.github.com/Wanderer0074348/HybridRouter/src/metrics"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
	"www.github.com/Wanderer0074348/HybridRouter/src/quality"
)

const DefaultSimilarityThreshold = 0.95

var (
	ErrInvalidRating = errors.New("rating must be -1 or +1")
	ErrEntryNotFound = errors.New("cache entry not found")
)

// Store is the quality-aware response cache. Exact lookups go by Key; semantic
// lookups use the embedder and are only attempted after an exact miss.
type Store struct {
	storage   models.Storage
	embedder  models.Embedder
	scorer    *quality.Scorer
	threshold float64
	logger    *logrus.Logger
	now       func() time.Time
}

type Options struct {
	// Embedder enables semantic lookups and embedding on store. May be nil.
	Embedder            models.Embedder
	Scorer              *quality.Scorer
	SimilarityThreshold float64
	Logger              *logrus.Logger
}

func NewStore(storage models.Storage, opts Options) *Store {
	scorer := opts.Scorer
	if scorer == nil {
		scorer = quality.NewScorer(quality.FormulaWilson, 0, quality.DefaultThreshold)
	}
	threshold := opts.SimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Store{
		storage:   storage,
		embedder:  opts.Embedder,
		scorer:    scorer,
		threshold: threshold,
		logger:    logging.OrDiscard(opts.Logger),
		now:       time.Now,
	}
}

func (s *Store) Scorer() *quality.Scorer {
	return s.scorer
}

// Normalize collapses runs of whitespace and trims the ends. Case is kept.
func Normalize(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// Key identifies a (normalized prompt, max tokens) pair.
func Key(prompt string, maxTokens int) string {
	h := sha256.New()
	h.Write([]byte(Normalize(prompt)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(maxTokens)))
	return hex.EncodeToString(h.Sum(nil))
}

// Hit is a successful cache lookup.
type Hit struct {
	Entry      *models.CacheEntry
	Semantic   bool
	Similarity float64
}

// Check looks up prompt exactly, then semantically. Backend and embedding
// failures are reported as a miss.
func (s *Store) Check(ctx context.Context, prompt string, maxTokens int) (*Hit, bool) {
	key := Key(prompt, maxTokens)

	entry, err := s.storage.GetEntry(ctx, key)
	switch {
	case err == nil && !entry.Invalidated:
		s.touch(ctx, entry)
		metrics.ObserveCacheLookup(metrics.LookupExactHit)
		return &Hit{Entry: entry, Similarity: 1.0}, true
	case err != nil && !errors.Is(err, models.ErrNotFound):
		s.logger.WithError(err).WithField("cache_key", key).Warn("Cache backend error, treating as miss")
		metrics.ObserveCacheLookup(metrics.LookupError)
		return nil, false
	}

	if s.embedder == nil {
		metrics.ObserveCacheLookup(metrics.LookupMiss)
		return nil, false
	}

	vec, err := s.embedder.Embed(ctx, Normalize(prompt))
	if err != nil {
		s.logger.WithError(err).Warn("Embedding failed, skipping semantic lookup")
		metrics.ObserveCacheLookup(metrics.LookupError)
		return nil, false
	}

	entry, sim, err := s.storage.NearestEntry(ctx, vec, s.threshold)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.WithError(err).Warn("Semantic lookup failed, treating as miss")
			metrics.ObserveCacheLookup(metrics.LookupError)
			return nil, false
		}
		metrics.ObserveCacheLookup(metrics.LookupMiss)
		return nil, false
	}

	s.touch(ctx, entry)
	s.logger.WithFields(logrus.Fields{
		"cache_key":  entry.CacheKey,
		"similarity": sim,
	}).Debug("Semantic cache hit")
	metrics.ObserveCacheLookup(metrics.LookupSemanticHit)
	return &Hit{Entry: entry, Semantic: true, Similarity: sim}, true
}

// touch records a hit. Lost increments are tolerated.
func (s *Store) touch(ctx context.Context, entry *models.CacheEntry) {
	at := s.now().UTC()
	if err := s.storage.TouchEntry(ctx, entry.CacheKey, at); err != nil {
		s.logger.WithError(err).WithField("cache_key", entry.CacheKey).Warn("Failed to record cache hit")
		return
	}
	entry.HitCount++
	entry.LastAccessed = at
}

// StoreInput carries a completed provider call.
type StoreInput struct {
	Prompt    string
	MaxTokens int
	Provider  string
	Model     string
	Response  string
	TokensIn  int
	TokensOut int
	Cost      float64
}

// Store upserts the response for (prompt, max tokens). Storing the same pair
// twice leaves one entry; its votes and invalidation survive.
func (s *Store) Store(ctx context.Context, in StoreInput) (*models.CacheEntry, error) {
	normalized := Normalize(in.Prompt)
	if normalized == "" {
		return nil, errors.New("prompt cannot be empty")
	}

	payload, err := json.Marshal(in.Response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	now := s.now().UTC()
	entry := &models.CacheEntry{
		CacheKey:         Key(in.Prompt, in.MaxTokens),
		PromptNormalized: normalized,
		Complexity:       analysis.ScoreComplexity(in.Prompt).Bucket,
		Pattern:          analysis.IdentifyPattern(in.Prompt),
		Provider:         in.Provider,
		Model:            in.Model,
		Response:         payload,
		MaxTokens:        in.MaxTokens,
		TokensIn:         in.TokensIn,
		TokensOut:        in.TokensOut,
		Cost:             in.Cost,
		CreatedAt:        now,
		LastAccessed:     now,
	}

	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, normalized)
		if err != nil {
			s.logger.WithError(err).WithField("cache_key", entry.CacheKey).Warn("Storing entry without embedding")
		} else {
			entry.Embedding = vec
		}
	}

	if err := s.storage.UpsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to store cache entry: %w", err)
	}

	stored, err := s.storage.GetEntry(ctx, entry.CacheKey)
	if err != nil {
		return entry, nil
	}
	return stored, nil
}

// FeedbackResult is the entry state after a vote.
type FeedbackResult struct {
	CacheKey     string   `json:"cache_key"`
	Upvotes      int      `json:"upvotes"`
	Downvotes    int      `json:"downvotes"`
	QualityScore *float64 `json:"quality_score"`
	Invalidated  bool     `json:"invalidated"`
}

// RecordFeedback counts one vote, logs it and recomputes quality.
func (s *Store) RecordFeedback(ctx context.Context, key string, rating int, comment string) (*FeedbackResult, error) {
	if rating != 1 && rating != -1 {
		return nil, ErrInvalidRating
	}

	if _, _, err := s.storage.IncrementVote(ctx, key, rating); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}

	rec := &models.FeedbackRecord{
		ID:        uuid.New().String(),
		CacheKey:  key,
		Rating:    rating,
		Comment:   comment,
		Timestamp: s.now().UTC(),
	}
	if err := s.storage.AppendFeedback(ctx, rec); err != nil {
		s.logger.WithError(err).WithField("cache_key", key).Warn("Failed to append feedback record")
	}

	return s.RecomputeQuality(ctx, key)
}

// RecomputeQuality rescores an entry from its current votes and invalidates
// it when the score falls below threshold. Invalidation is never undone.
func (s *Store) RecomputeQuality(ctx context.Context, key string) (*FeedbackResult, error) {
	entry, err := s.storage.GetEntry(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to load cache entry: %w", err)
	}

	votes := entry.Upvotes + entry.Downvotes
	score := s.scorer.Score(entry.Upvotes, entry.Downvotes)
	invalidate := s.scorer.ShouldInvalidate(score, votes)

	reason := ""
	if invalidate {
		reason = fmt.Sprintf("%s quality %.3f below %.2f after %d votes",
			s.scorer.Formula(), *score, s.scorer.Threshold(), votes)
	}

	if err := s.storage.UpdateQuality(ctx, key, score, invalidate, reason); err != nil {
		return nil, fmt.Errorf("failed to update quality: %w", err)
	}

	if invalidate && !entry.Invalidated {
		s.logger.WithFields(logrus.Fields{
			"cache_key": key,
			"upvotes":   entry.Upvotes,
			"downvotes": entry.Downvotes,
		}).Info("Cache entry invalidated")
	}

	return &FeedbackResult{
		CacheKey:     key,
		Upvotes:      entry.Upvotes,
		Downvotes:    entry.Downvotes,
		QualityScore: score,
		Invalidated:  entry.Invalidated || invalidate,
	}, nil
}
