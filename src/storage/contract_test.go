package storage

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"www.github.com/Wanderer0074348/HybridRouter/src/models"
)

type storeFactory func(t *testing.T) models.Storage

func sampleEntry(key string, created time.Time) *models.CacheEntry {
	return &models.CacheEntry{
		CacheKey:         key,
		PromptNormalized: "what is the capital of france",
		Embedding:        []float32{1, 0, 0},
		Complexity:       models.ComplexitySimple,
		Pattern:          "factual",
		Provider:         "openai",
		Model:            "gpt-3.5-turbo",
		Response:         json.RawMessage(`"Paris"`),
		MaxTokens:        256,
		TokensIn:         12,
		TokensOut:        3,
		Cost:             0.0001,
		CreatedAt:        created,
		LastAccessed:     created,
	}
}

func runStorageContract(t *testing.T, newStore storeFactory) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetEntry(context.Background(), "nope")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("UpsertAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertEntry(ctx, sampleEntry("k1", now)))

		e, err := s.GetEntry(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "k1", e.CacheKey)
		assert.Equal(t, "Paris", e.ResponseText())
		assert.Equal(t, []float32{1, 0, 0}, e.Embedding)
		assert.Equal(t, 12, e.TokensIn)
		assert.InDelta(t, 0.0001, e.Cost, 1e-12)
		assert.True(t, e.CreatedAt.Equal(now))
		assert.Nil(t, e.QualityScore)
		assert.False(t, e.Invalidated)
	})

	t.Run("UpsertPreservesVotesAndInvalidation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertEntry(ctx, sampleEntry("k1", now)))
		_, _, err := s.IncrementVote(ctx, "k1", -1)
		require.NoError(t, err)
		score := -1.0
		require.NoError(t, s.UpdateQuality(ctx, "k1", &score, true, "downvoted"))

		require.NoError(t, s.TouchEntry(ctx, "k1", now))

		again := sampleEntry("k1", now.Add(time.Second))
		again.Response = json.RawMessage(`"Paris, France"`)
		require.NoError(t, s.UpsertEntry(ctx, again))

		e, err := s.GetEntry(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "Paris, France", e.ResponseText())
		assert.Equal(t, 1, e.Downvotes)
		assert.Equal(t, 0, e.HitCount)
		assert.True(t, e.Invalidated)
		assert.Equal(t, "downvoted", e.InvalidationReason)
		require.NotNil(t, e.QualityScore)
		assert.Equal(t, -1.0, *e.QualityScore)
	})

	t.Run("TouchEntry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertEntry(ctx, sampleEntry("k1", now)))
		later := now.Add(time.Minute)
		require.NoError(t, s.TouchEntry(ctx, "k1", later))
		require.NoError(t, s.TouchEntry(ctx, "k1", later))

		e, err := s.GetEntry(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, 2, e.HitCount)
		assert.True(t, e.LastAccessed.Equal(later))
	})

	t.Run("IncrementVoteMissing", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.IncrementVote(context.Background(), "nope", 1)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("MutationsOnMissingEntryLeaveNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		score := 0.5

		require.NoError(t, s.TouchEntry(ctx, "nope", now))
		require.NoError(t, s.UpdateQuality(ctx, "nope", &score, true, "bad"))

		_, err := s.GetEntry(ctx, "nope")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("IncrementVoteConcurrent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertEntry(ctx, sampleEntry("k1", now)))

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rating := 1
				if i%4 == 0 {
					rating = -1
				}
				_, _, err := s.IncrementVote(ctx, "k1", rating)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		e, err := s.GetEntry(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, 15, e.Upvotes)
		assert.Equal(t, 5, e.Downvotes)
	})

	t.Run("UpdateQualityNeverClearsInvalidation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertEntry(ctx, sampleEntry("k1", now)))

		low := 0.1
		require.NoError(t, s.UpdateQuality(ctx, "k1", &low, true, "first"))
		high := 0.9
		require.NoError(t, s.UpdateQuality(ctx, "k1", &high, false, ""))
		require.NoError(t, s.UpdateQuality(ctx, "k1", &high, true, "second"))

		e, err := s.GetEntry(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, e.Invalidated)
		assert.Equal(t, "first", e.InvalidationReason)
		require.NotNil(t, e.QualityScore)
		assert.Equal(t, 0.9, *e.QualityScore)

		require.NoError(t, s.UpdateQuality(ctx, "k1", nil, false, ""))
		e, err = s.GetEntry(ctx, "k1")
		require.NoError(t, err)
		assert.Nil(t, e.QualityScore)
	})

	t.Run("NearestEntry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := sampleEntry("a", now)
		a.Embedding = []float32{1, 0, 0}
		b := sampleEntry("b", now)
		b.Embedding = []float32{0.6, 0.8, 0}
		c := sampleEntry("c", now)
		c.Embedding = nil
		for _, e := range []*models.CacheEntry{a, b, c} {
			require.NoError(t, s.UpsertEntry(ctx, e))
		}

		got, sim, err := s.NearestEntry(ctx, []float32{0.6, 0.8, 0}, 0.95)
		require.NoError(t, err)
		assert.Equal(t, "b", got.CacheKey)
		assert.InDelta(t, 1.0, sim, 1e-6)

		_, _, err = s.NearestEntry(ctx, []float32{0, 0, 1}, 0.95)
		assert.ErrorIs(t, err, models.ErrNotFound)

		// invalidated entries never match
		require.NoError(t, s.UpdateQuality(ctx, "b", nil, true, "bad"))
		got, sim, err = s.NearestEntry(ctx, []float32{0.6, 0.8, 0}, 0.5)
		require.NoError(t, err)
		assert.Equal(t, "a", got.CacheKey)
		assert.InDelta(t, 0.6, sim, 1e-6)
	})

	t.Run("ListEntriesFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := sampleEntry("old", now.Add(-48*time.Hour))
		code := sampleEntry("code", now)
		code.Pattern = "code"
		code.Provider = "anthropic"
		bad := sampleEntry("bad", now)
		for _, e := range []*models.CacheEntry{old, code, bad} {
			require.NoError(t, s.UpsertEntry(ctx, e))
		}
		require.NoError(t, s.UpdateQuality(ctx, "bad", nil, true, "bad"))

		all, err := s.ListEntries(ctx, models.EntryFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		withBad, err := s.ListEntries(ctx, models.EntryFilter{IncludeInvalidated: true})
		require.NoError(t, err)
		assert.Len(t, withBad, 3)

		recent, err := s.ListEntries(ctx, models.EntryFilter{Since: now.Add(-time.Hour)})
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, "code", recent[0].CacheKey)

		byProvider, err := s.ListEntries(ctx, models.EntryFilter{Pattern: "factual", Provider: "openai"})
		require.NoError(t, err)
		require.Len(t, byProvider, 1)
		assert.Equal(t, "old", byProvider[0].CacheKey)
	})

	t.Run("FeedbackLog", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendFeedback(ctx, &models.FeedbackRecord{
			ID: "f1", CacheKey: "k1", Rating: 1, Timestamp: now.Add(-2 * time.Hour),
		}))
		require.NoError(t, s.AppendFeedback(ctx, &models.FeedbackRecord{
			ID: "f2", CacheKey: "k1", Rating: -1, Comment: "wrong", Timestamp: now,
		}))

		all, err := s.ListFeedback(ctx, time.Time{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		recent, err := s.ListFeedback(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, "f2", recent[0].ID)
		assert.Equal(t, "wrong", recent[0].Comment)
		assert.Equal(t, -1, recent[0].Rating)
	})

	t.Run("DecisionLog", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendDecision(ctx, &models.DecisionRecord{
			ID: "d1", Provider: "groq", Model: "llama-3.1-8b-instant", Confidence: models.ConfidenceHigh,
			StrategyUsed: models.StrategyComplexity, AutoRoute: true, EstimatedCost: 0.00002, CreatedAt: now,
		}))

		recs, err := s.ListDecisions(ctx, now.Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "groq", recs[0].Provider)
		assert.True(t, recs[0].AutoRoute)
		assert.False(t, recs[0].FallbackUsed)
		assert.True(t, recs[0].CreatedAt.Equal(now))

		none, err := s.ListDecisions(ctx, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("SnapshotHistory", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendSnapshots(ctx, nil))
		require.NoError(t, s.AppendSnapshots(ctx, []*models.PatternSnapshot{
			{RunID: "r1", Pattern: "code", Provider: "openai", Model: "gpt-4o", SampleCount: 4,
				AvgQuality: 4.5, CorrectnessRate: 0.75, Confidence: models.ConfidenceMedium, CreatedAt: now},
			{RunID: "r1", Pattern: "factual", Provider: "groq", Model: "llama-3.1-8b-instant", SampleCount: 12,
				AvgQuality: 4.8, CorrectnessRate: 0.9, Confidence: models.ConfidenceHigh, CreatedAt: now},
		}))

		rows, err := s.ListSnapshots(ctx, time.Time{})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})
}
