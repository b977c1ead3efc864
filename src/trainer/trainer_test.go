package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"www.github.com/Wanderer0074348/HybridRouter/src/config"
	"www.github.com/Wanderer0074348/HybridRouter/src/ledger"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
	"www.github.com/Wanderer0074348/HybridRouter/src/storage"
)

func setupTestStore(t *testing.T) *storage.RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	store, err := storage.NewRedisStore(&config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})
	return store
}

// seedFeedback stores one entry and attaches up/down ratings to it.
func seedFeedback(t *testing.T, store *storage.RedisStore, pattern, provider, model string, up, down int, at time.Time) {
	t.Helper()
	ctx := context.Background()
	key := fmt.Sprintf("%s-%s-%s", pattern, model, uuid.NewString())

	require.NoError(t, store.UpsertEntry(ctx, &models.CacheEntry{
		CacheKey:     key,
		Pattern:      pattern,
		Complexity:   models.ComplexityModerate,
		Provider:     provider,
		Model:        model,
		Response:     json.RawMessage(`"ok"`),
		CreatedAt:    at,
		LastAccessed: at,
	}))

	for i := 0; i < up+down; i++ {
		rating := 1
		if i >= up {
			rating = -1
		}
		require.NoError(t, store.AppendFeedback(ctx, &models.FeedbackRecord{
			ID:        uuid.NewString(),
			CacheKey:  key,
			Rating:    rating,
			Timestamp: at,
		}))
	}
}

// seedScenario covers each retrain outcome: code earns high, creative
// medium, factual has too few ratings, reasoning sits below the quality
// floor, analysis is under min samples and explanation is outside the window.
func seedScenario(t *testing.T, store *storage.RedisStore) {
	now := time.Now()
	seedFeedback(t, store, "code", "openai", "gpt-4o-mini", 11, 1, now)
	seedFeedback(t, store, "creative", "anthropic", "claude-3-haiku-20240307", 5, 1, now)
	seedFeedback(t, store, "factual", "groq", "llama-3.1-8b-instant", 4, 0, now)
	seedFeedback(t, store, "reasoning", "openai", "gpt-4o", 6, 4, now)
	seedFeedback(t, store, "analysis", "openai", "gpt-4o", 2, 0, now)
	seedFeedback(t, store, "explanation", "openai", "gpt-4o", 20, 0, now.Add(-60*24*time.Hour))
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name         string
		count        int
		avg, correct float64
		want         string
	}{
		{"high", 10, 4.0, 0.8, models.ConfidenceHigh},
		{"high volume weak quality", 10, 3.9, 0.8, models.ConfidenceMedium},
		{"medium", 5, 4.5, 0.9, models.ConfidenceMedium},
		{"low volume", 4, 5, 1, models.ConfidenceLow},
		{"floor avg", 50, 3.4, 0.9, models.ConfidenceLow},
		{"floor correctness", 50, 4.5, 0.69, models.ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Confidence(tt.count, tt.avg, tt.correct))
		})
	}
}

func TestRetrain_DryRunWritesNothing(t *testing.T) {
	store := setupTestStore(t)
	seedScenario(t, store)
	l := ledger.New(store, nil, ledger.Options{})
	tr := New(store, l, Options{})

	res, err := tr.Retrain(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.NotEmpty(t, res.RunID)
	require.Equal(t, 2, res.TotalChanges)

	code := res.Changes[0]
	assert.Equal(t, "code", code.Pattern)
	assert.Equal(t, "openai", code.Provider)
	assert.Equal(t, models.ConfidenceHigh, code.Confidence)
	assert.Equal(t, 12, code.SampleCount)
	assert.InDelta(t, 56.0/12, code.AvgQuality, 1e-9)
	assert.InDelta(t, 11.0/12, code.CorrectnessRate, 1e-9)
	assert.Empty(t, code.PreviousConfidence)

	creative := res.Changes[1]
	assert.Equal(t, "creative", creative.Pattern)
	assert.Equal(t, models.ConfidenceMedium, creative.Confidence)

	rows, err := store.ListSnapshots(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, l.TrainedConfidence("code"))
}

func TestRetrain_AppendsHistoryAndPublishes(t *testing.T) {
	store := setupTestStore(t)
	seedScenario(t, store)
	l := ledger.New(store, nil, ledger.Options{})
	tr := New(store, l, Options{})

	first, err := tr.Retrain(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, first.TotalChanges)

	rows, err := store.ListSnapshots(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, first.RunID, r.RunID)
	}
	assert.Equal(t, models.ConfidenceHigh, l.TrainedConfidence("code"))
	assert.Equal(t, models.ConfidenceMedium, l.TrainedConfidence("creative"))
	assert.Empty(t, l.TrainedConfidence("reasoning"))

	// re-running appends and reports what the previous run concluded
	tr.now = func() time.Time { return time.Now().Add(time.Minute) }
	second, err := tr.Retrain(context.Background(), false)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	require.Equal(t, 2, second.TotalChanges)
	assert.Equal(t, models.ConfidenceHigh, second.Changes[0].PreviousConfidence)
	assert.Equal(t, models.ConfidenceMedium, second.Changes[1].PreviousConfidence)

	rows, err = store.ListSnapshots(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestRetrain_SkipsFeedbackForMissingEntries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		require.NoError(t, store.AppendFeedback(ctx, &models.FeedbackRecord{
			ID:        uuid.NewString(),
			CacheKey:  "gone",
			Rating:    1,
			Timestamp: time.Now(),
		}))
	}

	res, err := New(store, nil, Options{}).Retrain(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 12, res.FeedbackSeen)
	assert.Zero(t, res.TotalChanges)
	assert.NotNil(t, res.Changes)
}

func TestRetrain_MinSamples(t *testing.T) {
	store := setupTestStore(t)
	seedFeedback(t, store, "code", "openai", "gpt-4o-mini", 6, 0, time.Now())

	res, err := New(store, nil, Options{MinSamples: 7}).Retrain(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, res.TotalChanges)
}

func TestRetrain_RejectsConcurrentRun(t *testing.T) {
	store := setupTestStore(t)
	tr := New(store, nil, Options{})

	tr.running.Lock()
	_, err := tr.Retrain(context.Background(), true)
	tr.running.Unlock()
	assert.ErrorIs(t, err, ErrRetrainInProgress)
}

func TestRun_StopsWithContext(t *testing.T) {
	store := setupTestStore(t)
	seedScenario(t, store)
	l := ledger.New(store, nil, ledger.Options{})
	tr := New(store, l, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return l.TrainedConfidence("code") == models.ConfidenceHigh
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRun_InvalidInterval(t *testing.T) {
	tr := New(setupTestStore(t), nil, Options{})
	assert.Error(t, tr.Run(context.Background(), 0))
}

func TestRetrain_DemotedModelLosesTrainedConfidence(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	l := ledger.New(store, nil, ledger.Options{})
	tr := New(store, l, Options{})

	seedFeedback(t, store, "code", "openai", "gpt-4o-mini", 11, 1, time.Now())
	first, err := tr.Retrain(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, first.TotalChanges)
	require.Equal(t, models.ConfidenceHigh, l.TrainedConfidence("code"))

	seedFeedback(t, store, "code", "openai", "gpt-4o-mini", 0, 40, time.Now())
	tr.now = func() time.Time { return time.Now().Add(time.Minute) }
	second, err := tr.Retrain(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, second.TotalChanges)
	assert.Empty(t, l.TrainedConfidence("code"))

	// history keeps the earlier run
	rows, err := store.ListSnapshots(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first.RunID, rows[0].RunID)

	// recovering reports what the last run accepted, which was nothing
	seedFeedback(t, store, "code", "openai", "gpt-4o-mini", 100, 0, time.Now())
	tr.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	third, err := tr.Retrain(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, third.TotalChanges)
	assert.Equal(t, models.ConfidenceMedium, third.Changes[0].Confidence)
	assert.Empty(t, third.Changes[0].PreviousConfidence)
	assert.Equal(t, models.ConfidenceMedium, l.TrainedConfidence("code"))
}

func TestRetrain_PreviousConfidenceFromHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedScenario(t, store)

	first, err := New(store, nil, Options{}).Retrain(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 2, first.TotalChanges)

	// a fresh process reads the newest recorded run
	restarted := New(store, nil, Options{})
	restarted.now = func() time.Time { return time.Now().Add(time.Minute) }
	res, err := restarted.Retrain(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalChanges)
	assert.Equal(t, models.ConfidenceHigh, res.Changes[0].PreviousConfidence)
	assert.Equal(t, models.ConfidenceMedium, res.Changes[1].PreviousConfidence)

	// runs older than the lookback are not consulted
	later := time.Now().Add(2 * time.Hour)
	seedFeedback(t, store, "code", "openai", "gpt-4o-mini", 11, 1, later)
	late := New(store, nil, Options{Lookback: time.Hour})
	late.now = func() time.Time { return later }
	res, err = late.Retrain(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalChanges)
	assert.Equal(t, models.ConfidenceHigh, res.Changes[0].Confidence)
	assert.Empty(t, res.Changes[0].PreviousConfidence)
}

func TestPublish_GradesCurrentFeedback(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedScenario(t, store)
	l := ledger.New(store, nil, ledger.Options{})

	require.NoError(t, New(store, l, Options{}).Publish(ctx))
	assert.Equal(t, models.ConfidenceHigh, l.TrainedConfidence("code"))
	assert.Equal(t, models.ConfidenceMedium, l.TrainedConfidence("creative"))
	assert.Empty(t, l.TrainedConfidence("reasoning"))

	rows, err := store.ListSnapshots(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.NoError(t, New(store, nil, Options{}).Publish(ctx))
}
