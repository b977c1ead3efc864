package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"www.github.com/Wanderer0074348/HybridRouter/src/config"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
)

const (
	entryPrefix = "cache:entry:"
	entryIndex  = "cache:index"
	feedbackKey = "cache:feedback"
	decisionKey = "metrics:decisions"
	historyKey  = "trainer:history"
)

// Entry mutations run as scripts so a hash that expired under TTL is never
// recreated with only the touched fields.
var (
	touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HINCRBY', KEYS[1], 'hit_count', 1)
redis.call('HSET', KEYS[1], 'last_accessed', ARGV[1])
return 1`)

	voteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
return redis.call('HMGET', KEYS[1], 'upvotes', 'downvotes')`)

	qualityScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if ARGV[1] == '' then
	redis.call('HDEL', KEYS[1], 'quality_score')
else
	redis.call('HSET', KEYS[1], 'quality_score', ARGV[1])
end
if ARGV[2] == '1' then
	redis.call('HSET', KEYS[1], 'invalidated', 1)
	redis.call('HSETNX', KEYS[1], 'invalidation_reason', ARGV[3])
end
return 1`)
)

// RedisStore keeps one hash per cache entry plus sorted-set indexes scored by
// creation time for the window queries.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    cfg.CacheTTL,
	}, nil
}

func (s *RedisStore) GetEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	fields, err := s.client.HGetAll(ctx, entryPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	if !complete(fields) {
		return nil, models.ErrNotFound
	}
	return decodeEntry(fields)
}

func (s *RedisStore) UpsertEntry(ctx context.Context, e *models.CacheEntry) error {
	k := entryPrefix + e.CacheKey

	embedding, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, map[string]interface{}{
			"cache_key":         e.CacheKey,
			"prompt_normalized": e.PromptNormalized,
			"embedding":         string(embedding),
			"complexity":        e.Complexity,
			"pattern":           e.Pattern,
			"provider":          e.Provider,
			"model":             e.Model,
			"response":          string(e.Response),
			"max_tokens":        e.MaxTokens,
			"tokens_in":         e.TokensIn,
			"tokens_out":        e.TokensOut,
			"cost":              strconv.FormatFloat(e.Cost, 'g', -1, 64),
			"created_at":        formatTime(e.CreatedAt),
			"last_accessed":     formatTime(e.LastAccessed),
			"hit_count":         0,
		})
		// vote counters and the invalidation flag survive re-stores
		pipe.HSetNX(ctx, k, "upvotes", 0)
		pipe.HSetNX(ctx, k, "downvotes", 0)
		pipe.HSetNX(ctx, k, "invalidated", 0)
		pipe.ZAdd(ctx, entryIndex, redis.Z{Score: scoreOf(e.CreatedAt), Member: e.CacheKey})
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) TouchEntry(ctx context.Context, key string, at time.Time) error {
	if err := touchScript.Run(ctx, s.client, []string{entryPrefix + key}, formatTime(at)).Err(); err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrementVote(ctx context.Context, key string, rating int) (int, int, error) {
	field := "downvotes"
	if rating > 0 {
		field = "upvotes"
	}

	vals, err := voteScript.Run(ctx, s.client, []string{entryPrefix + key}, field).Slice()
	if errors.Is(err, redis.Nil) {
		return 0, 0, models.ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment vote: %w", err)
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("failed to increment vote: unexpected reply %v", vals)
	}
	return toInt(vals[0]), toInt(vals[1]), nil
}

func (s *RedisStore) UpdateQuality(ctx context.Context, key string, score *float64, invalidate bool, reason string) error {
	q := ""
	if score != nil {
		q = strconv.FormatFloat(*score, 'g', -1, 64)
	}
	flag := "0"
	if invalidate {
		flag = "1"
	}
	if err := qualityScript.Run(ctx, s.client, []string{entryPrefix + key}, q, flag, reason).Err(); err != nil {
		return fmt.Errorf("failed to update quality: %w", err)
	}
	return nil
}

func (s *RedisStore) NearestEntry(ctx context.Context, vec []float32, threshold float64) (*models.CacheEntry, float64, error) {
	keys, err := s.client.ZRange(ctx, entryIndex, 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to retrieve cache keys: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HMGet(ctx, entryPrefix+key, "embedding", "invalidated")
	}
	if len(keys) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, 0, fmt.Errorf("failed to scan embeddings: %w", err)
		}
	}

	bestKey := ""
	bestSim := threshold
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 2 || vals[0] == nil || toInt(vals[1]) != 0 {
			continue
		}
		raw, _ := vals[0].(string)
		var emb []float32
		if err := json.Unmarshal([]byte(raw), &emb); err != nil || len(emb) == 0 {
			continue
		}
		sim := dot(vec, emb)
		if sim >= bestSim {
			bestSim = sim
			bestKey = keys[i]
		}
	}

	if bestKey == "" {
		return nil, 0, models.ErrNotFound
	}
	entry, err := s.GetEntry(ctx, bestKey)
	if err != nil {
		return nil, 0, err
	}
	return entry, bestSim, nil
}

func (s *RedisStore) ListEntries(ctx context.Context, filter models.EntryFilter) ([]*models.CacheEntry, error) {
	keys, err := s.client.ZRangeByScore(ctx, entryIndex, &redis.ZRangeBy{
		Min: minScore(filter.Since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, entryPrefix+key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}

	var out []*models.CacheEntry
	for _, cmd := range cmds {
		fields := cmd.Val()
		if !complete(fields) {
			// expired under TTL
			continue
		}
		entry, err := decodeEntry(fields)
		if err != nil {
			continue
		}
		if filter.Match(entry) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *RedisStore) AppendFeedback(ctx context.Context, rec *models.FeedbackRecord) error {
	return s.appendJSON(ctx, feedbackKey, rec.Timestamp, rec)
}

func (s *RedisStore) ListFeedback(ctx context.Context, since time.Time) ([]*models.FeedbackRecord, error) {
	var out []*models.FeedbackRecord
	err := s.rangeJSON(ctx, feedbackKey, since, func(raw string) error {
		var rec models.FeedbackRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return err
		}
		out = append(out, &rec)
		return nil
	})
	return out, err
}

func (s *RedisStore) AppendDecision(ctx context.Context, rec *models.DecisionRecord) error {
	return s.appendJSON(ctx, decisionKey, rec.CreatedAt, rec)
}

func (s *RedisStore) ListDecisions(ctx context.Context, since time.Time) ([]*models.DecisionRecord, error) {
	var out []*models.DecisionRecord
	err := s.rangeJSON(ctx, decisionKey, since, func(raw string) error {
		var rec models.DecisionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return err
		}
		out = append(out, &rec)
		return nil
	})
	return out, err
}

func (s *RedisStore) AppendSnapshots(ctx context.Context, rows []*models.PatternSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(rows))
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		members = append(members, redis.Z{Score: scoreOf(row.CreatedAt), Member: string(data)})
	}
	return s.client.ZAdd(ctx, historyKey, members...).Err()
}

func (s *RedisStore) ListSnapshots(ctx context.Context, since time.Time) ([]*models.PatternSnapshot, error) {
	var out []*models.PatternSnapshot
	err := s.rangeJSON(ctx, historyKey, since, func(raw string) error {
		var row models.PatternSnapshot
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return err
		}
		out = append(out, &row)
		return nil
	})
	return out, err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) appendJSON(ctx context.Context, key string, at time.Time, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", key, err)
	}
	return s.client.ZAdd(ctx, key, redis.Z{Score: scoreOf(at), Member: string(data)}).Err()
}

func (s *RedisStore) rangeJSON(ctx context.Context, key string, since time.Time, fn func(string) error) error {
	vals, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: minScore(since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to range %s: %w", key, err)
	}
	for _, raw := range vals {
		if err := fn(raw); err != nil {
			return fmt.Errorf("failed to decode %s record: %w", key, err)
		}
	}
	return nil
}

// complete reports whether a hash holds a stored entry rather than nothing or
// stray counters.
func complete(f map[string]string) bool {
	return f["cache_key"] != ""
}

func decodeEntry(f map[string]string) (*models.CacheEntry, error) {
	e := &models.CacheEntry{
		CacheKey:           f["cache_key"],
		PromptNormalized:   f["prompt_normalized"],
		Complexity:         f["complexity"],
		Pattern:            f["pattern"],
		Provider:           f["provider"],
		Model:              f["model"],
		MaxTokens:          atoi(f["max_tokens"]),
		TokensIn:           atoi(f["tokens_in"]),
		TokensOut:          atoi(f["tokens_out"]),
		HitCount:           atoi(f["hit_count"]),
		Upvotes:            atoi(f["upvotes"]),
		Downvotes:          atoi(f["downvotes"]),
		Invalidated:        atoi(f["invalidated"]) != 0,
		InvalidationReason: f["invalidation_reason"],
	}
	if r := f["response"]; r != "" {
		e.Response = json.RawMessage(r)
	}
	if raw := f["embedding"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &e.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
	}
	e.Cost, _ = strconv.ParseFloat(f["cost"], 64)
	if q, ok := f["quality_score"]; ok && q != "" {
		if v, err := strconv.ParseFloat(q, 64); err == nil {
			e.QualityScore = &v
		}
	}
	e.CreatedAt = parseTime(f["created_at"])
	e.LastAccessed = parseTime(f["last_accessed"])
	return e, nil
}

func scoreOf(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func minScore(since time.Time) string {
	if since.IsZero() {
		return "-inf"
	}
	return strconv.FormatInt(since.UnixMilli(), 10)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func toInt(v interface{}) int {
	s, _ := v.(string)
	return atoi(s)
}
