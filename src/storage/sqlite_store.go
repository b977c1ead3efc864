package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"www.github.com/Wanderer0074348/HybridRouter/src/models"
)

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS cache_entries (
    cache_key           TEXT PRIMARY KEY,
    prompt_normalized   TEXT NOT NULL,
    embedding           TEXT NOT NULL DEFAULT 'null',
    complexity          TEXT NOT NULL,
    pattern             TEXT NOT NULL,
    provider            TEXT NOT NULL,
    model               TEXT NOT NULL,
    response            TEXT NOT NULL DEFAULT '',
    max_tokens          INTEGER DEFAULT 0,
    tokens_in           INTEGER DEFAULT 0,
    tokens_out          INTEGER DEFAULT 0,
    cost                REAL DEFAULT 0,
    created_at          TEXT NOT NULL,
    last_accessed       TEXT NOT NULL DEFAULT '',
    hit_count           INTEGER DEFAULT 0,
    upvotes             INTEGER DEFAULT 0,
    downvotes           INTEGER DEFAULT 0,
    quality_score       REAL,
    invalidated         INTEGER DEFAULT 0,
    invalidation_reason TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_pattern ON cache_entries(pattern, complexity);
CREATE INDEX IF NOT EXISTS idx_cache_entries_created_at ON cache_entries(created_at);

CREATE TABLE IF NOT EXISTS feedback (
    id        TEXT PRIMARY KEY,
    cache_key TEXT NOT NULL,
    rating    INTEGER NOT NULL,
    comment   TEXT DEFAULT '',
    timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_timestamp ON feedback(timestamp);

CREATE TABLE IF NOT EXISTS routing_decisions (
    id             TEXT PRIMARY KEY,
    request_id     TEXT DEFAULT '',
    prompt_preview TEXT DEFAULT '',
    provider       TEXT NOT NULL,
    model          TEXT NOT NULL,
    confidence     TEXT NOT NULL,
    strategy_used  TEXT NOT NULL,
    fallback_used  INTEGER DEFAULT 0,
    auto_route     INTEGER DEFAULT 0,
    estimated_cost REAL DEFAULT 0,
    created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_created_at ON routing_decisions(created_at);

CREATE TABLE IF NOT EXISTS pattern_history (
    run_id           TEXT NOT NULL,
    pattern          TEXT NOT NULL,
    provider         TEXT NOT NULL,
    model            TEXT NOT NULL,
    sample_count     INTEGER DEFAULT 0,
    avg_quality      REAL DEFAULT 0,
    correctness_rate REAL DEFAULT 0,
    confidence       TEXT NOT NULL,
    created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pattern_history_created_at ON pattern_history(created_at);
`

const entryColumns = `cache_key, prompt_normalized, embedding, complexity, pattern, provider, model,
	response, max_tokens, tokens_in, tokens_out, cost, created_at, last_accessed, hit_count,
	upvotes, downvotes, quality_score, invalidated, invalidation_reason`

// SQLiteStore implements models.Storage on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; vote increments serialize through it
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM cache_entries WHERE cache_key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load cache entry: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) UpsertEntry(ctx context.Context, e *models.CacheEntry) error {
	embedding, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries
			(cache_key, prompt_normalized, embedding, complexity, pattern, provider, model,
			 response, max_tokens, tokens_in, tokens_out, cost, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			prompt_normalized = excluded.prompt_normalized,
			embedding         = excluded.embedding,
			complexity        = excluded.complexity,
			pattern           = excluded.pattern,
			provider          = excluded.provider,
			model             = excluded.model,
			response          = excluded.response,
			max_tokens        = excluded.max_tokens,
			tokens_in         = excluded.tokens_in,
			tokens_out        = excluded.tokens_out,
			cost              = excluded.cost,
			created_at        = excluded.created_at,
			last_accessed     = excluded.last_accessed,
			hit_count         = 0`,
		e.CacheKey, e.PromptNormalized, string(embedding), e.Complexity, e.Pattern,
		e.Provider, e.Model, string(e.Response), e.MaxTokens, e.TokensIn, e.TokensOut,
		e.Cost, formatTime(e.CreatedAt), formatTime(e.LastAccessed),
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchEntry(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1, last_accessed = ? WHERE cache_key = ?`,
		formatTime(at), key)
	if err != nil {
		return fmt.Errorf("touch cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IncrementVote(ctx context.Context, key string, rating int) (int, int, error) {
	column := "downvotes"
	if rating > 0 {
		column = "upvotes"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin vote: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE cache_entries SET `+column+` = `+column+` + 1 WHERE cache_key = ?`, key)
	if err != nil {
		return 0, 0, fmt.Errorf("increment vote: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, 0, models.ErrNotFound
	}

	var up, down int
	if err := tx.QueryRowContext(ctx,
		`SELECT upvotes, downvotes FROM cache_entries WHERE cache_key = ?`, key).Scan(&up, &down); err != nil {
		return 0, 0, fmt.Errorf("read votes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit vote: %w", err)
	}
	return up, down, nil
}

func (s *SQLiteStore) UpdateQuality(ctx context.Context, key string, score *float64, invalidate bool, reason string) error {
	var q sql.NullFloat64
	if score != nil {
		q = sql.NullFloat64{Float64: *score, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE cache_entries SET
			quality_score       = ?,
			invalidation_reason = CASE WHEN ? = 1 AND invalidated = 0 THEN ? ELSE invalidation_reason END,
			invalidated         = CASE WHEN ? = 1 THEN 1 ELSE invalidated END
		WHERE cache_key = ?`,
		q, boolInt(invalidate), reason, boolInt(invalidate), key)
	if err != nil {
		return fmt.Errorf("update quality: %w", err)
	}
	return nil
}

func (s *SQLiteStore) NearestEntry(ctx context.Context, vec []float32, threshold float64) (*models.CacheEntry, float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cache_key, embedding FROM cache_entries WHERE invalidated = 0 AND embedding != 'null'`)
	if err != nil {
		return nil, 0, fmt.Errorf("scan embeddings: %w", err)
	}

	bestKey := ""
	bestSim := threshold
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan embedding row: %w", err)
		}
		var emb []float32
		if err := json.Unmarshal([]byte(raw), &emb); err != nil || len(emb) == 0 {
			continue
		}
		if sim := dot(vec, emb); sim >= bestSim {
			bestSim = sim
			bestKey = key
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, 0, err
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

func (s *SQLiteStore) ListEntries(ctx context.Context, filter models.EntryFilter) ([]*models.CacheEntry, error) {
	var where []string
	var args []interface{}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	if !filter.IncludeInvalidated {
		where = append(where, "invalidated = 0")
	}
	for col, val := range map[string]string{
		"pattern":    filter.Pattern,
		"complexity": filter.Complexity,
		"provider":   filter.Provider,
		"model":      filter.Model,
	} {
		if val != "" {
			where = append(where, col+" = ?")
			args = append(args, val)
		}
	}

	query := `SELECT ` + entryColumns + ` FROM cache_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var out []*models.CacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendFeedback(ctx context.Context, rec *models.FeedbackRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, cache_key, rating, comment, timestamp) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.CacheKey, rec.Rating, rec.Comment, formatTime(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFeedback(ctx context.Context, since time.Time) ([]*models.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cache_key, rating, comment, timestamp FROM feedback WHERE timestamp >= ? ORDER BY timestamp`,
		formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []*models.FeedbackRecord
	for rows.Next() {
		var rec models.FeedbackRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.CacheKey, &rec.Rating, &rec.Comment, &ts); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		rec.Timestamp = parseTime(ts)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendDecision(ctx context.Context, rec *models.DecisionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routing_decisions
			(id, request_id, prompt_preview, provider, model, confidence, strategy_used,
			 fallback_used, auto_route, estimated_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.PromptPreview, rec.Provider, rec.Model, rec.Confidence,
		rec.StrategyUsed, boolInt(rec.FallbackUsed), boolInt(rec.AutoRoute), rec.EstimatedCost,
		formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, since time.Time) ([]*models.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, prompt_preview, provider, model, confidence, strategy_used,
		       fallback_used, auto_route, estimated_cost, created_at
		FROM routing_decisions WHERE created_at >= ? ORDER BY created_at`,
		formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.DecisionRecord
	for rows.Next() {
		var rec models.DecisionRecord
		var fallback, auto int
		var created string
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.PromptPreview, &rec.Provider, &rec.Model,
			&rec.Confidence, &rec.StrategyUsed, &fallback, &auto, &rec.EstimatedCost, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.FallbackUsed = fallback != 0
		rec.AutoRoute = auto != 0
		rec.CreatedAt = parseTime(created)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendSnapshots(ctx context.Context, rows []*models.PatternSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshots: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pattern_history
			(run_id, pattern, provider, model, sample_count, avg_quality, correctness_rate, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshots: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.RunID, r.Pattern, r.Provider, r.Model, r.SampleCount,
			r.AvgQuality, r.CorrectnessRate, r.Confidence, formatTime(r.CreatedAt)); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, since time.Time) ([]*models.PatternSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, pattern, provider, model, sample_count, avg_quality, correctness_rate, confidence, created_at
		FROM pattern_history WHERE created_at >= ? ORDER BY created_at`,
		formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*models.PatternSnapshot
	for rows.Next() {
		var r models.PatternSnapshot
		var created string
		if err := rows.Scan(&r.RunID, &r.Pattern, &r.Provider, &r.Model, &r.SampleCount,
			&r.AvgQuality, &r.CorrectnessRate, &r.Confidence, &created); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		r.CreatedAt = parseTime(created)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.CacheEntry, error) {
	var e models.CacheEntry
	var embedding, response, created, accessed string
	var quality sql.NullFloat64
	var invalidated int
	err := row.Scan(
		&e.CacheKey, &e.PromptNormalized, &embedding, &e.Complexity, &e.Pattern, &e.Provider, &e.Model,
		&response, &e.MaxTokens, &e.TokensIn, &e.TokensOut, &e.Cost, &created, &accessed, &e.HitCount,
		&e.Upvotes, &e.Downvotes, &quality, &invalidated, &e.InvalidationReason,
	)
	if err != nil {
		return nil, err
	}
	if embedding != "" && embedding != "null" {
		if err := json.Unmarshal([]byte(embedding), &e.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	if response != "" {
		e.Response = json.RawMessage(response)
	}
	if quality.Valid {
		v := quality.Float64
		e.QualityScore = &v
	}
	e.Invalidated = invalidated != 0
	e.CreatedAt = parseTime(created)
	e.LastAccessed = parseTime(accessed)
	return &e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
