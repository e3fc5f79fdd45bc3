package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/jobs"
	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
)

const defaultCacheTTL = 720 * time.Hour

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore backs the job queue, the checkpoint store and the chunk cache
// with a single SQLite database. A single connection plus WAL keeps the
// dequeue transaction free of writer races.
type SQLiteStore struct {
	db       *sql.DB
	cacheTTL time.Duration
}

type Option func(*SQLiteStore)

// WithCacheTTL sets the advisory lifetime stamped onto chunk-cache entries.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *SQLiteStore) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, cacheTTL: defaultCacheTTL}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

const jobColumns = `id, name, input, result, source_lang, target_lang, mode, status, priority,
	progress, stage, retry_count, max_retries, cancel_requested, error, metadata_json,
	created_at, updated_at, scheduled_at, started_at, completed_at`

func (s *SQLiteStore) Create(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	metadataJSON, err := json.Marshal(orEmptyMap(job.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Name,
		job.Input,
		job.Result,
		job.SourceLang,
		job.TargetLang,
		job.Mode,
		string(job.Status),
		int(job.Priority),
		job.Progress,
		job.Stage,
		job.RetryCount,
		job.MaxRetries,
		boolToInt(job.CancelRequested),
		job.Error,
		string(metadataJSON),
		job.CreatedAt,
		job.UpdatedAt,
		job.ScheduledAt,
		job.StartedAt,
		job.CompletedAt,
	)
	return err
}

// Update is a full-row persist of the mutable fields. The cancellation flag
// only rises: an executor flushing progress with a stale snapshot must not
// clear a cancellation that arrived in between.
func (s *SQLiteStore) Update(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	metadataJSON, err := json.Marshal(orEmptyMap(job.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
			name=?, input=?, result=?, source_lang=?, target_lang=?, mode=?, status=?,
			priority=?, progress=?, stage=?, retry_count=?, max_retries=?,
			cancel_requested=MAX(cancel_requested, ?), error=?, metadata_json=?, updated_at=?, scheduled_at=?,
			started_at=?, completed_at=?
		 WHERE id=?`,
		job.Name,
		job.Input,
		job.Result,
		job.SourceLang,
		job.TargetLang,
		job.Mode,
		string(job.Status),
		int(job.Priority),
		job.Progress,
		job.Stage,
		job.RetryCount,
		job.MaxRetries,
		boolToInt(job.CancelRequested),
		job.Error,
		string(metadataJSON),
		time.Now().UTC(),
		job.ScheduledAt,
		job.StartedAt,
		job.CompletedAt,
		job.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

// DequeueNext atomically claims the highest-priority oldest eligible job.
// The select and the QUEUED transition share one transaction, so concurrent
// callers can never claim the same row.
func (s *SQLiteStore) DequeueNext(ctx context.Context) (*jobs.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	row := tx.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE status IN (?, ?) AND scheduled_at <= ?
		 ORDER BY priority DESC, created_at ASC
		 LIMIT 1`,
		string(jobs.StatusPending),
		string(jobs.StatusRetrying),
		now,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(jobs.StatusQueued),
		now,
		job.ID,
		string(job.Status),
	)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Raced by another claimer; the next poll will pick a fresh row.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job.Status = jobs.StatusQueued
	job.UpdatedAt = now
	return job, nil
}

// Get resolves an exact id first; failing that, a unique prefix.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id LIKE ? || '%' LIMIT 2`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]*jobs.Job, 0, 2)
	for rows.Next() {
		match, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, jobs.ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, jobs.ErrAmbiguousID
	}
}

func (s *SQLiteStore) List(ctx context.Context, f jobs.Filter) ([]*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(f.Status)+1)
	if len(f.Status) > 0 {
		placeholders := make([]string, len(f.Status))
		for i, status := range f.Status {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (jobs.Stats, error) {
	stats := jobs.Stats{ByStatus: make(map[jobs.Status]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[jobs.Status(status)] = count
		stats.TotalJobs += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	now := time.Now().UTC()
	var oldest sql.NullTime
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*), MIN(created_at) FROM jobs WHERE status IN (?, ?) AND scheduled_at <= ?`,
		string(jobs.StatusPending),
		string(jobs.StatusRetrying),
		now,
	).Scan(&stats.Eligible, &oldest); err != nil {
		return stats, err
	}
	if oldest.Valid {
		stats.OldestWait = now.Sub(oldest.Time)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_cache`).Scan(&stats.CacheEntries); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET cancel_requested=1, updated_at=? WHERE id=?`,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

// ResetOrphans returns RUNNING/QUEUED rows to PENDING. Safe only because a
// single process owns this store; it runs before any executor starts.
func (s *SQLiteStore) ResetOrphans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status=?, updated_at=? WHERE status IN (?, ?)`,
		string(jobs.StatusPending),
		time.Now().UTC(),
		string(jobs.StatusRunning),
		string(jobs.StatusQueued),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteTerminalBefore removes terminal jobs untouched since cutoff, along
// with any checkpoint left behind.
func (s *SQLiteStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM checkpoints WHERE job_id IN (
			SELECT id FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?
		)`,
		string(jobs.StatusCompleted),
		string(jobs.StatusFailed),
		string(jobs.StatusCancelled),
		cutoff.UTC(),
	); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(jobs.StatusCompleted),
		string(jobs.StatusFailed),
		string(jobs.StatusCancelled),
		cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, tx.Commit()
}

// SaveCheckpoint replaces the whole snapshot. Chunk ids live in JSON maps
// keyed by int; encoding/json round-trips integer keys for map[int]...
// natively, so no string-key repair is needed on load.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *pipeline.Checkpoint) error {
	if cp == nil || cp.JobID == "" {
		return fmt.Errorf("checkpoint is missing a job id")
	}
	completedJSON, err := json.Marshal(cp.CompletedIDs)
	if err != nil {
		return fmt.Errorf("marshal completed ids: %w", err)
	}
	resultsJSON, err := json.Marshal(cp.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	metadataJSON, err := json.Marshal(orEmptyMap(cp.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO checkpoints (job_id, total_chunks, completed_json, results_json, metadata_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
			total_chunks=excluded.total_chunks,
			completed_json=excluded.completed_json,
			results_json=excluded.results_json,
			metadata_json=excluded.metadata_json,
			updated_at=excluded.updated_at`,
		cp.JobID,
		cp.TotalChunks,
		string(completedJSON),
		string(resultsJSON),
		string(metadataJSON),
		time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, jobID string) (*pipeline.Checkpoint, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT job_id, total_chunks, completed_json, results_json, metadata_json, updated_at
		 FROM checkpoints WHERE job_id = ?`,
		jobID,
	)

	var (
		cp            pipeline.Checkpoint
		completedJSON string
		resultsJSON   string
		metadataJSON  string
	)
	if err := row.Scan(&cp.JobID, &cp.TotalChunks, &completedJSON, &resultsJSON, &metadataJSON, &cp.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(completedJSON), &cp.CompletedIDs); err != nil {
		return nil, fmt.Errorf("unmarshal completed ids: %w", err)
	}
	if err := json.Unmarshal([]byte(resultsJSON), &cp.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &cp.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &cp, nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE job_id = ?`, jobID)
	return err
}

func (s *SQLiteStore) GetChunk(ctx context.Context, key string) (*pipeline.ChunkResult, error) {
	// The TTL is advisory: expired rows still hit until the sweep runs.
	row := s.db.QueryRowContext(ctx, `SELECT result_json FROM chunk_cache WHERE cache_key = ?`, key)
	var resultJSON string
	if err := row.Scan(&resultJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var result pipeline.ChunkResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("unmarshal cached result: %w", err)
	}
	return &result, nil
}

func (s *SQLiteStore) PutChunk(ctx context.Context, key string, result pipeline.ChunkResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO chunk_cache (cache_key, result_json, expires_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
			result_json=excluded.result_json,
			expires_at=excluded.expires_at,
			updated_at=excluded.updated_at`,
		key,
		string(resultJSON),
		now.Add(s.cacheTTL),
		now,
	)
	return err
}

func (s *SQLiteStore) DeleteExpiredChunks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunk_cache WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		job          jobs.Job
		status       string
		priority     int
		cancelInt    int
		metadataJSON string
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Input,
		&job.Result,
		&job.SourceLang,
		&job.TargetLang,
		&job.Mode,
		&status,
		&priority,
		&job.Progress,
		&job.Stage,
		&job.RetryCount,
		&job.MaxRetries,
		&cancelInt,
		&job.Error,
		&metadataJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ScheduledAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	job.Status = jobs.Status(status)
	job.Priority = jobs.Priority(priority)
	job.CancelRequested = cancelInt == 1
	if err := json.Unmarshal([]byte(metadataJSON), &job.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
