package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgClient is the subset of pgxpool.Pool the store uses.
type pgClient interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// The partial unique index is the dedup invariant: at most one row per
// (store, url) may be pending or running at any time. Terminal rows stay
// behind as history until pruned. Statements run one at a time because the
// extended protocol rejects multi-statement strings.
var jobsSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS price_jobs (
		job_id        TEXT PRIMARY KEY,
		store         TEXT NOT NULL,
		url           TEXT NOT NULL,
		status        TEXT NOT NULL,
		start_time    TIMESTAMPTZ NOT NULL,
		update_time   TIMESTAMPTZ NOT NULL,
		price_found   BOOLEAN NOT NULL DEFAULT FALSE,
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS price_jobs_active_key
		ON price_jobs (store, url)
		WHERE status IN ('pending', 'running')`,
	`CREATE INDEX IF NOT EXISTS price_jobs_key_started
		ON price_jobs (store, url, start_time DESC)`,
}

const jobColumns = `job_id, store, url, status, start_time, update_time, price_found, error_message`

// PostgresStore keeps every job as a row in price_jobs. Unlike the
// DynamoDB store it retains terminal jobs as history; PruneTerminal is
// what eventually clears them.
type PostgresStore struct {
	db      pgClient
	nowFunc func() time.Time
}

// NewPostgresStore returns a Store backed by Postgres.
func NewPostgresStore(db pgClient) *PostgresStore {
	return &PostgresStore{
		db:      db,
		nowFunc: time.Now,
	}
}

// EnsureSchema creates the jobs table and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range jobsSchemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure jobs schema: %w", err)
		}
	}
	return nil
}

// Create inserts the pending job. The insert is silently skipped when the
// partial unique index already holds an active row for the key.
func (s *PostgresStore) Create(ctx context.Context, job Job) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO price_jobs (
			job_id, store, url, status,
			start_time, update_time, price_found, error_message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (store, url) WHERE status IN ('pending', 'running') DO NOTHING`,
		job.JobID, job.Store, job.URL, string(job.Status),
		job.StartTime, job.UpdateTime, job.PriceFound, job.ErrorMessage,
	)
	if err != nil {
		return false, fmt.Errorf("insert job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetLatest returns the newest job row for the key.
func (s *PostgresStore) GetLatest(ctx context.Context, key Key) (*Job, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM price_jobs
		WHERE store = $1 AND url = $2
		ORDER BY start_time DESC
		LIMIT 1`, key.Store, key.URL)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return j, nil
}

// MarkRunning transitions pending → running for the given job id.
func (s *PostgresStore) MarkRunning(ctx context.Context, key Key, jobID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE price_jobs
		SET status = 'running', update_time = $2
		WHERE job_id = $1 AND status = 'pending'`,
		jobID, s.nowFunc())
	return transitionResult(tag, err, "mark running")
}

// Complete settles the job as completed with a price recorded.
func (s *PostgresStore) Complete(ctx context.Context, key Key, jobID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE price_jobs
		SET status = 'completed', price_found = TRUE, update_time = $2
		WHERE job_id = $1 AND status IN ('pending', 'running')`,
		jobID, s.nowFunc())
	return transitionResult(tag, err, "complete")
}

// Fail settles the job as failed with the message recorded.
func (s *PostgresStore) Fail(ctx context.Context, key Key, jobID, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE price_jobs
		SET status = 'failed', error_message = $3, update_time = $2
		WHERE job_id = $1 AND status IN ('pending', 'running')`,
		jobID, s.nowFunc(), errMsg)
	return transitionResult(tag, err, "fail")
}

// Timeout settles the job as timed out.
func (s *PostgresStore) Timeout(ctx context.Context, key Key, jobID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE price_jobs
		SET status = 'timeout', error_message = $3, update_time = $2
		WHERE job_id = $1 AND status IN ('pending', 'running')`,
		jobID, s.nowFunc(), TimeoutMessage)
	return transitionResult(tag, err, "timeout")
}

// ListExpired returns active jobs started before the cutoff.
func (s *PostgresStore) ListExpired(ctx context.Context, cutoff time.Time) ([]Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM price_jobs
		WHERE status IN ('pending', 'running') AND start_time < $1`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("select expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired jobs: %w", err)
	}
	return jobs, nil
}

// PruneTerminal deletes terminal jobs whose last update predates cutoff.
func (s *PostgresStore) PruneTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM price_jobs
		WHERE status IN ('completed', 'failed', 'timeout') AND update_time < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func transitionResult(tag pgconn.CommandTag, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleJob
	}
	return nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var status string
	err := row.Scan(
		&j.JobID, &j.Store, &j.URL, &status,
		&j.StartTime, &j.UpdateTime, &j.PriceFound, &j.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	return &j, nil
}
