package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/pt-crawler/internal/crawler"
)

// ErrRunNotFound is returned when GetRun or UpdateRun misses.
var ErrRunNotFound = errors.New("run not found")

// RunStore keeps crawl run bookkeeping in the crawl_runs table.
type RunStore struct {
	pool pool
	now  func() time.Time
}

// NewRunStore wraps an open pool.
func NewRunStore(p pool) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: p, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema creates the crawl_runs table.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id TEXT PRIMARY KEY,
	task TEXT NOT NULL,
	trigger TEXT NOT NULL,
	status TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error_text TEXT NOT NULL DEFAULT '',
	created INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	duplicates INTEGER NOT NULL DEFAULT 0,
	pages INTEGER NOT NULL DEFAULT 0,
	stopped_on_seen BOOLEAN NOT NULL DEFAULT FALSE
)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure crawl_runs schema: %w", err)
	}
	return nil
}

// CreateRun inserts a queued run.
func (s *RunStore) CreateRun(ctx context.Context, run crawler.Run) error {
	const query = `
INSERT INTO crawl_runs (id, task, trigger, status, submitted_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.Task, run.Trigger, string(run.Status), run.Submitted); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun moves a run to status and stores the summary so far. started_at
// is set on the first transition to running, finished_at on a terminal one.
func (s *RunStore) UpdateRun(
	ctx context.Context,
	id string,
	status crawler.RunStatus,
	errText string,
	summary crawler.Summary,
) error {
	now := s.now()
	var started, finished *time.Time
	if status == crawler.RunStatusRunning {
		started = &now
	}
	if status == crawler.RunStatusSucceeded || status == crawler.RunStatusFailed {
		finished = &now
	}
	const query = `
UPDATE crawl_runs SET
	status = $2,
	error_text = $3,
	created = $4,
	skipped = $5,
	duplicates = $6,
	pages = $7,
	stopped_on_seen = $8,
	started_at = COALESCE(started_at, $9),
	finished_at = COALESCE($10, finished_at)
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		id,
		string(status),
		errText,
		summary.Created,
		summary.Skipped,
		summary.Duplicates,
		summary.Pages,
		summary.StoppedOnSeen,
		started,
		finished,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun loads one run by ID.
func (s *RunStore) GetRun(ctx context.Context, id string) (crawler.Run, error) {
	const query = `
SELECT id, task, trigger, status, submitted_at, started_at, finished_at, error_text,
	created, skipped, duplicates, pages, stopped_on_seen
FROM crawl_runs WHERE id = $1`
	var (
		run    crawler.Run
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.Task,
		&run.Trigger,
		&status,
		&run.Submitted,
		&run.Started,
		&run.Finished,
		&run.ErrorText,
		&run.Summary.Created,
		&run.Summary.Skipped,
		&run.Summary.Duplicates,
		&run.Summary.Pages,
		&run.Summary.StoppedOnSeen,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Run{}, ErrRunNotFound
	}
	if err != nil {
		return crawler.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	run.Status = crawler.RunStatus(status)
	return run, nil
}
