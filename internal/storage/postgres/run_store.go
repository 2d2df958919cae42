package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

const runColumns = `id::text, job_name, start_time, end_time, status, new_cases_found, pages_processed, error_message`

// RunStore tracks crawl runs in cron_job_runs.
type RunStore struct {
	db DB
}

// NewRunStore wraps db.
func NewRunStore(db DB) *RunStore {
	return &RunStore{db: db}
}

// StartRun inserts a started row with zeroed metrics and returns its id.
func (s *RunStore) StartRun(ctx context.Context, jobName string, startedAt time.Time) (string, error) {
	const query = `
INSERT INTO cron_job_runs (job_name, start_time, status, new_cases_found, pages_processed)
VALUES ($1, $2, $3, 0, 0)
RETURNING id::text`
	var id string
	if err := s.db.QueryRow(ctx, query, jobName, startedAt, string(crawler.RunStarted)).Scan(&id); err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// CompleteRun marks the run completed with its metrics.
func (s *RunStore) CompleteRun(ctx context.Context, runID string, finishedAt time.Time, summary crawler.RunSummary) error {
	return s.finish(ctx, runID, finishedAt, crawler.RunCompleted, summary, nil)
}

// FailRun marks the run failed with its metrics and errMsg.
func (s *RunStore) FailRun(ctx context.Context, runID string, finishedAt time.Time, summary crawler.RunSummary, errMsg string) error {
	return s.finish(ctx, runID, finishedAt, crawler.RunFailed, summary, &errMsg)
}

func (s *RunStore) finish(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status crawler.RunStatus,
	summary crawler.RunSummary,
	errMsg *string,
) error {
	const query = `
UPDATE cron_job_runs
SET end_time = $1, status = $2, new_cases_found = $3, pages_processed = $4, error_message = $5
WHERE id = $6`
	tag, err := s.db.Exec(ctx, query,
		finishedAt,
		string(status),
		summary.NewRecordsFound,
		summary.PagesProcessed,
		errMsg,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// GetRun returns one run or crawler.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID string) (crawler.JobRun, error) {
	query := `SELECT ` + runColumns + ` FROM cron_job_runs WHERE id = $1`
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return crawler.JobRun{}, crawler.ErrNotFound
	case err != nil:
		return crawler.JobRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first. An empty jobName lists every job and a
// non-positive limit returns every row.
func (s *RunStore) ListRuns(ctx context.Context, jobName string, limit, offset int) ([]crawler.JobRun, error) {
	query := `SELECT ` + runColumns + ` FROM cron_job_runs
WHERE $1 = '' OR job_name = $1
ORDER BY start_time DESC
LIMIT $2 OFFSET $3`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, query, jobName, lim, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (crawler.JobRun, error) {
		return scanRun(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (crawler.JobRun, error) {
	var (
		run    crawler.JobRun
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.JobName,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.NewRecordsFound,
		&run.PagesProcessed,
		&run.ErrorMessage,
	)
	if err != nil {
		return crawler.JobRun{}, err
	}
	run.Status = crawler.RunStatus(status)
	return run, nil
}
