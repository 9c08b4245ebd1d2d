// ABOUTME: Store methods for the jobs table: enqueue, atomic claim, outcome
// ABOUTME: reporting, stats, retention cleanup, and stale-lease recovery.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/jimmitchell/vibereader/internal/jobs"
)

// Job is one row of the jobs table.
type Job struct {
	ID           int64
	Type         jobs.Type
	Payload      json.RawMessage
	FeedID       *int64
	Status       jobs.Status
	Attempts     int
	MaxAttempts  int
	ErrorMessage string
	LockedBy     string
	ClaimedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// JobStats is the count of jobs in each lifecycle state.
type JobStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

const jobColumns = `id, job_type, payload, feed_id, status, attempts, max_attempts,
	error_message, locked_by, claimed_at, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Type, &j.Payload, &j.FeedID, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.ErrorMessage, &j.LockedBy, &j.ClaimedAt,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// EnqueueJob inserts a new pending job and returns its id. No payload shape
// validation happens here; malformed payloads are a handler-time error.
// feedID populates the structured dedup column for fetch_feed jobs and is nil
// for every other type.
func (s *Store) EnqueueJob(ctx context.Context, jobType jobs.Type, payload json.RawMessage, feedID *int64, maxAttempts int) (int64, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (job_type, payload, feed_id, max_attempts)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		string(jobType), payload, feedID, maxAttempts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// ClaimJob atomically claims the oldest pending job for workerID: the row
// moves to processing, attempts is incremented, and the lease columns are
// stamped. FOR UPDATE SKIP LOCKED makes concurrent claimers pick disjoint
// rows. Returns (nil, nil) when no pending job exists.
func (s *Store) ClaimJob(ctx context.Context, workerID string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    attempts = attempts + 1,
		    locked_by = $1,
		    claimed_at = now(),
		    updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		workerID,
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// CompleteJob marks a processing job as succeeded, stamping the completion
// time and clearing any error message left over from earlier attempts.
func (s *Store) CompleteJob(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    error_message = '',
		    locked_by = '',
		    claimed_at = NULL,
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete job %d: not in processing state", id)
	}
	return nil
}

// FailJob records a failed attempt. While attempts remain below the job's
// max_attempts the row returns to pending at its original created_at (FIFO
// position is preserved across retries); otherwise it becomes terminally
// failed. The error message is recorded either way for diagnostics.
func (s *Store) FailJob(ctx context.Context, id int64, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
		    error_message = $2,
		    locked_by = '',
		    claimed_at = NULL,
		    completed_at = CASE WHEN attempts >= max_attempts THEN now() ELSE NULL END,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, errMsg,
	)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail job %d: not in processing state", id)
	}
	return nil
}

// DiscardJob terminally fails a processing job regardless of remaining
// attempts. Used for permanent errors (malformed payload, unknown type)
// where retrying cannot change the outcome.
func (s *Store) DiscardJob(ctx context.Context, id int64, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    error_message = $2,
		    locked_by = '',
		    claimed_at = NULL,
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, errMsg,
	)
	if err != nil {
		return fmt.Errorf("discard job %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("discard job %d: not in processing state", id)
	}
	return nil
}

// GetJob returns the job with the given id, or (nil, nil) if not found.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return j, nil
}

// Stats returns the count of jobs in each state. States with no rows report
// zero.
func (s *Store) Stats(ctx context.Context) (JobStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var stats JobStats
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return JobStats{}, fmt.Errorf("job stats: %w", err)
		}
		switch jobs.Status(status) {
		case jobs.StatusPending:
			stats.Pending = n
		case jobs.StatusProcessing:
			stats.Processing = n
		case jobs.StatusCompleted:
			stats.Completed = n
		case jobs.StatusFailed:
			stats.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// CleanupJobs deletes terminal (completed/failed) jobs whose completion
// timestamp is more than daysOld days in the past. Pending and processing
// jobs are never touched regardless of age. daysOld must be positive.
func (s *Store) CleanupJobs(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		return 0, fmt.Errorf("cleanup jobs: days_old must be positive, got %d", daysOld)
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed')
		  AND completed_at < now() - make_interval(days => $1)`,
		daysOld,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecoverStaleClaims returns processing jobs whose lease expired (claimed
// longer ago than staleAfter) to the queue. The claim already consumed an
// attempt, so a job with no attempts left is terminally failed instead of
// re-entering pending; that keeps attempts from ever exceeding max_attempts
// on a live job. Returns the number of rows recovered.
func (s *Store) RecoverStaleClaims(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
		    error_message = 'worker lease expired',
		    locked_by = '',
		    claimed_at = NULL,
		    completed_at = CASE WHEN attempts >= max_attempts THEN now() ELSE NULL END,
		    updated_at = now()
		WHERE status = 'processing'
		  AND claimed_at < now() - make_interval(secs => $1)`,
		staleAfter.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("recover stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingFetchFeedIDs returns the set of feed ids referenced by pending
// fetch_feed jobs. The scheduler consults this set before pushing, so the
// dedup check is an exact match on the indexed feed_id column rather than an
// inspection of the serialized payload.
func (s *Store) PendingFetchFeedIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT feed_id FROM jobs
		WHERE status = 'pending' AND job_type = 'fetch_feed' AND feed_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("pending fetch feed ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pending fetch feed ids: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending fetch feed ids: %w", err)
	}
	return ids, nil
}

// ListJobs returns up to limit jobs, newest first, optionally filtered by
// status. Operational inspection only; workers claim through ClaimJob.
func (s *Store) ListJobs(ctx context.Context, status *jobs.Status, limit int) ([]Job, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.
		Select(jobColumns).
		From("jobs").
		OrderBy("created_at DESC, id DESC").
		Limit(uint64(limit)) //nolint:gosec // G115: limit validated by caller
	if status != nil {
		sb = sb.Where(sq.Eq{"status": string(*status)})
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list jobs: build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}
