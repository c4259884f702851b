package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/google/uuid"
)

const jobColumns = `
	id, book_id, level, chunk_index, status, attempts, max_attempts,
	voice_id, last_error, next_attempt_at, claimed_at, created_at, updated_at
`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.GenerationJob, error) {
	job := &models.GenerationJob{}
	err := row.Scan(
		&job.ID, &job.BookID, &job.Level, &job.ChunkIndex, &job.Status,
		&job.Attempts, &job.MaxAttempts, &job.VoiceID, &job.LastError,
		&job.NextAttemptAt, &job.ClaimedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CreateJob inserts a new pending generation job. The unique index on
// (book_id, level, chunk_index) makes re-submission of the same chunk a
// no-op; created reports whether a new row was written.
func (db *DB) CreateJob(ctx context.Context, job *models.GenerationJob) (created bool, err error) {
	query := `
		INSERT INTO generation_jobs (
			id, book_id, level, chunk_index, status, attempts, max_attempts, voice_id, next_attempt_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (book_id, level, chunk_index) DO NOTHING
		RETURNING created_at
	`

	err = db.QueryRowContext(
		ctx, query,
		job.ID, job.BookID, job.Level, job.ChunkIndex, job.Status,
		job.Attempts, job.MaxAttempts, job.VoiceID, job.NextAttemptAt,
	).Scan(&job.CreatedAt)

	if err == sql.ErrNoRows {
		return false, nil // chunk already has a job
	}
	if err != nil {
		return false, fmt.Errorf("failed to create job: %w", err)
	}

	return true, nil
}

// GetJob retrieves a job by id.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`

	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// GetJobByKey retrieves a job by its chunk identity.
func (db *DB) GetJobByKey(ctx context.Context, key models.ChunkKey) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs
		WHERE book_id = $1 AND level = $2 AND chunk_index = $3`

	job, err := scanJob(db.QueryRowContext(ctx, query, key.BookID, key.Level, key.ChunkIndex))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ClaimJob atomically flips one pending job to processing and returns it.
// The status guard in the WHERE clause is the single-flight invariant: two
// workers racing on the same id see exactly one UPDATE succeed. Jobs whose
// next_attempt_at is still in the future (retry backoff) are not eligible.
func (db *DB) ClaimJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	query := `
		UPDATE generation_jobs
		SET status = $1, claimed_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3 AND next_attempt_at <= now()
		RETURNING ` + jobColumns

	job, err := scanJob(db.QueryRowContext(ctx, query, models.JobStatusProcessing, id, models.JobStatusPending))
	if err == sql.ErrNoRows {
		return nil, nil // lost the race, already terminal, or still backing off
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

// CompleteJob marks a processing job completed.
func (db *DB) CompleteJob(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE generation_jobs
		SET status = $1, last_error = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
	`
	res, err := db.ExecContext(ctx, query, models.JobStatusCompleted, id, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s not in processing state", id)
	}
	return nil
}

// FailJob records a failed attempt. While attempts remain the job returns
// to pending with next_attempt_at pushed out for backoff; at max attempts
// it becomes terminally failed and waits for operator action.
func (db *DB) FailJob(ctx context.Context, id uuid.UUID, errMsg string, retryAfter time.Duration) (*models.GenerationJob, error) {
	query := `
		UPDATE generation_jobs
		SET attempts = attempts + 1,
		    last_error = $1,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN $2 ELSE $3 END,
		    next_attempt_at = now() + $4 * interval '1 second',
		    claimed_at = NULL,
		    updated_at = now()
		WHERE id = $5 AND status = $6
		RETURNING ` + jobColumns

	job, err := scanJob(db.QueryRowContext(
		ctx, query,
		errMsg, models.JobStatusFailed, models.JobStatusPending,
		int(retryAfter.Seconds()), id, models.JobStatusProcessing,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s not in processing state", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record job failure: %w", err)
	}

	return job, nil
}

// ListJobsByStatus returns jobs in a given status, newest first.
func (db *DB) ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

// ListEligiblePending returns pending jobs whose backoff window has passed.
// Used by the requeue sweep to recover jobs whose Redis wake-up was lost.
func (db *DB) ListEligiblePending(ctx context.Context, limit int) ([]models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs
		WHERE status = $1 AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $2`

	rows, err := db.QueryContext(ctx, query, models.JobStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

// RequeueJob resets a terminally failed job for another round of attempts.
// Operator-only: the status guard refuses jobs that are not failed.
func (db *DB) RequeueJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	query := `
		UPDATE generation_jobs
		SET status = $1, attempts = 0, last_error = NULL,
		    next_attempt_at = now(), claimed_at = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
		RETURNING ` + jobColumns

	job, err := scanJob(db.QueryRowContext(ctx, query, models.JobStatusPending, id, models.JobStatusFailed))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found or not in failed state")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}

	return job, nil
}

// PurgeFailedJobs deletes terminally failed jobs older than the retention
// window and returns how many rows were removed.
func (db *DB) PurgeFailedJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM generation_jobs
		WHERE status = $1 AND updated_at < now() - $2 * interval '1 second'
	`
	res, err := db.ExecContext(ctx, query, models.JobStatusFailed, int(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	return res.RowsAffected()
}

// CountJobsByStatus returns a status -> count map for the stats endpoint.
func (db *DB) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, count(*) FROM generation_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status models.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}

	return counts, rows.Err()
}
