package database

import (
	"context"
	"fmt"
	"time"

	"courtbook/internal/models"
)

const jobColumns = `id, job_type, job_key, booking_id, payload, status, attempts, last_error, run_at, created_at, processed_at`

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Type, &j.Key, &j.BookingID, &j.Payload, &j.Status, &j.Attempts,
		&j.LastError, &j.RunAt, &j.CreatedAt, &j.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func upsertJob(ctx context.Context, q queryer, job *models.Job, now time.Time) error {
	query := `INSERT INTO jobs (job_type, job_key, booking_id, payload, status, attempts, run_at, created_at)
              VALUES (?, ?, ?, ?, ?, 0, ?, ?)
              ON CONFLICT(job_key) DO UPDATE SET
                  job_type = excluded.job_type,
                  booking_id = excluded.booking_id,
                  payload = excluded.payload,
                  status = excluded.status,
                  attempts = 0,
                  last_error = NULL,
                  locked_at = NULL,
                  processed_at = NULL,
                  run_at = excluded.run_at`
	if _, err := q.ExecContext(ctx, query,
		job.Type, job.Key, job.BookingID, job.Payload, models.JobStatusPending, utc(job.RunAt), utc(now),
	); err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}

	j, err := scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_key = ?`, job.Key))
	if err != nil {
		return fmt.Errorf("failed to reload job: %w", err)
	}
	*job = *j
	return nil
}

// UpsertJob persists a delayed job; scheduling an existing key overwrites it.
func (db *DB) UpsertJob(ctx context.Context, job *models.Job, now time.Time) error {
	return upsertJob(ctx, db, job, now)
}

func (tx *Tx) UpsertJob(ctx context.Context, job *models.Job, now time.Time) error {
	return upsertJob(ctx, tx, job, now)
}

func cancelJob(ctx context.Context, q queryer, key string, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE jobs SET status = ?, processed_at = ? WHERE job_key = ? AND status IN (?, ?)`,
		models.JobStatusCancelled, utc(now), key, models.JobStatusPending, models.JobStatusRetry)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	return affected(res)
}

func (db *DB) CancelJob(ctx context.Context, key string, now time.Time) (bool, error) {
	return cancelJob(ctx, db, key, now)
}

func (tx *Tx) CancelJob(ctx context.Context, key string, now time.Time) (bool, error) {
	return cancelJob(ctx, tx, key, now)
}

func (db *DB) GetJobByKey(ctx context.Context, key string) (*models.Job, error) {
	j, err := scanJob(db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_key = ?`, key))
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

// GetDueJobs returns pending or retrying jobs whose run time has come.
func (db *DB) GetDueJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status IN (?, ?) AND run_at <= ?
         ORDER BY run_at ASC LIMIT ?`,
		models.JobStatusPending, models.JobStatusRetry, utc(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimJob marks a due job running. Only one worker instance can claim it.
func (db *DB) ClaimJob(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, locked_at = ? WHERE id = ? AND status IN (?, ?) AND run_at <= ?`,
		models.JobStatusRunning, utc(now), id, models.JobStatusPending, models.JobStatusRetry, utc(now))
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return affected(res)
}

// UpdateJobStatus records the outcome of a run.
func (db *DB) UpdateJobStatus(ctx context.Context, id int64, status, errMsg string, nextRunAt *time.Time, now time.Time) error {
	var lastErr interface{}
	if errMsg != "" {
		lastErr = errMsg
	}

	var (
		query string
		args  []interface{}
	)
	switch status {
	case models.JobStatusRetry:
		query = `UPDATE jobs SET status = ?, last_error = ?, run_at = ?, attempts = attempts + 1, locked_at = NULL WHERE id = ?`
		args = []interface{}{status, lastErr, nullableTime(nextRunAt), id}
	case models.JobStatusCompleted, models.JobStatusFailed:
		query = `UPDATE jobs SET status = ?, last_error = ?, attempts = attempts + 1, processed_at = ?, locked_at = NULL WHERE id = ?`
		args = []interface{}{status, lastErr, utc(now), id}
	default:
		query = `UPDATE jobs SET status = ?, last_error = ? WHERE id = ?`
		args = []interface{}{status, lastErr, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// RequeueStuckJobs returns jobs left running by a crashed worker to the queue.
func (db *DB) RequeueStuckJobs(ctx context.Context, lockedBefore time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, locked_at = NULL WHERE status = ? AND locked_at <= ?`,
		models.JobStatusRetry, models.JobStatusRunning, utc(lockedBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck jobs: %w", err)
	}
	return res.RowsAffected()
}
