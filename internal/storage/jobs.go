package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// retryDelay is the wait before retrying a job that has failed attempt times.
func retryDelay(attempt int) time.Duration {
	return time.Second << min(attempt, 10)
}

// EnqueueJob adds job as pending. A zero RunAfter means now.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.Payload == nil {
		job.Payload = []byte("{}")
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, string(job.Payload), JobPending, job.MaxAttempts,
		formatTime(job.RunAfter), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("enqueueing job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimNextJob marks the oldest due pending job of one of types as running
// and returns it, or returns nil when none is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := formatTime(time.Now())
	args := []any{JobRunning, now, JobPending, now}
	for _, t := range types {
		args = append(args, t)
	}

	row := s.db.QueryRow(`
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_after <= ? AND type IN (?`+strings.Repeat(", ?", len(types)-1)+`)
			ORDER BY run_after, created_at
			LIMIT 1
		)
		RETURNING id, type, payload_json, status, attempts, max_attempts, run_after, created_at, COALESCE(last_error, '')`,
		args...)

	var j Job
	var payload, runAfter, created string
	err := row.Scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempts, &j.MaxAttempts, &runAfter, &created, &j.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	j.Payload = []byte(payload)
	if j.RunAfter, err = parseTime(runAfter); err != nil {
		return nil, fmt.Errorf("job %s run_after: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("job %s created_at: %w", j.ID, err)
	}
	return &j, nil
}

// CompleteJob marks the job done.
func (s *Store) CompleteJob(id string) error {
	return s.setJobStatus(id, JobDone)
}

func (s *Store) setJobStatus(id string, status JobStatus) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job goes back to pending after
// retryDelay, or to failed once it has used max_attempts.
func (s *Store) FailJob(id string, errMsg string) error {
	return s.inTx(func(tx *sql.Tx) error {
		now := time.Now()
		var attempts, maxAttempts int
		err := tx.QueryRow(`
			UPDATE jobs SET attempts = attempts + 1, last_error = ?, updated_at = ?
			WHERE id = ?
			RETURNING attempts, max_attempts`,
			errMsg, formatTime(now), id).Scan(&attempts, &maxAttempts)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("recording failure of job %s: %w", id, err)
		}

		if attempts >= maxAttempts {
			_, err = tx.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, JobFailed, id)
		} else {
			_, err = tx.Exec(`UPDATE jobs SET status = ?, run_after = ? WHERE id = ?`,
				JobPending, formatTime(now.Add(retryDelay(attempts))), id)
		}
		return err
	})
}

// RequeueRunning returns jobs left running by a previous process to pending.
func (s *Store) RequeueRunning() (int64, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		JobPending, formatTime(time.Now()), JobRunning)
	if err != nil {
		return 0, fmt.Errorf("requeueing running jobs: %w", err)
	}
	return res.RowsAffected()
}

// PruneJobs deletes done and failed jobs last updated before cutoff.
func (s *Store) PruneJobs(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE status IN (?, ?) AND updated_at < ?`,
		JobDone, JobFailed, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetJob returns the job with the given id, or ErrNotFound.
func (s *Store) GetJob(id string) (*Job, error) {
	var j Job
	var payload, runAfter, created string
	err := s.db.QueryRow(`
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, COALESCE(last_error, '')
		FROM jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempts, &j.MaxAttempts, &runAfter, &created, &j.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Payload = []byte(payload)
	if j.RunAfter, err = parseTime(runAfter); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &j, nil
}
