package store

import (
	"database/sql"
	"fmt"
	"time"

	"zmcptools/internal/apperr"
	"zmcptools/internal/types"
)

const scrapeJobColumns = `id, source_id, job_data, status, priority, locked_by, locked_at,
	lock_timeout_seconds, pages_scraped, started_at, completed_at, error_message,
	result_data, created_at, updated_at`

// EnqueueScrapeJob inserts a new pending job.
func (s *Store) EnqueueScrapeJob(j *types.ScrapeJob) error {
	_, err := s.db.Exec(
		`INSERT INTO scrape_jobs (`+scrapeJobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.SourceID, marshal(j.JobData), string(j.Status), j.Priority,
		nullString(j.LockedBy), nullTime(j.LockedAt), j.LockTimeoutSeconds, j.PagesScraped,
		nullTime(j.StartedAt), nullTime(j.CompletedAt), j.ErrorMessage, marshal(j.ResultData),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue scrape job: %w", err)
	}
	return nil
}

func (s *Store) scanScrapeJob(row interface{ Scan(dest ...interface{}) error }) (*types.ScrapeJob, error) {
	var j types.ScrapeJob
	var status, jobData, resultData string
	var lockedBy sql.NullString
	var lockedAt, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&j.ID, &j.SourceID, &jobData, &status, &j.Priority, &lockedBy, &lockedAt,
		&j.LockTimeoutSeconds, &j.PagesScraped, &startedAt, &completedAt, &j.ErrorMessage,
		&resultData, &j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "scrape job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan scrape job: %w", err)
	}

	j.Status = types.ScrapeJobStatus(status)
	unmarshal(jobData, &j.JobData)
	unmarshal(resultData, &j.ResultData)
	j.LockedBy = stringPtr(lockedBy)
	j.LockedAt = timePtr(lockedAt)
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	return &j, nil
}

// GetScrapeJob fetches a job by id.
func (s *Store) GetScrapeJob(id string) (*types.ScrapeJob, error) {
	row := s.db.QueryRow(`SELECT `+scrapeJobColumns+` FROM scrape_jobs WHERE id = ?`, id)
	return s.scanScrapeJob(row)
}

// LockNextPendingJob atomically selects the highest-priority pending job (or
// a previously locked job whose lease expired) and assigns it to workerID.
// Scrape job priority is lower-value-first (spec §3), the inverse of
// objective priority. The select-then-update happens inside one transaction
// so two concurrent workers can never be handed the same job (spec §8:
// single-owner lease).
func (s *Store) LockNextPendingJob(workerID string, leaseSeconds int) (*types.ScrapeJob, error) {
	var job *types.ScrapeJob
	now := time.Now().UTC()
	err := s.withTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(
			`SELECT `+scrapeJobColumns+` FROM scrape_jobs
			 WHERE status = ?
			    OR (status = ? AND locked_at IS NOT NULL AND
			        datetime(locked_at, '+' || lock_timeout_seconds || ' seconds') < datetime(?))
			 ORDER BY priority ASC, created_at
			 LIMIT 1`,
			string(types.ScrapeJobStatusPending), string(types.ScrapeJobStatusRunning), now,
		)
		var err error
		job, err = s.scanScrapeJob(row)
		if apperr.Of(err, apperr.KindNotFound) {
			job = nil
			return nil
		}
		if err != nil {
			return err
		}

		lease := job.LockTimeoutSeconds
		if leaseSeconds > 0 {
			lease = leaseSeconds
		}
		res, err := tx.Exec(
			`UPDATE scrape_jobs SET status = ?, locked_by = ?, locked_at = ?, lock_timeout_seconds = ?,
			 started_at = COALESCE(started_at, ?), updated_at = ?
			 WHERE id = ?`,
			string(types.ScrapeJobStatusRunning), workerID, now, lease, now, now, job.ID,
		)
		if err != nil {
			return fmt.Errorf("lock scrape job: %w", err)
		}
		job.LockTimeoutSeconds = lease
		return requireOneRow(res, "scrape_job", job.ID)
	})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	job.Status = types.ScrapeJobStatusRunning
	job.LockedBy = &workerID
	job.LockedAt = &now
	job.UpdatedAt = now
	return job, nil
}

// UpdateScrapeJobProgress bumps pages_scraped for a locked job.
func (s *Store) UpdateScrapeJobProgress(id string, pagesScraped int) error {
	res, err := s.db.Exec(
		`UPDATE scrape_jobs SET pages_scraped = ?, updated_at = ? WHERE id = ?`,
		pagesScraped, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update scrape job progress: %w", err)
	}
	return requireOneRow(res, "scrape_job", id)
}

// CompleteScrapeJob marks a job completed with its result payload.
func (s *Store) CompleteScrapeJob(id string, result types.Extensions) error {
	res, err := s.db.Exec(
		`UPDATE scrape_jobs SET status = ?, result_data = ?, completed_at = ?, updated_at = ?, locked_by = NULL, locked_at = NULL
		 WHERE id = ?`,
		string(types.ScrapeJobStatusCompleted), marshal(result), time.Now().UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("complete scrape job: %w", err)
	}
	return requireOneRow(res, "scrape_job", id)
}

// FailScrapeJob marks a job failed with an error message.
func (s *Store) FailScrapeJob(id string, errMsg string) error {
	res, err := s.db.Exec(
		`UPDATE scrape_jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?, locked_by = NULL, locked_at = NULL
		 WHERE id = ?`,
		string(types.ScrapeJobStatusFailed), errMsg, time.Now().UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("fail scrape job: %w", err)
	}
	return requireOneRow(res, "scrape_job", id)
}

// CancelScrapeJob marks a pending or running job cancelled.
func (s *Store) CancelScrapeJob(id string) error {
	res, err := s.db.Exec(
		`UPDATE scrape_jobs SET status = ?, completed_at = ?, updated_at = ?, locked_by = NULL, locked_at = NULL
		 WHERE id = ? AND status IN (?, ?)`,
		string(types.ScrapeJobStatusCancelled), time.Now().UTC(), time.Now().UTC(),
		id, string(types.ScrapeJobStatusPending), string(types.ScrapeJobStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("cancel scrape job: %w", err)
	}
	return requireOneRow(res, "scrape_job", id)
}

// ForceUnlockJob clears a job's lease and resets it to pending regardless of
// lock_timeout_seconds, for operator-triggered recovery (spec §6 force_unlock).
func (s *Store) ForceUnlockJob(id string) error {
	res, err := s.db.Exec(
		`UPDATE scrape_jobs SET status = ?, locked_by = NULL, locked_at = NULL, updated_at = ? WHERE id = ? AND status = ?`,
		string(types.ScrapeJobStatusPending), time.Now().UTC(), id, string(types.ScrapeJobStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("force unlock scrape job: %w", err)
	}
	return requireOneRow(res, "scrape_job", id)
}

// FindExpiredLocks returns running jobs whose lease has expired.
func (s *Store) FindExpiredLocks() ([]*types.ScrapeJob, error) {
	rows, err := s.db.Query(
		`SELECT `+scrapeJobColumns+` FROM scrape_jobs
		 WHERE status = ? AND locked_at IS NOT NULL AND
		       datetime(locked_at, '+' || lock_timeout_seconds || ' seconds') < datetime(?)`,
		string(types.ScrapeJobStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("find expired locks: %w", err)
	}
	defer rows.Close()

	var out []*types.ScrapeJob
	for rows.Next() {
		j, err := s.scanScrapeJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ResetExpiredLock clears a job's lease and returns it to pending with an
// explanatory error_message, without touching completed_at (spec §4.10
// cleanupExpiredLocks — distinct from FailScrapeJob, which is terminal).
func (s *Store) ResetExpiredLock(id string) error {
	res, err := s.db.Exec(
		`UPDATE scrape_jobs SET status = ?, locked_by = NULL, locked_at = NULL,
		 error_message = ?, updated_at = ? WHERE id = ?`,
		string(types.ScrapeJobStatusPending), "Job lock expired and was reset", time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("reset expired scrape job lock: %w", err)
	}
	return requireOneRow(res, "scrape_job", id)
}

// FindStuckJobs returns running jobs locked more than thresholdMinutes ago,
// independent of their own lock_timeout_seconds — an operator-triggered
// recovery path distinct from the lease-based FindExpiredLocks (spec §4.10
// forceUnlockStuckJobs).
func (s *Store) FindStuckJobs(thresholdMinutes int) ([]*types.ScrapeJob, error) {
	rows, err := s.db.Query(
		`SELECT `+scrapeJobColumns+` FROM scrape_jobs
		 WHERE status = ? AND locked_at IS NOT NULL AND
		       datetime(locked_at, ?) < datetime(?)`,
		string(types.ScrapeJobStatusRunning), fmt.Sprintf("%+d minutes", thresholdMinutes), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("find stuck scrape jobs: %w", err)
	}
	defer rows.Close()

	var out []*types.ScrapeJob
	for rows.Next() {
		j, err := s.scanScrapeJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CleanupOldJobs deletes terminal scrape jobs older than olderThanDays,
// returning the number removed (spec §4.10 cleanupOldJobs).
func (s *Store) CleanupOldJobs(olderThanDays int) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM scrape_jobs
		 WHERE status IN (?,?,?,?) AND datetime(created_at, ?) < datetime(?)`,
		string(types.ScrapeJobStatusCompleted), string(types.ScrapeJobStatusFailed),
		string(types.ScrapeJobStatusCancelled), string(types.ScrapeJobStatusTimeout),
		fmt.Sprintf("%+d days", olderThanDays), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup old scrape jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryJob resets a failed job back to pending for another attempt.
func (s *Store) RetryJob(id string) error {
	res, err := s.db.Exec(
		`UPDATE scrape_jobs SET status = ?, error_message = '', updated_at = ? WHERE id = ? AND status = ?`,
		string(types.ScrapeJobStatusPending), time.Now().UTC(), id, string(types.ScrapeJobStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("retry scrape job: %w", err)
	}
	return requireOneRow(res, "scrape_job", id)
}

// ListScrapeJobs returns jobs for a source, optionally filtered by status.
func (s *Store) ListScrapeJobs(sourceID string, status *types.ScrapeJobStatus) ([]*types.ScrapeJob, error) {
	query := `SELECT ` + scrapeJobColumns + ` FROM scrape_jobs WHERE source_id = ?`
	args := []interface{}{sourceID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY priority ASC, created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scrape jobs: %w", err)
	}
	defer rows.Close()

	var out []*types.ScrapeJob
	for rows.Next() {
		j, err := s.scanScrapeJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
