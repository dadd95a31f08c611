// Package jobqueue implements JobQueue and ScrapeWorker (spec §4.10): a
// persistent, priority-ordered, single-owner-leased queue for crawler jobs,
// and the cooperative consumption loop that drains it. Grounded on the
// teacher's researcher/scraper tools for the crawling concern and on this
// module's store.Store for the leased-queue concern.
package jobqueue

import (
	"fmt"
	"time"

	"zmcptools/internal/apperr"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/idgen"
	"zmcptools/internal/logging"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

// DefaultPriority is used by Queue when the caller does not specify one.
const DefaultPriority = 5

// DefaultLeaseSeconds is the lock_timeout_seconds stamped onto a job when it
// is locked, absent an explicit override.
const DefaultLeaseSeconds = 300

// progressPageInterval and progressTimeInterval throttle UpdateProgress
// persistence (spec §4.10: "at most every 5 pages or 60 seconds").
const (
	progressPageInterval = 5
	progressTimeInterval = 60 * time.Second
	heartbeatInterval     = 10 * time.Second
)

// Queue wraps the store's scrape_jobs repository with the service-level
// semantics spec §4.10 requires: enqueue idempotency, locking, throttled
// progress, and lease recovery.
type Queue struct {
	store *store.Store
	bus   *eventbus.Bus
}

// New constructs a Queue over st, emitting opaque progress/tool-call events
// on bus as jobs are processed.
func New(st *store.Store, bus *eventbus.Bus) *Queue {
	return &Queue{store: st, bus: bus}
}

// QueueResult is the outcome of Queue.Queue.
type QueueResult struct {
	JobID   string
	Skipped bool
	Reason  string
}

// Queue enqueues a new scrape job for sourceID, or returns the existing
// pending/running job for that source with Skipped=true (spec §4.10 queue).
func (q *Queue) Queue(sourceID string, data types.JobData, priority int) (QueueResult, error) {
	if priority == 0 {
		priority = DefaultPriority
	}

	existing, err := q.store.ListScrapeJobs(sourceID, nil)
	if err != nil {
		return QueueResult{}, err
	}
	for _, j := range existing {
		if j.Status == types.ScrapeJobStatusPending || j.Status == types.ScrapeJobStatusRunning {
			return QueueResult{JobID: j.ID, Skipped: true, Reason: "job already queued for source"}, nil
		}
	}

	now := time.Now().UTC()
	job := &types.ScrapeJob{
		ID:                 idgen.Prefixed("job"),
		SourceID:           sourceID,
		JobData:            data,
		Status:             types.ScrapeJobStatusPending,
		Priority:           priority,
		LockTimeoutSeconds: DefaultLeaseSeconds,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := q.store.EnqueueScrapeJob(job); err != nil {
		return QueueResult{}, err
	}
	logging.JobQueue("queued scrape job %s for source %s (priority %d)", job.ID, sourceID, priority)
	return QueueResult{JobID: job.ID}, nil
}

// LockNextPendingJob hands the lowest-priority pending job (or one whose
// lease has expired) exclusively to workerID, or returns nil if none is
// available.
func (q *Queue) LockNextPendingJob(workerID string, leaseSeconds int) (*types.ScrapeJob, error) {
	return q.store.LockNextPendingJob(workerID, leaseSeconds)
}

// progressState tracks the throttling decision for one job's in-flight
// UpdateProgress calls; it lives only as long as the worker loop processing
// that job.
type progressState struct {
	lastPersistedPages int
	lastPersistedAt    time.Time
	lastHeartbeatAt    time.Time
}

// newProgressState seeds a tracker for a freshly locked job.
func newProgressState() *progressState {
	now := time.Now()
	return &progressState{lastPersistedAt: now, lastHeartbeatAt: now}
}

// UpdateProgress persists pagesScraped for jobID subject to the throttle in
// spec §4.10, or issues a heartbeat-only touch of updated_at between
// persisted updates. final forces an unconditional write (job completion).
func (q *Queue) UpdateProgress(jobID string, pagesScraped int, st *progressState, final bool) error {
	now := time.Now()
	if !final {
		sincePages := pagesScraped - st.lastPersistedPages
		sinceTime := now.Sub(st.lastPersistedAt)
		if sincePages < progressPageInterval && sinceTime < progressTimeInterval {
			if now.Sub(st.lastHeartbeatAt) >= heartbeatInterval {
				st.lastHeartbeatAt = now
				return q.touchHeartbeat(jobID)
			}
			return nil
		}
	}
	st.lastPersistedPages = pagesScraped
	st.lastPersistedAt = now
	st.lastHeartbeatAt = now
	return q.store.UpdateScrapeJobProgress(jobID, pagesScraped)
}

func (q *Queue) touchHeartbeat(jobID string) error {
	job, err := q.store.GetScrapeJob(jobID)
	if err != nil {
		return err
	}
	return q.store.UpdateScrapeJobProgress(jobID, job.PagesScraped)
}

// MarkCompleted records a job's terminal success.
func (q *Queue) MarkCompleted(jobID string, result types.Extensions) error {
	if err := q.store.CompleteScrapeJob(jobID, result); err != nil {
		return err
	}
	logging.JobQueue("scrape job %s completed", jobID)
	return nil
}

// MarkFailed records a job's terminal failure.
func (q *Queue) MarkFailed(jobID string, errMsg string) error {
	if err := q.store.FailScrapeJob(jobID, errMsg); err != nil {
		return err
	}
	logging.JobQueue("scrape job %s failed: %s", jobID, errMsg)
	return nil
}

// CancelJob marks a pending or running job cancelled with an operator-supplied reason.
func (q *Queue) CancelJob(jobID, reason string) error {
	if err := q.store.CancelScrapeJob(jobID); err != nil {
		return err
	}
	logging.JobQueue("scrape job %s cancelled: %s", jobID, reason)
	return nil
}

// RetryJob rehydrates a failed job back to pending.
func (q *Queue) RetryJob(jobID string) error {
	return q.store.RetryJob(jobID)
}

// ForceUnlockJob resets a single job to pending regardless of its lease state.
func (q *Queue) ForceUnlockJob(jobID, reason string) error {
	if err := q.store.ForceUnlockJob(jobID); err != nil {
		return err
	}
	logging.JobQueue("scrape job %s force-unlocked: %s", jobID, reason)
	return nil
}

// ForceUnlockStuckJobs resets every running job locked for more than
// thresholdMinutes regardless of its own lease, returning the count recovered.
func (q *Queue) ForceUnlockStuckJobs(thresholdMinutes int) (int, error) {
	stuck, err := q.store.FindStuckJobs(thresholdMinutes)
	if err != nil {
		return 0, err
	}
	for _, j := range stuck {
		if err := q.store.ForceUnlockJob(j.ID); err != nil && !apperr.Of(err, apperr.KindNotFound) {
			return 0, err
		}
	}
	return len(stuck), nil
}

// CleanupExpiredLocks resets jobs whose own lease has expired back to
// pending, recording why (spec §4.10 cleanupExpiredLocks).
func (q *Queue) CleanupExpiredLocks() (int, error) {
	expired, err := q.store.FindExpiredLocks()
	if err != nil {
		return 0, err
	}
	for _, j := range expired {
		if err := q.store.ResetExpiredLock(j.ID); err != nil {
			return 0, err
		}
	}
	if len(expired) > 0 {
		logging.JobQueue("reset %d expired job leases", len(expired))
	}
	return len(expired), nil
}

// CleanupOldJobs deletes terminal jobs older than olderThanDays.
func (q *Queue) CleanupOldJobs(olderThanDays int) (int64, error) {
	n, err := q.store.CleanupOldJobs(olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("cleanup old jobs: %w", err)
	}
	if n > 0 {
		logging.JobQueue("deleted %d old scrape jobs", n)
	}
	return n, nil
}
