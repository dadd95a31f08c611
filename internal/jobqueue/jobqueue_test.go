package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zmcptools/internal/eventbus"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, eventbus.New()), st
}

func TestQueueDefaultsPriorityAndLease(t *testing.T) {
	q, st := newTestQueue(t)

	result, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	require.False(t, result.Skipped)

	job, err := st.GetScrapeJob(result.JobID)
	require.NoError(t, err)
	assert.Equal(t, DefaultPriority, job.Priority)
	assert.Equal(t, DefaultLeaseSeconds, job.LockTimeoutSeconds)
	assert.Equal(t, types.ScrapeJobStatusPending, job.Status)
}

func TestQueueSkipsDuplicateForSameSource(t *testing.T) {
	q, _ := newTestQueue(t)

	first, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.JobID, second.JobID)
}

func TestQueueAllowsNewJobAfterPriorOneIsTerminal(t *testing.T) {
	q, _ := newTestQueue(t)

	first, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	require.NoError(t, q.MarkCompleted(first.JobID, nil))

	second, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	assert.False(t, second.Skipped)
	assert.NotEqual(t, first.JobID, second.JobID)
}

func TestLockNextPendingJobOrdersByPriorityThenAge(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Queue("low", types.JobData{}, 9)
	require.NoError(t, err)
	high, err := q.Queue("high", types.JobData{}, 1)
	require.NoError(t, err)

	job, err := q.LockNextPendingJob("worker-1", 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, high.JobID, job.ID)
	assert.Equal(t, types.ScrapeJobStatusRunning, job.Status)
	assert.Equal(t, "worker-1", *job.LockedBy)
}

func TestLockNextPendingJobReturnsNilWhenEmpty(t *testing.T) {
	q, _ := newTestQueue(t)
	job, err := q.LockNextPendingJob("worker-1", 0)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestLockNextPendingJobOverridesLeaseSeconds(t *testing.T) {
	q, st := newTestQueue(t)
	enqueued, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)

	job, err := q.LockNextPendingJob("worker-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, job.LockTimeoutSeconds)

	persisted, err := st.GetScrapeJob(enqueued.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.ScrapeJobStatusRunning, persisted.Status)
}

func TestUpdateProgressThrottlesBetweenPersistedWrites(t *testing.T) {
	q, st := newTestQueue(t)
	enqueued, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	_, err = q.LockNextPendingJob("worker-1", 0)
	require.NoError(t, err)

	ps := newProgressState()
	ps.lastHeartbeatAt = time.Now().Add(-time.Hour) // force the heartbeat branch to be eligible

	require.NoError(t, q.UpdateProgress(enqueued.JobID, 2, ps, false))

	job, err := st.GetScrapeJob(enqueued.JobID)
	require.NoError(t, err)
	assert.Equal(t, 0, job.PagesScraped, "a 2-page move is below progressPageInterval and must not persist pages_scraped")
}

func TestUpdateProgressPersistsAtPageInterval(t *testing.T) {
	q, st := newTestQueue(t)
	enqueued, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	_, err = q.LockNextPendingJob("worker-1", 0)
	require.NoError(t, err)

	ps := newProgressState()
	require.NoError(t, q.UpdateProgress(enqueued.JobID, progressPageInterval, ps, false))

	job, err := st.GetScrapeJob(enqueued.JobID)
	require.NoError(t, err)
	assert.Equal(t, progressPageInterval, job.PagesScraped)
}

func TestUpdateProgressFinalForcesWrite(t *testing.T) {
	q, st := newTestQueue(t)
	enqueued, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	_, err = q.LockNextPendingJob("worker-1", 0)
	require.NoError(t, err)

	ps := newProgressState()
	require.NoError(t, q.UpdateProgress(enqueued.JobID, 1, ps, true))

	job, err := st.GetScrapeJob(enqueued.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.PagesScraped)
}

func TestMarkCompletedAndMarkFailed(t *testing.T) {
	q, st := newTestQueue(t)

	completed, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	require.NoError(t, q.MarkCompleted(completed.JobID, types.Extensions{}))
	job, err := st.GetScrapeJob(completed.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.ScrapeJobStatusCompleted, job.Status)

	failed, err := q.Queue("source-2", types.JobData{}, 0)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(failed.JobID, "boom"))
	job, err = st.GetScrapeJob(failed.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.ScrapeJobStatusFailed, job.Status)
	assert.Equal(t, "boom", job.ErrorMessage)
}

func TestRetryJobRehydratesFailedJob(t *testing.T) {
	q, st := newTestQueue(t)
	enqueued, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(enqueued.JobID, "boom"))

	require.NoError(t, q.RetryJob(enqueued.JobID))

	job, err := st.GetScrapeJob(enqueued.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.ScrapeJobStatusPending, job.Status)
}

func TestForceUnlockStuckJobsRecoversLockedJobs(t *testing.T) {
	q, st := newTestQueue(t)
	enqueued, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	_, err = q.LockNextPendingJob("worker-1", 0)
	require.NoError(t, err)

	// A negative threshold means "locked more than -1 minutes ago", true for
	// any already-locked job regardless of exact timing precision.
	n, err := q.ForceUnlockStuckJobs(-1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := st.GetScrapeJob(enqueued.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.ScrapeJobStatusPending, job.Status)
	assert.Nil(t, job.LockedBy)
}

func TestForceUnlockStuckJobsNoneStuck(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)

	n, err := q.ForceUnlockStuckJobs(60)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a merely pending (never locked) job is not stuck")
}

func TestCleanupExpiredLocksResetsExpiredLease(t *testing.T) {
	q, st := newTestQueue(t)
	enqueued, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	locked, err := q.LockNextPendingJob("worker-1", 1)
	require.NoError(t, err)
	require.NotNil(t, locked)

	time.Sleep(1100 * time.Millisecond)

	n, err := q.CleanupExpiredLocks()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := st.GetScrapeJob(enqueued.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.ScrapeJobStatusPending, job.Status)
	assert.Nil(t, job.LockedBy)
}

func TestCleanupOldJobsDeletesOnlyTerminalJobs(t *testing.T) {
	q, st := newTestQueue(t)
	completed, err := q.Queue("source-1", types.JobData{}, 0)
	require.NoError(t, err)
	require.NoError(t, q.MarkCompleted(completed.JobID, nil))
	pending, err := q.Queue("source-2", types.JobData{}, 0)
	require.NoError(t, err)

	n, err := q.CleanupOldJobs(-1) // olderThanDays=-1: created_at is always "older" than now-(-1 day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.GetScrapeJob(completed.JobID)
	assert.Error(t, err, "completed job should have been deleted")
	_, err = st.GetScrapeJob(pending.JobID)
	assert.NoError(t, err, "pending job must survive cleanup regardless of age")
}
