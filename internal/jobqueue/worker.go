package jobqueue

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"zmcptools/internal/eventbus"
	"zmcptools/internal/logging"
	"zmcptools/internal/types"
)

// Fetcher is the external crawling collaborator (spec §4.10: "the
// browser/crawler logic is an external collaborator"). Implementations
// perform the actual HTTP/browser work; ScrapeWorker only owns leasing,
// progress accounting, and terminal-state bookkeeping.
type Fetcher interface {
	Fetch(ctx context.Context, job *types.ScrapeJob, report func(pagesScraped int)) (types.Extensions, error)
}

// WorkerConfig tunes ScrapeWorker's consumption loop.
type WorkerConfig struct {
	WorkerID          string
	MaxConcurrentJobs int
	PollInterval      time.Duration
	LeaseSeconds      int
}

// ScrapeWorker drains a Queue one job at a time per concurrent slot,
// processing each through a Fetcher and recording exactly one terminal
// outcome (spec §4.10 steps 1-4).
type ScrapeWorker struct {
	queue   *Queue
	bus     *eventbus.Bus
	fetcher Fetcher
	cfg     WorkerConfig
}

// NewScrapeWorker constructs a worker over queue, reporting opaque
// progress/tool-call events on bus as it processes jobs.
func NewScrapeWorker(queue *Queue, bus *eventbus.Bus, fetcher Fetcher, cfg WorkerConfig) *ScrapeWorker {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = DefaultLeaseSeconds
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = fmt.Sprintf("worker-%d", time.Now().UnixNano())
	}
	return &ScrapeWorker{queue: queue, bus: bus, fetcher: fetcher, cfg: cfg}
}

// Run drains the queue until ctx is cancelled. Up to MaxConcurrentJobs jobs
// are processed at once via an errgroup-bounded semaphore; a single polling
// loop hands each free slot the next job, so a busy slot never blocks an
// idle one from locking the next job.
func (w *ScrapeWorker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	slots := make(chan struct{}, w.cfg.MaxConcurrentJobs)
	for i := 0; i < w.cfg.MaxConcurrentJobs; i++ {
		slots <- struct{}{}
	}

	for {
		select {
		case <-gctx.Done():
			return g.Wait()
		case <-slots:
		}

		job, err := w.queue.LockNextPendingJob(w.cfg.WorkerID, w.cfg.LeaseSeconds)
		if err != nil {
			logging.JobQueue("lockNextPendingJob failed: %v", err)
			slots <- struct{}{}
			if !sleepOrDone(gctx, w.cfg.PollInterval) {
				return g.Wait()
			}
			continue
		}
		if job == nil {
			slots <- struct{}{}
			if !sleepOrDone(gctx, w.cfg.PollInterval) {
				return g.Wait()
			}
			continue
		}

		g.Go(func() error {
			defer func() { slots <- struct{}{} }()
			w.processJob(gctx, job)
			return nil
		})
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// processJob runs job through the Fetcher exactly once, guaranteeing
// markCompleted/markFailed fires exactly once regardless of outcome.
func (w *ScrapeWorker) processJob(ctx context.Context, job *types.ScrapeJob) {
	logging.JobQueue("worker %s processing job %s (source=%s)", w.cfg.WorkerID, job.ID, job.SourceID)
	state := newProgressState()

	lastReported := 0
	report := func(pagesScraped int) {
		lastReported = pagesScraped
		if err := w.queue.UpdateProgress(job.ID, pagesScraped, state, false); err != nil {
			logging.JobQueue("updateProgress failed for job %s: %v", job.ID, err)
		}
	}

	result, err := func() (result types.Extensions, ferr error) {
		defer func() {
			if p := recover(); p != nil {
				ferr = fmt.Errorf("panic processing job %s: %v", job.ID, p)
			}
		}()
		return w.fetcher.Fetch(ctx, job, report)
	}()

	if err != nil {
		if markErr := w.queue.MarkFailed(job.ID, err.Error()); markErr != nil {
			logging.JobQueue("markFailed failed for job %s: %v", job.ID, markErr)
		}
		return
	}

	if lastReported > 0 {
		_ = w.queue.UpdateProgress(job.ID, lastReported, state, true)
	}
	if markErr := w.queue.MarkCompleted(job.ID, result); markErr != nil {
		logging.JobQueue("markCompleted failed for job %s: %v", job.ID, markErr)
	}
}
