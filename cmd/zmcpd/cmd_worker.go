package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"zmcptools/internal/jobqueue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Drain the scrape job queue until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		w := jobqueue.NewScrapeWorker(rt.jobs, rt.bus, &httpFetcher{}, jobqueue.WorkerConfig{
			MaxConcurrentJobs: cfg.Worker.MaxConcurrentJobs,
			PollInterval:      cfg.Worker.PollInterval(),
			LeaseSeconds:      cfg.Worker.JobTimeoutSeconds,
		})

		logger.Info("scrape worker starting", zap.Int("max_concurrent_jobs", cfg.Worker.MaxConcurrentJobs))
		return w.Run(ctx)
	},
}
