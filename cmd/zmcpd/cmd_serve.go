package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"zmcptools/internal/agent"
	"zmcptools/internal/dashboard"
)

var dashboardEnabled bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration runtime until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if dashboardEnabled {
			conn := dashboard.New(rt.bus, cfg.Server.DataDir, "", dashboard.ServerInfo{
				StartTime: time.Now().UTC(),
			}, cfg.Dashboard)
			go conn.Run(ctx)
		}

		reconcileTicker := time.NewTicker(agent.ReconciliationInterval)
		defer reconcileTicker.Stop()

		logger.Info("zmcpd serving", zap.String("data_dir", cfg.Server.DataDir))

		for {
			select {
			case <-ctx.Done():
				logger.Info("zmcpd shutting down")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				return rt.bus.Shutdown(shutdownCtx)
			case <-reconcileTicker.C:
				projects, err := rt.store.ListActiveProjects()
				if err != nil {
					logger.Warn("list active projects failed", zap.Error(err))
					continue
				}
				for _, p := range projects {
					if _, err := rt.agents.RunReconciliation(p.RepositoryPath); err != nil {
						logger.Warn("agent reconciliation failed", zap.String("repository_path", p.RepositoryPath), zap.Error(err))
					}
				}
			}
		}
	},
}

func init() {
	serveCmd.Flags().BoolVar(&dashboardEnabled, "dashboard", true, "mirror events to a discovered dashboard connection")
}
