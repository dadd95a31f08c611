// Command zmcpd is the orchestration runtime's entry point. Commands are
// split across cmd_*.go files the way the teacher's cmd/nerd does, with a
// single root command wiring global flags and logging.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"zmcptools/internal/apperr"
	"zmcptools/internal/config"
	"zmcptools/internal/logging"
)

var (
	verbose    bool
	dataDir    string
	configPath string

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "zmcpd",
	Short: "zmcptools orchestration runtime",
	Long: `zmcpd runs the agent orchestration runtime: it registers projects,
spawns and supervises agents, tracks objectives, and coordinates multi-phase
orchestrations over a persistent embedded store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if dataDir != "" {
			loaded.Server.DataDir = dataDir
		}
		cfg = loaded

		if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		if err := logging.Initialize(cfg.Server.DataDir); err != nil {
			logger.Warn("failed to initialize file logging", zap.Error(err))
		}
		logging.Configure(cfg.LoggingRuntimeConfig())

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	home, _ := os.UserHomeDir()
	defaultConfigPath := filepath.Join(home, ".mcptools", "config.yaml")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the configured data directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the YAML config file")

	rootCmd.AddCommand(
		serveCmd,
		agentCmd,
		objectiveCmd,
		orchestrationCmd,
		workerCmd,
		cleanupCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if apperr.Of(err, apperr.KindStoreCorruption) {
			if logger != nil {
				logger.Error("fatal: store corruption detected", zap.Error(err))
				_ = logger.Sync()
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
