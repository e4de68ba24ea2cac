package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the background consolidation daemon",
		Long: `Run starts the memory system with background consolidation enabled and
keeps it running until SIGINT or SIGTERM. Each interval the engine sweeps
every known thread through the full consolidation pipeline.`,
		Run: runDaemon,
	}
	rootCmd.AddCommand(cmd)
}

func runDaemon(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	// The daemon exists to run the scheduler, whatever the config says.
	cfg.Consolidation.EnableBackground = true

	logger := buildLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting memflow",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("git_commit", gitCommit),
		zap.String("backend", cfg.Store.Backend),
	)

	flush := setupTelemetry(cfg.Telemetry, logger)
	defer flush()

	sys, err := newSystem(cfg, logger)
	if err != nil {
		exitErr("build memory system", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sys.Start(ctx); err != nil {
		sys.Close()
		exitErr("start background consolidation", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := sys.Close(); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	logger.Info("memflow stopped")
}
