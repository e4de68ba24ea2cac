package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/memflow"
	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/telemetry"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "memflow",
	Short: "Tiered memory engine for conversational agents",
	Long: `memflow manages conversational agent memory: pluggable storage
backends, time-weighted retrieval, summary folding, entity tracking, and a
consolidation engine that deduplicates, clusters, summarizes, archives, and
prunes memories as they age.

Configuration comes from built-in defaults, overlaid by a YAML file
(--config) and then MEMFLOW_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}

// loadConfig resolves configuration from defaults, the optional --config
// file, and MEMFLOW_* environment variables.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	return loader.Load()
}

// buildLogger constructs the process logger from the log section of the
// config: JSON for production, colored console output for development.
func buildLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	console := cfg.Format == "console"

	var encoderConfig zapcore.EncoderConfig
	if console {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	encoding := "json"
	if console {
		encoding = "console"
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      console,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}

// newSystem wires a memory system from the loaded config. The caller owns
// the returned system and must Close it.
func newSystem(cfg *config.Config, logger *zap.Logger) (*memflow.System, error) {
	return memflow.New(
		memflow.WithConfig(cfg),
		memflow.WithLogger(logger),
	)
}

// setupTelemetry installs the OTLP providers when telemetry is enabled and
// returns a flush function. Init failures degrade to noop telemetry.
func setupTelemetry(cfg config.TelemetryConfig, logger *zap.Logger) func() {
	providers, err := telemetry.Init(cfg, logger)
	if err != nil {
		logger.Warn("telemetry init failed", zap.Error(err))
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Println(string(data))
}

// exitErr prints the error to stderr and exits non-zero.
func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
