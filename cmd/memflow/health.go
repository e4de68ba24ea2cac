package main

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check store availability and engine state",
		Long: `Health connects to the configured store and prints the combined health
report as JSON. The exit code is non-zero when the store is unavailable.`,
		Run: runHealth,
	})
}

func runHealth(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	logger := buildLogger(cfg.Log)
	defer logger.Sync()

	sys, err := newSystem(cfg, logger)
	if err != nil {
		exitErr("build memory system", err)
	}
	defer sys.Close()

	health := sys.Health(cmd.Context())
	printJSON(health)

	if !health.Store.Available {
		os.Exit(1)
	}
}
