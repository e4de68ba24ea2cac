package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/BaSui01/memflow/consolidation"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run a consolidation pass",
		Long: `Consolidate runs one full pass over the given thread (or every known
thread with --all): deduplication, clustering, summarization of aged
clusters, lifecycle transitions, and pruning. It prints the pass statistics
as JSON.`,
		Run: runConsolidate,
	}
	cmd.Flags().StringP("thread", "t", "", "thread ID to consolidate")
	cmd.Flags().Bool("all", false, "sweep every known thread")
	rootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	threadID, _ := cmd.Flags().GetString("thread")
	all, _ := cmd.Flags().GetBool("all")
	if threadID == "" && !all {
		exitErr("consolidate", errors.New("either --thread or --all is required"))
	}

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	logger := buildLogger(cfg.Log)
	defer logger.Sync()

	flush := setupTelemetry(cfg.Telemetry, logger)
	defer flush()

	sys, err := newSystem(cfg, logger)
	if err != nil {
		exitErr("build memory system", err)
	}
	defer sys.Close()

	var stats consolidation.Stats
	if all {
		stats, err = sys.ConsolidateAll(cmd.Context())
	} else {
		stats, err = sys.Consolidate(cmd.Context(), threadID)
	}
	if err != nil {
		exitErr("consolidate", err)
	}

	printJSON(stats)
}
