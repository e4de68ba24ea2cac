package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build-time values injected via -ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("memflow %s\n", version)
			fmt.Printf("  build time: %s\n", buildTime)
			fmt.Printf("  git commit: %s\n", gitCommit)
		},
	})
}
