package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A .env in the working directory supplies MEMFLOW_* overrides during
	// development. A missing file is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
