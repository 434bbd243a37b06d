package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "dbchat",
	Short: "Chat with your database in plain language",
	Long: `dbchat turns questions into read-only SQL, runs them against a database
you connect to and explains the result.

Only single SELECT statements ever reach the database.

Quick Start:
  dbchat serve                                  # web UI on :8080
  dbchat chat --dialect sqlite --database shop.db # terminal chat`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
