// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/reactivens/pkg/logging"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	flagLogLevel string // Minimum log level: debug, info, warn, error
	flagLogDir   string // Optional log file directory
	flagQuiet    bool   // Suppress stderr logging
)

var rootCmd = &cobra.Command{
	Use:   "reactivens",
	Short: "Reactive nested sampling for Bayesian evidence and posteriors",
	Long: `reactivens estimates Bayesian evidence (the marginal likelihood) and
draws posterior samples with reactive nested sampling: a live-point
population shrinks the prior volume geometrically, and grows adaptively
when the posterior effective sample size falls short of the target.

Examples:
  reactivens run --problem gaussian --live-points 200
  reactivens run --config run.yaml --checkpoint-dir ~/.reactivens/runs
  reactivens resume --run-id <id> --checkpoint-dir ~/.reactivens/runs --problem gaussian
  reactivens problems`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info",
		"Minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogDir, "log-dir", "",
		"Directory for JSON log files (disabled when empty)")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false,
		"Suppress stderr logging")
}

// newLogger builds the CLI logger from the global flags. Text output on a
// terminal, JSON when stderr is redirected.
func newLogger() *logging.Logger {
	level := logging.LevelInfo
	switch flagLogLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  flagLogDir,
		Service: "cli",
		JSON:    !isatty.IsTerminal(os.Stderr.Fd()),
		Quiet:   flagQuiet,
	})
}

func main() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(problemsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
