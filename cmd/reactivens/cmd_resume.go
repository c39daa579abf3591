// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/reactivens/sampler"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var resumeRunID string

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue an interrupted run from its latest checkpoint",
	Long: `Loads the latest checkpoint for a run ID and continues sampling.

The problem flags must match the original run: checkpoints carry the run
state but not the likelihood or the prior transform. Budgets may be
raised to give a budget-stopped run more room.

Examples:
  reactivens resume --run-id 4be7... --checkpoint-dir ./runs --problem gaussian
  reactivens resume --run-id 4be7... --config run.yaml --max-iterations 100000`,
	RunE: runResumeCommand,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeRunID, "run-id", "", "Run ID to resume (required)")
	_ = resumeCmd.MarkFlagRequired("run-id")

	// Resume shares the run command's configuration surface.
	registerRunFlags(resumeCmd.Flags())
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runResumeCommand(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()

	cfg, err := resolveRunConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Checkpoint.Dir == "" {
		return fmt.Errorf("resume requires --checkpoint-dir or a checkpoint section in the config")
	}

	problem, ok := builtinProblems[cfg.Problem]
	if !ok {
		return fmt.Errorf("unknown problem %q", cfg.Problem)
	}

	store, err := openStore(cfg.Checkpoint, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics, shutdownMetrics := startMetrics(runMetricsAddr, logger)
	defer shutdownMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := buildOptions(cfg, store, logger, metrics)
	s, err := sampler.LoadAndResume(ctx, problem.build(&cfg), opts, resumeRunID)
	if err != nil {
		return err
	}

	r, err := s.Run(ctx)
	if err != nil {
		return err
	}
	return writeResults(r, cfg.Output)
}
