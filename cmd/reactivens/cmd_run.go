// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/reactivens/pkg/logging"
	"github.com/AleutianAI/reactivens/sampler"
	"github.com/AleutianAI/reactivens/sampler/checkpoint"
	"github.com/AleutianAI/reactivens/sampler/results"
	"github.com/AleutianAI/reactivens/sampler/telemetry"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runConfigPath         string // YAML configuration file
	runProblem            string // Built-in problem name
	runDimensions         int    // Problem dimensionality
	runSigma              float64
	runLivePoints         int
	runMaxLivePoints      int
	runDlogZ              float64
	runMinESS             float64
	runMaxIterations      uint64
	runMaxCalls           uint64
	runWorkers            int
	runSeed               uint64
	runCheckpointDir      string
	runCheckpointBackend  string
	runCheckpointInterval uint64
	runOutput             string
	runMetricsAddr        string // Prometheus /metrics listen address
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a sampling problem to convergence",
	Long: `Runs reactive nested sampling on a built-in problem.

The run stops when the evidence estimate converges (and the effective
sample size target is met, if set), a budget is exhausted, or the process
receives SIGINT/SIGTERM. Interrupted runs with a checkpoint store can be
continued with 'reactivens resume'.

Examples:
  reactivens run --problem gaussian --live-points 200 --dlogz 0.1
  reactivens run --problem eggbox --min-ess 1000
  reactivens run --config run.yaml
  reactivens run --problem ring --checkpoint-dir ./runs --checkpoint-interval 500`,
	RunE: runRunCommand,
}

func init() {
	registerRunFlags(runCmd.Flags())
}

// registerRunFlags registers the shared run configuration surface on a
// command's flag set. Both run and resume call this from their own
// init(); registering each command's own flag instances avoids depending
// on cross-file init order, which follows file names.
func registerRunFlags(f *pflag.FlagSet) {
	f.StringVarP(&runConfigPath, "config", "c", "", "YAML run configuration file")
	f.StringVarP(&runProblem, "problem", "p", "gaussian", "Built-in problem (see 'reactivens problems')")
	f.IntVar(&runDimensions, "dimensions", 2, "Problem dimensionality (gaussian)")
	f.Float64Var(&runSigma, "sigma", 0.1, "Likelihood width (gaussian)")
	f.IntVar(&runLivePoints, "live-points", 0, "Initial live-point count (0 = default)")
	f.IntVar(&runMaxLivePoints, "max-live-points", 0, "Reactive growth cap (0 = default)")
	f.Float64Var(&runDlogZ, "dlogz", 0, "Evidence stopping tolerance (0 = default)")
	f.Float64Var(&runMinESS, "min-ess", 0, "Posterior effective sample size target (0 = disabled)")
	f.Uint64Var(&runMaxIterations, "max-iterations", 0, "Iteration budget (0 = unlimited)")
	f.Uint64Var(&runMaxCalls, "max-calls", 0, "Likelihood call budget (0 = unlimited)")
	f.IntVar(&runWorkers, "workers", 1, "Parallel likelihood evaluations")
	f.Uint64Var(&runSeed, "seed", 0, "RNG seed (0 = random)")
	f.StringVar(&runCheckpointDir, "checkpoint-dir", "", "Checkpoint store directory (disabled when empty)")
	f.StringVar(&runCheckpointBackend, "checkpoint-backend", "file", "Checkpoint backend: file or badger")
	f.Uint64Var(&runCheckpointInterval, "checkpoint-interval", 1000, "Iterations between checkpoints")
	f.StringVarP(&runOutput, "output", "o", "-", "Results JSON path ('-' for stdout)")
	f.StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runRunCommand(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()

	cfg, err := resolveRunConfig(cmd)
	if err != nil {
		return err
	}

	problem, ok := builtinProblems[cfg.Problem]
	if !ok {
		return fmt.Errorf("unknown problem %q", cfg.Problem)
	}

	store, err := openStore(cfg.Checkpoint, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	metrics, shutdownMetrics := startMetrics(runMetricsAddr, logger)
	defer shutdownMetrics()

	s, err := sampler.New(problem.build(&cfg), buildOptions(cfg, store, logger, metrics))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := s.Run(ctx)
	if err != nil {
		return err
	}
	return writeResults(r, cfg.Output)
}

// resolveRunConfig merges the config file with explicitly set flags.
func resolveRunConfig(cmd *cobra.Command) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if runConfigPath != "" {
		loaded, err := LoadRunConfig(runConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if f.Changed("problem") {
		cfg.Problem = runProblem
	}
	if f.Changed("dimensions") {
		cfg.Dimensions = runDimensions
	}
	if f.Changed("sigma") {
		cfg.Sigma = runSigma
	}
	if f.Changed("live-points") {
		cfg.LivePoints = runLivePoints
	}
	if f.Changed("max-live-points") {
		cfg.MaxLivePoints = runMaxLivePoints
	}
	if f.Changed("dlogz") {
		cfg.DlogZ = runDlogZ
	}
	if f.Changed("min-ess") {
		cfg.MinESS = runMinESS
	}
	if f.Changed("max-iterations") {
		cfg.MaxIterations = runMaxIterations
	}
	if f.Changed("max-calls") {
		cfg.MaxCalls = runMaxCalls
	}
	if f.Changed("workers") {
		cfg.Workers = runWorkers
	}
	if f.Changed("seed") {
		cfg.Seed = runSeed
	}
	if f.Changed("checkpoint-dir") {
		cfg.Checkpoint.Dir = runCheckpointDir
		if cfg.Checkpoint.Backend == "" {
			cfg.Checkpoint.Backend = runCheckpointBackend
		}
	}
	if f.Changed("checkpoint-backend") {
		cfg.Checkpoint.Backend = runCheckpointBackend
	}
	if f.Changed("checkpoint-interval") {
		cfg.Checkpoint.Interval = runCheckpointInterval
	}
	if f.Changed("output") {
		cfg.Output = runOutput
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// buildOptions maps the CLI configuration onto sampler options.
func buildOptions(cfg RunConfig, store checkpoint.Store, logger *logging.Logger, metrics *telemetry.Metrics) sampler.Options {
	interval := cfg.Checkpoint.Interval
	if store != nil && interval == 0 {
		interval = 1000
	}
	return sampler.Options{
		MinLivePoints:      cfg.LivePoints,
		MaxLivePoints:      cfg.MaxLivePoints,
		GrowthStep:         cfg.GrowthStep,
		DlogZ:              cfg.DlogZ,
		MinESS:             cfg.MinESS,
		MaxIterations:      cfg.MaxIterations,
		MaxCalls:           cfg.MaxCalls,
		Workers:            cfg.Workers,
		Seed:               cfg.Seed,
		Enlarge:            cfg.Enlarge,
		Store:              store,
		CheckpointInterval: interval,
		Logger:             logger,
		Metrics:            metrics,
	}
}

// openStore builds the configured checkpoint store, or nil when
// checkpointing is disabled.
func openStore(cfg CheckpointConfig, logger *logging.Logger) (checkpoint.Store, error) {
	if cfg.Dir == "" {
		return nil, nil
	}
	switch cfg.Backend {
	case "", "file":
		return checkpoint.NewFileStore(cfg.Dir)
	case "badger":
		return checkpoint.NewBadgerStore(checkpoint.BadgerConfig{
			Path:       cfg.Dir,
			SyncWrites: cfg.Sync,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// startMetrics registers run telemetry and serves /metrics when an
// address is configured. The returned shutdown function is always safe
// to call.
func startMetrics(addr string, logger *logging.Logger) (*telemetry.Metrics, func()) {
	if addr == "" {
		return nil, func() {}
	}
	reg := prometheus.NewRegistry()
	metrics, err := telemetry.New(reg)
	if err != nil {
		logger.Warn("metrics registration failed, telemetry disabled", "error", err)
		return nil, func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return metrics, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// writeResults serializes the run outcome as indented JSON.
func writeResults(r *results.Results, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write results %s: %w", path, err)
	}
	return nil
}
