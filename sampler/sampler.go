// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sampler implements reactive nested sampling: Bayesian evidence
// estimation with posterior samples as a by-product.
//
// A population of live points is drawn from the prior; the worst point is
// repeatedly removed, credited with its prior-volume shard, and replaced
// by a new point above its likelihood, shrinking the enclosed volume
// geometrically. When the evidence estimate has converged but the
// posterior effective sample size falls short of the target, the live set
// grows reactively and sampling continues at a finer volume resolution.
//
// The sampler owns all run state. Only likelihood evaluations run
// concurrently; every state mutation happens on the Run goroutine, and
// cancellation is honored between iterations so the state is always
// consistent and checkpointable.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/AleutianAI/reactivens/sampler/checkpoint"
	"github.com/AleutianAI/reactivens/sampler/likelihood"
	"github.com/AleutianAI/reactivens/sampler/points"
	"github.com/AleutianAI/reactivens/sampler/region"
	"github.com/AleutianAI/reactivens/sampler/space"
	"github.com/AleutianAI/reactivens/sampler/telemetry"
)

// logZero stands in for log(0) in the evidence accumulators. Using a very
// negative finite value instead of -Inf keeps the information update free
// of 0 * Inf indeterminate forms.
const logZero = -1e300

// Sampler is a reactive nested sampling run.
//
// Thread Safety: Not safe for concurrent use. Run drives the whole state
// machine from its calling goroutine; only likelihood evaluations fan out
// to workers.
type Sampler struct {
	opts Options
	sp   *space.Space
	eval *likelihood.Evaluator
	prop *region.Proposer

	pcg *rand.PCG
	rng *rand.Rand

	logger  *slog.Logger
	metrics *telemetry.Metrics

	runID  string
	status Status
	live   *points.LiveSet
	dead   []points.DeadPoint

	iteration uint64

	// Integration accumulators, all in log space except info and logZVar.
	logVol       float64
	logZ         float64
	logZVar      float64
	info         float64
	logSumWt     float64
	logSumWt2    float64
	lastLogLStar float64

	stuckStreak int
}

// New creates a sampler for the problem.
//
// Inputs:
//   - problem: Parameter space and likelihood. All of ParamNames,
//     Transform, and LogLikelihood are required.
//   - opts: Run configuration. Zero values use defaults.
//
// Outputs:
//   - *Sampler: A sampler in the Initializing state.
//   - error: ErrInvalidConfig (wrapped) when the problem or options are
//     unusable.
func New(problem Problem, opts Options) (*Sampler, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if problem.LogLikelihood == nil {
		return nil, fmt.Errorf("%w: log-likelihood is required", ErrInvalidConfig)
	}
	sp, err := space.New(problem.ParamNames, problem.Transform, problem.Wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if opts.MinLivePoints < sp.Dim()+1 {
		return nil, fmt.Errorf("%w: MinLivePoints %d below D+1 = %d",
			ErrInvalidConfig, opts.MinLivePoints, sp.Dim()+1)
	}

	logger := opts.Logger.Slog().With(slog.String("component", "sampler"))

	eval, err := likelihood.NewEvaluator(likelihood.Config{
		Space:     sp,
		LogLike:   problem.LogLikelihood,
		Workers:   opts.Workers,
		CacheSize: opts.CacheSize,
		Logger:    logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	prop, err := region.NewProposer(region.Config{
		Enlarge:     opts.Enlarge,
		MaxAttempts: opts.MaxProposalAttempts,
		MaxWiden:    opts.MaxWiden,
		Logger:      logger,
		Metrics:     opts.Metrics,
	}, sp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	pcg := rand.NewPCG(seed, 0)

	return &Sampler{
		opts:    opts,
		sp:      sp,
		eval:    eval,
		prop:    prop,
		pcg:     pcg,
		rng:     rand.New(pcg),
		logger:  logger,
		metrics: opts.Metrics,

		runID:  uuid.NewString(),
		status: StatusInitializing,
		live:   points.NewLiveSet(opts.MaxLivePoints),

		logVol:       0,
		logZ:         logZero,
		logSumWt:     logZero,
		logSumWt2:    logZero,
		lastLogLStar: math.Inf(-1),
	}, nil
}

// RunID returns the unique identifier of this run.
func (s *Sampler) RunID() string { return s.runID }

// Status returns the current lifecycle state.
func (s *Sampler) Status() Status { return s.status }

// Iteration returns the number of dead-point removals so far.
func (s *Sampler) Iteration() uint64 { return s.iteration }

// Calls returns the number of likelihood evaluations so far.
func (s *Sampler) Calls() uint64 { return s.eval.Calls() }

// DeadTrace returns a copy of the dead-point sequence in removal order,
// for trace and diagnostic consumers.
func (s *Sampler) DeadTrace() []points.DeadPoint {
	out := make([]points.DeadPoint, len(s.dead))
	for i, d := range s.dead {
		out[i] = points.DeadPoint{
			LivePoint: d.LivePoint.Clone(),
			LogVolume: d.LogVolume,
			NLive:     d.NLive,
		}
	}
	return out
}

// snapshot captures the full run state for checkpointing.
func (s *Sampler) snapshot() (*checkpoint.Snapshot, error) {
	rngState, err := s.pcg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize rng: %w", err)
	}
	state := checkpoint.State{
		RunID:     s.runID,
		Status:    s.status.String(),
		Iteration: s.iteration,
		NCalls:    s.eval.Calls(),

		LogVolume:    checkpoint.F64(s.logVol),
		LogZ:         checkpoint.F64(s.logZ),
		LogZVar:      checkpoint.F64(s.logZVar),
		Information:  checkpoint.F64(s.info),
		LogSumWt:     checkpoint.F64(s.logSumWt),
		LogSumWt2:    checkpoint.F64(s.logSumWt2),
		LastLogLStar: checkpoint.F64(s.lastLogLStar),

		Dead: s.dead,
		Live: s.live.Points(),
		RNG:  rngState,
	}
	return checkpoint.NewSnapshot(state)
}

// Checkpoint saves the current run state to the configured store.
//
// Safe to call between Run invocations or after Run returns; never call
// it concurrently with a running Run.
func (s *Sampler) Checkpoint(ctx context.Context) error {
	if s.opts.Store == nil {
		return fmt.Errorf("no checkpoint store configured")
	}
	snap, err := s.snapshot()
	if err != nil {
		return err
	}
	if err := s.opts.Store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.logger.Debug("checkpoint saved",
		"run_id", s.runID, "iteration", s.iteration)
	return nil
}
