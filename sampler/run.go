// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/reactivens/sampler/points"
	"github.com/AleutianAI/reactivens/sampler/region"
	"github.com/AleutianAI/reactivens/sampler/results"
)

// essStallTol is the remaining-evidence floor for runs pinned at the
// live-point cap with the ESS target still unmet. Below it, future dead
// points carry a negligible fraction of the posterior weight and cannot
// move the effective sample size, so the target is unreachable.
const essStallTol = 1e-3

// Run executes the sampling state machine to a terminal state.
//
// The loop removes the worst live point each iteration, credits it with
// its prior-volume shard, and replaces it with a proposal above its
// likelihood. Convergence requires the evidence criterion (estimated
// remaining evidence below DlogZ) and, when MinESS is set, a sufficient
// posterior effective sample size; an evidence-converged run short on ESS
// grows the live set reactively and keeps sampling.
//
// Cancellation is honored between iterations: a cancelled context stops
// the run gracefully with Status Stopped and valid partial results.
//
// Inputs:
//   - ctx: Cancellation context. Checked between iterations, never
//     mid-evaluation.
//
// Outputs:
//   - *results.Results: The run outcome for Converged and Stopped runs.
//   - error: ErrInitInfeasible or ErrExplorationStuck (wrapped) for
//     Failed runs, ErrRunFinished if called on a terminal sampler.
func (s *Sampler) Run(ctx context.Context) (*results.Results, error) {
	if s.status.IsTerminal() {
		return nil, ErrRunFinished
	}

	s.logger.Info("run starting",
		"run_id", s.runID,
		"dim", s.sp.Dim(),
		"min_live_points", s.opts.MinLivePoints,
		"dlogz", s.opts.DlogZ,
		"min_ess", s.opts.MinESS,
		"workers", s.opts.Workers)

	if s.status == StatusInitializing {
		if err := s.initialize(ctx); err != nil {
			return nil, err
		}
		s.status = StatusSampling
	}

	for {
		if ctx.Err() != nil {
			s.logger.Info("cancellation requested, stopping run",
				"run_id", s.runID, "iteration", s.iteration)
			s.status = StatusStopped
			break
		}
		if reason := s.budgetExhausted(); reason != "" {
			s.logger.Info("budget exhausted, stopping run",
				"run_id", s.runID, "reason", reason, "iteration", s.iteration)
			s.status = StatusStopped
			break
		}

		if s.iteration > 0 {
			delta, ess := s.progress()
			evidenceOK := delta < s.opts.DlogZ
			essOK := s.opts.MinESS <= 0 || ess >= s.opts.MinESS

			if evidenceOK && essOK {
				s.logger.Info("converged",
					"run_id", s.runID, "iteration", s.iteration,
					"logz", s.logZ, "dlogz_remaining", delta, "ess", ess)
				s.status = StatusConverged
				break
			}
			if evidenceOK && !essOK {
				if s.live.Len() < s.opts.MaxLivePoints {
					if err := s.expand(ctx); err != nil {
						return s.handleLoopError(err)
					}
				} else if delta < essStallTol {
					s.logger.Warn("effective sample size target unreachable at live-point cap",
						"ess", ess, "min_ess", s.opts.MinESS,
						"live", s.live.Len(), "dlogz_remaining", delta)
					s.status = StatusStopped
					break
				}
				// Fall through: the enlarged population keeps sampling,
				// shrinking the volume and accruing posterior weight, so
				// the ESS keeps rising toward the target.
			}
		}

		if err := s.step(ctx); err != nil {
			return s.handleLoopError(err)
		}

		s.observe()

		if s.opts.Store != nil && s.opts.CheckpointInterval > 0 &&
			s.iteration%s.opts.CheckpointInterval == 0 {
			if err := s.Checkpoint(ctx); err != nil {
				s.logger.Warn("checkpoint save failed, continuing",
					"run_id", s.runID, "error", err)
			}
		}
	}

	return s.finalize()
}

// handleLoopError classifies an iteration error: cancellation stops the
// run gracefully, anything else fails it.
func (s *Sampler) handleLoopError(err error) (*results.Results, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.status = StatusStopped
		return s.finalize()
	}
	s.status = StatusFailed
	s.logger.Error("run failed", "run_id", s.runID, "iteration", s.iteration, "error", err)
	return nil, err
}

// initialize draws the starting live population uniformly from the prior,
// skipping infeasible points up to the configured attempt budget.
func (s *Sampler) initialize(ctx context.Context) error {
	target := s.opts.MinLivePoints
	attempts := 0

	batchSize := s.opts.Workers
	dim := s.sp.Dim()

	for s.live.Len() < target {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempts >= s.opts.MaxInitAttempts {
			s.status = StatusFailed
			err := fmt.Errorf("%w: %d feasible of %d needed after %d prior draws",
				ErrInitInfeasible, s.live.Len(), target, attempts)
			s.logger.Error("initialization failed", "run_id", s.runID, "error", err)
			return err
		}

		n := batchSize
		if rem := s.opts.MaxInitAttempts - attempts; n > rem {
			n = rem
		}
		if need := target - s.live.Len(); n > need && s.opts.Workers == 1 {
			n = need
		}
		batch := make([][]float64, n)
		for i := range batch {
			u := make([]float64, dim)
			for j := range u {
				u[j] = s.rng.Float64()
			}
			batch[i] = u
		}
		attempts += n

		pts, oks, err := s.eval.EvaluateBatch(ctx, batch)
		if err != nil {
			return err
		}
		for i, pt := range pts {
			if oks[i] && s.live.Len() < target {
				s.live.Insert(pt)
			}
		}
	}

	s.logger.Info("initialization complete",
		"run_id", s.runID, "live", s.live.Len(), "prior_draws", attempts)
	return nil
}

// step performs one shrink-and-replace iteration.
func (s *Sampler) step(ctx context.Context) error {
	// Rebuild from the full live set each iteration so the region is a
	// pure function of checkpointable state.
	s.prop.Rebuild(s.live.Units())

	nlive := float64(s.live.Len())
	worst, ok := s.live.PopWorst()
	if !ok {
		return fmt.Errorf("live set empty at iteration %d", s.iteration)
	}

	// Volume shrinks by E[ln t] = -1/N; the removed point is credited
	// with the shell between the old and new volumes.
	logVolNew := s.logVol - 1/nlive
	logWidth := s.logVol + log1mExp(1/nlive)
	logWt := logWidth + worst.LogL

	logZNew := logAddExp(s.logZ, logWt)
	infoNew := math.Exp(logWt-logZNew)*worst.LogL +
		math.Exp(s.logZ-logZNew)*(s.info+s.logZ) - logZNew
	if math.IsNaN(infoNew) {
		infoNew = s.info
	}
	s.logZVar += (infoNew - s.info) / nlive

	s.logZ = logZNew
	s.info = infoNew
	s.logVol = logVolNew
	s.logSumWt = logAddExp(s.logSumWt, logWt)
	s.logSumWt2 = logAddExp(s.logSumWt2, 2*logWt)
	s.lastLogLStar = worst.LogL

	s.dead = append(s.dead, points.DeadPoint{
		LivePoint: worst,
		LogVolume: logVolNew,
		NLive:     int(nlive),
	})
	s.iteration++

	pt, err := s.propose(ctx, worst.LogL)
	if err != nil {
		return err
	}
	s.live.Insert(pt)
	return nil
}

// propose draws a replacement above the threshold, recovering from stuck
// proposals by widening the region. Consecutive stuck proposals at the
// widening cap fail the run.
func (s *Sampler) propose(ctx context.Context, logThreshold float64) (points.LivePoint, error) {
	for {
		pt, _, err := s.prop.Propose(ctx, s.rng, s.eval, logThreshold)
		if err == nil {
			s.prop.ResetWiden()
			s.stuckStreak = 0
			return pt, nil
		}
		if !errors.Is(err, region.ErrStuck) {
			return points.LivePoint{}, err
		}

		if s.prop.Widen() {
			s.prop.Rebuild(s.live.Units())
			continue
		}
		s.stuckStreak++
		if s.stuckStreak >= s.opts.MaxStuck {
			return points.LivePoint{}, fmt.Errorf(
				"%w: %d consecutive stuck proposals at threshold %v",
				ErrExplorationStuck, s.stuckStreak, logThreshold)
		}
		s.prop.Rebuild(s.live.Units())
	}
}

// expand grows the live set reactively: new points above the current
// threshold slow the volume shrinkage, raising posterior resolution and
// with it the effective sample size.
func (s *Sampler) expand(ctx context.Context) error {
	s.status = StatusReactiveExpand

	grow := s.opts.GrowthStep
	if room := s.opts.MaxLivePoints - s.live.Len(); grow > room {
		grow = room
	}
	s.logger.Info("reactive expansion",
		"run_id", s.runID, "live", s.live.Len(), "adding", grow,
		"threshold", s.lastLogLStar)

	s.prop.Rebuild(s.live.Units())
	for i := 0; i < grow; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pt, err := s.propose(ctx, s.lastLogLStar)
		if err != nil {
			return err
		}
		s.live.Insert(pt)
	}

	if s.metrics != nil {
		s.metrics.ReactiveExpansions.Inc()
		s.metrics.LivePoints.Set(float64(s.live.Len()))
	}
	s.status = StatusSampling
	return nil
}

// budgetExhausted returns a non-empty reason when an iteration or call
// budget is spent.
func (s *Sampler) budgetExhausted() string {
	if s.opts.MaxIterations > 0 && s.iteration >= s.opts.MaxIterations {
		return "max iterations"
	}
	if s.opts.MaxCalls > 0 && s.eval.Calls() >= s.opts.MaxCalls {
		return "max likelihood calls"
	}
	return ""
}

// progress returns the estimated remaining log-evidence contribution and
// the running effective sample size.
func (s *Sampler) progress() (delta, ess float64) {
	logZRemain := s.live.MeanLogL() + s.logVol
	delta = logAddExp(s.logZ, logZRemain) - s.logZ
	ess = math.Exp(2*s.logSumWt - s.logSumWt2)
	return delta, ess
}

// observe emits telemetry and periodic progress logs.
func (s *Sampler) observe() {
	if s.metrics != nil {
		s.metrics.Iterations.Inc()
		s.metrics.LivePoints.Set(float64(s.live.Len()))
		s.metrics.LogEvidence.Set(s.logZ)
	}
	if s.iteration%s.opts.LogInterval == 0 {
		delta, ess := s.progress()
		s.logger.Info("sampling progress",
			"run_id", s.runID,
			"iteration", s.iteration,
			"live", s.live.Len(),
			"logz", s.logZ,
			"dlogz_remaining", delta,
			"ess", ess,
			"calls", s.eval.Calls())
	}
}

// finalize builds the results snapshot and writes a final checkpoint.
// The checkpoint uses a background context: the run context is often
// already cancelled on the stop paths, and the final state must still be
// persisted for resume.
func (s *Sampler) finalize() (*results.Results, error) {
	if s.opts.Store != nil && s.opts.CheckpointInterval > 0 {
		if err := s.Checkpoint(context.Background()); err != nil {
			s.logger.Warn("final checkpoint save failed",
				"run_id", s.runID, "error", err)
		}
	}

	r, err := results.Summarize(results.Config{
		RunID:           s.runID,
		Status:          s.status.String(),
		Space:           s.sp,
		Dead:            s.dead,
		Live:            s.live.Points(),
		LogVolRemaining: s.logVol,
		Information:     s.info,
		LogZVar:         s.logZVar,
		NCalls:          s.eval.Calls(),
		Iterations:      s.iteration,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize run: %w", err)
	}

	s.logger.Info("run finished",
		"run_id", s.runID,
		"status", s.status.String(),
		"iterations", s.iteration,
		"calls", s.eval.Calls(),
		"logz", r.LogZ,
		"logz_err", r.LogZErr,
		"ess", r.ESS)
	return r, nil
}

// logAddExp computes log(exp(a) + exp(b)) stably.
func logAddExp(a, b float64) float64 {
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	if b > a {
		return b + math.Log1p(math.Exp(a-b))
	}
	return a + math.Ln2
}

// log1mExp computes log(1 - exp(-x)) for x > 0 without cancellation.
func log1mExp(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	if x < math.Ln2 {
		return math.Log(-math.Expm1(-x))
	}
	return math.Log1p(-math.Exp(-x))
}
