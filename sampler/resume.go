// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampler

import (
	"context"
	"fmt"

	"github.com/AleutianAI/reactivens/sampler/checkpoint"
)

// Resume rebuilds a sampler from a verified snapshot.
//
// The problem must be the same one the snapshot was taken from: the
// transform and likelihood are not serialized, only the run state. With
// Workers=1 a resumed run reproduces the exact remaining trajectory of
// the interrupted one, because the RNG stream, the live set (including
// tie-break ordering), and all accumulators are restored bit-for-bit and
// the proposal region is rebuilt from the live set every iteration.
//
// A snapshot in a terminal Stopped state resumes into Sampling, so a
// budget-stopped run can be continued with larger budgets. Failed
// snapshots are not resumable.
//
// Inputs:
//   - problem: The original problem definition.
//   - opts: Run configuration for the continued run. Budgets may differ
//     from the original run; geometry options should not.
//   - snap: A snapshot from Checkpoint or a Store. Verified again here.
//
// Outputs:
//   - *Sampler: A sampler ready to continue from the snapshot.
//   - error: Verification, configuration, or state-restore failure.
func Resume(problem Problem, opts Options, snap *checkpoint.Snapshot) (*Sampler, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidConfig)
	}
	if err := snap.Verify(); err != nil {
		return nil, err
	}

	s, err := New(problem, opts)
	if err != nil {
		return nil, err
	}

	st := snap.State
	status, err := ParseStatus(st.Status)
	if err != nil {
		return nil, fmt.Errorf("restore status: %w", err)
	}
	if status == StatusFailed {
		return nil, fmt.Errorf("%w: snapshot is from a failed run", ErrInvalidConfig)
	}

	for _, lp := range st.Live {
		if len(lp.Unit) != s.sp.Dim() {
			return nil, fmt.Errorf("%w: snapshot dimension %d does not match problem dimension %d",
				ErrInvalidConfig, len(lp.Unit), s.sp.Dim())
		}
	}

	s.runID = st.RunID
	s.iteration = st.Iteration
	s.dead = st.Dead
	s.live.Restore(st.Live)

	s.logVol = float64(st.LogVolume)
	s.logZ = float64(st.LogZ)
	s.logZVar = float64(st.LogZVar)
	s.info = float64(st.Information)
	s.logSumWt = float64(st.LogSumWt)
	s.logSumWt2 = float64(st.LogSumWt2)
	s.lastLogLStar = float64(st.LastLogLStar)

	if err := s.pcg.UnmarshalBinary(st.RNG); err != nil {
		return nil, fmt.Errorf("restore rng state: %w", err)
	}
	s.eval.SetCalls(st.NCalls)

	switch {
	case status == StatusInitializing && s.live.Len() == 0:
		s.status = StatusInitializing
	case status.IsTerminal() || status == StatusReactiveExpand:
		s.status = StatusSampling
	default:
		s.status = status
	}
	if s.live.Len() == 0 && s.status != StatusInitializing {
		return nil, fmt.Errorf("%w: snapshot has no live points", ErrInvalidConfig)
	}

	s.logger.Info("run resumed",
		"run_id", s.runID,
		"iteration", s.iteration,
		"live", s.live.Len(),
		"calls", st.NCalls,
		"logz", s.logZ)
	return s, nil
}

// LoadAndResume fetches the latest snapshot for a run ID from the
// configured store and resumes it.
func LoadAndResume(ctx context.Context, problem Problem, opts Options, runID string) (*Sampler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: no checkpoint store configured", ErrInvalidConfig)
	}
	snap, err := opts.Store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return Resume(problem, opts, snap)
}
