// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampler

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/reactivens/sampler/checkpoint"
	"github.com/AleutianAI/reactivens/sampler/telemetry"
)

func TestRun_GaussianEvidence(t *testing.T) {
	s, err := New(gaussianProblem(0.1), Options{
		MinLivePoints: 100,
		DlogZ:         0.1,
		Seed:          42,
	})
	require.NoError(t, err)

	r, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "converged", r.Status)
	// Analytic evidence: 1 / prior volume.
	assert.InDelta(t, -math.Log(100), r.LogZ, 0.75)
	assert.Greater(t, r.LogZErr, 0.0)
	assert.Less(t, r.LogZErr, 1.0)
	assert.Greater(t, r.ESS, 10.0)
	assert.NotEmpty(t, r.Samples)
	assert.Equal(t, uint64(len(r.Samples)), r.Iterations+100)
}

func TestRun_VolumeShrinksAndThresholdRises(t *testing.T) {
	s, err := New(gaussianProblem(0.3), Options{
		MinLivePoints: 50,
		DlogZ:         0.2,
		Seed:          11,
	})
	require.NoError(t, err)

	r, err := s.Run(context.Background())
	require.NoError(t, err)

	trace := s.DeadTrace()
	require.NotEmpty(t, trace)
	prevVol := 0.0
	prevLogL := math.Inf(-1)
	for i, d := range trace {
		assert.Less(t, d.LogVolume, prevVol, "volume must shrink at iteration %d", i)
		assert.GreaterOrEqual(t, d.LogL, prevLogL, "threshold must not fall at iteration %d", i)
		prevVol = d.LogVolume
		prevLogL = d.LogL
	}
	assert.Equal(t, uint64(len(trace)), r.Iterations)
}

func TestRun_DeterministicWithFixedSeed(t *testing.T) {
	run := func() *Sampler {
		s, err := New(gaussianProblem(0.2), Options{
			MinLivePoints: 50,
			DlogZ:         0.2,
			Seed:          7,
			Workers:       1,
		})
		require.NoError(t, err)
		return s
	}

	s1 := run()
	r1, err := s1.Run(context.Background())
	require.NoError(t, err)

	s2 := run()
	r2, err := s2.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, r1.LogZ, r2.LogZ)
	assert.Equal(t, r1.Iterations, r2.Iterations)
	assert.Equal(t, r1.Samples, r2.Samples)
}

func TestRun_ReactiveExpansionReachesESSTarget(t *testing.T) {
	// A loose evidence tolerance triggers growth while most of the
	// posterior mass is still ahead, so the target is clearly reachable.
	s, err := New(gaussianProblem(0.5), Options{
		MinLivePoints: 50,
		MaxLivePoints: 1000,
		GrowthStep:    50,
		DlogZ:         1.0,
		MinESS:        300,
		Seed:          29,
	})
	require.NoError(t, err)

	r, err := s.Run(context.Background())
	require.NoError(t, err)

	// Expansion must not displace sampling: the enlarged population keeps
	// accruing posterior weight until the ESS target is met.
	assert.Equal(t, "converged", r.Status)
	assert.GreaterOrEqual(t, r.ESS, 300.0)
	assert.Greater(t, s.live.Len(), 50)
	assert.LessOrEqual(t, s.live.Len(), 1000)
}

func TestRun_ReactiveExpansionAtUnreachableESS(t *testing.T) {
	m, err := telemetry.New(prometheus.NewRegistry())
	require.NoError(t, err)

	s, err := New(gaussianProblem(0.5), Options{
		MinLivePoints: 20,
		MaxLivePoints: 60,
		GrowthStep:    20,
		DlogZ:         0.3,
		MinESS:        1e9, // unreachable, forces growth to the cap
		Seed:          3,
		Metrics:       m,
	})
	require.NoError(t, err)

	r, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "stopped", r.Status)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.ReactiveExpansions), 2.0)
	assert.Equal(t, 60.0, testutil.ToFloat64(m.LivePoints))
	assert.Equal(t, 60, s.live.Len())
	// Sampling continues at the cap until the remaining evidence can no
	// longer move the ESS, well past the handful of expansion iterations.
	assert.Greater(t, r.Iterations, uint64(100))
}

func TestRun_WrappedPosteriorMergesAtWrapPoint(t *testing.T) {
	problem := Problem{
		ParamNames: []string{"phase"},
		Transform: func(u []float64) []float64 {
			out := make([]float64, len(u))
			copy(out, u)
			return out
		},
		// Von Mises style peak straddling the wrap point at 0 == 1.
		LogLikelihood: func(p []float64) float64 {
			return 50 * (math.Cos(2*math.Pi*p[0]) - 1)
		},
		Wrapped: []bool{true},
	}

	s, err := New(problem, Options{
		MinLivePoints: 50,
		DlogZ:         0.1,
		Seed:          19,
	})
	require.NoError(t, err)

	r, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, r.Params, 1)
	p := r.Params[0]
	assert.True(t, p.Wrapped)
	merged := math.Min(p.Mean, 1-p.Mean)
	assert.Less(t, merged, 0.05)
	assert.Less(t, p.Std, 0.1)
}

func TestRun_InfeasibleInitializationFails(t *testing.T) {
	problem := Problem{
		ParamNames: []string{"x"},
		Transform: func(u []float64) []float64 {
			out := make([]float64, len(u))
			copy(out, u)
			return out
		},
		LogLikelihood: func(p []float64) float64 { return math.Inf(-1) },
	}

	s, err := New(problem, Options{
		MinLivePoints:   10,
		MaxInitAttempts: 200,
		Seed:            1,
	})
	require.NoError(t, err)

	r, err := s.Run(context.Background())
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrInitInfeasible)
	assert.Equal(t, StatusFailed, s.Status())
}

func TestRun_SparseFeasiblePriorStillRuns(t *testing.T) {
	// Only 1% of the prior volume is feasible.
	problem := Problem{
		ParamNames: []string{"x"},
		Transform: func(u []float64) []float64 {
			out := make([]float64, len(u))
			copy(out, u)
			return out
		},
		LogLikelihood: func(p []float64) float64 {
			if p[0] > 0.01 {
				return math.Inf(-1)
			}
			d := p[0] - 0.005
			return -1e4 * d * d
		},
	}

	s, err := New(problem, Options{
		MinLivePoints: 10,
		DlogZ:         0.2,
		MaxIterations: 2000,
		Seed:          23,
	})
	require.NoError(t, err)

	r, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Status().IsTerminal())
	assert.False(t, math.IsNaN(r.LogZ))
	assert.False(t, math.IsInf(r.LogZ, 0))
}

func TestRun_CallBudgetStopsRun(t *testing.T) {
	s, err := New(gaussianProblem(0.1), Options{
		MinLivePoints: 50,
		MaxCalls:      500,
		Seed:          5,
	})
	require.NoError(t, err)

	r, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "stopped", r.Status)
	// The budget is checked between iterations, so the overshoot is at
	// most one proposal cycle.
	assert.GreaterOrEqual(t, r.NCalls, uint64(500))
}

func TestRun_IterationBudgetStopsRun(t *testing.T) {
	s, err := New(gaussianProblem(0.1), Options{
		MinLivePoints: 50,
		MaxIterations: 30,
		Seed:          5,
	})
	require.NoError(t, err)

	r, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stopped", r.Status)
	assert.Equal(t, uint64(30), r.Iterations)
}

func TestRun_CancellationYieldsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int64
	sigma := 0.2
	problem := gaussianProblem(sigma)
	base := problem.LogLikelihood
	problem.LogLikelihood = func(p []float64) float64 {
		if calls.Add(1) == 300 {
			cancel()
		}
		return base(p)
	}

	s, err := New(problem, Options{
		MinLivePoints: 50,
		DlogZ:         0.01,
		Seed:          13,
	})
	require.NoError(t, err)

	r, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", r.Status)
	assert.NotEmpty(t, r.Samples)
	assert.Equal(t, StatusStopped, s.Status())
}

func TestRun_CancellationWritesFinalCheckpoint(t *testing.T) {
	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	problem := gaussianProblem(0.2)
	base := problem.LogLikelihood
	problem.LogLikelihood = func(p []float64) float64 {
		if calls.Add(1) == 300 {
			cancel()
		}
		return base(p)
	}

	s, err := New(problem, Options{
		MinLivePoints:      50,
		DlogZ:              0.01,
		Seed:               17,
		Store:              store,
		CheckpointInterval: 10,
	})
	require.NoError(t, err)

	r, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, "stopped", r.Status)

	// The final save must survive the cancelled run context.
	snap, err := store.Load(context.Background(), s.RunID())
	require.NoError(t, err)
	assert.Equal(t, "stopped", snap.State.Status)
	assert.Equal(t, s.Iteration(), snap.State.Iteration)
}

func TestRun_TerminalSamplerRefusesSecondRun(t *testing.T) {
	s, err := New(gaussianProblem(0.3), Options{
		MinLivePoints: 50,
		MaxIterations: 20,
		Seed:          2,
	})
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunFinished)
}

func TestRun_ParallelWorkersProduceValidEvidence(t *testing.T) {
	s, err := New(gaussianProblem(0.1), Options{
		MinLivePoints: 100,
		DlogZ:         0.1,
		Seed:          42,
		Workers:       4,
	})
	require.NoError(t, err)

	r, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "converged", r.Status)
	assert.InDelta(t, -math.Log(100), r.LogZ, 0.75)
}
