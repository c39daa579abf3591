// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/reactivens/sampler/checkpoint"
)

func TestResume_ReproducesInterruptedTrajectory(t *testing.T) {
	problem := gaussianProblem(0.2)
	base := Options{
		MinLivePoints: 50,
		DlogZ:         0.2,
		Seed:          71,
		Workers:       1,
	}

	// Reference: one uninterrupted run bounded only by iterations.
	full := base
	full.MaxIterations = 300
	sFull, err := New(problem, full)
	require.NoError(t, err)
	rFull, err := sFull.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(300), rFull.Iterations)

	// Interrupted: same seed, stopped halfway, checkpointed, resumed.
	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	half := base
	half.MaxIterations = 150
	half.Store = store
	sHalf, err := New(problem, half)
	require.NoError(t, err)
	_, err = sHalf.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sHalf.Checkpoint(ctx))

	snap, err := store.Load(ctx, sHalf.RunID())
	require.NoError(t, err)

	resumed := base
	resumed.MaxIterations = 300
	sResumed, err := Resume(problem, resumed, snap)
	require.NoError(t, err)
	assert.Equal(t, sHalf.RunID(), sResumed.RunID())
	assert.Equal(t, uint64(150), sResumed.Iteration())

	rResumed, err := sResumed.Run(ctx)
	require.NoError(t, err)

	// The resumed run must retrace the reference run exactly.
	assert.Equal(t, rFull.Iterations, rResumed.Iterations)
	assert.Equal(t, rFull.LogZ, rResumed.LogZ)
	assert.Equal(t, rFull.LogZErr, rResumed.LogZErr)
	assert.Equal(t, rFull.Samples, rResumed.Samples)
	assert.Equal(t, rFull.NCalls, rResumed.NCalls)
}

func TestResume_SnapshotValidation(t *testing.T) {
	problem := gaussianProblem(0.2)
	opts := Options{MinLivePoints: 50, Seed: 9}

	t.Run("nil snapshot", func(t *testing.T) {
		_, err := Resume(problem, opts, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("tampered snapshot", func(t *testing.T) {
		s, err := New(problem, Options{MinLivePoints: 50, MaxIterations: 10, Seed: 9})
		require.NoError(t, err)
		_, err = s.Run(context.Background())
		require.NoError(t, err)

		snap, err := s.snapshot()
		require.NoError(t, err)
		snap.State.Iteration++
		_, err = Resume(problem, opts, snap)
		assert.ErrorIs(t, err, checkpoint.ErrChecksumMismatch)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		s, err := New(problem, Options{MinLivePoints: 50, MaxIterations: 10, Seed: 9})
		require.NoError(t, err)
		_, err = s.Run(context.Background())
		require.NoError(t, err)

		snap, err := s.snapshot()
		require.NoError(t, err)

		oneD := Problem{
			ParamNames:    []string{"x"},
			Transform:     problem.Transform,
			LogLikelihood: problem.LogLikelihood,
		}
		_, err = Resume(oneD, opts, snap)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoadAndResume_FromStore(t *testing.T) {
	problem := gaussianProblem(0.2)
	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	opts := Options{
		MinLivePoints:      50,
		MaxIterations:      40,
		CheckpointInterval: 10,
		Store:              store,
		Seed:               31,
	}
	s, err := New(problem, opts)
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	resumedOpts := opts
	resumedOpts.MaxIterations = 80
	s2, err := LoadAndResume(ctx, problem, resumedOpts, s.RunID())
	require.NoError(t, err)
	assert.Equal(t, s.RunID(), s2.RunID())
	assert.Equal(t, StatusSampling, s2.Status())

	r, err := s2.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(80), r.Iterations)

	_, err = LoadAndResume(ctx, problem, resumedOpts, "missing-run")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}
