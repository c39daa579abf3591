// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package region

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/reactivens/sampler/likelihood"
	"github.com/AleutianAI/reactivens/sampler/space"
)

func identity2D(t *testing.T, wrapped []bool) *space.Space {
	t.Helper()
	s, err := space.New([]string{"x", "y"}, func(u []float64) []float64 {
		out := make([]float64, len(u))
		copy(out, u)
		return out
	}, wrapped)
	require.NoError(t, err)
	return s
}

func clusterUnits(rng *rand.Rand, n int, cx, cy, scale float64) [][]float64 {
	units := make([][]float64, n)
	for i := range units {
		units[i] = []float64{
			cx + scale*rng.NormFloat64(),
			cy + scale*rng.NormFloat64(),
		}
	}
	return units
}

func TestBuildEllipsoid_ContainsAllLivePoints(t *testing.T) {
	sp := identity2D(t, nil)
	rng := rand.New(rand.NewPCG(7, 0))
	units := clusterUnits(rng, 50, 0.5, 0.5, 0.05)

	ell, err := buildEllipsoid(sp, units, 1.1)
	require.NoError(t, err)

	for _, u := range units {
		assert.True(t, ell.contains(sp, u))
	}
}

func TestBuildEllipsoid_TooFewPoints(t *testing.T) {
	sp := identity2D(t, nil)
	units := [][]float64{{0.1, 0.2}, {0.3, 0.4}}

	_, err := buildEllipsoid(sp, units, 1.1)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestBuildEllipsoid_CollinearPoints(t *testing.T) {
	sp := identity2D(t, nil)
	units := make([][]float64, 10)
	for i := range units {
		v := 0.1 + 0.05*float64(i)
		units[i] = []float64{v, v} // exactly on the diagonal
	}

	_, err := buildEllipsoid(sp, units, 1.1)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestBuildEllipsoid_WrappedClusterStaysCompact(t *testing.T) {
	sp := identity2D(t, []bool{true, false})
	rng := rand.New(rand.NewPCG(11, 0))

	// Cluster straddling the wrap point on x.
	units := make([][]float64, 60)
	for i := range units {
		x := space.WrapUnit(0.02 * rng.NormFloat64())
		units[i] = []float64{x, 0.5 + 0.02*rng.NormFloat64()}
	}

	ell, err := buildEllipsoid(sp, units, 1.1)
	require.NoError(t, err)

	// The circular mean sits at the wrap point, not at 0.5.
	d := space.CircDelta(ell.mean[0], 0.0)
	assert.Less(t, math.Abs(d), 0.1)

	for _, u := range units {
		assert.True(t, ell.contains(sp, u))
	}
}

func TestEllipsoid_SamplesInsideRegion(t *testing.T) {
	sp := identity2D(t, nil)
	rng := rand.New(rand.NewPCG(3, 0))
	units := clusterUnits(rng, 50, 0.5, 0.5, 0.05)

	ell, err := buildEllipsoid(sp, units, 1.1)
	require.NoError(t, err)

	dst := make([]float64, 2)
	for i := 0; i < 500; i++ {
		ell.sample(rng, dst)
		assert.True(t, ell.contains(sp, dst))
	}
}

func newTestEvaluator(t *testing.T, sp *space.Space, fn likelihood.Func, workers int) *likelihood.Evaluator {
	t.Helper()
	e, err := likelihood.NewEvaluator(likelihood.Config{
		Space:   sp,
		LogLike: fn,
		Workers: workers,
	})
	require.NoError(t, err)
	return e
}

func TestPropose_ExceedsThreshold(t *testing.T) {
	sp := identity2D(t, nil)
	// Peak at the center of the cube.
	eval := newTestEvaluator(t, sp, func(p []float64) float64 {
		dx, dy := p[0]-0.5, p[1]-0.5
		return -(dx*dx + dy*dy) / (2 * 0.01)
	}, 1)

	prop, err := NewProposer(Config{}, sp)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(42, 0))
	prop.Rebuild(clusterUnits(rng, 40, 0.5, 0.5, 0.08))
	require.False(t, prop.UsingFallback())

	threshold := -1.0
	pt, attempts, err := prop.Propose(context.Background(), rng, eval, threshold)
	require.NoError(t, err)
	assert.Greater(t, pt.LogL, threshold)
	assert.Greater(t, attempts, 0)
}

func TestPropose_StuckOnImpossibleThreshold(t *testing.T) {
	sp := identity2D(t, nil)
	eval := newTestEvaluator(t, sp, func(p []float64) float64 { return 0 }, 1)

	prop, err := NewProposer(Config{MaxAttempts: 50}, sp)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 0))
	_, attempts, err := prop.Propose(context.Background(), rng, eval, 10) // unreachable
	assert.ErrorIs(t, err, ErrStuck)
	assert.Equal(t, 50, attempts)
}

func TestPropose_FallbackCubeBeforeFirstRebuild(t *testing.T) {
	sp := identity2D(t, nil)
	eval := newTestEvaluator(t, sp, func(p []float64) float64 { return -p[0] }, 1)

	prop, err := NewProposer(Config{}, sp)
	require.NoError(t, err)
	assert.True(t, prop.UsingFallback())

	rng := rand.New(rand.NewPCG(5, 0))
	pt, _, err := prop.Propose(context.Background(), rng, eval, -0.9)
	require.NoError(t, err)
	assert.Greater(t, pt.LogL, -0.9)
	for _, v := range pt.Unit {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestRebuild_DegenerateFallsBack(t *testing.T) {
	sp := identity2D(t, nil)
	prop, err := NewProposer(Config{}, sp)
	require.NoError(t, err)

	prop.Rebuild([][]float64{{0.5, 0.5}})
	assert.True(t, prop.UsingFallback())
	assert.Equal(t, uint64(1), prop.Rebuilds())
}

func TestWiden_CapsAtMax(t *testing.T) {
	sp := identity2D(t, nil)
	prop, err := NewProposer(Config{MaxWiden: 4}, sp)
	require.NoError(t, err)

	assert.True(t, prop.Widen())  // 2
	assert.True(t, prop.Widen())  // 4
	assert.False(t, prop.Widen()) // capped
	prop.ResetWiden()
	assert.True(t, prop.Widen())
}

func TestPropose_DeterministicWithFixedSeed(t *testing.T) {
	sp := identity2D(t, nil)
	fn := func(p []float64) float64 {
		dx, dy := p[0]-0.5, p[1]-0.5
		return -(dx*dx + dy*dy)
	}

	run := func() []float64 {
		eval := newTestEvaluator(t, sp, fn, 1)
		prop, err := NewProposer(Config{}, sp)
		require.NoError(t, err)
		rng := rand.New(rand.NewPCG(99, 0))
		prop.Rebuild(clusterUnits(rng, 30, 0.5, 0.5, 0.1))
		pt, _, err := prop.Propose(context.Background(), rng, eval, -0.2)
		require.NoError(t, err)
		return pt.Unit
	}

	assert.Equal(t, run(), run())
}

func TestPropose_CancelledContext(t *testing.T) {
	sp := identity2D(t, nil)
	eval := newTestEvaluator(t, sp, func(p []float64) float64 { return 0 }, 1)
	prop, err := NewProposer(Config{}, sp)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rng := rand.New(rand.NewPCG(1, 0))
	_, _, err = prop.Propose(ctx, rng, eval, -1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig_Validate(t *testing.T) {
	c := Config{Enlarge: 0.5}
	c.ApplyDefaults()
	// ApplyDefaults leaves non-zero values alone; 0.5 is invalid.
	assert.Error(t, c.Validate())

	c = Config{}
	c.ApplyDefaults()
	assert.NoError(t, c.Validate())
}
