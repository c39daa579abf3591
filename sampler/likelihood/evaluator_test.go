// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package likelihood

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/reactivens/sampler/space"
)

func testSpace(t *testing.T) *space.Space {
	t.Helper()
	s, err := space.New([]string{"x", "y"}, func(u []float64) []float64 {
		out := make([]float64, len(u))
		copy(out, u)
		return out
	}, nil)
	require.NoError(t, err)
	return s
}

func TestNewEvaluator_Validation(t *testing.T) {
	_, err := NewEvaluator(Config{})
	assert.Error(t, err)

	_, err = NewEvaluator(Config{Space: testSpace(t)})
	assert.Error(t, err)

	e, err := NewEvaluator(Config{
		Space:   testSpace(t),
		LogLike: func(p []float64) float64 { return 0 },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Workers())
}

func TestEvaluate_CountsCalls(t *testing.T) {
	e, err := NewEvaluator(Config{
		Space:   testSpace(t),
		LogLike: func(p []float64) float64 { return -p[0] },
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, ok := e.Evaluate([]float64{0.1 * float64(i+1), 0.5})
		assert.True(t, ok)
	}
	assert.Equal(t, uint64(5), e.Calls())
}

func TestEvaluate_NonFiniteMappedToInfeasible(t *testing.T) {
	tests := []struct {
		name string
		val  float64
	}{
		{"nan", math.NaN()},
		{"pos_inf", math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEvaluator(Config{
				Space:   testSpace(t),
				LogLike: func(p []float64) float64 { return tt.val },
			})
			require.NoError(t, err)

			p, ok := e.Evaluate([]float64{0.5, 0.5})
			assert.False(t, ok)
			assert.True(t, math.IsInf(p.LogL, -1))
		})
	}
}

func TestEvaluate_NegInfIsLegalInfeasible(t *testing.T) {
	e, err := NewEvaluator(Config{
		Space:   testSpace(t),
		LogLike: func(p []float64) float64 { return math.Inf(-1) },
	})
	require.NoError(t, err)

	p, ok := e.Evaluate([]float64{0.5, 0.5})
	assert.False(t, ok)
	assert.True(t, math.IsInf(p.LogL, -1))
	assert.Equal(t, uint64(1), e.Calls())
}

func TestEvaluate_PanicRecovered(t *testing.T) {
	e, err := NewEvaluator(Config{
		Space:   testSpace(t),
		LogLike: func(p []float64) float64 { panic("pathological parameters") },
	})
	require.NoError(t, err)

	p, ok := e.Evaluate([]float64{0.5, 0.5})
	assert.False(t, ok)
	assert.True(t, math.IsInf(p.LogL, -1))
}

func TestEvaluate_TransformFailureSkipsLikelihood(t *testing.T) {
	s, err := space.New([]string{"x"}, func(u []float64) []float64 {
		return []float64{math.NaN()}
	}, nil)
	require.NoError(t, err)

	var invoked atomic.Bool
	e, err := NewEvaluator(Config{
		Space: s,
		LogLike: func(p []float64) float64 {
			invoked.Store(true)
			return 0
		},
	})
	require.NoError(t, err)

	_, ok := e.Evaluate([]float64{0.5})
	assert.False(t, ok)
	assert.False(t, invoked.Load())
	assert.Equal(t, uint64(0), e.Calls())
}

func TestEvaluate_CacheAvoidsRepeatCalls(t *testing.T) {
	var calls atomic.Int64
	e, err := NewEvaluator(Config{
		Space: testSpace(t),
		LogLike: func(p []float64) float64 {
			calls.Add(1)
			return -p[0] * p[0]
		},
		CacheSize: 16,
	})
	require.NoError(t, err)

	u := []float64{0.25, 0.75}
	p1, ok := e.Evaluate(u)
	require.True(t, ok)
	p2, ok := e.Evaluate(u)
	require.True(t, ok)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, p1.LogL, p2.LogL)
	assert.Equal(t, p1.Phys, p2.Phys)
}

func TestEvaluateBatch_InputOrder(t *testing.T) {
	e, err := NewEvaluator(Config{
		Space:   testSpace(t),
		LogLike: func(p []float64) float64 { return p[0] },
		Workers: 4,
	})
	require.NoError(t, err)

	units := [][]float64{
		{0.1, 0.0}, {0.2, 0.0}, {0.3, 0.0}, {0.4, 0.0},
	}
	pts, oks, err := e.EvaluateBatch(context.Background(), units)
	require.NoError(t, err)
	require.Len(t, pts, 4)

	for i, p := range pts {
		assert.True(t, oks[i])
		assert.InDelta(t, units[i][0], p.LogL, 1e-12)
	}
	assert.Equal(t, uint64(4), e.Calls())
}

func TestEvaluateBatch_CancelledContext(t *testing.T) {
	e, err := NewEvaluator(Config{
		Space:   testSpace(t),
		LogLike: func(p []float64) float64 { return 0 },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = e.EvaluateBatch(ctx, [][]float64{{0.5, 0.5}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetCalls_SeedsCounter(t *testing.T) {
	e, err := NewEvaluator(Config{
		Space:   testSpace(t),
		LogLike: func(p []float64) float64 { return 0 },
	})
	require.NoError(t, err)

	e.SetCalls(1000)
	e.Evaluate([]float64{0.5, 0.5})
	assert.Equal(t, uint64(1001), e.Calls())
}
