// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package space adapts a caller-supplied prior transform into the unit
// hypercube geometry the sampler works in.
//
// The sampler explores [0,1]^D and maps points into physical parameter
// space through the prior transform. Dimensions declared as wrapped are
// topologically circular in unit coordinates: distances and deviations on
// those axes are computed mod 1, so 0.02 and 0.98 are 0.04 apart, not 0.96.
package space

import (
	"errors"
	"fmt"
	"math"
)

// Transform maps a point in the unit hypercube to physical parameter space.
//
// Implementations must be pure, deterministic, and total on [0,1]^D. The
// output slice must have the same length as the input. A Transform that
// panics or produces non-finite values marks the point infeasible; it is
// never allowed to crash a run.
type Transform func(unit []float64) []float64

// ErrDimensionMismatch is returned when parameter names, wrap mask, and
// transform output disagree on dimensionality.
var ErrDimensionMismatch = errors.New("parameter dimensions do not match")

// Space wraps the prior transform together with the per-dimension wrap mask.
//
// Thread Safety: Space is immutable after construction and safe for
// concurrent use, provided the underlying Transform is pure.
type Space struct {
	names     []string
	transform Transform
	wrapped   []bool
	dim       int
	hasWrap   bool
}

// New creates a Space for the given parameter names, prior transform, and
// wrap mask.
//
// Inputs:
//   - names: Ordered parameter names. Length defines the dimensionality D.
//   - transform: Prior transform from [0,1]^D to physical space. Required.
//   - wrapped: Per-dimension circular mask. Nil means no wrapped dimensions;
//     otherwise the length must equal len(names).
//
// Outputs:
//   - *Space: The adapter.
//   - error: Non-nil if names are empty, transform is nil, or lengths disagree.
func New(names []string, transform Transform, wrapped []bool) (*Space, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no parameter names", ErrDimensionMismatch)
	}
	if transform == nil {
		return nil, errors.New("prior transform must not be nil")
	}
	if wrapped == nil {
		wrapped = make([]bool, len(names))
	}
	if len(wrapped) != len(names) {
		return nil, fmt.Errorf("%w: %d names, %d wrap flags", ErrDimensionMismatch, len(names), len(wrapped))
	}

	hasWrap := false
	for _, w := range wrapped {
		if w {
			hasWrap = true
			break
		}
	}

	s := &Space{
		names:     append([]string(nil), names...),
		transform: transform,
		wrapped:   append([]bool(nil), wrapped...),
		dim:       len(names),
		hasWrap:   hasWrap,
	}
	return s, nil
}

// Dim returns the dimensionality D of the parameter space.
func (s *Space) Dim() int { return s.dim }

// Names returns the ordered parameter names. The caller must not modify
// the returned slice.
func (s *Space) Names() []string { return s.names }

// Wrapped returns the per-dimension circular mask. The caller must not
// modify the returned slice.
func (s *Space) Wrapped() []bool { return s.wrapped }

// IsWrapped reports whether dimension i is circular.
func (s *Space) IsWrapped(i int) bool { return s.wrapped[i] }

// HasWrapped reports whether any dimension is circular.
func (s *Space) HasWrapped() bool { return s.hasWrap }

// Apply runs the prior transform on a unit-cube point.
//
// A panicking transform or one producing non-finite or wrong-length output
// yields ok=false: the point is infeasible, never a crash. On success the
// returned physical coordinates are a fresh slice.
func (s *Space) Apply(unit []float64) (phys []float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			phys, ok = nil, false
		}
	}()

	out := s.transform(unit)
	if len(out) != s.dim {
		return nil, false
	}
	phys = make([]float64, s.dim)
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		phys[i] = v
	}
	return phys, true
}

// Delta returns the per-dimension deviation a-b in unit coordinates,
// with wrapped dimensions folded into [-0.5, 0.5).
//
// The result is written into dst if it has length D, otherwise a new
// slice is allocated.
func (s *Space) Delta(a, b []float64, dst []float64) []float64 {
	if len(dst) != s.dim {
		dst = make([]float64, s.dim)
	}
	for i := 0; i < s.dim; i++ {
		d := a[i] - b[i]
		if s.wrapped[i] {
			d = CircDelta(a[i], b[i])
		}
		dst[i] = d
	}
	return dst
}

// Distance returns the Euclidean distance between two unit-cube points,
// using circular deviations on wrapped dimensions.
func (s *Space) Distance(a, b []float64) float64 {
	sum := 0.0
	for i := 0; i < s.dim; i++ {
		d := a[i] - b[i]
		if s.wrapped[i] {
			d = CircDelta(a[i], b[i])
		}
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Normalize folds wrapped coordinates of a unit-cube point into [0,1)
// in place and returns the point. Non-wrapped coordinates are untouched.
func (s *Space) Normalize(unit []float64) []float64 {
	for i := 0; i < s.dim; i++ {
		if s.wrapped[i] {
			unit[i] = WrapUnit(unit[i])
		}
	}
	return unit
}

// InCube reports whether the point lies inside the unit cube, treating
// wrapped dimensions as always inside (they fold back).
func (s *Space) InCube(unit []float64) bool {
	for i := 0; i < s.dim; i++ {
		if s.wrapped[i] {
			continue
		}
		if unit[i] < 0 || unit[i] > 1 {
			return false
		}
	}
	return true
}

// CircularMean returns the circular mean of values on the unit circle
// [0,1), optionally weighted. Weights may be nil for equal weighting.
//
// The mean is the angle of the weighted resultant vector; for an empty
// resultant (perfectly antipodal mass) the result falls back to the
// arithmetic mean folded into [0,1).
func CircularMean(values, weights []float64) float64 {
	var sinSum, cosSum, wSum float64
	for i, v := range values {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		theta := 2 * math.Pi * v
		sinSum += w * math.Sin(theta)
		cosSum += w * math.Cos(theta)
		wSum += w
	}
	if wSum == 0 {
		return 0
	}
	r := math.Hypot(sinSum, cosSum) / wSum
	if r < 1e-12 {
		// Degenerate resultant; any angle is as good as another.
		mean := 0.0
		for i, v := range values {
			w := 1.0
			if weights != nil {
				w = weights[i]
			}
			mean += w * v
		}
		return WrapUnit(mean / wSum)
	}
	return WrapUnit(math.Atan2(sinSum, cosSum) / (2 * math.Pi))
}

// CircDelta returns the signed circular deviation a-b on the unit circle,
// folded into [-0.5, 0.5).
func CircDelta(a, b float64) float64 {
	d := math.Mod(a-b, 1)
	if d < -0.5 {
		d += 1
	} else if d >= 0.5 {
		d -= 1
	}
	return d
}

// WrapUnit folds x into [0,1).
func WrapUnit(x float64) float64 {
	x = math.Mod(x, 1)
	if x < 0 {
		x += 1
	}
	return x
}
