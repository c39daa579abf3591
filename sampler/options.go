// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampler

import (
	"fmt"
	"math"

	"github.com/AleutianAI/reactivens/pkg/logging"
	"github.com/AleutianAI/reactivens/sampler/checkpoint"
	"github.com/AleutianAI/reactivens/sampler/likelihood"
	"github.com/AleutianAI/reactivens/sampler/space"
	"github.com/AleutianAI/reactivens/sampler/telemetry"
)

// Problem defines the inference problem: the parameter space and the
// log-likelihood over it.
type Problem struct {
	// ParamNames are the parameter names, one per dimension. Required.
	ParamNames []string

	// Transform maps a unit-hypercube point to physical parameters (the
	// inverse-CDF prior transform). Must be pure and deterministic. Required.
	Transform space.Transform

	// LogLikelihood is the log-likelihood in physical coordinates. -Inf
	// means infeasible. Must be pure and deterministic. Required.
	LogLikelihood likelihood.Func

	// Wrapped marks circular dimensions (unit coordinates identified
	// modulo 1). Nil means none.
	Wrapped []bool
}

// Options configures a sampling run. The zero value plus ApplyDefaults is
// a working configuration for smooth problems.
type Options struct {
	// MinLivePoints is the initial live-set size. Must be at least D+1 so
	// the proposal region is well-posed.
	// Default: 100
	MinLivePoints int

	// MaxLivePoints caps reactive growth of the live set.
	// Default: 10 * MinLivePoints
	MaxLivePoints int

	// GrowthStep is how many live points each reactive expansion adds.
	// Default: ceil(MinLivePoints / 2)
	GrowthStep int

	// DlogZ is the evidence stopping tolerance: the run converges when the
	// estimated remaining evidence contributes less than this to logZ.
	// +Inf makes the criterion pass trivially, leaving MinESS or the
	// budgets in charge of stopping.
	// Default: 0.5
	DlogZ float64

	// MinESS is the target posterior effective sample size. When the
	// evidence criterion is met but the ESS is short, the live set grows
	// reactively instead of stopping. 0 disables the criterion.
	// Default: 0
	MinESS float64

	// MaxIterations bounds dead-point removals. 0 means unlimited.
	MaxIterations uint64

	// MaxCalls bounds likelihood evaluations. The budget is checked
	// between iterations, so it can be overshot by at most one proposal
	// cycle. 0 means unlimited.
	MaxCalls uint64

	// MaxInitAttempts bounds prior draws during initialization before the
	// run fails with ErrInitInfeasible.
	// Default: 1000 * MinLivePoints
	MaxInitAttempts int

	// Workers bounds concurrent likelihood evaluations. 1 is fully
	// sequential and bitwise reproducible for a fixed Seed.
	// Default: 1
	Workers int

	// Seed seeds the run's PCG stream. 0 draws a seed from the clock.
	Seed uint64

	// Enlarge is the base region expansion factor. Must be >= 1.
	// Default: 1.1
	Enlarge float64

	// MaxProposalAttempts is the rejection ceiling per replacement.
	// Default: 5000
	MaxProposalAttempts int

	// MaxWiden caps stuck-recovery widening of the proposal region.
	// Default: 64
	MaxWiden float64

	// MaxStuck is how many consecutive stuck proposals at the widening cap
	// fail the run.
	// Default: 3
	MaxStuck int

	// LogInterval is the iteration period for progress logging.
	// Default: 100
	LogInterval uint64

	// CacheSize bounds the likelihood result cache. 0 disables it.
	CacheSize int

	// Store receives periodic checkpoints when set.
	Store checkpoint.Store

	// CheckpointInterval is the iteration period for checkpointing.
	// 0 disables periodic checkpoints even when Store is set.
	CheckpointInterval uint64

	// Logger for run lifecycle and progress. Nil uses logging.Default().
	Logger *logging.Logger

	// Metrics receives run telemetry. Nil disables.
	Metrics *telemetry.Metrics
}

// ApplyDefaults fills zero values with defaults.
func (o *Options) ApplyDefaults() {
	if o.MinLivePoints == 0 {
		o.MinLivePoints = 100
	}
	if o.MaxLivePoints == 0 {
		o.MaxLivePoints = 10 * o.MinLivePoints
	}
	if o.GrowthStep == 0 {
		o.GrowthStep = (o.MinLivePoints + 1) / 2
	}
	if o.DlogZ == 0 {
		o.DlogZ = 0.5
	}
	if o.MaxInitAttempts == 0 {
		o.MaxInitAttempts = 1000 * o.MinLivePoints
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Enlarge == 0 {
		o.Enlarge = 1.1
	}
	if o.MaxProposalAttempts == 0 {
		o.MaxProposalAttempts = 5000
	}
	if o.MaxWiden == 0 {
		o.MaxWiden = 64
	}
	if o.MaxStuck == 0 {
		o.MaxStuck = 3
	}
	if o.LogInterval == 0 {
		o.LogInterval = 100
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// Validate checks option bounds. Call after ApplyDefaults.
func (o *Options) Validate() error {
	if o.MinLivePoints < 2 {
		return fmt.Errorf("%w: MinLivePoints must be >= 2, got %d", ErrInvalidConfig, o.MinLivePoints)
	}
	if o.MaxLivePoints < o.MinLivePoints {
		return fmt.Errorf("%w: MaxLivePoints %d below MinLivePoints %d", ErrInvalidConfig, o.MaxLivePoints, o.MinLivePoints)
	}
	if o.GrowthStep < 1 {
		return fmt.Errorf("%w: GrowthStep must be >= 1, got %d", ErrInvalidConfig, o.GrowthStep)
	}
	if math.IsNaN(o.DlogZ) || o.DlogZ <= 0 {
		return fmt.Errorf("%w: DlogZ must be positive or +Inf, got %v", ErrInvalidConfig, o.DlogZ)
	}
	if math.IsNaN(o.MinESS) || o.MinESS < 0 {
		return fmt.Errorf("%w: MinESS must be >= 0, got %v", ErrInvalidConfig, o.MinESS)
	}
	if o.Enlarge < 1 || math.IsNaN(o.Enlarge) || math.IsInf(o.Enlarge, 0) {
		return fmt.Errorf("%w: Enlarge must be a finite value >= 1, got %v", ErrInvalidConfig, o.Enlarge)
	}
	if o.MaxStuck < 1 {
		return fmt.Errorf("%w: MaxStuck must be >= 1, got %d", ErrInvalidConfig, o.MaxStuck)
	}
	return nil
}
