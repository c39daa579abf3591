// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package likelihood evaluates the user log-likelihood behind a hardened
// boundary: every call is counted, non-finite or panicking evaluations are
// mapped to -Inf with a warning instead of crashing the run, and batches of
// candidates can be evaluated concurrently since the transform and the
// likelihood are pure functions of their inputs.
package likelihood

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/reactivens/sampler/points"
	"github.com/AleutianAI/reactivens/sampler/space"
	"github.com/AleutianAI/reactivens/sampler/telemetry"
)

// Func is the caller-supplied log-likelihood.
//
// It must be pure and deterministic. -Inf is a legal return value meaning
// the point is infeasible; NaN and +Inf are treated as infeasible too.
type Func func(phys []float64) float64

// Config configures an Evaluator.
type Config struct {
	// Space is the parameter space adapter. Required.
	Space *space.Space

	// LogLike is the user log-likelihood. Required.
	LogLike Func

	// Workers bounds concurrent likelihood evaluations in EvaluateBatch.
	// Default: 1 (fully sequential, bitwise reproducible).
	Workers int

	// CacheSize bounds the unit-coordinate result cache. 0 disables caching.
	// The cache key is the bitwise unit-coordinate vector; it is an
	// efficiency feature only, correctness never depends on it.
	CacheSize int

	// Logger for infeasible-evaluation warnings. Nil uses slog.Default().
	Logger *slog.Logger

	// Metrics receives call/infeasible counters. Nil disables.
	Metrics *telemetry.Metrics
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Space == nil {
		return errors.New("evaluator: space is required")
	}
	if c.LogLike == nil {
		return errors.New("evaluator: log-likelihood is required")
	}
	return nil
}

// Evaluator invokes the user likelihood with counting, infeasibility
// mapping, and optional caching.
//
// Thread Safety: Safe for concurrent use.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger

	calls atomic.Uint64

	cacheMu sync.RWMutex
	cache   map[string]float64
}

// NewEvaluator creates an Evaluator.
//
// Inputs:
//   - cfg: Configuration. Space and LogLike are required.
//
// Outputs:
//   - *Evaluator: The evaluator.
//   - error: Non-nil if the configuration is invalid.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Evaluator{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "evaluator")),
	}
	if cfg.CacheSize > 0 {
		e.cache = make(map[string]float64, cfg.CacheSize)
	}
	return e, nil
}

// Calls returns the number of likelihood invocations so far.
// The counter is monotonic and never reset mid-run.
func (e *Evaluator) Calls() uint64 { return e.calls.Load() }

// SetCalls seeds the call counter when resuming from a checkpoint.
func (e *Evaluator) SetCalls(n uint64) { e.calls.Store(n) }

// Workers returns the configured concurrency level.
func (e *Evaluator) Workers() int { return e.cfg.Workers }

// Evaluate transforms and evaluates a single unit-cube point.
//
// The returned point carries LogL = -Inf when the transform or the
// likelihood was infeasible (non-finite output or panic); ok is false in
// that case. Evaluate never panics.
func (e *Evaluator) Evaluate(unit []float64) (points.LivePoint, bool) {
	u := append([]float64(nil), unit...)

	if logl, hit := e.cacheGet(u); hit {
		if math.IsInf(logl, -1) {
			return points.LivePoint{Unit: u, LogL: math.Inf(-1)}, false
		}
		// Cached feasible results still need the physical coordinates; the
		// transform is deterministic so re-applying is exact.
		phys, _ := e.cfg.Space.Apply(u)
		return points.LivePoint{Unit: u, Phys: phys, LogL: logl}, true
	}

	phys, ok := e.cfg.Space.Apply(u)
	if !ok {
		e.markInfeasible(u, "prior transform produced non-finite output")
		return points.LivePoint{Unit: u, LogL: math.Inf(-1)}, false
	}

	logl := e.invoke(phys)
	e.cachePut(u, logl)
	if math.IsInf(logl, -1) {
		return points.LivePoint{Unit: u, Phys: phys, LogL: logl}, false
	}
	return points.LivePoint{Unit: u, Phys: phys, LogL: logl}, true
}

// EvaluateBatch evaluates candidates concurrently, bounded by the
// configured worker count. Results are returned in input order, so
// accept-first-in-order scans are deterministic regardless of which
// worker finished first.
//
// The context is checked before dispatch; a likelihood call itself is
// never interrupted mid-flight.
func (e *Evaluator) EvaluateBatch(ctx context.Context, units [][]float64) ([]points.LivePoint, []bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	pts := make([]points.LivePoint, len(units))
	oks := make([]bool, len(units))

	if e.cfg.Workers == 1 || len(units) == 1 {
		for i, u := range units {
			pts[i], oks[i] = e.Evaluate(u)
		}
		return pts, oks, nil
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, u := range units {
		g.Go(func() error {
			pts[i], oks[i] = e.Evaluate(u)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return pts, oks, nil
}

// invoke calls the user likelihood with panic recovery and counting.
func (e *Evaluator) invoke(phys []float64) (logl float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("likelihood panicked, treating point as infeasible",
				"panic", r)
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.InfeasibleEvals.Inc()
			}
			logl = math.Inf(-1)
		}
	}()

	e.calls.Add(1)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.LikelihoodCalls.Inc()
	}

	logl = e.cfg.LogLike(phys)
	if math.IsNaN(logl) || math.IsInf(logl, 1) {
		e.logger.Warn("likelihood returned non-finite value, treating point as infeasible",
			"value", logl)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.InfeasibleEvals.Inc()
		}
		return math.Inf(-1)
	}
	if math.IsInf(logl, -1) && e.cfg.Metrics != nil {
		e.cfg.Metrics.InfeasibleEvals.Inc()
	}
	return logl
}

// markInfeasible logs and counts a transform-level infeasibility.
func (e *Evaluator) markInfeasible(unit []float64, reason string) {
	e.logger.Warn("infeasible evaluation", "reason", reason)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.InfeasibleEvals.Inc()
	}
	e.cachePut(unit, math.Inf(-1))
}

// cacheKey builds the bitwise key for a unit-coordinate vector.
func cacheKey(unit []float64) string {
	buf := make([]byte, 0, len(unit)*8)
	for _, v := range unit {
		bits := math.Float64bits(v)
		buf = append(buf,
			byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24),
			byte(bits>>32), byte(bits>>40), byte(bits>>48), byte(bits>>56))
	}
	return string(buf)
}

func (e *Evaluator) cacheGet(unit []float64) (float64, bool) {
	if e.cache == nil {
		return 0, false
	}
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	logl, ok := e.cache[cacheKey(unit)]
	return logl, ok
}

func (e *Evaluator) cachePut(unit []float64, logl float64) {
	if e.cache == nil {
		return
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if len(e.cache) >= e.cfg.CacheSize {
		// Full cache stops admitting; eviction isn't worth the bookkeeping
		// for a monotonically tightening threshold.
		return
	}
	e.cache[cacheKey(unit)] = logl
}
