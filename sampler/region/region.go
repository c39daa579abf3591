// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package region constructs proposal regions from the live set and draws
// replacement candidates constrained to exceed the current likelihood
// threshold.
//
// The region is a single enclosing ellipsoid built from the live points'
// unit coordinates: circular-aware mean, sample covariance, Cholesky
// factor, scaled out to cover the most distant live point times an
// expansion factor that counters finite-sample bias. Degenerate geometry
// (too few points, singular covariance) falls back to uniform draws over
// the unit cube. Rejection sampling is capped; exceeding the cap surfaces
// ErrStuck to the sampler, never an infeasible point passed off as valid.
package region

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/reactivens/sampler/likelihood"
	"github.com/AleutianAI/reactivens/sampler/points"
	"github.com/AleutianAI/reactivens/sampler/space"
	"github.com/AleutianAI/reactivens/sampler/telemetry"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrDegenerate indicates the live-point geometry cannot support an
	// ellipsoid (fewer than D+1 points, collinear points, singular
	// covariance). Recovered internally via the cube fallback.
	ErrDegenerate = errors.New("degenerate proposal region")

	// ErrStuck indicates the rejection ceiling was exceeded without finding
	// a candidate above the threshold. Recoverable by widening the region;
	// repeated occurrences escalate to a failed run.
	ErrStuck = errors.New("proposal rejection ceiling exceeded")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures a Proposer.
type Config struct {
	// Enlarge is the base expansion factor applied to the enclosing
	// ellipsoid to counter finite-sample bias. Must be >= 1.
	// Default: 1.1
	Enlarge float64

	// MaxAttempts is the rejection ceiling per replacement slot. Every
	// raw draw counts, including draws landing outside the unit cube.
	// Default: 5000
	MaxAttempts int

	// MaxWiden caps the stuck-recovery widening multiplier.
	// Default: 64
	MaxWiden float64

	// Logger for fallback and stuck events. Nil uses slog.Default().
	Logger *slog.Logger

	// Metrics receives region counters. Nil disables.
	Metrics *telemetry.Metrics
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Enlarge == 0 {
		c.Enlarge = 1.1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5000
	}
	if c.MaxWiden == 0 {
		c.MaxWiden = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.Enlarge < 1 {
		return fmt.Errorf("enlarge factor must be >= 1, got %v", c.Enlarge)
	}
	if math.IsNaN(c.Enlarge) || math.IsInf(c.Enlarge, 0) {
		return fmt.Errorf("enlarge factor must be finite, got %v", c.Enlarge)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Ellipsoid
// -----------------------------------------------------------------------------

// ellipsoid is the enclosing region: x = mean + r * L z for z in the unit
// ball, where L is the Cholesky factor of the live-point covariance and
// r^2 the enlarged maximum Mahalanobis distance.
type ellipsoid struct {
	dim     int
	mean    []float64
	lower   mat.TriDense
	chol    mat.Cholesky
	radius2 float64
}

// buildEllipsoid constructs the enclosing ellipsoid from live-point unit
// coordinates. Wrapped dimensions use circular means and deviations, so a
// cluster straddling the wrap point stays compact.
func buildEllipsoid(sp *space.Space, units [][]float64, enlarge float64) (*ellipsoid, error) {
	d := sp.Dim()
	n := len(units)
	if n < d+1 {
		return nil, fmt.Errorf("%w: %d live points for %d dimensions", ErrDegenerate, n, d)
	}

	mean := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			col[i] = units[i][j]
		}
		if sp.IsWrapped(j) {
			mean[j] = space.CircularMean(col, nil)
		} else {
			sum := 0.0
			for _, v := range col {
				sum += v
			}
			mean[j] = sum / float64(n)
		}
	}

	devs := mat.NewDense(n, d, nil)
	row := make([]float64, d)
	for i := 0; i < n; i++ {
		sp.Delta(units[i], mean, row)
		devs.SetRow(i, row)
	}

	// CovarianceMatrix re-centers the rows about their arithmetic mean,
	// which on wrapped dimensions differs slightly from the circular mean
	// the deviations were taken against. The offset is absorbed below:
	// radius2 scales to the max Mahalanobis distance over the same points.
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, devs, nil)

	e := &ellipsoid{dim: d, mean: mean}
	if ok := e.chol.Factorize(&cov); !ok {
		return nil, fmt.Errorf("%w: singular covariance", ErrDegenerate)
	}
	e.chol.LTo(&e.lower)

	// Scale to the most distant live point, then expand.
	maxMahal := 0.0
	y := mat.NewVecDense(d, nil)
	for i := 0; i < n; i++ {
		dev := mat.NewVecDense(d, mat.Row(nil, i, devs))
		if err := e.chol.SolveVecTo(y, dev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDegenerate, err)
		}
		m := mat.Dot(dev, y)
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, fmt.Errorf("%w: non-finite Mahalanobis distance", ErrDegenerate)
		}
		if m > maxMahal {
			maxMahal = m
		}
	}
	if maxMahal < 1e-300 {
		return nil, fmt.Errorf("%w: zero-volume region", ErrDegenerate)
	}

	e.radius2 = maxMahal * enlarge * (1 + 2/float64(n))
	return e, nil
}

// sample draws a point uniformly from the ellipsoid into dst.
func (e *ellipsoid) sample(rng *rand.Rand, dst []float64) {
	z := make([]float64, e.dim)
	norm := 0.0
	for i := range z {
		z[i] = rng.NormFloat64()
		norm += z[i] * z[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	r := math.Pow(rng.Float64(), 1/float64(e.dim)) * math.Sqrt(e.radius2)
	for i := range z {
		z[i] = z[i] / norm * r
	}

	zv := mat.NewVecDense(e.dim, z)
	y := mat.NewVecDense(e.dim, nil)
	y.MulVec(&e.lower, zv)
	for i := 0; i < e.dim; i++ {
		dst[i] = e.mean[i] + y.AtVec(i)
	}
}

// contains reports whether the unit point lies inside the ellipsoid,
// measuring deviations circularly on wrapped dimensions.
func (e *ellipsoid) contains(sp *space.Space, unit []float64) bool {
	dev := make([]float64, e.dim)
	sp.Delta(unit, e.mean, dev)
	devVec := mat.NewVecDense(e.dim, dev)
	y := mat.NewVecDense(e.dim, nil)
	if err := e.chol.SolveVecTo(y, devVec); err != nil {
		return false
	}
	return mat.Dot(devVec, y) <= e.radius2*(1+1e-9)
}

// -----------------------------------------------------------------------------
// Proposer
// -----------------------------------------------------------------------------

// Proposer builds regions from the live set and draws threshold-respecting
// replacement candidates.
//
// Thread Safety: Not safe for concurrent use. The sampler owns the
// proposer and drives it from the integration loop; only the likelihood
// evaluations it dispatches run concurrently.
type Proposer struct {
	cfg Config
	sp  *space.Space

	ell      *ellipsoid // nil means cube fallback
	widen    float64
	rebuilds uint64
	logger   *slog.Logger
}

// NewProposer creates a Proposer for the given space.
//
// Inputs:
//   - cfg: Configuration. Zero values use defaults.
//   - sp: Parameter space adapter. Required.
//
// Outputs:
//   - *Proposer: The proposer, starting in cube-fallback mode until the
//     first Rebuild.
//   - error: Non-nil if the configuration is invalid.
func NewProposer(cfg Config, sp *space.Space) (*Proposer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sp == nil {
		return nil, errors.New("proposer: space is required")
	}
	return &Proposer{
		cfg:    cfg,
		sp:     sp,
		widen:  1,
		logger: cfg.Logger.With(slog.String("component", "region")),
	}, nil
}

// Rebuild reconstructs the region from the current live-point unit
// coordinates. Degenerate geometry falls back to the unit cube with a
// warning; Rebuild itself never fails.
func (p *Proposer) Rebuild(units [][]float64) {
	p.rebuilds++
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RegionRebuilds.Inc()
	}

	ell, err := buildEllipsoid(p.sp, units, p.cfg.Enlarge*p.widen)
	if err != nil {
		if p.ell != nil || p.rebuilds == 1 {
			p.logger.Warn("falling back to unit-cube proposals", "error", err)
		}
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RegionFallbacks.Inc()
		}
		p.ell = nil
		return
	}
	p.ell = ell
}

// Rebuilds returns the number of region reconstructions, usable as a
// cache-invalidation counter by diagnostic consumers.
func (p *Proposer) Rebuilds() uint64 { return p.rebuilds }

// UsingFallback reports whether proposals currently come from the unit
// cube rather than an ellipsoid.
func (p *Proposer) UsingFallback() bool { return p.ell == nil }

// Widen doubles the expansion multiplier, up to the configured cap, for
// stuck recovery. The caller must Rebuild afterwards for the wider region
// to take effect. Returns false once the cap is reached.
func (p *Proposer) Widen() bool {
	if p.widen >= p.cfg.MaxWiden {
		return false
	}
	p.widen *= 2
	if p.widen > p.cfg.MaxWiden {
		p.widen = p.cfg.MaxWiden
	}
	p.logger.Info("widening proposal region", "multiplier", p.widen)
	return true
}

// ResetWiden restores the base expansion factor after successful proposals.
func (p *Proposer) ResetWiden() { p.widen = 1 }

// draw produces one raw candidate in the unit cube, or false if the draw
// landed outside (counts against the rejection ceiling).
func (p *Proposer) draw(rng *rand.Rand, dst []float64) bool {
	if p.ell == nil {
		for i := range dst {
			dst[i] = rng.Float64()
		}
		return true
	}
	p.ell.sample(rng, dst)
	p.sp.Normalize(dst)
	return p.sp.InCube(dst)
}

// Propose draws candidates until one exceeds logThreshold, in expectation
// satisfying the exploration contract with a bounded rejection rate.
//
// Candidates are generated sequentially from rng (so a fixed seed with
// Workers=1 is bitwise reproducible) and evaluated in batches sized to the
// evaluator's worker count; the first candidate in generation order that
// clears the threshold is accepted.
//
// Outputs:
//   - points.LivePoint: The accepted replacement point.
//   - int: Raw draws consumed (attempts).
//   - error: ErrStuck when the ceiling is exceeded, or the context error.
func (p *Proposer) Propose(ctx context.Context, rng *rand.Rand, eval *likelihood.Evaluator, logThreshold float64) (points.LivePoint, int, error) {
	batchSize := eval.Workers()
	if batchSize < 1 {
		batchSize = 1
	}

	attempts := 0
	buf := make([]float64, p.sp.Dim())
	for attempts < p.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return points.LivePoint{}, attempts, err
		}

		batch := make([][]float64, 0, batchSize)
		for len(batch) < batchSize && attempts < p.cfg.MaxAttempts {
			attempts++
			if !p.draw(rng, buf) {
				continue
			}
			batch = append(batch, append([]float64(nil), buf...))
		}
		if len(batch) == 0 {
			break
		}

		pts, oks, err := eval.EvaluateBatch(ctx, batch)
		if err != nil {
			return points.LivePoint{}, attempts, err
		}
		for i, pt := range pts {
			if oks[i] && pt.LogL > logThreshold {
				return pt, attempts, nil
			}
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.ProposalRejections.Inc()
			}
		}
	}

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ProposalStuck.Inc()
	}
	p.logger.Warn("proposal stuck", "attempts", attempts, "threshold", logThreshold)
	return points.LivePoint{}, attempts, ErrStuck
}
