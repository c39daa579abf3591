// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package results converts an accumulated nested-sampling run into an
// immutable snapshot: importance-weighted posterior samples, the evidence
// estimate with uncertainty, and per-parameter summaries.
//
// Dead points contribute their prior-volume shard; remaining live points
// split the final volume evenly. Weights are w_i = exp(logwidth_i + logL_i
// - logZ) and normalize to 1 by construction. Wrapped parameters are
// summarized with circular statistics in unit coordinates, so posterior
// mass straddling the wrap point merges instead of splitting.
package results

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/reactivens/sampler/points"
	"github.com/AleutianAI/reactivens/sampler/space"
)

// Sample is one posterior sample with its importance weight.
type Sample struct {
	// Unit is the location in the unit hypercube.
	Unit []float64 `json:"unit"`

	// Phys is the physical-space location.
	Phys []float64 `json:"phys"`

	// LogL is the log-likelihood at the point.
	LogL float64 `json:"logl"`

	// LogWeight is the unnormalized log importance weight
	// (log prior-volume shard + log-likelihood).
	LogWeight float64 `json:"log_weight"`

	// Weight is the normalized importance weight; weights sum to 1.
	Weight float64 `json:"weight"`
}

// ParamSummary holds weighted marginal statistics for one parameter.
//
// For wrapped parameters the statistics are circular and reported in unit
// coordinates; Mean is the circular mean and the quantiles are taken on
// deviations folded around it.
type ParamSummary struct {
	Name    string  `json:"name"`
	Wrapped bool    `json:"wrapped"`
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	P05     float64 `json:"p05"`
	Median  float64 `json:"median"`
	P95     float64 `json:"p95"`
}

// Results is the immutable outcome of a run.
type Results struct {
	// RunID identifies the run that produced this snapshot.
	RunID string `json:"run_id"`

	// Status is the terminal state name ("converged", "stopped", "failed").
	Status string `json:"status"`

	// LogZ is the log-evidence estimate.
	LogZ float64 `json:"logz"`

	// LogZErr is the standard error of LogZ.
	LogZErr float64 `json:"logz_err"`

	// Information is the accumulated information integral H.
	Information float64 `json:"information"`

	// ESS is the effective sample size of the posterior weights.
	ESS float64 `json:"ess"`

	// NCalls is the total number of likelihood evaluations.
	NCalls uint64 `json:"n_calls"`

	// Iterations is the number of dead-point removals.
	Iterations uint64 `json:"iterations"`

	// Samples are all weighted posterior samples: dead points first in
	// removal order, then the final live points.
	Samples []Sample `json:"samples"`

	// Params are the per-parameter marginal summaries.
	Params []ParamSummary `json:"params"`
}

// Config carries the accumulated run into Summarize.
type Config struct {
	RunID           string
	Status          string
	Space           *space.Space
	Dead            []points.DeadPoint
	Live            []points.LivePoint
	LogVolRemaining float64
	Information     float64
	LogZVar         float64
	NCalls          uint64
	Iterations      uint64
}

// Summarize builds the Results snapshot from the run state.
//
// Inputs:
//   - cfg: The accumulated run. Space is required; Dead and Live together
//     must be non-empty.
//
// Outputs:
//   - *Results: The snapshot. Weights sum to 1 within float tolerance.
//   - error: Non-nil for an empty run or missing space.
func Summarize(cfg Config) (*Results, error) {
	if cfg.Space == nil {
		return nil, errors.New("results: space is required")
	}
	n := len(cfg.Dead) + len(cfg.Live)
	if n == 0 {
		return nil, errors.New("results: no points to summarize")
	}

	samples := make([]Sample, 0, n)
	logWts := make([]float64, 0, n)

	// Dead points: shard width is the volume shell between successive
	// removals, with volume 1 before the first.
	prevLogVol := 0.0
	for _, d := range cfg.Dead {
		logWidth := prevLogVol + log1mExp(prevLogVol-d.LogVolume)
		prevLogVol = d.LogVolume
		lw := logWidth + d.LogL
		samples = append(samples, Sample{
			Unit:      d.Unit,
			Phys:      d.Phys,
			LogL:      d.LogL,
			LogWeight: lw,
		})
		logWts = append(logWts, lw)
	}

	// Remaining live points split the final volume evenly.
	if len(cfg.Live) > 0 {
		logShare := cfg.LogVolRemaining - math.Log(float64(len(cfg.Live)))
		for _, p := range cfg.Live {
			lw := logShare + p.LogL
			samples = append(samples, Sample{
				Unit:      p.Unit,
				Phys:      p.Phys,
				LogL:      p.LogL,
				LogWeight: lw,
			})
			logWts = append(logWts, lw)
		}
	}

	logZ := floats.LogSumExp(logWts)

	sumSq := 0.0
	for i := range samples {
		w := math.Exp(samples[i].LogWeight - logZ)
		samples[i].Weight = w
		sumSq += w * w
	}
	ess := 0.0
	if sumSq > 0 {
		ess = 1 / sumSq
	}

	r := &Results{
		RunID:       cfg.RunID,
		Status:      cfg.Status,
		LogZ:        logZ,
		LogZErr:     math.Sqrt(math.Max(cfg.LogZVar, 0)),
		Information: cfg.Information,
		ESS:         ess,
		NCalls:      cfg.NCalls,
		Iterations:  cfg.Iterations,
		Samples:     samples,
	}
	r.Params = summarizeParams(cfg.Space, samples)
	return r, nil
}

// summarizeParams computes weighted marginals per dimension.
func summarizeParams(sp *space.Space, samples []Sample) []ParamSummary {
	d := sp.Dim()
	out := make([]ParamSummary, d)
	weights := make([]float64, len(samples))
	for i, s := range samples {
		weights[i] = s.Weight
	}

	vals := make([]float64, len(samples))
	for j := 0; j < d; j++ {
		ps := ParamSummary{Name: sp.Names()[j], Wrapped: sp.IsWrapped(j)}

		if sp.IsWrapped(j) {
			for i, s := range samples {
				vals[i] = s.Unit[j]
			}
			mean := space.CircularMean(vals, weights)
			// Fold every value into the half-open window around the mean;
			// ordinary weighted statistics are then valid.
			folded := make([]float64, len(vals))
			for i, v := range vals {
				folded[i] = mean + space.CircDelta(v, mean)
			}
			ps.Mean = mean
			ps.Std = stat.StdDev(folded, weights)
			ps.P05, ps.Median, ps.P95 = weightedQuantiles(folded, weights)
		} else {
			for i, s := range samples {
				vals[i] = s.Phys[j]
			}
			ps.Mean = stat.Mean(vals, weights)
			ps.Std = stat.StdDev(vals, weights)
			ps.P05, ps.Median, ps.P95 = weightedQuantiles(vals, weights)
		}
		out[j] = ps
	}
	return out
}

// weightedQuantiles returns the 5%, 50%, and 95% weighted quantiles.
func weightedQuantiles(vals, weights []float64) (p05, median, p95 float64) {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return vals[idx[a]] < vals[idx[b]] })

	sorted := make([]float64, len(vals))
	sortedW := make([]float64, len(vals))
	for i, k := range idx {
		sorted[i] = vals[k]
		sortedW[i] = weights[k]
	}

	p05 = stat.Quantile(0.05, stat.Empirical, sorted, sortedW)
	median = stat.Quantile(0.5, stat.Empirical, sorted, sortedW)
	p95 = stat.Quantile(0.95, stat.Empirical, sorted, sortedW)
	return p05, median, p95
}

// Resample draws n equal-weight posterior samples by systematic
// resampling over the importance weights.
func (r *Results) Resample(rng *rand.Rand, n int) [][]float64 {
	if n <= 0 || len(r.Samples) == 0 {
		return nil
	}
	out := make([][]float64, 0, n)
	step := 1.0 / float64(n)
	u := rng.Float64() * step

	cum := 0.0
	i := 0
	for k := 0; k < n; k++ {
		target := u + float64(k)*step
		for i < len(r.Samples)-1 && cum+r.Samples[i].Weight < target {
			cum += r.Samples[i].Weight
			i++
		}
		out = append(out, append([]float64(nil), r.Samples[i].Phys...))
	}
	return out
}

// log1mExp computes log(1 - exp(-x)) for x > 0 without catastrophic
// cancellation.
func log1mExp(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	if x < math.Ln2 {
		return math.Log(-math.Expm1(-x))
	}
	return math.Log1p(-math.Exp(-x))
}
