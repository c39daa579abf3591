// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"math"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/reactivens/sampler"
)

// =============================================================================
// BUILT-IN PROBLEMS
// =============================================================================

// builtinProblem is a named demonstration problem with a known or
// well-studied evidence value.
type builtinProblem struct {
	description string
	analyticLnZ string // human-readable reference value, "" if none
	build       func(cfg *RunConfig) sampler.Problem
}

var builtinProblems = map[string]builtinProblem{
	"gaussian": {
		description: "Isotropic Gaussian on a uniform [-5, 5]^D box",
		analyticLnZ: "-D * ln(10)",
		build:       buildGaussian,
	},
	"eggbox": {
		description: "Highly multimodal 2D egg-box likelihood",
		analyticLnZ: "~235.88",
		build:       buildEggbox,
	},
	"ring": {
		description: "2D ring posterior with one circular parameter",
		analyticLnZ: "",
		build:       buildRing,
	},
}

// buildGaussian builds a D-dimensional isotropic Gaussian likelihood,
// normalized so the analytic evidence is the inverse prior volume.
func buildGaussian(cfg *RunConfig) sampler.Problem {
	d := cfg.Dimensions
	sigma := cfg.Sigma

	names := make([]string, d)
	for i := range names {
		names[i] = fmt.Sprintf("x%d", i)
	}
	return sampler.Problem{
		ParamNames: names,
		Transform: func(u []float64) []float64 {
			out := make([]float64, len(u))
			for i, v := range u {
				out[i] = -5 + 10*v
			}
			return out
		},
		LogLikelihood: func(p []float64) float64 {
			norm := -0.5 * float64(d) * math.Log(2*math.Pi*sigma*sigma)
			sum := 0.0
			for _, v := range p {
				sum += v * v
			}
			return norm - sum/(2*sigma*sigma)
		},
	}
}

// buildEggbox builds the standard 2D egg-box test: a grid of 18 sharp
// modes on the unit square. A stress test for mode coverage.
func buildEggbox(cfg *RunConfig) sampler.Problem {
	return sampler.Problem{
		ParamNames: []string{"x", "y"},
		Transform: func(u []float64) []float64 {
			out := make([]float64, len(u))
			copy(out, u)
			return out
		},
		LogLikelihood: func(p []float64) float64 {
			chi := math.Cos(10 * math.Pi * p[0] / 2)
			chi *= math.Cos(10 * math.Pi * p[1] / 2)
			return math.Pow(2+chi, 5)
		},
	}
}

// buildRing builds a ring-shaped posterior whose angular coordinate is
// circular, exercising wrapped-dimension handling end to end.
func buildRing(cfg *RunConfig) sampler.Problem {
	return sampler.Problem{
		ParamNames: []string{"angle", "radius"},
		Transform: func(u []float64) []float64 {
			// angle stays in unit coordinates; radius spans [0, 2].
			return []float64{u[0], 2 * u[1]}
		},
		LogLikelihood: func(p []float64) float64 {
			// Mass concentrated at radius 1, angle near the wrap point.
			dr := p[1] - 1
			da := math.Cos(2*math.Pi*p[0]) - 1
			return -dr*dr/(2*0.01) + 20*da
		},
		Wrapped: []bool{true, false},
	}
}

// =============================================================================
// PROBLEMS COMMAND
// =============================================================================

var problemsCmd = &cobra.Command{
	Use:   "problems",
	Short: "List the built-in demonstration problems",
	Run: func(cmd *cobra.Command, args []string) {
		names := make([]string, 0, len(builtinProblems))
		for name := range builtinProblems {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := builtinProblems[name]
			fmt.Printf("%-10s %s", name, p.description)
			if p.analyticLnZ != "" {
				fmt.Printf(" (lnZ %s)", p.analyticLnZ)
			}
			fmt.Println()
		}
	},
}
