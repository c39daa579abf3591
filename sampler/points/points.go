// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package points holds the working set of the nested sampler: live points
// ordered by log-likelihood, and the dead points they become when removed.
package points

import (
	"math"
	"sort"
)

// LivePoint is one retained sample: a unit-cube location, its image under
// the prior transform, and the log-likelihood evaluated there.
//
// Invariant: Phys = transform(Unit) and LogL = loglike(Phys). LogL is
// finite for any point admitted to a live set; -Inf denotes an infeasible
// evaluation and such points are rejected before insertion.
type LivePoint struct {
	Unit []float64 `json:"unit"`
	Phys []float64 `json:"phys"`
	LogL float64   `json:"logl"`
}

// Clone returns a deep copy of the point.
func (p LivePoint) Clone() LivePoint {
	return LivePoint{
		Unit: append([]float64(nil), p.Unit...),
		Phys: append([]float64(nil), p.Phys...),
		LogL: p.LogL,
	}
}

// DeadPoint is a live point removed from the set, tagged with the prior
// volume estimate at removal time and the live-set size that was active at
// that step. The size is the stratum identifier the reactive evidence
// variance bookkeeping needs: under reactive growth different dead points
// shrink the volume at different rates.
type DeadPoint struct {
	LivePoint
	// LogVolume is log of the enclosed prior volume after this removal.
	LogVolume float64 `json:"log_volume"`
	// NLive is the live-set size active at the removal step.
	NLive int `json:"n_live"`
}

// member pairs a live point with its insertion sequence number, which
// breaks likelihood ties deterministically.
type member struct {
	LivePoint
	seq uint64
}

// LiveSet is the ordered-by-likelihood working set.
//
// The set is kept sorted ascending by LogL (ties broken by insertion
// order), so the worst point is always at index 0. Size is not fixed:
// reactive expansion inserts points beyond the initial population.
//
// Thread Safety: LiveSet is not safe for concurrent use. The sampler owns
// it and serializes all mutations (see the run-state ownership contract).
type LiveSet struct {
	members []member
	nextSeq uint64
}

// NewLiveSet creates an empty live set with the given capacity hint.
func NewLiveSet(capacity int) *LiveSet {
	if capacity < 0 {
		capacity = 0
	}
	return &LiveSet{members: make([]member, 0, capacity)}
}

// Len returns the number of live points.
func (s *LiveSet) Len() int { return len(s.members) }

// Insert adds a point, keeping the set ordered by LogL.
func (s *LiveSet) Insert(p LivePoint) {
	m := member{LivePoint: p, seq: s.nextSeq}
	s.nextSeq++

	i := sort.Search(len(s.members), func(i int) bool {
		if s.members[i].LogL != m.LogL {
			return s.members[i].LogL > m.LogL
		}
		return s.members[i].seq > m.seq
	})
	s.members = append(s.members, member{})
	copy(s.members[i+1:], s.members[i:])
	s.members[i] = m
}

// Worst returns the lowest-likelihood point without removing it.
func (s *LiveSet) Worst() (LivePoint, bool) {
	if len(s.members) == 0 {
		return LivePoint{}, false
	}
	return s.members[0].LivePoint, true
}

// PopWorst removes and returns the lowest-likelihood point.
func (s *LiveSet) PopWorst() (LivePoint, bool) {
	if len(s.members) == 0 {
		return LivePoint{}, false
	}
	p := s.members[0].LivePoint
	copy(s.members, s.members[1:])
	s.members = s.members[:len(s.members)-1]
	return p, true
}

// Best returns the highest-likelihood point.
func (s *LiveSet) Best() (LivePoint, bool) {
	if len(s.members) == 0 {
		return LivePoint{}, false
	}
	return s.members[len(s.members)-1].LivePoint, true
}

// LogLs returns the log-likelihoods in ascending order.
func (s *LiveSet) LogLs() []float64 {
	out := make([]float64, len(s.members))
	for i, m := range s.members {
		out[i] = m.LogL
	}
	return out
}

// MeanLogL returns log of the mean likelihood over the set, computed as
// logsumexp(LogLs) - log(N). Used for the remaining-evidence estimate.
func (s *LiveSet) MeanLogL() float64 {
	n := len(s.members)
	if n == 0 {
		return math.Inf(-1)
	}
	maxL := s.members[n-1].LogL
	sum := 0.0
	for _, m := range s.members {
		sum += math.Exp(m.LogL - maxL)
	}
	return maxL + math.Log(sum) - math.Log(float64(n))
}

// Units returns copies of the unit coordinates of all live points, worst
// first. The caller may retain and modify the result.
func (s *LiveSet) Units() [][]float64 {
	out := make([][]float64, len(s.members))
	for i, m := range s.members {
		out[i] = append([]float64(nil), m.Unit...)
	}
	return out
}

// Points returns copies of all live points in ascending likelihood order.
func (s *LiveSet) Points() []LivePoint {
	out := make([]LivePoint, len(s.members))
	for i, m := range s.members {
		out[i] = m.LivePoint.Clone()
	}
	return out
}

// Restore rebuilds the set from a checkpointed slice of points.
// Insertion order follows the slice, so a snapshot taken via Points
// reproduces the same tie-break ordering.
func (s *LiveSet) Restore(pts []LivePoint) {
	s.members = s.members[:0]
	s.nextSeq = 0
	for _, p := range pts {
		s.Insert(p.Clone())
	}
}
