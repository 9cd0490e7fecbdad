// Package selector draws one element from a weighted candidate set using an
// injected, seeded random stream.
package selector

import (
	"errors"
	"math"
)

// ErrEmptyCandidateSet is returned when there is nothing to draw from.
var ErrEmptyCandidateSet = errors.New("empty candidate set")

// ErrInvalidWeight indicates a candidate with a non-positive or non-finite weight.
var ErrInvalidWeight = errors.New("candidate weight must be positive and finite")

// Source is the random stream a draw consumes. *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
	Intn(n int) int
}

// Candidate pairs an item with its relative probability mass.
type Candidate[T any] struct {
	Item   T
	Weight float64
}

// Pick draws one candidate with probability proportional to its weight.
// Filtering to admissible candidates is the caller's job.
func Pick[T any](cands []Candidate[T], src Source) (T, error) {
	var zero T
	weights := make([]float64, len(cands))
	for i, c := range cands {
		weights[i] = c.Weight
	}
	idx, err := PickIndex(weights, src)
	if err != nil {
		return zero, err
	}
	return cands[idx].Item, nil
}

// PickIndex draws an index into weights. It consumes exactly one Float64 from
// src, so replaying the same seed over the same weights repeats the draw.
func PickIndex(weights []float64, src Source) (int, error) {
	if len(weights) == 0 {
		return 0, ErrEmptyCandidateSet
	}

	total := 0.0
	for _, w := range weights {
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return 0, ErrInvalidWeight
		}
		total += w
	}

	// Uniform in [0, total); the first cumulative sum above it wins.
	roll := src.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if roll < cumulative {
			return i, nil
		}
	}
	// Float rounding can leave roll == cumulative on the last step.
	return len(weights) - 1, nil
}
