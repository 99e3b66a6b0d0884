// Package significance produces the composite ordering score used for final
// bundle selection: recency decay, normalized ranked-index relevance, and a
// criticality indicator, blended by configurable weights.
//
// The scorer is pure: identical inputs always produce identical outputs.
package significance

import (
	"errors"
	"math"
	"sort"
)

// ErrInvalidWeights is returned when the configured weights do not sum to 1.
var ErrInvalidWeights = errors.New("significance weights must sum to 1.0")

// Default weights and decay rate. Asserted defaults requiring empirical
// tuning, not derived quantities.
const (
	DefaultRecencyWeight     = 0.5
	DefaultRelevanceWeight   = 0.35
	DefaultCriticalityWeight = 0.15
	DefaultDecayLambda       = 0.1
)

// weightTolerance absorbs float accumulation error in the sum check.
const weightTolerance = 1e-9

// Weights blend the three component scores. They must sum to 1.0.
type Weights struct {
	Recency     float64
	Relevance   float64
	Criticality float64

	// Lambda is the exponential decay rate applied to age in turns.
	Lambda float64
}

// DefaultWeights returns the stock weight configuration.
func DefaultWeights() Weights {
	return Weights{
		Recency:     DefaultRecencyWeight,
		Relevance:   DefaultRelevanceWeight,
		Criticality: DefaultCriticalityWeight,
		Lambda:      DefaultDecayLambda,
	}
}

// Validate fails fast with ErrInvalidWeights when the weights do not sum to
// 1.0 or any component is negative.
func (w Weights) Validate() error {
	if w.Recency < 0 || w.Relevance < 0 || w.Criticality < 0 {
		return ErrInvalidWeights
	}
	if math.Abs(w.Recency+w.Relevance+w.Criticality-1.0) > weightTolerance {
		return ErrInvalidWeights
	}
	return nil
}

// Candidate is one turn under consideration for the memory bundle.
type Candidate struct {
	TurnID string

	// AgeInTurns is how many turns ago this one occurred, relative to the
	// newest turn in the session or corpus.
	AgeInTurns int

	// IndexScore is the raw BM25 score from the ranked index.
	IndexScore float64

	// Critical is the turn's identity-forming flag. It counts fully or not
	// at all, never interpolated.
	Critical bool
}

// Scored pairs a candidate with its composite significance.
type Scored struct {
	Candidate
	Significance float64
}

// Score computes composite significance for every candidate and returns
// them ordered by significance descending. Index scores are min-max
// normalized over the candidate set; recency uses exponential decay so very
// old but retrievable turns keep nonzero weight rather than hitting a hard
// cliff.
func Score(w Weights, candidates []Candidate) []Scored {
	if len(candidates) == 0 {
		return nil
	}

	minScore, maxScore := candidates[0].IndexScore, candidates[0].IndexScore
	for _, c := range candidates[1:] {
		if c.IndexScore < minScore {
			minScore = c.IndexScore
		}
		if c.IndexScore > maxScore {
			maxScore = c.IndexScore
		}
	}
	spread := maxScore - minScore

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		recency := math.Exp(-w.Lambda * float64(c.AgeInTurns))

		// With a single candidate or uniform scores, relevance carries no
		// ordering information; every candidate gets full credit.
		relevance := 1.0
		if spread > 0 {
			relevance = (c.IndexScore - minScore) / spread
		}

		criticality := 0.0
		if c.Critical {
			criticality = 1.0
		}

		out[i] = Scored{
			Candidate:    c,
			Significance: w.Recency*recency + w.Relevance*relevance + w.Criticality*criticality,
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Significance > out[j].Significance
	})
	return out
}
