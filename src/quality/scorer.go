// Package quality turns upvote/downvote counts into a quality score and an
// invalidation verdict.
//
// Two formulas are supported and selected by configuration:
//
//   - ratio:  (up-down)/(up+down), in [-1, 1]
//   - wilson: lower bound of the 95% Wilson score interval, in [0, 1]
//
// Both are undefined with zero votes. Thresholds are applied on each
// formula's own scale and are not comparable across formulas.
package quality

import (
	"fmt"
	"math"
)

type Formula string

const (
	FormulaRatio  Formula = "ratio"
	FormulaWilson Formula = "wilson"
)

const (
	wilsonZ = 1.96

	DefaultThreshold      = 0.3
	DefaultMinVotesRatio  = 3
	DefaultMinVotesWilson = 5
)

// ParseFormula accepts "ratio" or "wilson"; empty means wilson.
func ParseFormula(s string) (Formula, error) {
	switch Formula(s) {
	case "", FormulaWilson:
		return FormulaWilson, nil
	case FormulaRatio:
		return FormulaRatio, nil
	}
	return "", fmt.Errorf("unknown quality formula %q", s)
}

type Scorer struct {
	formula   Formula
	minVotes  int
	threshold float64
}

// NewScorer builds a scorer. minVotes <= 0 selects the formula default.
func NewScorer(formula Formula, minVotes int, threshold float64) *Scorer {
	if formula == "" {
		formula = FormulaWilson
	}
	if minVotes <= 0 {
		minVotes = DefaultMinVotesWilson
		if formula == FormulaRatio {
			minVotes = DefaultMinVotesRatio
		}
	}
	return &Scorer{formula: formula, minVotes: minVotes, threshold: threshold}
}

func (s *Scorer) Formula() Formula { return s.formula }
func (s *Scorer) MinVotes() int { return s.minVotes }
func (s *Scorer) Threshold() float64 { return s.threshold }

// Score returns nil when there are no votes.
func (s *Scorer) Score(up, down int) *float64 {
	var v float64
	var ok bool
	switch s.formula {
	case FormulaRatio:
		v, ok = SimpleRatio(up, down)
	default:
		v, ok = WilsonLowerBound(up, down)
	}
	if !ok {
		return nil
	}
	return &v
}

// ShouldInvalidate is false under the minimum vote count or without a score.
func (s *Scorer) ShouldInvalidate(score *float64, votes int) bool {
	if score == nil || votes < s.minVotes {
		return false
	}
	return *score < s.threshold
}

// Normalize maps a score of this scorer's formula onto [0, 1].
func (s *Scorer) Normalize(score float64) float64 {
	if s.formula == FormulaRatio {
		return (score + 1) / 2
	}
	return score
}

// SimpleRatio is (up-down)/(up+down).
func SimpleRatio(up, down int) (float64, bool) {
	n := up + down
	if n <= 0 {
		return 0, false
	}
	return float64(up-down) / float64(n), true
}

// WilsonLowerBound is the lower bound of the 95% Wilson score interval for
// the upvote proportion, clamped to [0, 1].
func WilsonLowerBound(up, down int) (float64, bool) {
	n := float64(up + down)
	if n <= 0 {
		return 0, false
	}
	p := float64(up) / n
	z2 := wilsonZ * wilsonZ

	centre := p + z2/(2*n)
	margin := wilsonZ * math.Sqrt((p*(1-p)+z2/(4*n))/n)
	lb := (centre - margin) / (1 + z2/n)

	return math.Max(0, math.Min(1, lb)), true
}
