// Package coefficient computes the expert competence coefficient K from a
// survey's self-assessed influence ratings and subject knowledge score.
//
// K = round(sum(weight_i * value_i) * 100 / 3, 2), where the six influence
// sources score high=3, medium=2, low=1 and subject knowledge contributes
// score/10 with weight 0.10. The result lies in [30.00, 93.33].
package coefficient

import (
	"errors"
	"math"
	"strings"
)

type Rating string

const (
	High   Rating = "high"
	Medium Rating = "medium"
	Low    Rating = "low"
)

// ErrUnconvertible is returned when the subject knowledge score is absent or not a number.
var ErrUnconvertible = errors.New("coefficient: answers cannot be converted to a score")

const (
	weightAnalysis         = 0.20
	weightExperience       = 0.15
	weightNationalAuthors  = 0.10
	weightForeignAuthors   = 0.15
	weightForeignKnowledge = 0.20
	weightIntuition        = 0.10
	weightSubject          = 0.10

	MaxSubjectKnowledge = 10.0
)

// ParseRating accepts the canonical words, the letters A/M/B and their Spanish names.
// Anything else yields the empty rating, which scores as medium.
func ParseRating(value string) Rating {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "A", "HIGH", "ALTO", "ALTA":
		return High
	case "M", "MEDIUM", "MEDIO", "MEDIA":
		return Medium
	case "B", "LOW", "BAJO", "BAJA":
		return Low
	default:
		return ""
	}
}

// Normalize is ParseRating with the medium default applied.
func Normalize(value string) Rating {
	if r := ParseRating(value); r != "" {
		return r
	}
	return Medium
}

func (r Rating) score() float64 {
	switch r {
	case High:
		return 3
	case Low:
		return 1
	default:
		return 2
	}
}

// Letter returns the legacy single-letter code used by survey forms.
func (r Rating) Letter() string {
	switch r {
	case High:
		return "A"
	case Low:
		return "B"
	default:
		return "M"
	}
}

type Answers struct {
	Analysis         Rating
	Experience       Rating
	NationalAuthors  Rating
	ForeignAuthors   Rating
	ForeignKnowledge Rating
	Intuition        Rating
	// SubjectKnowledge is nil when the answer could not be read as a number.
	SubjectKnowledge *float64
}

// Compute returns K rounded to two decimals. Subject knowledge is clamped to [0, 10].
func Compute(a Answers) (float64, error) {
	if a.SubjectKnowledge == nil || math.IsNaN(*a.SubjectKnowledge) {
		return 0, ErrUnconvertible
	}
	knowledge := math.Max(0, math.Min(MaxSubjectKnowledge, *a.SubjectKnowledge))

	sum := weightAnalysis*a.Analysis.score() +
		weightExperience*a.Experience.score() +
		weightNationalAuthors*a.NationalAuthors.score() +
		weightForeignAuthors*a.ForeignAuthors.score() +
		weightForeignKnowledge*a.ForeignKnowledge.score() +
		weightIntuition*a.Intuition.score() +
		weightSubject*(knowledge/MaxSubjectKnowledge)

	return round2(sum * 100 / 3), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Result is the outcome of Calculator.Evaluate.
type Result struct {
	K float64
	// FellBack is set when K was resolved to zero because the answers were unconvertible.
	FellBack bool
	Cause    error
}

// Calculator wraps Compute with the configured failure policy.
type Calculator struct {
	FailSoft bool
}

func (c Calculator) Evaluate(a Answers) (Result, error) {
	k, err := Compute(a)
	if err == nil {
		return Result{K: k}, nil
	}
	if c.FailSoft {
		return Result{K: 0, FellBack: true, Cause: err}, nil
	}
	return Result{}, err
}
