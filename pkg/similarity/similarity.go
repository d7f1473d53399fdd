package similarity

import (
	"errors"
	"fmt"
	"math"

	"github.com/OFFIS-RIT/regnet/pkg/common"
)

// Default classification thresholds.
const (
	DefaultSimilarityThreshold = 0.75
	DefaultOverlapThreshold    = 0.80
	DefaultRedundancyThreshold = 0.85
)

var ErrInvalidThresholds = errors.New("invalid similarity thresholds")

// Thresholds are the lower bounds of the SIMILAR, OVERLAP and REDUNDANT bands.
// They must satisfy 0 <= Similarity <= Overlap <= Redundancy <= 1.
type Thresholds struct {
	Similarity float64 `json:"similarity"`
	Overlap    float64 `json:"overlap"`
	Redundancy float64 `json:"redundancy"`
}

// DefaultThresholds returns 0.75 / 0.80 / 0.85.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Similarity: DefaultSimilarityThreshold,
		Overlap:    DefaultOverlapThreshold,
		Redundancy: DefaultRedundancyThreshold,
	}
}

// Validate checks the ordering and range of the thresholds.
func (t Thresholds) Validate() error {
	for _, v := range []float64{t.Similarity, t.Overlap, t.Redundancy} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %v outside [0,1]", ErrInvalidThresholds, v)
		}
	}
	if t.Similarity > t.Overlap || t.Overlap > t.Redundancy {
		return fmt.Errorf(
			"%w: need similarity (%v) <= overlap (%v) <= redundancy (%v)",
			ErrInvalidThresholds, t.Similarity, t.Overlap, t.Redundancy,
		)
	}
	return nil
}

// Classify maps a score onto its band. Bands are closed at the lower bound.
func (t Thresholds) Classify(score float64) common.SimilarityClass {
	switch {
	case score >= t.Redundancy:
		return common.SimilarityRedundant
	case score >= t.Overlap:
		return common.SimilarityOverlap
	case score >= t.Similarity:
		return common.SimilaritySimilar
	default:
		return common.SimilarityNone
	}
}

// Compute returns the cosine similarity of a and b clipped into [0,1].
// Mismatched lengths, empty vectors and zero norms yield 0.
func Compute(a, b common.Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / math.Sqrt(na*nb)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
