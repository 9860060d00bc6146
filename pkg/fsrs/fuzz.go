package fsrs

import (
	"hash/fnv"
	"strconv"
)

// DefaultFuzzFraction is the default interval perturbation (±5%).
const DefaultFuzzFraction = 0.05

// Fuzz perturbs an interval by up to ±fraction to keep concepts
// scheduled together from clumping onto the same due date.
//
// The perturbation is deterministic, derived from the concept ID and
// the review count, so replaying a review log reproduces identical due
// dates while successive reviews of one concept still spread out.
// Intervals under one day pass through unchanged.
func Fuzz(intervalDays float64, conceptID string, reviewCount int, fraction float64) float64 {
	if fraction <= 0 || intervalDays < 1 {
		return intervalDays
	}
	h := fnv.New64a()
	h.Write([]byte(conceptID))
	h.Write([]byte(":"))
	h.Write([]byte(strconv.Itoa(reviewCount)))
	// Map the hash onto [0, 1), then onto [1-fraction, 1+fraction].
	unit := float64(h.Sum64()%1_000_000) / 1_000_000
	factor := 1 - fraction + 2*fraction*unit
	return intervalDays * factor
}
