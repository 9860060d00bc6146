package fsrs

import "errors"

// Sentinel errors for the fsrs package.
// Use errors.Is to check: errors.Is(err, fsrs.ErrInvalidRating)
var (
	ErrInvalidRating  = errors.New("fsrs: invalid rating")
	ErrInvalidWeights = errors.New("fsrs: weights out of bounds")
)
