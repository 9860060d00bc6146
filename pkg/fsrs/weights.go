package fsrs

import "fmt"

// Weights are the 17 tunable parameters of the memory model.
//
//	w[0..3]   initial stability S₀(G) per rating
//	w[4..5]   initial difficulty D₀(G)
//	w[6..7]   difficulty update and mean reversion
//	w[8..10]  recall stability growth
//	w[11..14] forget stability
//	w[15]     hard penalty
//	w[16]     easy bonus
type Weights [17]float64

// DefaultWeights are the published FSRS-4.5 defaults, fitted on the
// open Anki review corpus. They satisfy the monotonicity invariants
// required of any weight set: S₀ increasing and D₀ decreasing in rating.
var DefaultWeights = Weights{
	0.4872, 1.4003, 3.7145, 13.8206, // w[0..3]  initial stability
	5.1618, 1.2298, // w[4..5]  initial difficulty
	0.8975, 0.031, // w[6..7]  difficulty update
	1.6474, 0.1367, 1.0461, // w[8..10] recall stability
	2.1072, 0.0793, 0.3246, 1.587, // w[11..14] forget stability
	0.2272, // w[15] hard penalty
	2.8755, // w[16] easy bonus
}

// weightLowerBounds is the minimum allowed value for each weight.
var weightLowerBounds = Weights{
	0.001, 0.001, 0.001, 0.001,
	1.0, 0.001,
	0.001, 0.001,
	0.0, 0.0, 0.001,
	0.001, 0.001, 0.001, 0.0,
	0.0,
	1.0,
}

// weightUpperBounds is the maximum allowed value for each weight.
var weightUpperBounds = Weights{
	100.0, 100.0, 100.0, 100.0,
	10.0, 5.0,
	5.0, 0.75,
	4.5, 0.8, 3.5,
	5.0, 0.25, 0.9, 4.0,
	1.0,
	6.0,
}

// Validate checks that every weight is within its documented bounds and
// that the initial stability and difficulty tables are monotone in rating.
func (w Weights) Validate() error {
	for i := range w {
		if w[i] < weightLowerBounds[i] || w[i] > weightUpperBounds[i] {
			return fmt.Errorf("%w: w[%d] = %f, bounds [%f, %f]",
				ErrInvalidWeights, i, w[i], weightLowerBounds[i], weightUpperBounds[i])
		}
	}
	// S₀(Again) < S₀(Hard) < S₀(Good) < S₀(Easy)
	for i := 0; i < 3; i++ {
		if w[i] >= w[i+1] {
			return fmt.Errorf("%w: initial stability not increasing at w[%d]", ErrInvalidWeights, i)
		}
	}
	return nil
}
