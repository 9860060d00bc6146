package review

import "errors"

// Sentinel errors for the review package.
// Use errors.Is to check: errors.Is(err, review.ErrUnknownConcept)
var (
	// ErrUnknownConcept means Grade was called for a concept that was
	// never initialized. No state is mutated.
	ErrUnknownConcept = errors.New("review: unknown concept")

	// ErrConceptExists means Initialize was called for a concept already
	// in the schedule.
	ErrConceptExists = errors.New("review: concept already initialized")

	// ErrNoHistory means Replay found no log entries for the concept.
	ErrNoHistory = errors.New("review: no review history for concept")
)
