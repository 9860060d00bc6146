// Package fsrs implements the memory model behind recite's review
// scheduling: the forgetting curve, difficulty/stability update rules,
// and the interval computation with deterministic fuzz.
//
// The model maintains two numbers per concept: difficulty D in [1, 10]
// and stability S in days. Retrievability R, the probability of recall
// after t days, follows the power curve
//
//	R(t, S) = (1 + t/(9S))^-1
//
// so R = 0.9 exactly when t = S. All update rules are pure functions;
// the Scheduler in pkg/review owns state and orchestration.
package fsrs
