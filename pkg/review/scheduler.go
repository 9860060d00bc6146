// Package review implements the spaced-repetition scheduler: it turns a
// recall rating into an updated memory state, a next due date, and an
// immutable history entry, with the schedule commit as the transaction
// of record.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dotsetgreg/recite/pkg/fsrs"
	"github.com/dotsetgreg/recite/pkg/history"
	"github.com/dotsetgreg/recite/pkg/logger"
	"github.com/dotsetgreg/recite/pkg/schedule"
)

// Options configures a Scheduler. Zero values take defaults.
type Options struct {
	DesiredRetention float64 // zero → 0.9
	MinIntervalDays  float64 // zero → 1
	MaxIntervalDays  float64 // zero → 36500
	FuzzFraction     float64 // interval perturbation; negative → disabled
}

// Scheduler orchestrates grading events end to end. One instance serves
// one review session; entries it appends share a session ID.
type Scheduler struct {
	model     fsrs.Model
	store     *schedule.Store
	log       *history.Log
	opts      Options
	sessionID string
}

// NewScheduler creates a Scheduler over the given model, store and log.
func NewScheduler(model fsrs.Model, store *schedule.Store, log *history.Log, opts Options) (*Scheduler, error) {
	if opts.DesiredRetention == 0 {
		opts.DesiredRetention = 0.9
	}
	if opts.DesiredRetention < 0 || opts.DesiredRetention >= 1 {
		return nil, fmt.Errorf("review: desired retention %f out of (0, 1)", opts.DesiredRetention)
	}
	if opts.MinIntervalDays == 0 {
		opts.MinIntervalDays = 1
	}
	if opts.MaxIntervalDays == 0 {
		opts.MaxIntervalDays = 36500
	}
	if opts.MinIntervalDays < 0 || opts.MaxIntervalDays < opts.MinIntervalDays {
		return nil, fmt.Errorf("review: interval bounds [%f, %f] invalid", opts.MinIntervalDays, opts.MaxIntervalDays)
	}
	if opts.FuzzFraction < 0 {
		opts.FuzzFraction = 0
	}
	return &Scheduler{
		model:     model,
		store:     store,
		log:       log,
		opts:      opts,
		sessionID: uuid.NewString(),
	}, nil
}

// SessionID identifies this scheduler's review session in the history log.
func (s *Scheduler) SessionID() string {
	return s.sessionID
}

// Initialize registers a concept as a New card, immediately due. The
// concept ID is opaque; the knowledge-graph layer owns its meaning.
func (s *Scheduler) Initialize(ctx context.Context, conceptID string, now time.Time) (schedule.MemoryState, error) {
	if conceptID == "" {
		return schedule.MemoryState{}, fmt.Errorf("review: empty concept id")
	}
	now = now.Truncate(time.Millisecond)
	if err := s.store.Acquire(); err != nil {
		return schedule.MemoryState{}, err
	}
	defer s.store.Release()

	states, err := s.store.Load()
	if err != nil {
		return schedule.MemoryState{}, err
	}
	if _, ok := states[conceptID]; ok {
		return schedule.MemoryState{}, fmt.Errorf("%w: %s", ErrConceptExists, conceptID)
	}

	// Neutral priors; the first grade replaces them with the initial
	// tables for the actual rating.
	ms := schedule.MemoryState{
		ConceptID:  conceptID,
		Difficulty: s.model.InitialDifficulty(fsrs.Good),
		Stability:  s.model.InitialStability(fsrs.Good),
		DueAt:      now,
		State:      fsrs.New,
	}
	states[conceptID] = ms
	if err := s.store.Commit(states); err != nil {
		return schedule.MemoryState{}, err
	}
	logger.InfoCF("review", "Initialized concept", map[string]any{"concept": conceptID})
	return ms, nil
}

// Grade applies one recall rating to a concept and persists the result.
// It returns the updated state, whose DueAt is the next review time,
// always strictly after now.
//
// The operation is atomic from the caller's perspective: the schedule
// commit and the history append either both land or the previous
// schedule state is restored and the grade reported failed.
func (s *Scheduler) Grade(ctx context.Context, conceptID string, rating fsrs.Rating, now time.Time) (schedule.MemoryState, error) {
	if !rating.IsValid() {
		return schedule.MemoryState{}, fmt.Errorf("%w: %d", fsrs.ErrInvalidRating, int(rating))
	}
	// History timestamps carry millisecond precision; grading at that
	// same precision keeps a replayed state identical to the live one.
	now = now.Truncate(time.Millisecond)
	if err := s.store.Acquire(); err != nil {
		return schedule.MemoryState{}, err
	}
	defer s.store.Release()

	states, err := s.store.Load()
	if err != nil {
		return schedule.MemoryState{}, err
	}
	prev, ok := states[conceptID]
	if !ok {
		return schedule.MemoryState{}, fmt.Errorf("%w: %s (run initialize first)", ErrUnknownConcept, conceptID)
	}

	next, elapsed := s.apply(prev, rating, now)

	states[conceptID] = next
	if err := s.store.Commit(states); err != nil {
		return schedule.MemoryState{}, fmt.Errorf("persist grade: %w", err)
	}

	entry := history.Entry{
		ConceptID:        conceptID,
		SessionID:        s.sessionID,
		Rating:           rating,
		ReviewedAt:       now,
		ElapsedDays:      elapsed,
		StateBefore:      prev.State,
		StateAfter:       next.State,
		DifficultyBefore: prev.Difficulty,
		StabilityBefore:  prev.Stability,
		DifficultyAfter:  next.Difficulty,
		StabilityAfter:   next.Stability,
	}
	if _, err := s.log.Append(ctx, entry); err != nil {
		// Roll the schedule back so state never advances without its
		// audit entry; the user re-grades.
		states[conceptID] = prev
		if rbErr := s.store.Commit(states); rbErr != nil {
			logger.ErrorCF("review", "Rollback after history failure also failed", map[string]any{
				"concept": conceptID,
				"error":   rbErr.Error(),
			})
		}
		return schedule.MemoryState{}, fmt.Errorf("record grade: %w", err)
	}

	logger.DebugCF("review", "Graded concept", map[string]any{
		"concept":   conceptID,
		"rating":    rating.String(),
		"stability": next.Stability,
		"due":       next.DueAt.Format(time.RFC3339),
	})
	return next, nil
}

// apply is the pure scheduling computation for one grading event.
func (s *Scheduler) apply(prev schedule.MemoryState, rating fsrs.Rating, now time.Time) (schedule.MemoryState, float64) {
	next := prev.Clone()

	var elapsed float64
	if prev.LastReviewedAt != nil {
		elapsed = now.Sub(*prev.LastReviewedAt).Hours() / 24.0
		if elapsed < 0 {
			logger.WarnCF("review", "Clock regression, clamping elapsed time to zero", map[string]any{
				"concept":       prev.ConceptID,
				"now":           now.Format(time.RFC3339),
				"last_reviewed": prev.LastReviewedAt.Format(time.RFC3339),
			})
			elapsed = 0
		}
	}

	if prev.State == fsrs.New {
		next.Difficulty = s.model.InitialDifficulty(rating)
		next.Stability = s.model.InitialStability(rating)
	} else {
		retr := s.model.Retrievability(prev.Stability, elapsed)
		next.Difficulty = s.model.NextDifficulty(prev.Difficulty, rating)
		if rating == fsrs.Again {
			next.Stability = s.model.NextStabilityOnFailure(prev.Difficulty, prev.Stability, retr)
		} else {
			next.Stability = s.model.NextStabilityOnSuccess(prev.Difficulty, prev.Stability, retr, rating)
		}
	}

	if rating == fsrs.Again {
		next.State = fsrs.Relearning
		next.LapseCount++
	} else {
		next.State = fsrs.Review
	}
	next.ReviewCount++
	reviewedAt := now
	next.LastReviewedAt = &reviewedAt

	interval := s.model.Interval(next.Stability, s.opts.DesiredRetention)
	interval = clamp(interval, s.opts.MinIntervalDays, s.opts.MaxIntervalDays)
	interval = fsrs.Fuzz(interval, prev.ConceptID, next.ReviewCount, s.opts.FuzzFraction)
	interval = clamp(interval, s.opts.MinIntervalDays, s.opts.MaxIntervalDays)
	next.DueAt = now.Add(time.Duration(interval * 24 * float64(time.Hour)))

	return next, elapsed
}

// Preview returns the state each possible rating would produce at now,
// without persisting anything.
func (s *Scheduler) Preview(ctx context.Context, conceptID string, now time.Time) (map[fsrs.Rating]schedule.MemoryState, error) {
	now = now.Truncate(time.Millisecond)
	states, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	ms, ok := states[conceptID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConcept, conceptID)
	}

	out := make(map[fsrs.Rating]schedule.MemoryState, 4)
	for _, r := range []fsrs.Rating{fsrs.Again, fsrs.Hard, fsrs.Good, fsrs.Easy} {
		next, _ := s.apply(ms, r, now)
		out[r] = next
	}
	return out, nil
}

// Replay rebuilds a concept's memory state from its full history,
// starting at the initial priors. Because interval fuzz is derived from
// the concept ID and review count, the result matches the live state
// exactly; it backs schedule recovery when the schedule file is lost.
func (s *Scheduler) Replay(ctx context.Context, conceptID string) (schedule.MemoryState, error) {
	entries, err := s.log.Chronological(ctx, conceptID)
	if err != nil {
		return schedule.MemoryState{}, err
	}
	if len(entries) == 0 {
		return schedule.MemoryState{}, fmt.Errorf("%w: %s", ErrNoHistory, conceptID)
	}

	ms := schedule.MemoryState{
		ConceptID:  conceptID,
		Difficulty: s.model.InitialDifficulty(fsrs.Good),
		Stability:  s.model.InitialStability(fsrs.Good),
		DueAt:      entries[0].ReviewedAt,
		State:      fsrs.New,
	}
	for _, e := range entries {
		ms, _ = s.apply(ms, e.Rating, e.ReviewedAt)
	}
	return ms, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
