package review

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetgreg/recite/pkg/fsrs"
	"github.com/dotsetgreg/recite/pkg/history"
	"github.com/dotsetgreg/recite/pkg/schedule"
)

// testWeights pins the Good initial stability at 2.5 days so interval
// arithmetic in the tests is readable.
func testWeights() fsrs.Weights {
	w := fsrs.DefaultWeights
	w[2] = 2.5
	return w
}

type fixture struct {
	sched *Scheduler
	store *schedule.Store
	log   *history.Log
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := schedule.Open(filepath.Join(dir, "schedule.json"), filepath.Join(dir, "backups"), 3)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	model, err := fsrs.NewModel(testWeights())
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	sched, err := NewScheduler(model, store, log, opts)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return &fixture{sched: sched, store: store, log: log}
}

// noFuzz disables interval fuzzing so due dates are exact.
var noFuzz = Options{FuzzFraction: -1}

func TestInitializeCreatesNewCard(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	now := time.Now().UTC()

	ms, err := f.sched.Initialize(ctx, "math/chain-rule", now)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if ms.State != fsrs.New {
		t.Errorf("state = %s, want New", ms.State)
	}
	if ms.Stability <= 0 {
		t.Errorf("stability = %f, want > 0", ms.Stability)
	}
	if ms.ReviewCount != 0 || ms.LapseCount != 0 {
		t.Errorf("counts = %d/%d, want 0/0", ms.ReviewCount, ms.LapseCount)
	}
	if ms.LastReviewedAt != nil {
		t.Error("LastReviewedAt should be nil before first grade")
	}
	// Scheduling times carry millisecond precision.
	if !ms.DueAt.Equal(now.Truncate(time.Millisecond)) {
		t.Errorf("new card should be immediately due, got %v", ms.DueAt)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := f.sched.Initialize(ctx, "dup", now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := f.sched.Initialize(ctx, "dup", now); !errors.Is(err, ErrConceptExists) {
		t.Fatalf("expected ErrConceptExists, got %v", err)
	}
}

func TestGradeUnknownConcept(t *testing.T) {
	f := newFixture(t, noFuzz)
	_, err := f.sched.Grade(context.Background(), "ghost", fsrs.Good, time.Now().UTC())
	if !errors.Is(err, ErrUnknownConcept) {
		t.Fatalf("expected ErrUnknownConcept, got %v", err)
	}
}

func TestGradeInvalidRating(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := f.sched.Initialize(ctx, "c", now); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	for _, r := range []fsrs.Rating{0, 5, -2} {
		if _, err := f.sched.Grade(ctx, "c", r, now); !errors.Is(err, fsrs.ErrInvalidRating) {
			t.Fatalf("rating %d: expected ErrInvalidRating, got %v", int(r), err)
		}
	}

	// Rejected grades must not advance state.
	states, err := f.store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if states["c"].ReviewCount != 0 {
		t.Errorf("review count advanced to %d on rejected grade", states["c"].ReviewCount)
	}
}

// A brand-new concept graded Good with S0(Good) = 2.5 and retention 0.9
// schedules the next review 2.5 days out: I = S * 9 * (1/0.9 - 1) = S.
func TestFirstGoodGradeSchedulesAtStability(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := f.sched.Initialize(ctx, "math/chain-rule", t0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	ms, err := f.sched.Grade(ctx, "math/chain-rule", fsrs.Good, t0)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}

	if ms.State != fsrs.Review {
		t.Errorf("state = %s, want Review", ms.State)
	}
	if math.Abs(ms.Stability-2.5) > 1e-9 {
		t.Errorf("stability = %f, want 2.5", ms.Stability)
	}
	wantDue := t0.Add(time.Duration(2.5 * 24 * float64(time.Hour)))
	if d := ms.DueAt.Sub(wantDue); d < -time.Second || d > time.Second {
		t.Errorf("due = %v, want %v", ms.DueAt, wantDue)
	}
	if ms.ReviewCount != 1 {
		t.Errorf("review count = %d, want 1", ms.ReviewCount)
	}
}

// Grading Again at the due date lapses the concept: Relearning, one
// lapse, and a stability strictly below the pre-lapse value.
func TestLapseAtDueDate(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := f.sched.Initialize(ctx, "math/chain-rule", t0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	first, err := f.sched.Grade(ctx, "math/chain-rule", fsrs.Good, t0)
	if err != nil {
		t.Fatalf("first grade: %v", err)
	}

	lapsed, err := f.sched.Grade(ctx, "math/chain-rule", fsrs.Again, first.DueAt)
	if err != nil {
		t.Fatalf("lapse grade: %v", err)
	}
	if lapsed.State != fsrs.Relearning {
		t.Errorf("state = %s, want Relearning", lapsed.State)
	}
	if lapsed.LapseCount != 1 {
		t.Errorf("lapse count = %d, want 1", lapsed.LapseCount)
	}
	if lapsed.Stability >= first.Stability {
		t.Errorf("post-lapse stability %f not below pre-lapse %f", lapsed.Stability, first.Stability)
	}
}

func TestStateMachineTransitions(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	grade := func(r fsrs.Rating) schedule.MemoryState {
		t.Helper()
		ms, err := f.sched.Grade(ctx, "c", r, now)
		if err != nil {
			t.Fatalf("grade %s: %v", r, err)
		}
		now = ms.DueAt
		return ms
	}

	if _, err := f.sched.Initialize(ctx, "c", now); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// New --Again--> Relearning
	if ms := grade(fsrs.Again); ms.State != fsrs.Relearning {
		t.Fatalf("New+Again = %s, want Relearning", ms.State)
	}
	// Relearning --Again--> Relearning
	if ms := grade(fsrs.Again); ms.State != fsrs.Relearning {
		t.Fatalf("Relearning+Again = %s, want Relearning", ms.State)
	}
	// Relearning --Good--> Review (graduation)
	if ms := grade(fsrs.Good); ms.State != fsrs.Review {
		t.Fatalf("Relearning+Good = %s, want Review", ms.State)
	}
	// Review --Easy--> Review
	if ms := grade(fsrs.Easy); ms.State != fsrs.Review {
		t.Fatalf("Review+Easy = %s, want Review", ms.State)
	}
	// Review --Again--> Relearning
	if ms := grade(fsrs.Again); ms.State != fsrs.Relearning {
		t.Fatalf("Review+Again = %s, want Relearning", ms.State)
	}
}

func TestDueAlwaysStrictlyFuture(t *testing.T) {
	f := newFixture(t, Options{}) // fuzz enabled
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := f.sched.Initialize(ctx, "c", now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for _, r := range []fsrs.Rating{fsrs.Again, fsrs.Again, fsrs.Hard, fsrs.Good, fsrs.Again, fsrs.Easy} {
		ms, err := f.sched.Grade(ctx, "c", r, now)
		if err != nil {
			t.Fatalf("grade %s: %v", r, err)
		}
		if !ms.DueAt.After(now) {
			t.Fatalf("due %v not strictly after now %v", ms.DueAt, now)
		}
		now = ms.DueAt
	}
}

func TestLapseCountTracksAgainRatings(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := f.sched.Initialize(ctx, "c", now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	seq := []fsrs.Rating{fsrs.Good, fsrs.Again, fsrs.Good, fsrs.Again, fsrs.Again, fsrs.Easy}
	lapses := 0
	var ms schedule.MemoryState
	var err error
	for _, r := range seq {
		ms, err = f.sched.Grade(ctx, "c", r, now)
		if err != nil {
			t.Fatalf("grade: %v", err)
		}
		if r == fsrs.Again {
			lapses++
		}
		now = ms.DueAt
	}
	if ms.LapseCount != lapses {
		t.Errorf("lapse count = %d, want %d", ms.LapseCount, lapses)
	}
	if ms.ReviewCount != len(seq) {
		t.Errorf("review count = %d, want %d", ms.ReviewCount, len(seq))
	}
}

func TestClockRegressionClampsAndProceeds(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := f.sched.Initialize(ctx, "c", t0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := f.sched.Grade(ctx, "c", fsrs.Good, t0); err != nil {
		t.Fatalf("grade: %v", err)
	}

	// Wall clock moved backward; grading still succeeds.
	ms, err := f.sched.Grade(ctx, "c", fsrs.Good, t0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("grade with clock regression: %v", err)
	}
	if ms.ReviewCount != 2 {
		t.Errorf("review count = %d, want 2", ms.ReviewCount)
	}
}

func TestGradeAppendsHistory(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := f.sched.Initialize(ctx, "c", now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	first, err := f.sched.Grade(ctx, "c", fsrs.Good, now)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}

	entries, err := f.log.Query(ctx, "c", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Rating != fsrs.Good || e.StateBefore != fsrs.New || e.StateAfter != fsrs.Review {
		t.Errorf("entry = %+v", e)
	}
	if e.ElapsedDays != 0 {
		t.Errorf("first review elapsed = %f, want 0", e.ElapsedDays)
	}
	if e.StabilityAfter != first.Stability {
		t.Errorf("logged stability %f != state stability %f", e.StabilityAfter, first.Stability)
	}
	if e.SessionID != f.sched.SessionID() {
		t.Errorf("session id %q != scheduler session %q", e.SessionID, f.sched.SessionID())
	}
}

func TestHistoryFailureRollsBackSchedule(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := f.sched.Initialize(ctx, "c", now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := f.sched.Grade(ctx, "c", fsrs.Good, now); err != nil {
		t.Fatalf("grade: %v", err)
	}

	// A closed history log makes the append fail mid-grade.
	if err := f.log.Close(); err != nil {
		t.Fatalf("close log: %v", err)
	}
	if _, err := f.sched.Grade(ctx, "c", fsrs.Good, now.Add(72*time.Hour)); err == nil {
		t.Fatal("expected grade to fail with closed history log")
	}

	states, err := f.store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if states["c"].ReviewCount != 1 {
		t.Errorf("review count = %d after failed grade, want 1 (rolled back)", states["c"].ReviewCount)
	}
}

func TestPreviewDoesNotPersist(t *testing.T) {
	f := newFixture(t, noFuzz)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := f.sched.Initialize(ctx, "c", now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	preview, err := f.sched.Preview(ctx, "c", now)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(preview) != 4 {
		t.Fatalf("expected 4 preview outcomes, got %d", len(preview))
	}
	if !preview[fsrs.Easy].DueAt.After(preview[fsrs.Again].DueAt) {
		t.Error("Easy should schedule further out than Again")
	}

	states, err := f.store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if states["c"].ReviewCount != 0 {
		t.Error("preview mutated persisted state")
	}
	if n, _ := f.log.Count(ctx); n != 0 {
		t.Errorf("preview wrote %d history entries", n)
	}
}

// Replaying the full history reproduces the live state exactly,
// including fuzzed due dates.
func TestReplayReproducesState(t *testing.T) {
	f := newFixture(t, Options{}) // fuzz enabled
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := f.sched.Initialize(ctx, "c", now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var live schedule.MemoryState
	var err error
	for _, r := range []fsrs.Rating{fsrs.Good, fsrs.Again, fsrs.Hard, fsrs.Good, fsrs.Easy, fsrs.Good} {
		live, err = f.sched.Grade(ctx, "c", r, now)
		if err != nil {
			t.Fatalf("grade: %v", err)
		}
		now = live.DueAt
	}

	replayed, err := f.sched.Replay(ctx, "c")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if math.Abs(replayed.Difficulty-live.Difficulty) > 1e-9 {
		t.Errorf("difficulty: replayed %f, live %f", replayed.Difficulty, live.Difficulty)
	}
	if math.Abs(replayed.Stability-live.Stability) > 1e-9 {
		t.Errorf("stability: replayed %f, live %f", replayed.Stability, live.Stability)
	}
	if !replayed.DueAt.Equal(live.DueAt) {
		t.Errorf("due: replayed %v, live %v", replayed.DueAt, live.DueAt)
	}
	if replayed.ReviewCount != live.ReviewCount || replayed.LapseCount != live.LapseCount {
		t.Errorf("counts: replayed %d/%d, live %d/%d",
			replayed.ReviewCount, replayed.LapseCount, live.ReviewCount, live.LapseCount)
	}
	if replayed.State != live.State {
		t.Errorf("state: replayed %s, live %s", replayed.State, live.State)
	}
}

func TestReplayUnaffectedByClockPrecision(t *testing.T) {
	f := newFixture(t, Options{}) // fuzz enabled
	ctx := context.Background()
	// Wall clocks are never round: feed grading times with nanosecond
	// tails and require the log, which stores milliseconds, to still
	// reproduce the live state bit for bit.
	now := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)

	if _, err := f.sched.Initialize(ctx, "c", now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var live schedule.MemoryState
	var err error
	for _, r := range []fsrs.Rating{fsrs.Good, fsrs.Again, fsrs.Good} {
		live, err = f.sched.Grade(ctx, "c", r, now)
		if err != nil {
			t.Fatalf("grade: %v", err)
		}
		now = live.DueAt.Add(999999 * time.Nanosecond)
	}

	replayed, err := f.sched.Replay(ctx, "c")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replayed.Equal(live) {
		t.Errorf("replayed state diverged:\nreplayed %+v\nlive     %+v", replayed, live)
	}
}

func TestReplayWithoutHistory(t *testing.T) {
	f := newFixture(t, noFuzz)
	if _, err := f.sched.Replay(context.Background(), "ghost"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}
