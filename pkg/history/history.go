// Package history is the append-only audit log of grading events. Every
// grade writes one immutable entry; the log is the source of truth for
// reconstructing scheduling state and for struggle detection.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/recite/pkg/fsrs"
)

// Entry records a single grading event. Entries are immutable once
// appended; StateBefore/StateAfter snapshot the memory model around the
// update so any concept's state can be replayed from its log alone.
type Entry struct {
	ID               string     // ULID, assigned on append
	ConceptID        string
	SessionID        string // groups entries graded in one review session
	Rating           fsrs.Rating
	ReviewedAt       time.Time
	ElapsedDays      float64 // days since previous review, 0 for the first
	StateBefore      fsrs.State
	StateAfter       fsrs.State
	DifficultyBefore float64
	StabilityBefore  float64
	DifficultyAfter  float64
	StabilityAfter   float64
}

// Log is the SQLite-backed review history at a fixed path.
type Log struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// Open creates/opens the history database at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// Single-process tool. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Log{db: db, entropy: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := l.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Log) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS review_log (
			id TEXT PRIMARY KEY,
			concept_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			rating INTEGER NOT NULL,
			reviewed_at_ms INTEGER NOT NULL,
			elapsed_days REAL NOT NULL,
			state_before TEXT NOT NULL,
			state_after TEXT NOT NULL,
			difficulty_before REAL NOT NULL,
			stability_before REAL NOT NULL,
			difficulty_after REAL NOT NULL,
			stability_after REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS review_log_concept_idx ON review_log(concept_id, reviewed_at_ms DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("init history schema: %w", err)
		}
	}
	return nil
}

func (l *Log) newID(at time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), l.entropy).String()
}

// Append adds one entry to the log and returns it with its assigned ID.
// Prior entries are never mutated or removed.
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ConceptID == "" {
		return Entry{}, fmt.Errorf("history: empty concept id")
	}
	if !e.Rating.IsValid() {
		return Entry{}, fmt.Errorf("%w: %d", fsrs.ErrInvalidRating, int(e.Rating))
	}
	if e.ID == "" {
		e.ID = l.newID(e.ReviewedAt)
	}

	_, err := l.db.ExecContext(ctx, `INSERT INTO review_log
		(id, concept_id, session_id, rating, reviewed_at_ms, elapsed_days,
		 state_before, state_after, difficulty_before, stability_before,
		 difficulty_after, stability_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConceptID, e.SessionID, int(e.Rating), e.ReviewedAt.UnixMilli(),
		e.ElapsedDays, e.StateBefore.String(), e.StateAfter.String(),
		e.DifficultyBefore, e.StabilityBefore, e.DifficultyAfter, e.StabilityAfter)
	if err != nil {
		return Entry{}, fmt.Errorf("append review log: %w", err)
	}
	return e, nil
}

const entryColumns = `id, concept_id, session_id, rating, reviewed_at_ms, elapsed_days,
	state_before, state_after, difficulty_before, stability_before,
	difficulty_after, stability_after`

// Query returns up to limit entries for a concept, most recent first
// (limit <= 0 means all). This is the window struggle detection runs on.
func (l *Log) Query(ctx context.Context, conceptID string, limit int) ([]Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM review_log
		WHERE concept_id = ? ORDER BY reviewed_at_ms DESC, id DESC`
	args := []any{conceptID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return l.queryEntries(ctx, q, args...)
}

// Chronological returns every entry for a concept oldest first, the
// order needed to replay its state from the initial priors.
func (l *Log) Chronological(ctx context.Context, conceptID string) ([]Entry, error) {
	return l.queryEntries(ctx, `SELECT `+entryColumns+` FROM review_log
		WHERE concept_id = ? ORDER BY reviewed_at_ms ASC, id ASC`, conceptID)
}

func (l *Log) queryEntries(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query review log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var rating int
		var reviewedMS int64
		var stateBefore, stateAfter string
		if err := rows.Scan(&e.ID, &e.ConceptID, &e.SessionID, &rating, &reviewedMS,
			&e.ElapsedDays, &stateBefore, &stateAfter,
			&e.DifficultyBefore, &e.StabilityBefore,
			&e.DifficultyAfter, &e.StabilityAfter); err != nil {
			return nil, fmt.Errorf("scan review log: %w", err)
		}
		e.Rating = fsrs.Rating(rating)
		e.ReviewedAt = time.UnixMilli(reviewedMS).UTC()
		if err := e.StateBefore.UnmarshalText([]byte(stateBefore)); err != nil {
			return nil, err
		}
		if err := e.StateAfter.UnmarshalText([]byte(stateAfter)); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the total number of logged gradings.
func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count review log: %w", err)
	}
	return n, nil
}
