// Package schedule persists the per-concept memory states that drive
// review scheduling: a schema-versioned JSON collection with atomic
// commits, timestamped backups, corruption recovery and an advisory
// lock for accidental concurrent invocations. It also answers the
// read-only "what is due" query used to build review sessions.
package schedule

import (
	"time"

	"github.com/dotsetgreg/recite/pkg/fsrs"
)

// MemoryState is the scheduling record for one concept. The concept ID
// is owned by the knowledge-graph layer and treated as an opaque key;
// only the review scheduler mutates the rest.
type MemoryState struct {
	ConceptID      string     `json:"concept_id"`
	Difficulty     float64    `json:"difficulty"`
	Stability      float64    `json:"stability"`
	DueAt          time.Time  `json:"due_at"`
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"` // nil until first grading
	ReviewCount    int        `json:"review_count"`
	LapseCount     int        `json:"lapse_count"`
	State          fsrs.State `json:"state"`
}

// Retrievability returns the estimated recall probability at now,
// or 1 for concepts that were never reviewed.
func (ms MemoryState) Retrievability(m fsrs.Model, now time.Time) float64 {
	if ms.LastReviewedAt == nil {
		return 1
	}
	elapsed := now.Sub(*ms.LastReviewedAt).Hours() / 24.0
	return m.Retrievability(ms.Stability, elapsed)
}

// Equal reports whether two states describe the same schedule,
// comparing timestamps by instant rather than representation.
func (ms MemoryState) Equal(other MemoryState) bool {
	if ms.ConceptID != other.ConceptID ||
		ms.Difficulty != other.Difficulty ||
		ms.Stability != other.Stability ||
		!ms.DueAt.Equal(other.DueAt) ||
		ms.ReviewCount != other.ReviewCount ||
		ms.LapseCount != other.LapseCount ||
		ms.State != other.State {
		return false
	}
	switch {
	case ms.LastReviewedAt == nil:
		return other.LastReviewedAt == nil
	case other.LastReviewedAt == nil:
		return false
	default:
		return ms.LastReviewedAt.Equal(*other.LastReviewedAt)
	}
}

// Clone returns a copy safe to mutate without aliasing pointer fields.
func (ms MemoryState) Clone() MemoryState {
	out := ms
	if ms.LastReviewedAt != nil {
		v := *ms.LastReviewedAt
		out.LastReviewedAt = &v
	}
	return out
}

// scheduleFile is the on-disk shape of the collection.
type scheduleFile struct {
	SchemaVersion int                    `json:"schema_version"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Concepts      map[string]MemoryState `json:"concepts"`
}

// schemaVersion is bumped on any incompatible change to scheduleFile.
const schemaVersion = 1
