package schedule

import (
	"sort"
	"time"
)

// SelectDue returns the concepts due at or before now, most overdue
// first, optionally filtered by a caller-supplied predicate on the
// concept ID and truncated to maxCount (0 means unlimited). Read-only.
func (s *Store) SelectDue(now time.Time, filter func(conceptID string) bool, maxCount int) ([]MemoryState, error) {
	states, err := s.Load()
	if err != nil {
		return nil, err
	}

	var due []MemoryState
	for id, ms := range states {
		if ms.DueAt.After(now) {
			continue
		}
		if filter != nil && !filter(id) {
			continue
		}
		due = append(due, ms.Clone())
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		return due[i].ConceptID < due[j].ConceptID
	})

	if maxCount > 0 && len(due) > maxCount {
		due = due[:maxCount]
	}
	return due, nil
}
