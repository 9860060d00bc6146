package review

import (
	"github.com/dotsetgreg/recite/pkg/fsrs"
	"github.com/dotsetgreg/recite/pkg/history"
)

// Struggling reports whether a concept's recent history shows repeated
// failed or hard recalls: at least minLow ratings of Hard or below
// within the window most recent entries. Entries must be ordered most
// recent first, as returned by history.Log.Query.
//
// Pure predicate; tune window/minLow without touching scheduling.
func Struggling(entries []history.Entry, window, minLow int) bool {
	if window < 1 || minLow < 1 {
		return false
	}
	if len(entries) > window {
		entries = entries[:window]
	}
	low := 0
	for _, e := range entries {
		if e.Rating <= fsrs.Hard {
			low++
		}
	}
	return low >= minLow
}
