package review

import (
	"time"

	"github.com/dotsetgreg/recite/pkg/fsrs"
	"github.com/dotsetgreg/recite/pkg/schedule"
)

// Stats summarizes the schedule for the stats command.
type Stats struct {
	Total         int
	ByState       map[fsrs.State]int
	DueNow        int
	DueWithinWeek int
	AvgDifficulty float64
	AvgStability  float64
	TotalLapses   int
}

// ComputeStats aggregates the full collection at a point in time.
func ComputeStats(states map[string]schedule.MemoryState, now time.Time) Stats {
	st := Stats{ByState: map[fsrs.State]int{}}
	weekOut := now.Add(7 * 24 * time.Hour)

	var sumD, sumS float64
	for _, ms := range states {
		st.Total++
		st.ByState[ms.State]++
		st.TotalLapses += ms.LapseCount
		sumD += ms.Difficulty
		sumS += ms.Stability
		if !ms.DueAt.After(now) {
			st.DueNow++
		}
		if !ms.DueAt.After(weekOut) {
			st.DueWithinWeek++
		}
	}
	if st.Total > 0 {
		st.AvgDifficulty = sumD / float64(st.Total)
		st.AvgStability = sumS / float64(st.Total)
	}
	return st
}
