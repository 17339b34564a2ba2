package store

import "time"

// Streak summarizes how consistently a user has journaled.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// ComputeStreak derives the current and longest run of consecutive entry
// days from dates in YYYY-MM-DD form, newest first (the order EntryDates
// returns). The current streak counts only if the newest entry is today or
// yesterday; a streak that ended earlier has lapsed.
func ComputeStreak(dates []string, today time.Time) Streak {
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue // Malformed rows don't break the count
		}
		days = append(days, t)
	}
	if len(days) == 0 {
		return Streak{}
	}

	var st Streak
	run := 1
	for i := 1; i < len(days); i++ {
		if days[i-1].Sub(days[i]) == 24*time.Hour {
			run++
		} else {
			if run > st.Longest {
				st.Longest = run
			}
			run = 1
		}
	}
	if run > st.Longest {
		st.Longest = run
	}

	todayKey := today.Truncate(24 * time.Hour)
	gap := todayKey.Sub(days[0].Truncate(24 * time.Hour))
	if gap == 0 || gap == 24*time.Hour {
		st.Current = 1
		for i := 1; i < len(days); i++ {
			if days[i-1].Sub(days[i]) != 24*time.Hour {
				break
			}
			st.Current++
		}
	}
	return st
}
