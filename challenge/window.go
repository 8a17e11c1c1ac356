package challenge

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

// =============================================================================
// WINDOW - The time boundary a challenge is evaluated over
// =============================================================================

// Day is the length of one challenge day. Durations and elapsed-day counts
// are measured in fixed 24h steps from StartDate, not in calendar days.
const Day = 24 * time.Hour

// Window is a closed interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns the window starting at start and lasting d.
func NewWindow(start time.Time, d time.Duration) Window {
	return Window{Start: start, End: start.Add(d)}
}

// Contains returns true if t is within [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Clamp returns t limited to the window bounds.
func (w Window) Clamp(t time.Time) time.Time {
	if t.Before(w.Start) {
		return w.Start
	}
	if t.After(w.End) {
		return w.End
	}
	return t
}

// DaysElapsed returns floor((at - Start) / 24h), never negative.
func (w Window) DaysElapsed(at time.Time) int {
	if !at.After(w.Start) {
		return 0
	}
	return int(at.Sub(w.Start) / Day)
}

// Dates returns every calendar date touched by the window, in order.
func (w Window) Dates() []civil.Date {
	var dates []civil.Date
	end := civil.DateOf(w.End)
	for d := civil.DateOf(w.Start); !d.After(end); d = d.AddDays(1) {
		dates = append(dates, d)
	}
	return dates
}

func (w Window) String() string {
	return "[" + w.Start.Format(time.RFC3339) + ", " + w.End.Format(time.RFC3339) + "]"
}

// =============================================================================
// DAY SET - Distinct calendar dates
// =============================================================================

// DaySet is a set of calendar dates.
type DaySet map[civil.Date]struct{}

// NewDaySet builds a set from the given dates.
func NewDaySet(dates ...civil.Date) DaySet {
	s := make(DaySet, len(dates))
	for _, d := range dates {
		s.Add(d)
	}
	return s
}

func (s DaySet) Add(d civil.Date)      { s[d] = struct{}{} }
func (s DaySet) Has(d civil.Date) bool { _, ok := s[d]; return ok }
func (s DaySet) Len() int              { return len(s) }

// Sorted returns the dates in ascending order.
func (s DaySet) Sorted() []civil.Date {
	out := make([]civil.Date, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
