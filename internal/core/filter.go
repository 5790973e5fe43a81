package core

import "time"

// WeekSpan is the number of days after a week's Monday that still belong to
// its listing window. The window is inclusive on both ends.
const WeekSpan = 7

// ListFilter selects which date shards a listing reads.
type ListFilter struct {
	ThisWeek       bool
	StartDate      *time.Time
	EndDate        *time.Time
	WeekCommencing *time.Time
	WeekContaining *time.Time
}

// Window is a resolved ListFilter. Nil bounds are open.
type Window struct {
	Start     *time.Time
	End       *time.Time
	WeekStart *time.Time
}

// Resolve applies precedence rules: ThisWeek overrides everything, and
// WeekCommencing wins over WeekContaining, which snaps to its Monday.
func (f ListFilter) Resolve(now time.Time) Window {
	if f.ThisWeek {
		monday := WeekCommencing(now)
		return Window{WeekStart: &monday}
	}

	w := Window{Start: f.StartDate, End: f.EndDate}
	switch {
	case f.WeekCommencing != nil:
		wc := Midnight(*f.WeekCommencing)
		w.WeekStart = &wc
	case f.WeekContaining != nil:
		wc := WeekCommencing(*f.WeekContaining)
		w.WeekStart = &wc
	}
	return w
}

// Includes reports whether a shard for the given date should be read.
func (w Window) Includes(date time.Time) bool {
	if w.Start != nil && date.Before(*w.Start) {
		return false
	}
	if w.End != nil && date.After(*w.End) {
		return false
	}
	if w.WeekStart != nil {
		last := w.WeekStart.AddDate(0, 0, WeekSpan)
		if date.Before(*w.WeekStart) || date.After(last) {
			return false
		}
	}
	return true
}
