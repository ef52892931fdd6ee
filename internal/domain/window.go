package domain

import "time"

// Window is the half-open interval [Start, End) covered by one aggregation report.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns the window [start, start+interval).
func NewWindow(start time.Time, interval time.Duration) Window {
	return Window{Start: start, End: start.Add(interval)}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Next returns the window that immediately follows w with the given interval.
// It is anchored on the scheduled boundary, not on wall-clock time.
func (w Window) Next(interval time.Duration) Window {
	return Window{Start: w.End, End: w.End.Add(interval)}
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
