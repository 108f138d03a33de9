package availability

import "time"

// Slot is one candidate meeting time in absolute (UTC) instants.
type Slot struct {
	Start time.Time
	End   time.Time
}

// SlotsForWindow expands a working window on the given host-local date into
// discrete candidate slots in UTC. The window's wall-clock endpoints are
// anchored to the date in the host timezone before conversion, so slot starts
// stay aligned to local office hours across DST transitions.
//
// A slot must fit entirely inside the window: candidates that would cross the
// window end are dropped, not truncated.
func SlotsForWindow(year int, month time.Month, day int, win Window, duration, interval time.Duration, loc *time.Location) []Slot {
	if duration <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = duration
	}

	start := time.Date(year, month, day, 0, win.StartMinute, 0, 0, loc).UTC()
	end := time.Date(year, month, day, 0, win.EndMinute, 0, 0, loc).UTC()
	if !end.After(start) {
		return nil
	}

	var slots []Slot
	for t := start; !t.Add(duration).After(end); t = t.Add(interval) {
		slots = append(slots, Slot{Start: t, End: t.Add(duration)})
	}
	return slots
}
