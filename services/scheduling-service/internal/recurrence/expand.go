package recurrence

import (
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

// Expand produces the occurrence start instants for a recurring series. The
// first occurrence equals start; each subsequent one advances by the
// frequency step times interval. Monthly occurrences keep the start's
// day-of-month, clamped to the last day of shorter target months. Pure and
// deterministic: the orchestrator computes the list once and threads it
// through validation and persistence so the two can never diverge.
func Expand(start time.Time, freq model.Frequency, interval, count int) []time.Time {
	if count <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = 1
	}

	out := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		switch freq {
		case model.FrequencyBiweekly:
			out = append(out, start.AddDate(0, 0, 14*interval*i))
		case model.FrequencyMonthly:
			out = append(out, addMonthsClamped(start, interval*i))
		default: // weekly
			out = append(out, start.AddDate(0, 0, 7*interval*i))
		}
	}
	return out
}

// addMonthsClamped steps whole months from t, anchored to t's day-of-month.
// AddDate would normalize Jan 31 + 1 month into Mar 2 or 3, skipping
// February; clamping lands on Feb 28 or 29 instead and later occurrences
// return to the 31st where the month has one.
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// WithinBookingWindow reports whether the last occurrence of a series falls
// inside the rolling booking window. Partial series are never created: one
// occurrence outside the window rejects the whole request.
func WithinBookingWindow(occurrences []time.Time, now time.Time, windowDays int) bool {
	if len(occurrences) == 0 {
		return false
	}
	last := occurrences[len(occurrences)-1]
	return !last.After(now.AddDate(0, 0, windowDays))
}
