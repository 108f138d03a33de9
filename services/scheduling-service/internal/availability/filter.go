package availability

import "time"

// IsSlotAvailable decides whether a candidate slot survives against a merged
// busy set. The slot is expanded by the host's buffers before the overlap
// test; overlap is half-open, so touching endpoints do not conflict. A slot
// whose unexpanded start is earlier than now+minimumNotice is rejected.
//
// Both the display-time slot listing and the commit-time re-validation call
// this exact function; they must never diverge.
func IsSlotAvailable(slot Slot, mergedBusy []Interval, bufferBefore, bufferAfter, minimumNotice time.Duration, now time.Time) bool {
	if slot.Start.Before(now.Add(minimumNotice)) {
		return false
	}

	start := slot.Start.Add(-bufferBefore)
	end := slot.End.Add(bufferAfter)
	for _, b := range mergedBusy {
		// [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return false
		}
	}
	return true
}
