package availability

import (
	"fmt"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

// SlotConfig carries the event-type scheduling parameters the resolver needs.
type SlotConfig struct {
	Duration      time.Duration
	SlotInterval  time.Duration // 0 means same as Duration
	BufferBefore  time.Duration
	BufferAfter   time.Duration
	MinimumNotice time.Duration
}

// ResolveAvailableSlots computes the offerable slots for a host over a range
// of days: weekly windows plus date overrides, expanded into UTC slots,
// filtered against the merged busy set, then grouped by the invitee's local
// calendar date. Pure and read-only; safe to call repeatedly and cache briefly.
func ResolveAvailableSlots(sched model.Schedule, cfg SlotConfig, busy []Interval, fromDate time.Time, daysAhead int, inviteeTZ *time.Location, now time.Time) (map[string][]Slot, error) {
	hostLoc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load host timezone %q: %w", sched.Timezone, err)
	}
	if inviteeTZ == nil {
		inviteeTZ = time.UTC
	}
	if daysAhead <= 0 {
		daysAhead = 1
	}

	merged := Merge(busy)

	// The range is invitee-frame: exactly daysAhead calendar dates starting
	// at fromDate's invitee-local date. Host-local days can straddle two
	// invitee dates, so every host day touching the range is expanded and
	// the slots are filtered by their invitee-local date key.
	fy, fm, fd := fromDate.In(inviteeTZ).Date()
	rangeStart := time.Date(fy, fm, fd, 0, 0, 0, 0, inviteeTZ)
	rangeEnd := rangeStart.AddDate(0, 0, daysAhead)
	fromKey := rangeStart.Format(DateLayout)
	endKey := rangeEnd.Format(DateLayout)

	hy, hm, hd := rangeStart.In(hostLoc).Date()
	ey, em, ed := rangeEnd.In(hostLoc).Date()
	lastDate := time.Date(ey, em, ed, 0, 0, 0, 0, hostLoc)

	out := make(map[string][]Slot)
	for date := time.Date(hy, hm, hd, 0, 0, 0, 0, hostLoc); !date.After(lastDate); date = date.AddDate(0, 0, 1) {
		windows := WindowsForDate(date, sched.Weekly, sched.Overrides)
		for _, win := range windows {
			for _, slot := range SlotsForWindow(date.Year(), date.Month(), date.Day(), win, cfg.Duration, cfg.SlotInterval, hostLoc) {
				if !IsSlotAvailable(slot, merged, cfg.BufferBefore, cfg.BufferAfter, cfg.MinimumNotice, now) {
					continue
				}
				local := Slot{Start: slot.Start.In(inviteeTZ), End: slot.End.In(inviteeTZ)}
				key := local.Start.Format(DateLayout)
				if key < fromKey || key >= endKey {
					continue
				}
				out[key] = append(out[key], local)
			}
		}
	}
	return out, nil
}
