package availability

import (
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

const DateLayout = "2006-01-02"

// Window is one working window on a specific date, wall-clock minutes from
// midnight in the host's schedule timezone.
type Window struct {
	StartMinute int
	EndMinute   int
}

// WindowsForDate resolves the working windows applicable on a host-local
// calendar date. A matching date override replaces the weekly windows
// entirely: a non-working override blocks the day, a working override yields
// exactly its own window. Without an override, all weekly windows on the
// date's weekday apply.
func WindowsForDate(date time.Time, weekly []model.WeeklyWindow, overrides []model.DateOverride) []Window {
	key := date.Format(DateLayout)
	for _, o := range overrides {
		if o.Date != key {
			continue
		}
		if !o.IsWorking {
			return nil
		}
		if o.EndMinute > o.StartMinute {
			return []Window{{StartMinute: o.StartMinute, EndMinute: o.EndMinute}}
		}
		return nil
	}

	var out []Window
	for _, w := range weekly {
		if w.Weekday == date.Weekday() && w.EndMinute > w.StartMinute {
			out = append(out, Window{StartMinute: w.StartMinute, EndMinute: w.EndMinute})
		}
	}
	return out
}
