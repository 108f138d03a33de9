package booking

import (
	"errors"
	"fmt"
)

// Gate failures returned by CreateBooking. Each one carries enough structure
// for the API layer to render a specific message; none of them leaves
// persisted rows behind.
var (
	ErrSlotNoLongerAvailable   = errors.New("slot is no longer available")
	ErrNoTeamMemberAvailable   = errors.New("no team member available")
	ErrMinimumNotice           = errors.New("requested start violates the minimum notice")
	ErrDailyLimitExceeded      = errors.New("daily booking limit reached for this event type")
	ErrSeatsExhausted          = errors.New("no seats left for this slot")
	ErrRecurringWindowExceeded = errors.New("requested series ends outside the booking window")
	ErrRecurringNotAllowed     = errors.New("event type does not allow recurring bookings")
)

// ErrRotationConflict signals a lost compare-and-set race on the rotation
// pointer. The orchestrator retries resolution; it never reaches the caller.
var ErrRotationConflict = errors.New("rotation pointer changed concurrently")

// RecurringConflictError rejects a whole recurring request because one
// occurrence conflicts. OccurrenceIndex is zero-based into the expanded series.
type RecurringConflictError struct {
	OccurrenceIndex int
}

func (e *RecurringConflictError) Error() string {
	return fmt.Sprintf("recurring occurrence %d conflicts with existing busy time", e.OccurrenceIndex)
}

func (e *RecurringConflictError) Unwrap() error { return ErrSlotNoLongerAvailable }
