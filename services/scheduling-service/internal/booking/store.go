package booking

import (
	"context"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/outbox"
)

// Tx is the transactional view the orchestrator works against while holding
// the per-host locks. Reads and the final insert share one transaction so the
// availability decision stays authoritative until commit.
type Tx interface {
	// BusyBookings returns pending/confirmed booking intervals blocking the
	// host's calendar within [from, to), across all event types. A non-empty
	// excludeEventTypeID drops that event type's bookings from the set (group
	// event types check seat capacity instead of host-busy overlap).
	BusyBookings(ctx context.Context, hostID string, from, to time.Time, excludeEventTypeID string) ([]availability.Interval, error)

	// CountBookingsForDay counts pending/confirmed bookings of one event type
	// starting within [dayStart, dayEnd).
	CountBookingsForDay(ctx context.Context, eventTypeID string, dayStart, dayEnd time.Time) (int, error)

	// CountSeats counts pending/confirmed bookings of a group event type at
	// the exact start instant.
	CountSeats(ctx context.Context, eventTypeID string, start time.Time) (int, error)

	// InsertBookings persists all occurrences of one request. Implementations
	// must map persistence-level overlap conflicts to ErrSlotNoLongerAvailable.
	InsertBookings(ctx context.Context, bookings []*model.Booking, bufferBefore, bufferAfter time.Duration, group bool) error

	// RotationPointer returns the last-assigned member id for a round-robin
	// event type, or "" when none exists yet.
	RotationPointer(ctx context.Context, eventTypeID string) (string, error)

	// AdvanceRotation moves the rotation pointer from -> to as a single
	// compare-and-set; a lost race returns ErrRotationConflict.
	AdvanceRotation(ctx context.Context, eventTypeID, from, to string) error

	// AppendEvent stages a post-commit side effect in the transactional
	// outbox. Delivery happens asynchronously after commit.
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

// Store provides the mutual-exclusion discipline: fn runs inside one
// transaction holding a lock per host id (taken in sorted order), so two
// concurrent requests touching the same host serialize on steps 3-6.
type Store interface {
	WithHostLocks(ctx context.Context, hostIDs []string, fn func(tx Tx) error) error
}

// Catalog reads the scheduling configuration the orchestrator resolves
// against. Read-only; fetched before the host locks are taken.
type Catalog interface {
	EventType(ctx context.Context, id string) (model.EventType, error)
	Schedule(ctx context.Context, hostID string) (model.Schedule, error)
	TeamMembers(ctx context.Context, eventTypeID string) ([]model.TeamMember, error)
}

// BusyFetcher supplies external-calendar busy intervals. Implementations must
// degrade to an empty set on provider failure or timeout: availability
// degrades gracefully, it never blocks booking.
type BusyFetcher interface {
	FetchBusy(ctx context.Context, userID string, from, to time.Time) []availability.Interval
}
