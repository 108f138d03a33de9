package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/outbox"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/recurrence"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/teams"
)

const (
	// DefaultBookingWindowDays bounds the rolling horizon when the event type
	// does not set its own.
	DefaultBookingWindowDays = 60

	// rotationRetries bounds the in-transaction retry loop on a lost rotation
	// compare-and-set. The host locks serialize writers, so the pointer only
	// moves under our feet if a deployment bypasses the lock discipline.
	rotationRetries = 3
)

// Request is one booking attempt. Start is the requested slot start in UTC;
// Timezone is the invitee's, carried for display only.
type Request struct {
	EventTypeID  string
	Start        time.Time
	Timezone     string
	InviteeName  string
	InviteeEmail string
	Recurring    *RecurringRequest
}

// RecurringRequest asks for a whole series in one transaction. Count includes
// the first occurrence.
type RecurringRequest struct {
	Frequency model.Frequency
	Interval  int
	Count     int
}

// Result reports the committed rows. AssignedUserID is set only for
// round-robin event types.
type Result struct {
	Bookings       []*model.Booking
	AssignedUserID string
}

// Orchestrator runs the booking pipeline: notice and window gates up front,
// then member resolution, conflict re-validation, capacity gates, the rotation
// advance and the insert inside one locked transaction. Either every
// occurrence commits or none does.
type Orchestrator struct {
	store   Store
	catalog Catalog
	busy    BusyFetcher
	logger  *slog.Logger
	now     func() time.Time
}

func NewOrchestrator(store Store, catalog Catalog, busy BusyFetcher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		catalog: catalog,
		busy:    busy,
		logger:  logger,
		now:     time.Now,
	}
}

// hostState bundles everything needed to re-validate one host's calendar.
// External busy intervals are fetched before the locks are taken; the
// database side is read inside the transaction and merged in.
type hostState struct {
	userID   string
	schedule model.Schedule
	loc      *time.Location
	external []availability.Interval
	busy     []availability.Interval // merged external + database, set in-tx
}

func (o *Orchestrator) CreateBooking(ctx context.Context, req Request) (*Result, error) {
	et, err := o.catalog.EventType(ctx, req.EventTypeID)
	if err != nil {
		return nil, fmt.Errorf("load event type: %w", err)
	}

	now := o.now()
	if req.Start.Before(now.Add(et.MinimumNotice())) {
		return nil, ErrMinimumNotice
	}

	occurrences := []time.Time{req.Start}
	recurring := req.Recurring != nil && req.Recurring.Count > 1
	if recurring {
		if !et.RecurringAllowed {
			return nil, ErrRecurringNotAllowed
		}
		if et.RecurringMaxCount > 0 && req.Recurring.Count > et.RecurringMaxCount {
			return nil, ErrRecurringNotAllowed
		}
		freq := req.Recurring.Frequency
		if freq == "" {
			freq = et.RecurringFrequency
		}
		occurrences = recurrence.Expand(req.Start, freq, req.Recurring.Interval, req.Recurring.Count)
	}

	window := et.BookingWindowDays
	if window <= 0 {
		window = DefaultBookingWindowDays
	}
	if !recurrence.WithinBookingWindow(occurrences, now, window) {
		return nil, ErrRecurringWindowExceeded
	}

	members, hosts, err := o.gatherHosts(ctx, et)
	if err != nil {
		return nil, err
	}

	from := occurrences[0].Add(-busyPad(et))
	to := occurrences[len(occurrences)-1].Add(et.Duration() + busyPad(et))
	hostIDs := make([]string, 0, len(hosts))
	for id, hs := range hosts {
		hostIDs = append(hostIDs, id)
		hs.external = o.busy.FetchBusy(ctx, id, from, to)
	}

	excludeEventType := ""
	if et.IsGroup() {
		// Group invitees share the slot; same-type rows gate on seats instead.
		excludeEventType = et.ID
	}

	var result *Result
	err = o.store.WithHostLocks(ctx, hostIDs, func(tx Tx) error {
		for id, hs := range hosts {
			dbBusy, err := tx.BusyBookings(ctx, id, from, to, excludeEventType)
			if err != nil {
				return fmt.Errorf("load booked intervals: %w", err)
			}
			hs.busy = availability.Merge(append(dbBusy, hs.external...))
		}

		fits := func(hostID string, occ time.Time) bool {
			hs, ok := hosts[hostID]
			if !ok {
				return false
			}
			return o.occurrenceFits(hs, et, occ, now)
		}

		bookingHost, assigned, err := o.resolveHost(ctx, tx, et, members, occurrences, recurring, fits)
		if err != nil {
			return err
		}

		loc := hosts[bookingHost].loc
		if et.MaxBookingsPerDay > 0 {
			for _, occ := range occurrences {
				local := occ.In(loc)
				dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
				n, err := tx.CountBookingsForDay(ctx, et.ID, dayStart.UTC(), dayStart.AddDate(0, 0, 1).UTC())
				if err != nil {
					return fmt.Errorf("count daily bookings: %w", err)
				}
				if n >= et.MaxBookingsPerDay {
					return ErrDailyLimitExceeded
				}
			}
		}

		if et.IsGroup() {
			for _, occ := range occurrences {
				n, err := tx.CountSeats(ctx, et.ID, occ)
				if err != nil {
					return fmt.Errorf("count seats: %w", err)
				}
				if n >= et.SeatsPerSlot {
					return ErrSeatsExhausted
				}
			}
		}

		bookings := o.buildBookings(et, req, occurrences, recurring, bookingHost, assigned, now)
		if err := tx.InsertBookings(ctx, bookings, et.BufferBefore(), et.BufferAfter(), et.IsGroup()); err != nil {
			return err
		}

		for _, b := range bookings {
			evt, err := bookingEvent(outbox.EventBookingCreated, b)
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, evt); err != nil {
				return fmt.Errorf("stage booking event: %w", err)
			}
		}

		result = &Result{Bookings: bookings, AssignedUserID: assigned}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("booking committed",
		"event_type_id", et.ID,
		"host_id", result.Bookings[0].HostID,
		"occurrences", len(result.Bookings),
		"start", occurrences[0])
	return result, nil
}

// gatherHosts loads the schedules whose calendars this request can touch:
// the active team in rotation order for team modes, the owner otherwise.
func (o *Orchestrator) gatherHosts(ctx context.Context, et model.EventType) ([]model.TeamMember, map[string]*hostState, error) {
	var members []model.TeamMember
	var ids []string
	switch et.SchedulingMode {
	case model.SchedulingRoundRobin, model.SchedulingCollective:
		all, err := o.catalog.TeamMembers(ctx, et.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("load team members: %w", err)
		}
		members = teams.ActiveOrdered(all)
		if len(members) == 0 {
			return nil, nil, ErrNoTeamMemberAvailable
		}
		for _, m := range members {
			ids = append(ids, m.UserID)
		}
	default:
		ids = []string{et.OwnerID}
	}

	hosts := make(map[string]*hostState, len(ids))
	for _, id := range ids {
		sched, err := o.catalog.Schedule(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load schedule for %s: %w", id, err)
		}
		loc, err := time.LoadLocation(sched.Timezone)
		if err != nil {
			return nil, nil, fmt.Errorf("schedule timezone %q: %w", sched.Timezone, err)
		}
		hosts[id] = &hostState{userID: id, schedule: sched, loc: loc}
	}
	return members, hosts, nil
}

// resolveHost picks the calendar the series lands on and, for round-robin,
// advances the rotation pointer. Selection looks only at the first occurrence;
// the selected member must then clear every remaining one.
func (o *Orchestrator) resolveHost(ctx context.Context, tx Tx, et model.EventType, members []model.TeamMember, occurrences []time.Time, recurring bool, fits func(string, time.Time) bool) (host, assigned string, err error) {
	switch et.SchedulingMode {
	case model.SchedulingRoundRobin:
		for attempt := 0; attempt < rotationRetries; attempt++ {
			last, err := tx.RotationPointer(ctx, et.ID)
			if err != nil {
				return "", "", fmt.Errorf("read rotation pointer: %w", err)
			}
			candidate, err := teams.ResolveRoundRobin(members, last, func(uid string) bool {
				return fits(uid, occurrences[0])
			})
			if errors.Is(err, teams.ErrNoMemberAvailable) {
				return "", "", ErrNoTeamMemberAvailable
			}
			if err != nil {
				return "", "", err
			}
			for i := 1; i < len(occurrences); i++ {
				if !fits(candidate, occurrences[i]) {
					return "", "", &RecurringConflictError{OccurrenceIndex: i}
				}
			}
			err = tx.AdvanceRotation(ctx, et.ID, last, candidate)
			if errors.Is(err, ErrRotationConflict) {
				continue
			}
			if err != nil {
				return "", "", fmt.Errorf("advance rotation: %w", err)
			}
			return candidate, candidate, nil
		}
		return "", "", fmt.Errorf("advance rotation: %w", ErrRotationConflict)

	case model.SchedulingCollective:
		for i, occ := range occurrences {
			for _, m := range members {
				if !fits(m.UserID, occ) {
					if recurring {
						return "", "", &RecurringConflictError{OccurrenceIndex: i}
					}
					return "", "", ErrSlotNoLongerAvailable
				}
			}
		}
		// All members attend; the first in rotation order is the nominal host.
		return members[0].UserID, "", nil

	default: // solo and managed book the owner's calendar
		for i, occ := range occurrences {
			if !fits(et.OwnerID, occ) {
				if recurring {
					return "", "", &RecurringConflictError{OccurrenceIndex: i}
				}
				return "", "", ErrSlotNoLongerAvailable
			}
		}
		return et.OwnerID, "", nil
	}
}

// occurrenceFits re-runs the listing-time decision at commit time: the start
// must align to a generated slot on the host's schedule, and the buffered
// interval must clear the merged busy set.
func (o *Orchestrator) occurrenceFits(hs *hostState, et model.EventType, occ time.Time, now time.Time) bool {
	local := occ.In(hs.loc)
	aligned := false
	for _, w := range availability.WindowsForDate(local, hs.schedule.Weekly, hs.schedule.Overrides) {
		for _, s := range availability.SlotsForWindow(local.Year(), local.Month(), local.Day(), w, et.Duration(), et.SlotInterval(), hs.loc) {
			if s.Start.Equal(occ) {
				aligned = true
				break
			}
		}
		if aligned {
			break
		}
	}
	if !aligned {
		return false
	}

	slot := availability.Slot{Start: occ, End: occ.Add(et.Duration())}
	return availability.IsSlotAvailable(slot, hs.busy, et.BufferBefore(), et.BufferAfter(), et.MinimumNotice(), now)
}

func (o *Orchestrator) buildBookings(et model.EventType, req Request, occurrences []time.Time, recurring bool, host, assigned string, now time.Time) []*model.Booking {
	status := model.StatusConfirmed
	if et.RequiresConfirmation {
		status = model.StatusPending
	}
	groupID := ""
	count := 0
	if recurring {
		groupID = uuid.NewString()
		count = len(occurrences)
	}

	bookings := make([]*model.Booking, 0, len(occurrences))
	for i, occ := range occurrences {
		bookings = append(bookings, &model.Booking{
			ID:               uuid.NewString(),
			EventTypeID:      et.ID,
			HostID:           host,
			AssignedUserID:   assigned,
			InviteeName:      req.InviteeName,
			InviteeEmail:     req.InviteeEmail,
			StartTime:        occ,
			EndTime:          occ.Add(et.Duration()),
			Timezone:         req.Timezone,
			Status:           status,
			RecurringGroupID: groupID,
			RecurringIndex:   i,
			RecurringCount:   count,
			CreatedAt:        now,
		})
	}
	return bookings
}

// busyPad widens the fetched busy range so buffered neighbours just outside
// the series are still seen by the overlap test.
func busyPad(et model.EventType) time.Duration {
	return time.Hour + et.BufferBefore() + et.BufferAfter()
}

// BookingEventPayload is the JSON body of booking lifecycle events.
type BookingEventPayload struct {
	BookingID        string    `json:"booking_id"`
	EventTypeID      string    `json:"event_type_id"`
	HostID           string    `json:"host_id"`
	AssignedUserID   string    `json:"assigned_user_id,omitempty"`
	InviteeName      string    `json:"invitee_name"`
	InviteeEmail     string    `json:"invitee_email"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Timezone         string    `json:"timezone"`
	Status           string    `json:"status"`
	RecurringGroupID string    `json:"recurring_group_id,omitempty"`
	RecurringIndex   int       `json:"recurring_index,omitempty"`
	RecurringCount   int       `json:"recurring_count,omitempty"`
}

func bookingEvent(eventType string, b *model.Booking) (outbox.Event, error) {
	payload, err := json.Marshal(BookingEventPayload{
		BookingID:        b.ID,
		EventTypeID:      b.EventTypeID,
		HostID:           b.HostID,
		AssignedUserID:   b.AssignedUserID,
		InviteeName:      b.InviteeName,
		InviteeEmail:     b.InviteeEmail,
		StartTime:        b.StartTime,
		EndTime:          b.EndTime,
		Timezone:         b.Timezone,
		Status:           string(b.Status),
		RecurringGroupID: b.RecurringGroupID,
		RecurringIndex:   b.RecurringIndex,
		RecurringCount:   b.RecurringCount,
	})
	if err != nil {
		return outbox.Event{}, fmt.Errorf("encode booking event: %w", err)
	}
	return outbox.Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

// NewBookingEvent builds a lifecycle event for an existing booking row. The
// confirm and cancel paths stage these in their own transactions.
func NewBookingEvent(eventType string, b *model.Booking) (outbox.Event, error) {
	return bookingEvent(eventType, b)
}
