package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/outbox"
)

// fixedNow is a Monday morning; the test schedules are Mon-Fri 09:00-17:00 UTC.
var fixedNow = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func at(day, hour, min int) time.Time {
	return time.Date(2026, time.March, day, hour, min, 0, 0, time.UTC)
}

type busyRow struct {
	b         *model.Booking
	busyStart time.Time
	busyEnd   time.Time
	group     bool
}

func statusBlocks(s model.BookingStatus) bool {
	return s == model.StatusPending || s == model.StatusConfirmed
}

// memStore serializes writers with one mutex, standing in for the per-host
// transaction locks. Staged rows only become visible once fn returns nil.
type memStore struct {
	mu                     sync.Mutex
	rows                   []busyRow
	rotation               map[string]string
	events                 []outbox.Event
	forceRotationConflicts int
}

func newMemStore() *memStore {
	return &memStore{rotation: map[string]string{}}
}

func (s *memStore) WithHostLocks(ctx context.Context, hostIDs []string, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, stagedRotation: map[string]string{}}
	if err := fn(tx); err != nil {
		return err
	}
	s.rows = append(s.rows, tx.staged...)
	s.events = append(s.events, tx.stagedEvents...)
	for k, v := range tx.stagedRotation {
		s.rotation[k] = v
	}
	return nil
}

func (s *memStore) bookingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memTx struct {
	store          *memStore
	staged         []busyRow
	stagedEvents   []outbox.Event
	stagedRotation map[string]string
}

func (tx *memTx) all() []busyRow {
	out := append([]busyRow{}, tx.store.rows...)
	return append(out, tx.staged...)
}

func (tx *memTx) BusyBookings(ctx context.Context, hostID string, from, to time.Time, excludeEventTypeID string) ([]availability.Interval, error) {
	var out []availability.Interval
	for _, r := range tx.all() {
		if r.b.HostID != hostID || !statusBlocks(r.b.Status) {
			continue
		}
		if excludeEventTypeID != "" && r.b.EventTypeID == excludeEventTypeID {
			continue
		}
		if r.busyStart.Before(to) && from.Before(r.busyEnd) {
			out = append(out, availability.Interval{Start: r.busyStart, End: r.busyEnd})
		}
	}
	return out, nil
}

func (tx *memTx) CountBookingsForDay(ctx context.Context, eventTypeID string, dayStart, dayEnd time.Time) (int, error) {
	n := 0
	for _, r := range tx.all() {
		if r.b.EventTypeID == eventTypeID && statusBlocks(r.b.Status) &&
			!r.b.StartTime.Before(dayStart) && r.b.StartTime.Before(dayEnd) {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) CountSeats(ctx context.Context, eventTypeID string, start time.Time) (int, error) {
	n := 0
	for _, r := range tx.all() {
		if r.b.EventTypeID == eventTypeID && statusBlocks(r.b.Status) && r.b.StartTime.Equal(start) {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) InsertBookings(ctx context.Context, bookings []*model.Booking, bufferBefore, bufferAfter time.Duration, group bool) error {
	for _, b := range bookings {
		row := busyRow{
			b:         b,
			busyStart: b.StartTime.Add(-bufferBefore),
			busyEnd:   b.EndTime.Add(bufferAfter),
			group:     group,
		}
		if !group {
			// Mirrors the overlap exclusion constraint backstop.
			for _, r := range tx.all() {
				if r.group || r.b.HostID != b.HostID || !statusBlocks(r.b.Status) {
					continue
				}
				if row.busyStart.Before(r.busyEnd) && r.busyStart.Before(row.busyEnd) {
					return ErrSlotNoLongerAvailable
				}
			}
		}
		tx.staged = append(tx.staged, row)
	}
	return nil
}

func (tx *memTx) RotationPointer(ctx context.Context, eventTypeID string) (string, error) {
	if v, ok := tx.stagedRotation[eventTypeID]; ok {
		return v, nil
	}
	return tx.store.rotation[eventTypeID], nil
}

func (tx *memTx) AdvanceRotation(ctx context.Context, eventTypeID, from, to string) error {
	if tx.store.forceRotationConflicts > 0 {
		tx.store.forceRotationConflicts--
		return ErrRotationConflict
	}
	cur := tx.store.rotation[eventTypeID]
	if v, ok := tx.stagedRotation[eventTypeID]; ok {
		cur = v
	}
	if cur != from {
		return ErrRotationConflict
	}
	tx.stagedRotation[eventTypeID] = to
	return nil
}

func (tx *memTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	tx.stagedEvents = append(tx.stagedEvents, evt)
	return nil
}

type memCatalog struct {
	eventTypes map[string]model.EventType
	schedules  map[string]model.Schedule
	members    map[string][]model.TeamMember
}

func (c *memCatalog) EventType(ctx context.Context, id string) (model.EventType, error) {
	et, ok := c.eventTypes[id]
	if !ok {
		return model.EventType{}, errors.New("event type not found")
	}
	return et, nil
}

func (c *memCatalog) Schedule(ctx context.Context, hostID string) (model.Schedule, error) {
	s, ok := c.schedules[hostID]
	if !ok {
		return model.Schedule{}, errors.New("schedule not found")
	}
	return s, nil
}

func (c *memCatalog) TeamMembers(ctx context.Context, eventTypeID string) ([]model.TeamMember, error) {
	return c.members[eventTypeID], nil
}

type stubBusy map[string][]availability.Interval

func (s stubBusy) FetchBusy(ctx context.Context, userID string, from, to time.Time) []availability.Interval {
	return s[userID]
}

func weekdaySchedule(hostID string) model.Schedule {
	var weekly []model.WeeklyWindow
	for wd := time.Monday; wd <= time.Friday; wd++ {
		weekly = append(weekly, model.WeeklyWindow{Weekday: wd, StartMinute: 9 * 60, EndMinute: 17 * 60})
	}
	return model.Schedule{HostID: hostID, Timezone: "UTC", Weekly: weekly}
}

func baseEventType() model.EventType {
	return model.EventType{
		ID:                   "et-1",
		OwnerID:              "alice",
		Title:                "Intro call",
		DurationMinutes:      30,
		MinimumNoticeMinutes: 30,
		BookingWindowDays:    30,
		SchedulingMode:       model.SchedulingSolo,
	}
}

type fixture struct {
	orch    *Orchestrator
	store   *memStore
	catalog *memCatalog
	busy    stubBusy
}

func newFixture(t *testing.T, et model.EventType, memberIDs ...string) *fixture {
	t.Helper()
	cat := &memCatalog{
		eventTypes: map[string]model.EventType{et.ID: et},
		schedules:  map[string]model.Schedule{et.OwnerID: weekdaySchedule(et.OwnerID)},
		members:    map[string][]model.TeamMember{},
	}
	var members []model.TeamMember
	for _, id := range memberIDs {
		cat.schedules[id] = weekdaySchedule(id)
		members = append(members, model.TeamMember{UserID: id, IsActive: true})
	}
	cat.members[et.ID] = members

	store := newMemStore()
	busy := stubBusy{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := NewOrchestrator(store, cat, busy, logger)
	orch.now = func() time.Time { return fixedNow }
	return &fixture{orch: orch, store: store, catalog: cat, busy: busy}
}

func reqAt(start time.Time) Request {
	return Request{
		EventTypeID:  "et-1",
		Start:        start,
		Timezone:     "UTC",
		InviteeName:  "Dana",
		InviteeEmail: "dana@example.com",
	}
}

func mustBook(t *testing.T, f *fixture, req Request) *Result {
	t.Helper()
	res, err := f.orch.CreateBooking(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	return res
}

func TestCreateBookingSolo(t *testing.T) {
	f := newFixture(t, baseEventType())

	res := mustBook(t, f, reqAt(at(2, 10, 0)))

	if len(res.Bookings) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(res.Bookings))
	}
	b := res.Bookings[0]
	if b.Status != model.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", b.Status)
	}
	if b.HostID != "alice" || b.AssignedUserID != "" {
		t.Errorf("host = %s assigned = %q, want alice and empty", b.HostID, b.AssignedUserID)
	}
	if !b.EndTime.Equal(at(2, 10, 30)) {
		t.Errorf("end = %v, want 10:30", b.EndTime)
	}
	if len(f.store.events) != 1 || f.store.events[0].EventType != outbox.EventBookingCreated {
		t.Errorf("expected one %s event, got %+v", outbox.EventBookingCreated, f.store.events)
	}
}

func TestCreateBookingRequiresConfirmation(t *testing.T) {
	et := baseEventType()
	et.RequiresConfirmation = true
	f := newFixture(t, et)

	res := mustBook(t, f, reqAt(at(2, 10, 0)))
	if res.Bookings[0].Status != model.StatusPending {
		t.Errorf("status = %s, want pending", res.Bookings[0].Status)
	}
}

func TestCreateBookingMinimumNotice(t *testing.T) {
	f := newFixture(t, baseEventType())

	// now is 08:00 with 30m notice; 08:15 is too soon, 08:30 is the boundary.
	if _, err := f.orch.CreateBooking(context.Background(), reqAt(at(2, 8, 15))); !errors.Is(err, ErrMinimumNotice) {
		t.Fatalf("err = %v, want ErrMinimumNotice", err)
	}
	if f.store.bookingCount() != 0 {
		t.Fatalf("expected no persisted bookings")
	}
}

func TestCreateBookingMisalignedStart(t *testing.T) {
	f := newFixture(t, baseEventType())

	_, err := f.orch.CreateBooking(context.Background(), reqAt(at(2, 10, 7)))
	if !errors.Is(err, ErrSlotNoLongerAvailable) {
		t.Fatalf("err = %v, want ErrSlotNoLongerAvailable", err)
	}
}

func TestCreateBookingOutsideWorkingHours(t *testing.T) {
	f := newFixture(t, baseEventType())

	// Sunday 2026-03-08 has no weekly window.
	_, err := f.orch.CreateBooking(context.Background(), reqAt(at(8, 10, 0)))
	if !errors.Is(err, ErrSlotNoLongerAvailable) {
		t.Fatalf("err = %v, want ErrSlotNoLongerAvailable", err)
	}
}

func TestCreateBookingConflict(t *testing.T) {
	f := newFixture(t, baseEventType())

	mustBook(t, f, reqAt(at(2, 10, 0)))
	_, err := f.orch.CreateBooking(context.Background(), reqAt(at(2, 10, 0)))
	if !errors.Is(err, ErrSlotNoLongerAvailable) {
		t.Fatalf("err = %v, want ErrSlotNoLongerAvailable", err)
	}
	if f.store.bookingCount() != 1 {
		t.Fatalf("bookings = %d, want 1", f.store.bookingCount())
	}
}

func TestCreateBookingBufferConflict(t *testing.T) {
	et := baseEventType()
	et.BufferBeforeMinutes = 15
	et.BufferAfterMinutes = 15
	f := newFixture(t, et)

	mustBook(t, f, reqAt(at(2, 10, 0)))

	// 10:30 sits inside the existing booking's after-buffer.
	if _, err := f.orch.CreateBooking(context.Background(), reqAt(at(2, 10, 30))); !errors.Is(err, ErrSlotNoLongerAvailable) {
		t.Fatalf("err = %v, want ErrSlotNoLongerAvailable", err)
	}
	// 11:30 clears both buffers.
	mustBook(t, f, reqAt(at(2, 11, 30)))
}

func TestConcurrentDoubleBooking(t *testing.T) {
	f := newFixture(t, baseEventType())
	req := reqAt(at(2, 10, 0))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.CreateBooking(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotNoLongerAvailable):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("successes = %d conflicts = %d, want exactly one of each", ok, conflict)
	}
	if f.store.bookingCount() != 1 {
		t.Fatalf("bookings = %d, want 1", f.store.bookingCount())
	}
}

func TestCreateBookingDailyLimit(t *testing.T) {
	et := baseEventType()
	et.MaxBookingsPerDay = 2
	f := newFixture(t, et)

	mustBook(t, f, reqAt(at(2, 9, 0)))
	mustBook(t, f, reqAt(at(2, 9, 30)))
	if _, err := f.orch.CreateBooking(context.Background(), reqAt(at(2, 10, 0))); !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("err = %v, want ErrDailyLimitExceeded", err)
	}
	// A different day still books.
	mustBook(t, f, reqAt(at(3, 10, 0)))
}

func TestCreateBookingGroupSeats(t *testing.T) {
	et := baseEventType()
	et.SeatsPerSlot = 2
	f := newFixture(t, et)

	mustBook(t, f, reqAt(at(2, 10, 0)))
	mustBook(t, f, reqAt(at(2, 10, 0)))
	if _, err := f.orch.CreateBooking(context.Background(), reqAt(at(2, 10, 0))); !errors.Is(err, ErrSeatsExhausted) {
		t.Fatalf("err = %v, want ErrSeatsExhausted", err)
	}
	if f.store.bookingCount() != 2 {
		t.Fatalf("bookings = %d, want 2", f.store.bookingCount())
	}
}

func TestRoundRobinRotation(t *testing.T) {
	et := baseEventType()
	et.SchedulingMode = model.SchedulingRoundRobin
	f := newFixture(t, et, "ann", "bob", "cat")

	starts := []time.Time{at(2, 9, 0), at(2, 10, 0), at(2, 11, 0), at(2, 12, 0)}
	want := []string{"ann", "bob", "cat", "ann"}
	for i, s := range starts {
		res := mustBook(t, f, reqAt(s))
		if res.AssignedUserID != want[i] {
			t.Fatalf("booking %d assigned to %s, want %s", i, res.AssignedUserID, want[i])
		}
		if res.Bookings[0].HostID != want[i] {
			t.Fatalf("booking %d host = %s, want %s", i, res.Bookings[0].HostID, want[i])
		}
	}
}

func TestRoundRobinSkipsBusyMember(t *testing.T) {
	et := baseEventType()
	et.SchedulingMode = model.SchedulingRoundRobin
	f := newFixture(t, et, "ann", "bob", "cat")
	f.busy["bob"] = []availability.Interval{{Start: at(2, 9, 0), End: at(2, 17, 0)}}

	if got := mustBook(t, f, reqAt(at(2, 9, 0))).AssignedUserID; got != "ann" {
		t.Fatalf("first assigned to %s, want ann", got)
	}
	// bob is next in rotation but busy all day; cat takes the slot.
	if got := mustBook(t, f, reqAt(at(2, 10, 0))).AssignedUserID; got != "cat" {
		t.Fatalf("second assigned to %s, want cat", got)
	}
}

func TestRoundRobinExhausted(t *testing.T) {
	et := baseEventType()
	et.SchedulingMode = model.SchedulingRoundRobin
	f := newFixture(t, et, "ann", "bob")
	busyAllDay := []availability.Interval{{Start: at(2, 9, 0), End: at(2, 17, 0)}}
	f.busy["ann"] = busyAllDay
	f.busy["bob"] = busyAllDay

	_, err := f.orch.CreateBooking(context.Background(), reqAt(at(2, 10, 0)))
	if !errors.Is(err, ErrNoTeamMemberAvailable) {
		t.Fatalf("err = %v, want ErrNoTeamMemberAvailable", err)
	}
}

func TestRoundRobinRetriesLostPointerRace(t *testing.T) {
	et := baseEventType()
	et.SchedulingMode = model.SchedulingRoundRobin
	f := newFixture(t, et, "ann", "bob")
	f.store.forceRotationConflicts = 1

	res := mustBook(t, f, reqAt(at(2, 10, 0)))
	if res.AssignedUserID != "ann" {
		t.Fatalf("assigned to %s, want ann", res.AssignedUserID)
	}
	if f.store.forceRotationConflicts != 0 {
		t.Fatalf("forced conflict was not consumed")
	}
}

func TestCollectiveRequiresAllMembers(t *testing.T) {
	et := baseEventType()
	et.SchedulingMode = model.SchedulingCollective
	f := newFixture(t, et, "ann", "bob")
	f.busy["bob"] = []availability.Interval{{Start: at(2, 10, 0), End: at(2, 10, 30)}}

	if _, err := f.orch.CreateBooking(context.Background(), reqAt(at(2, 10, 0))); !errors.Is(err, ErrSlotNoLongerAvailable) {
		t.Fatalf("err = %v, want ErrSlotNoLongerAvailable", err)
	}

	res := mustBook(t, f, reqAt(at(2, 11, 0)))
	if res.Bookings[0].HostID != "ann" || res.AssignedUserID != "" {
		t.Fatalf("host = %s assigned = %q, want ann and empty", res.Bookings[0].HostID, res.AssignedUserID)
	}
}

func TestManagedLeavesAssignmentEmpty(t *testing.T) {
	et := baseEventType()
	et.SchedulingMode = model.SchedulingManaged
	f := newFixture(t, et)

	res := mustBook(t, f, reqAt(at(2, 10, 0)))
	if res.Bookings[0].HostID != "alice" || res.AssignedUserID != "" {
		t.Fatalf("host = %s assigned = %q, want alice and empty", res.Bookings[0].HostID, res.AssignedUserID)
	}
}

func TestRecurringSeries(t *testing.T) {
	et := baseEventType()
	et.RecurringAllowed = true
	et.RecurringMaxCount = 10
	f := newFixture(t, et)

	req := reqAt(at(2, 10, 0))
	req.Recurring = &RecurringRequest{Frequency: model.FrequencyWeekly, Count: 3}
	res := mustBook(t, f, req)

	if len(res.Bookings) != 3 {
		t.Fatalf("bookings = %d, want 3", len(res.Bookings))
	}
	group := res.Bookings[0].RecurringGroupID
	if group == "" {
		t.Fatal("recurring group id is empty")
	}
	wantStarts := []time.Time{at(2, 10, 0), at(9, 10, 0), at(16, 10, 0)}
	for i, b := range res.Bookings {
		if !b.StartTime.Equal(wantStarts[i]) {
			t.Errorf("occurrence %d start = %v, want %v", i, b.StartTime, wantStarts[i])
		}
		if b.RecurringGroupID != group || b.RecurringIndex != i || b.RecurringCount != 3 {
			t.Errorf("occurrence %d series fields = (%s, %d, %d)", i, b.RecurringGroupID, b.RecurringIndex, b.RecurringCount)
		}
	}
	if len(f.store.events) != 3 {
		t.Errorf("events = %d, want 3", len(f.store.events))
	}
}

func TestRecurringConflictRejectsWholeSeries(t *testing.T) {
	et := baseEventType()
	et.RecurringAllowed = true
	et.RecurringMaxCount = 10
	f := newFixture(t, et)

	// Occupy the third occurrence's slot (Monday 2026-03-16 10:00).
	mustBook(t, f, reqAt(at(16, 10, 0)))

	req := reqAt(at(2, 10, 0))
	req.Recurring = &RecurringRequest{Frequency: model.FrequencyWeekly, Count: 3}
	_, err := f.orch.CreateBooking(context.Background(), req)

	var conflict *RecurringConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want RecurringConflictError", err)
	}
	if conflict.OccurrenceIndex != 2 {
		t.Errorf("occurrence index = %d, want 2", conflict.OccurrenceIndex)
	}
	if !errors.Is(err, ErrSlotNoLongerAvailable) {
		t.Errorf("conflict should unwrap to ErrSlotNoLongerAvailable")
	}
	if f.store.bookingCount() != 1 {
		t.Fatalf("bookings = %d, want only the seeded one", f.store.bookingCount())
	}
}

func TestRecurringWindowExceeded(t *testing.T) {
	et := baseEventType()
	et.RecurringAllowed = true
	et.RecurringMaxCount = 10
	et.BookingWindowDays = 14
	f := newFixture(t, et)

	req := reqAt(at(2, 10, 0))
	req.Recurring = &RecurringRequest{Frequency: model.FrequencyWeekly, Count: 5}
	if _, err := f.orch.CreateBooking(context.Background(), req); !errors.Is(err, ErrRecurringWindowExceeded) {
		t.Fatalf("err = %v, want ErrRecurringWindowExceeded", err)
	}
}

func TestRecurringNotAllowed(t *testing.T) {
	f := newFixture(t, baseEventType())

	req := reqAt(at(2, 10, 0))
	req.Recurring = &RecurringRequest{Count: 3}
	if _, err := f.orch.CreateBooking(context.Background(), req); !errors.Is(err, ErrRecurringNotAllowed) {
		t.Fatalf("err = %v, want ErrRecurringNotAllowed", err)
	}

	et := baseEventType()
	et.RecurringAllowed = true
	et.RecurringMaxCount = 2
	f = newFixture(t, et)
	if _, err := f.orch.CreateBooking(context.Background(), req); !errors.Is(err, ErrRecurringNotAllowed) {
		t.Fatalf("count over max: err = %v, want ErrRecurringNotAllowed", err)
	}
}

func TestRoundRobinRecurringKeepsSelectedMember(t *testing.T) {
	et := baseEventType()
	et.SchedulingMode = model.SchedulingRoundRobin
	et.RecurringAllowed = true
	et.RecurringMaxCount = 10
	f := newFixture(t, et, "ann", "bob")

	// Rotation points past ann, so bob is selected on the first occurrence.
	f.store.rotation[et.ID] = "ann"
	// bob is busy on the second occurrence only; the series must fail rather
	// than fall back to ann mid-series.
	f.busy["bob"] = []availability.Interval{{Start: at(9, 10, 0), End: at(9, 10, 30)}}

	req := reqAt(at(2, 10, 0))
	req.Recurring = &RecurringRequest{Frequency: model.FrequencyWeekly, Count: 3}
	_, err := f.orch.CreateBooking(context.Background(), req)

	var conflict *RecurringConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want RecurringConflictError", err)
	}
	if conflict.OccurrenceIndex != 1 {
		t.Errorf("occurrence index = %d, want 1", conflict.OccurrenceIndex)
	}
	if f.store.bookingCount() != 0 {
		t.Fatalf("bookings = %d, want 0", f.store.bookingCount())
	}
	if f.store.rotation[et.ID] != "ann" {
		t.Errorf("rotation pointer moved despite rollback")
	}
}
