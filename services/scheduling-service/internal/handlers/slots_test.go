package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

type fakeCatalog struct {
	eventTypes map[string]model.EventType
	schedules  map[string]model.Schedule
	members    map[string][]model.TeamMember
}

func (c *fakeCatalog) EventType(ctx context.Context, id string) (model.EventType, error) {
	et, ok := c.eventTypes[id]
	if !ok {
		return model.EventType{}, errors.New("event type not found")
	}
	return et, nil
}

func (c *fakeCatalog) Schedule(ctx context.Context, hostID string) (model.Schedule, error) {
	s, ok := c.schedules[hostID]
	if !ok {
		return model.Schedule{}, errors.New("schedule not found")
	}
	return s, nil
}

func (c *fakeCatalog) TeamMembers(ctx context.Context, eventTypeID string) ([]model.TeamMember, error) {
	return c.members[eventTypeID], nil
}

type fakeBusyReader struct {
	busy  map[string][]availability.Interval
	seats map[time.Time]int
}

func (f *fakeBusyReader) BusyIntervals(ctx context.Context, hostID string, from, to time.Time, excludeEventTypeID string) ([]availability.Interval, error) {
	return f.busy[hostID], nil
}

func (f *fakeBusyReader) SeatCounts(ctx context.Context, eventTypeID string, from, to time.Time) (map[time.Time]int, error) {
	return f.seats, nil
}

type fakeExternal map[string][]availability.Interval

func (f fakeExternal) FetchBusy(ctx context.Context, userID string, from, to time.Time) []availability.Interval {
	return f[userID]
}

func fullDaySchedule(hostID string) model.Schedule {
	var weekly []model.WeeklyWindow
	for wd := time.Monday; wd <= time.Friday; wd++ {
		weekly = append(weekly, model.WeeklyWindow{Weekday: wd, StartMinute: 9 * 60, EndMinute: 17 * 60})
	}
	return model.Schedule{HostID: hostID, Timezone: "UTC", Weekly: weekly}
}

var listingNow = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func newSlotsHandler(cat *fakeCatalog, db *fakeBusyReader, ext fakeExternal) *SlotsHandler {
	h := NewSlotsHandler(cat, db, ext, nil, testLogger())
	h.now = func() time.Time { return listingNow }
	return h
}

func getSlots(t *testing.T, h *SlotsHandler, query string) slotsResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?"+query, nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp slotsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func soloEventType() model.EventType {
	return model.EventType{
		ID:                "et-1",
		OwnerID:           "alice",
		DurationMinutes:   60,
		BookingWindowDays: 30,
		SchedulingMode:    model.SchedulingSolo,
	}
}

func TestListSlotsSolo(t *testing.T) {
	cat := &fakeCatalog{
		eventTypes: map[string]model.EventType{"et-1": soloEventType()},
		schedules:  map[string]model.Schedule{"alice": fullDaySchedule("alice")},
	}
	db := &fakeBusyReader{busy: map[string][]availability.Interval{
		"alice": {{
			Start: time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2026, time.March, 2, 11, 0, 0, 0, time.UTC),
		}},
	}}
	h := newSlotsHandler(cat, db, fakeExternal{})

	resp := getSlots(t, h, "event_type_id=et-1&from=2026-03-02&days=1")
	slots := resp.Days["2026-03-02"]
	if len(slots) != 7 {
		t.Fatalf("slots = %d, want 7 (8 hourly minus the busy 10:00)", len(slots))
	}
	for _, s := range slots {
		if s.StartTime == "2026-03-02T10:00:00Z" {
			t.Errorf("busy slot 10:00 should not be offered")
		}
	}
}

func TestListSlotsRoundRobinUnion(t *testing.T) {
	et := soloEventType()
	et.SchedulingMode = model.SchedulingRoundRobin
	cat := &fakeCatalog{
		eventTypes: map[string]model.EventType{"et-1": et},
		schedules: map[string]model.Schedule{
			"ann": fullDaySchedule("ann"),
			"bob": fullDaySchedule("bob"),
		},
		members: map[string][]model.TeamMember{"et-1": {
			{UserID: "ann", IsActive: true},
			{UserID: "bob", IsActive: true},
		}},
	}
	// ann is busy at 09:00; bob covers it, so the union still offers 09:00.
	db := &fakeBusyReader{busy: map[string][]availability.Interval{
		"ann": {{
			Start: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC),
		}},
	}}
	h := newSlotsHandler(cat, db, fakeExternal{})

	resp := getSlots(t, h, "event_type_id=et-1&from=2026-03-02&days=1")
	if len(resp.Days["2026-03-02"]) != 8 {
		t.Fatalf("slots = %d, want all 8", len(resp.Days["2026-03-02"]))
	}
}

func TestListSlotsCollectiveIntersection(t *testing.T) {
	et := soloEventType()
	et.SchedulingMode = model.SchedulingCollective
	cat := &fakeCatalog{
		eventTypes: map[string]model.EventType{"et-1": et},
		schedules: map[string]model.Schedule{
			"ann": fullDaySchedule("ann"),
			"bob": fullDaySchedule("bob"),
		},
		members: map[string][]model.TeamMember{"et-1": {
			{UserID: "ann", IsActive: true},
			{UserID: "bob", IsActive: true},
		}},
	}
	db := &fakeBusyReader{busy: map[string][]availability.Interval{
		"ann": {{
			Start: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC),
		}},
	}}
	h := newSlotsHandler(cat, db, fakeExternal{})

	resp := getSlots(t, h, "event_type_id=et-1&from=2026-03-02&days=1")
	slots := resp.Days["2026-03-02"]
	if len(slots) != 7 {
		t.Fatalf("slots = %d, want 7 (09:00 requires both members)", len(slots))
	}
	if slots[0].StartTime != "2026-03-02T10:00:00Z" {
		t.Errorf("first slot = %s, want 10:00", slots[0].StartTime)
	}
}

func TestListSlotsGroupSeatsFilter(t *testing.T) {
	et := soloEventType()
	et.SeatsPerSlot = 2
	cat := &fakeCatalog{
		eventTypes: map[string]model.EventType{"et-1": et},
		schedules:  map[string]model.Schedule{"alice": fullDaySchedule("alice")},
	}
	db := &fakeBusyReader{seats: map[time.Time]int{
		time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC): 2,
	}}
	h := newSlotsHandler(cat, db, fakeExternal{})

	resp := getSlots(t, h, "event_type_id=et-1&from=2026-03-02&days=1")
	for _, s := range resp.Days["2026-03-02"] {
		if s.StartTime == "2026-03-02T09:00:00Z" {
			t.Errorf("full slot 09:00 should not be offered")
		}
	}
}

func TestListSlotsInviteeTimezone(t *testing.T) {
	cat := &fakeCatalog{
		eventTypes: map[string]model.EventType{"et-1": soloEventType()},
		schedules:  map[string]model.Schedule{"alice": fullDaySchedule("alice")},
	}
	h := newSlotsHandler(cat, &fakeBusyReader{}, fakeExternal{})

	resp := getSlots(t, h, "event_type_id=et-1&from=2026-03-02&days=1&timezone=Europe/Berlin")
	slots := resp.Days["2026-03-02"]
	if len(slots) == 0 {
		t.Fatal("expected slots")
	}
	// 09:00 UTC renders as 10:00 Berlin time.
	if slots[0].StartTime != "2026-03-02T10:00:00+01:00" {
		t.Errorf("first slot = %s, want Berlin-local 10:00", slots[0].StartTime)
	}
}

func TestCombineSlotsCountsHostsNotSlots(t *testing.T) {
	start := time.Date(2026, time.March, 2, 11, 0, 0, 0, time.UTC)
	s := availability.Slot{Start: start, End: start.Add(time.Hour)}

	// Overlapping weekly windows can make one host emit the same start
	// twice; that must not satisfy the collective threshold alone.
	hostA := map[string][]availability.Slot{"2026-03-02": {s, s}}
	hostB := map[string][]availability.Slot{}
	if got := combineSlots([]map[string][]availability.Slot{hostA, hostB}, 2); len(got) != 0 {
		t.Fatalf("expected no collective slots while one host lacks 11:00, got %v", got)
	}

	hostB = map[string][]availability.Slot{"2026-03-02": {s}}
	got := combineSlots([]map[string][]availability.Slot{hostA, hostB}, 2)
	if len(got["2026-03-02"]) != 1 {
		t.Fatalf("expected exactly one combined 11:00 slot, got %v", got)
	}
}

func TestListSlotsValidation(t *testing.T) {
	h := newSlotsHandler(&fakeCatalog{eventTypes: map[string]model.EventType{}}, &fakeBusyReader{}, fakeExternal{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing event_type_id: status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?event_type_id=et-1&timezone=Nope/Nowhere", nil)
	rec = httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timezone: status = %d, want 400", rec.Code)
	}
}
