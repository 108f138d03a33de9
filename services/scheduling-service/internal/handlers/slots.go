package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/booking"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/cache"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/storage"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/teams"
)

const maxListingDays = 31

// BusyReader provides the persisted-booking side of the listing busy set.
type BusyReader interface {
	BusyIntervals(ctx context.Context, hostID string, from, to time.Time, excludeEventTypeID string) ([]availability.Interval, error)
	SeatCounts(ctx context.Context, eventTypeID string, from, to time.Time) (map[time.Time]int, error)
}

// SlotsHandler serves the public slot listing. Listings are advisory: the
// booking transaction re-runs the same availability decision under lock.
type SlotsHandler struct {
	catalog  booking.Catalog
	db       BusyReader
	external booking.BusyFetcher
	cache    *cache.SlotsCache
	logger   *slog.Logger
	now      func() time.Time
}

func NewSlotsHandler(catalog booking.Catalog, db BusyReader, external booking.BusyFetcher, slotsCache *cache.SlotsCache, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{
		catalog:  catalog,
		db:       db,
		external: external,
		cache:    slotsCache,
		logger:   logger,
		now:      time.Now,
	}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type slotsResponse struct {
	EventTypeID string                `json:"event_type_id"`
	Timezone    string                `json:"timezone"`
	Days        map[string][]slotItem `json:"days"`
}

func (h *SlotsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	eventTypeID := strings.TrimSpace(q.Get("event_type_id"))
	if eventTypeID == "" {
		http.Error(w, "event_type_id required", http.StatusBadRequest)
		return
	}

	timezone := strings.TrimSpace(q.Get("timezone"))
	if timezone == "" {
		timezone = "UTC"
	}
	inviteeLoc, err := time.LoadLocation(timezone)
	if err != nil {
		http.Error(w, "invalid timezone", http.StatusBadRequest)
		return
	}

	now := h.now()
	fromDate := now.In(inviteeLoc)
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		fromDate, err = time.ParseInLocation(availability.DateLayout, raw, inviteeLoc)
		if err != nil {
			http.Error(w, "invalid from date", http.StatusBadRequest)
			return
		}
	}

	days := 7
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxListingDays {
			days = n
		}
	}

	ctx := r.Context()
	et, err := h.catalog.EventType(ctx, eventTypeID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "event type not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load event type", http.StatusInternalServerError)
		return
	}

	fromKey := fromDate.Format(availability.DateLayout)
	if h.cache != nil {
		if slots, ok := h.cache.Get(ctx, eventTypeID, fromKey, timezone, days); ok {
			writeJSON(w, http.StatusOK, renderSlots(eventTypeID, timezone, slots))
			return
		}
	}

	slots, err := h.resolve(ctx, et, fromDate, days, inviteeLoc, now)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "schedule not found", http.StatusNotFound)
			return
		}
		h.logger.Error("slot resolution failed", "event_type_id", eventTypeID, "err", err)
		http.Error(w, "failed to resolve slots", http.StatusInternalServerError)
		return
	}

	if h.cache != nil {
		h.cache.Set(ctx, eventTypeID, fromKey, timezone, days, slots)
	}
	writeJSON(w, http.StatusOK, renderSlots(eventTypeID, timezone, slots))
}

// resolve computes the offerable slots across the hosts the event type can
// land on: one host for solo and managed, any free member for round-robin,
// all members simultaneously free for collective.
func (h *SlotsHandler) resolve(ctx context.Context, et model.EventType, fromDate time.Time, days int, inviteeLoc *time.Location, now time.Time) (map[string][]availability.Slot, error) {
	cfg := availability.SlotConfig{
		Duration:      et.Duration(),
		SlotInterval:  et.SlotInterval(),
		BufferBefore:  et.BufferBefore(),
		BufferAfter:   et.BufferAfter(),
		MinimumNotice: et.MinimumNotice(),
	}

	var hostIDs []string
	switch et.SchedulingMode {
	case model.SchedulingRoundRobin, model.SchedulingCollective:
		members, err := h.catalog.TeamMembers(ctx, et.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range teams.ActiveOrdered(members) {
			hostIDs = append(hostIDs, m.UserID)
		}
		if len(hostIDs) == 0 {
			return map[string][]availability.Slot{}, nil
		}
	default:
		hostIDs = []string{et.OwnerID}
	}

	rangeFrom := fromDate.AddDate(0, 0, -1)
	rangeTo := fromDate.AddDate(0, 0, days+1)
	excludeEventType := ""
	if et.IsGroup() {
		excludeEventType = et.ID
	}

	perHost := make([]map[string][]availability.Slot, 0, len(hostIDs))
	for _, hostID := range hostIDs {
		sched, err := h.catalog.Schedule(ctx, hostID)
		if err != nil {
			return nil, err
		}
		busy, err := h.db.BusyIntervals(ctx, hostID, rangeFrom, rangeTo, excludeEventType)
		if err != nil {
			return nil, err
		}
		busy = append(busy, h.external.FetchBusy(ctx, hostID, rangeFrom, rangeTo)...)

		resolved, err := availability.ResolveAvailableSlots(sched, cfg, busy, fromDate, days, inviteeLoc, now)
		if err != nil {
			return nil, err
		}
		perHost = append(perHost, resolved)
	}

	var combined map[string][]availability.Slot
	switch et.SchedulingMode {
	case model.SchedulingRoundRobin:
		combined = combineSlots(perHost, 1)
	case model.SchedulingCollective:
		combined = combineSlots(perHost, len(perHost))
	default:
		combined = perHost[0]
	}

	// The rolling booking window bounds how far out slots are offered.
	window := et.BookingWindowDays
	if window <= 0 {
		window = booking.DefaultBookingWindowDays
	}
	horizon := now.AddDate(0, 0, window)
	combined = clipSlots(combined, horizon)

	if et.IsGroup() {
		counts, err := h.db.SeatCounts(ctx, et.ID, rangeFrom, rangeTo)
		if err != nil {
			return nil, err
		}
		combined = filterFullSlots(combined, counts, et.SeatsPerSlot)
	}
	return combined, nil
}

// combineSlots keeps slots offered by at least minHosts of the per-host sets.
// minHosts of 1 is a union (round-robin), len(perHost) an intersection
// (collective). Each host counts once per start: overlapping weekly windows
// can emit the same start twice for one host.
func combineSlots(perHost []map[string][]availability.Slot, minHosts int) map[string][]availability.Slot {
	type seen struct {
		slot availability.Slot
		n    int
	}
	byStart := make(map[int64]*seen)
	for _, resolved := range perHost {
		hostSeen := make(map[int64]bool)
		for _, slots := range resolved {
			for _, s := range slots {
				key := s.Start.Unix()
				if hostSeen[key] {
					continue
				}
				hostSeen[key] = true
				if entry, ok := byStart[key]; ok {
					entry.n++
				} else {
					byStart[key] = &seen{slot: s, n: 1}
				}
			}
		}
	}

	out := make(map[string][]availability.Slot)
	for _, entry := range byStart {
		if entry.n < minHosts {
			continue
		}
		key := entry.slot.Start.Format(availability.DateLayout)
		out[key] = append(out[key], entry.slot)
	}
	for _, slots := range out {
		sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	}
	return out
}

func clipSlots(slots map[string][]availability.Slot, horizon time.Time) map[string][]availability.Slot {
	out := make(map[string][]availability.Slot, len(slots))
	for day, list := range slots {
		for _, s := range list {
			if s.Start.After(horizon) {
				continue
			}
			out[day] = append(out[day], s)
		}
	}
	return out
}

func filterFullSlots(slots map[string][]availability.Slot, counts map[time.Time]int, seats int) map[string][]availability.Slot {
	out := make(map[string][]availability.Slot, len(slots))
	for day, list := range slots {
		for _, s := range list {
			if counts[s.Start.UTC()] >= seats {
				continue
			}
			out[day] = append(out[day], s)
		}
	}
	return out
}

func renderSlots(eventTypeID, timezone string, slots map[string][]availability.Slot) slotsResponse {
	days := make(map[string][]slotItem, len(slots))
	for day, list := range slots {
		items := make([]slotItem, 0, len(list))
		for _, s := range list {
			items = append(items, slotItem{
				StartTime: s.Start.Format(time.RFC3339),
				EndTime:   s.End.Format(time.RFC3339),
			})
		}
		days[day] = items
	}
	return slotsResponse{EventTypeID: eventTypeID, Timezone: timezone, Days: days}
}
