package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/booking"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/cache"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/directory"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/outbox"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/storage"
)

// BookingCreator is implemented by the booking orchestrator.
type BookingCreator interface {
	CreateBooking(ctx context.Context, req booking.Request) (*booking.Result, error)
}

type BookingHandler struct {
	creator    BookingCreator
	repo       *storage.BookingRepository
	outboxRepo *outbox.Repository
	cache      *cache.SlotsCache
	directory  directory.Provider
	logger     *slog.Logger
}

func NewBookingHandler(creator BookingCreator, repo *storage.BookingRepository, outboxRepo *outbox.Repository, slotsCache *cache.SlotsCache, dir directory.Provider, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		creator:    creator,
		repo:       repo,
		outboxRepo: outboxRepo,
		cache:      slotsCache,
		directory:  dir,
		logger:     logger,
	}
}

type recurringRequest struct {
	Frequency string `json:"frequency"`
	Interval  int    `json:"interval"`
	Count     int    `json:"count"`
}

type createBookingRequest struct {
	EventTypeID  string            `json:"event_type_id"`
	StartTime    string            `json:"start_time"`
	Timezone     string            `json:"timezone"`
	InviteeName  string            `json:"invitee_name"`
	InviteeEmail string            `json:"invitee_email"`
	Recurring    *recurringRequest `json:"recurring,omitempty"`
}

type bookingItem struct {
	BookingID        string `json:"booking_id"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Status           string `json:"status"`
	RecurringIndex   int    `json:"recurring_index,omitempty"`
	CancelledAt      string `json:"cancelled_at,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
	RecurringGroupID string `json:"recurring_group_id,omitempty"`
}

type createBookingResponse struct {
	Bookings         []bookingItem `json:"bookings"`
	Status           string        `json:"status"`
	HostName         string        `json:"host_name,omitempty"`
	AssignedUserID   string        `json:"assigned_user_id,omitempty"`
	RecurringGroupID string        `json:"recurring_group_id,omitempty"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.EventTypeID = strings.TrimSpace(req.EventTypeID)
	req.InviteeName = strings.TrimSpace(req.InviteeName)
	req.InviteeEmail = strings.TrimSpace(req.InviteeEmail)
	if req.EventTypeID == "" || req.InviteeName == "" || req.InviteeEmail == "" {
		http.Error(w, "event_type_id, invitee_name and invitee_email required", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	timezone := strings.TrimSpace(req.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		http.Error(w, "invalid timezone", http.StatusBadRequest)
		return
	}

	bookReq := booking.Request{
		EventTypeID:  req.EventTypeID,
		Start:        start.UTC(),
		Timezone:     timezone,
		InviteeName:  req.InviteeName,
		InviteeEmail: req.InviteeEmail,
	}
	if req.Recurring != nil {
		if req.Recurring.Count < 1 || req.Recurring.Count > 52 {
			http.Error(w, "recurring count must be between 1 and 52", http.StatusBadRequest)
			return
		}
		bookReq.Recurring = &booking.RecurringRequest{
			Frequency: model.Frequency(req.Recurring.Frequency),
			Interval:  req.Recurring.Interval,
			Count:     req.Recurring.Count,
		}
	}

	ctx := r.Context()
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" && h.repo != nil {
		h.createIdempotent(ctx, w, bookReq, idempotencyKey)
		return
	}

	status, body := h.doCreate(ctx, bookReq)
	writeJSON(w, status, body)
}

// createIdempotent holds the key row locked across the booking attempt so a
// concurrent duplicate blocks and then replays the recorded outcome.
func (h *BookingHandler) createIdempotent(ctx context.Context, w http.ResponseWriter, req booking.Request, key string) {
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, req.EventTypeID, key)
	if err != nil {
		http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
		return
	}
	if exists && rec.StatusCode > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rec.StatusCode)
		_, _ = w.Write(rec.ResponsePayload)
		return
	}

	status, body := h.doCreate(ctx, req)
	if status >= http.StatusInternalServerError {
		// Dependency failure: leave the key unfinalized so a retry can succeed.
		writeJSON(w, status, body)
		return
	}

	bookingID := ""
	if resp, ok := body.(createBookingResponse); ok && len(resp.Bookings) > 0 {
		bookingID = resp.Bookings[0].BookingID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, req.EventTypeID, key, bookingID, status, payload); err != nil {
		http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

type errorResponse struct {
	Error           string `json:"error"`
	OccurrenceIndex *int   `json:"occurrence_index,omitempty"`
}

// doCreate runs the orchestrator and maps its error taxonomy onto HTTP
// statuses: contention on the slot or the team is 409, a request the
// configuration can never accept is 422.
func (h *BookingHandler) doCreate(ctx context.Context, req booking.Request) (int, any) {
	result, err := h.creator.CreateBooking(ctx, req)
	if err != nil {
		var conflict *booking.RecurringConflictError
		switch {
		case errors.As(err, &conflict):
			idx := conflict.OccurrenceIndex
			return http.StatusConflict, errorResponse{Error: conflict.Error(), OccurrenceIndex: &idx}
		case errors.Is(err, booking.ErrSlotNoLongerAvailable),
			errors.Is(err, booking.ErrNoTeamMemberAvailable),
			errors.Is(err, booking.ErrSeatsExhausted):
			return http.StatusConflict, errorResponse{Error: err.Error()}
		case errors.Is(err, booking.ErrMinimumNotice),
			errors.Is(err, booking.ErrDailyLimitExceeded),
			errors.Is(err, booking.ErrRecurringWindowExceeded),
			errors.Is(err, booking.ErrRecurringNotAllowed):
			return http.StatusUnprocessableEntity, errorResponse{Error: err.Error()}
		case storage.IsNotFound(err):
			return http.StatusNotFound, errorResponse{Error: "event type not found"}
		default:
			h.logger.Error("booking failed", "event_type_id", req.EventTypeID, "err", err)
			return http.StatusInternalServerError, errorResponse{Error: "booking failed"}
		}
	}

	if h.cache != nil {
		h.cache.Invalidate(ctx, req.EventTypeID)
	}

	resp := createBookingResponse{
		Status:         string(result.Bookings[0].Status),
		AssignedUserID: result.AssignedUserID,
	}
	if h.directory != nil {
		hostID := result.Bookings[0].HostID
		if profile, err := h.directory.Profile(ctx, hostID); err == nil {
			resp.HostName = profile.DisplayName
		} else {
			h.logger.Warn("directory lookup failed", "user_id", hostID, "err", err)
		}
	}
	for _, b := range result.Bookings {
		resp.RecurringGroupID = b.RecurringGroupID
		resp.Bookings = append(resp.Bookings, bookingItem{
			BookingID:      b.ID,
			StartTime:      b.StartTime.UTC().Format(time.RFC3339),
			EndTime:        b.EndTime.UTC().Format(time.RFC3339),
			Status:         string(b.Status),
			RecurringIndex: b.RecurringIndex,
		})
	}
	return http.StatusCreated, resp
}

type cancelBookingRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

type cancelBookingResponse struct {
	BookingID   string `json:"booking_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := h.repo.GetForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}

	if b.Status == model.StatusCancelled && b.CancelledAt != nil {
		writeJSON(w, http.StatusOK, cancelBookingResponse{
			BookingID:   b.ID,
			Status:      string(model.StatusCancelled),
			CancelledAt: b.CancelledAt.UTC().Format(time.RFC3339),
		})
		return
	}
	if b.Status != model.StatusPending && b.Status != model.StatusConfirmed {
		http.Error(w, "booking cannot be cancelled", http.StatusConflict)
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, b.ID, strings.TrimSpace(req.Reason))
	if err != nil {
		http.Error(w, "failed to cancel booking", http.StatusInternalServerError)
		return
	}

	b.Status = model.StatusCancelled
	b.CancelledAt = &cancelledAt
	evt, err := booking.NewBookingEvent(outbox.EventBookingCancelled, &b)
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, evt); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	if h.cache != nil {
		h.cache.Invalidate(ctx, b.EventTypeID)
	}
	writeJSON(w, http.StatusOK, cancelBookingResponse{
		BookingID:   b.ID,
		Status:      string(model.StatusCancelled),
		CancelledAt: cancelledAt.UTC().Format(time.RFC3339),
	})
}

type confirmBookingRequest struct {
	BookingID string `json:"booking_id"`
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req confirmBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := h.repo.GetForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}
	if b.Status == model.StatusConfirmed {
		writeJSON(w, http.StatusOK, map[string]string{"booking_id": b.ID, "status": string(b.Status)})
		return
	}

	confirmed, err := h.repo.Confirm(ctx, tx, b.ID)
	if err != nil {
		http.Error(w, "failed to confirm booking", http.StatusInternalServerError)
		return
	}
	if !confirmed {
		http.Error(w, "booking is not pending", http.StatusConflict)
		return
	}

	b.Status = model.StatusConfirmed
	evt, err := booking.NewBookingEvent(outbox.EventBookingConfirmed, &b)
	if err != nil {
		http.Error(w, "failed to build confirmation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, evt); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"booking_id": b.ID, "status": string(model.StatusConfirmed)})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eventTypeID := strings.TrimSpace(r.URL.Query().Get("event_type_id"))
	if eventTypeID == "" {
		http.Error(w, "event_type_id required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	bookings, err := h.repo.ListByEventType(r.Context(), eventTypeID, limit)
	if err != nil {
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}

	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		item := bookingItem{
			BookingID:        b.ID,
			StartTime:        b.StartTime.UTC().Format(time.RFC3339),
			EndTime:          b.EndTime.UTC().Format(time.RFC3339),
			Status:           string(b.Status),
			RecurringIndex:   b.RecurringIndex,
			RecurringGroupID: b.RecurringGroupID,
			CreatedAt:        b.CreatedAt.UTC().Format(time.RFC3339),
		}
		if b.CancelledAt != nil {
			item.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": items})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
