package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

const minutesPerDay = 24 * 60

// ScheduleWriter persists schedule edits.
type ScheduleWriter interface {
	ReplaceWeeklyWindows(ctx context.Context, hostID, timezone string, windows []model.WeeklyWindow) error
	ReplaceOverrides(ctx context.Context, hostID string, overrides []model.DateOverride) error
}

// ScheduleHandler serves the host-facing schedule management endpoints.
// Registered behind the API key guard.
type ScheduleHandler struct {
	writer ScheduleWriter
	logger *slog.Logger
}

func NewScheduleHandler(writer ScheduleWriter, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{writer: writer, logger: logger}
}

type weeklyWindowPayload struct {
	Weekday     int `json:"weekday"`
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

type putScheduleRequest struct {
	HostID   string                `json:"host_id"`
	Timezone string                `json:"timezone"`
	Weekly   []weeklyWindowPayload `json:"weekly"`
}

func (h *ScheduleHandler) PutWeekly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req putScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.HostID = strings.TrimSpace(req.HostID)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.HostID == "" || req.Timezone == "" {
		http.Error(w, "host_id and timezone required", http.StatusBadRequest)
		return
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		http.Error(w, "invalid timezone", http.StatusBadRequest)
		return
	}

	windows := make([]model.WeeklyWindow, 0, len(req.Weekly))
	for _, p := range req.Weekly {
		if p.Weekday < 0 || p.Weekday > 6 {
			http.Error(w, "weekday must be 0 (Sunday) through 6 (Saturday)", http.StatusBadRequest)
			return
		}
		if p.StartMinute < 0 || p.EndMinute > minutesPerDay || p.EndMinute <= p.StartMinute {
			http.Error(w, "window minutes must satisfy 0 <= start < end <= 1440", http.StatusBadRequest)
			return
		}
		windows = append(windows, model.WeeklyWindow{
			Weekday:     time.Weekday(p.Weekday),
			StartMinute: p.StartMinute,
			EndMinute:   p.EndMinute,
		})
	}

	if err := h.writer.ReplaceWeeklyWindows(r.Context(), req.HostID, req.Timezone, windows); err != nil {
		h.logger.Error("schedule update failed", "host_id", req.HostID, "err", err)
		http.Error(w, "failed to update schedule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"host_id": req.HostID, "windows": len(windows)})
}

type overridePayload struct {
	Date        string `json:"date"`
	IsWorking   bool   `json:"is_working"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
}

type putOverridesRequest struct {
	HostID    string            `json:"host_id"`
	Overrides []overridePayload `json:"overrides"`
}

func (h *ScheduleHandler) PutOverrides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req putOverridesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.HostID = strings.TrimSpace(req.HostID)
	if req.HostID == "" {
		http.Error(w, "host_id required", http.StatusBadRequest)
		return
	}

	overrides := make([]model.DateOverride, 0, len(req.Overrides))
	for _, p := range req.Overrides {
		if _, err := time.Parse(availability.DateLayout, p.Date); err != nil {
			http.Error(w, "override date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		if p.IsWorking && (p.StartMinute < 0 || p.EndMinute > minutesPerDay || p.EndMinute <= p.StartMinute) {
			http.Error(w, "working override minutes must satisfy 0 <= start < end <= 1440", http.StatusBadRequest)
			return
		}
		overrides = append(overrides, model.DateOverride{
			Date:        p.Date,
			IsWorking:   p.IsWorking,
			StartMinute: p.StartMinute,
			EndMinute:   p.EndMinute,
		})
	}

	if err := h.writer.ReplaceOverrides(r.Context(), req.HostID, overrides); err != nil {
		h.logger.Error("override update failed", "host_id", req.HostID, "err", err)
		http.Error(w, "failed to update overrides", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"host_id": req.HostID, "overrides": len(overrides)})
}
