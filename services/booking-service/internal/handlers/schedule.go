package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkolodziej/garagebook/services/booking-service/internal/schedule"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/storage"
)

// ScheduleAdmin persists work schedule changes.
type ScheduleAdmin interface {
	LoadWorkSchedule(ctx context.Context) (schedule.Config, error)
	Save(ctx context.Context, cfg schedule.Config) error
}

// CacheInvalidator drops the cached schedule snapshot after an update.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

type ScheduleHandler struct {
	admin  ScheduleAdmin
	cache  CacheInvalidator
	logger *slog.Logger
}

func NewScheduleHandler(admin ScheduleAdmin, cache CacheInvalidator, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{admin: admin, cache: cache, logger: logger}
}

func (h *ScheduleHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/admin/schedule", h.Schedule)
}

type scheduleBody struct {
	Timezone      string `json:"timezone"`
	Open          string `json:"open"`
	Close         string `json:"close"`
	StepMinutes   int    `json:"step_minutes"`
	BufferMinutes int    `json:"buffer_minutes"`
	HorizonDays   int    `json:"horizon_days"`
}

func (h *ScheduleHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ScheduleHandler) get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.admin.LoadWorkSchedule(r.Context())
	if err != nil {
		h.logger.Error("work schedule load failed", "err", err)
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, scheduleBody{
		Timezone:      cfg.Timezone,
		Open:          schedule.FormatClock(cfg.OpenTime),
		Close:         schedule.FormatClock(cfg.CloseTime),
		StepMinutes:   int(cfg.Step / time.Minute),
		BufferMinutes: int(cfg.Buffer / time.Minute),
		HorizonDays:   cfg.HorizonDays,
	})
}

func (h *ScheduleHandler) put(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	body.Timezone = strings.TrimSpace(body.Timezone)
	loc, err := time.LoadLocation(body.Timezone)
	if err != nil {
		http.Error(w, "unknown timezone", http.StatusBadRequest)
		return
	}
	open, err := schedule.ParseClock(strings.TrimSpace(body.Open))
	if err != nil {
		http.Error(w, "invalid open, want HH:MM", http.StatusBadRequest)
		return
	}
	closeAt, err := schedule.ParseClock(strings.TrimSpace(body.Close))
	if err != nil {
		http.Error(w, "invalid close, want HH:MM", http.StatusBadRequest)
		return
	}

	cfg := schedule.Config{
		Timezone:    body.Timezone,
		Location:    loc,
		OpenTime:    open,
		CloseTime:   closeAt,
		Step:        time.Duration(body.StepMinutes) * time.Minute,
		Buffer:      time.Duration(body.BufferMinutes) * time.Minute,
		HorizonDays: body.HorizonDays,
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.admin.Save(r.Context(), cfg); err != nil {
		if errors.Is(err, storage.ErrScheduleConflict) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("work schedule save failed", "err", err)
		http.Error(w, "failed to save schedule", http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(r.Context())
	}
	h.logger.Info("work schedule updated",
		"timezone", cfg.Timezone,
		"open", schedule.FormatClock(cfg.OpenTime),
		"close", schedule.FormatClock(cfg.CloseTime))

	h.get(w, r)
}
