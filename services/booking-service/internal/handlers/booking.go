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

	"github.com/pkolodziej/garagebook/services/booking-service/internal/booking"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/model"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/schedule"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/storage"
)

// Allocator is the slot allocation engine surface the handlers call. Kept as
// an interface so handler tests run against a stub instead of Postgres.
type Allocator interface {
	AvailableDates(ctx context.Context, from time.Time) ([]time.Time, error)
	AvailableSlots(ctx context.Context, day time.Time) ([]time.Time, error)
	Reserve(ctx context.Context, res model.Reservation, idempotencyKey string) (model.Reservation, error)
	Reschedule(ctx context.Context, id string, at time.Time, note string) (model.Reservation, error)
}

// ReservationStore covers the lifecycle operations outside the engine's
// write path.
type ReservationStore interface {
	GetByID(ctx context.Context, id string) (model.Reservation, error)
	ListRecent(ctx context.Context, limit int) ([]model.Reservation, error)
	Transition(ctx context.Context, id string, to model.Status, note string) (model.Reservation, error)
}

type BookingHandler struct {
	engine    Allocator
	store     ReservationStore
	schedules schedule.Source
	logger    *slog.Logger
}

func NewBookingHandler(engine Allocator, store ReservationStore, schedules schedule.Source, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, store: store, schedules: schedules, logger: logger}
}

func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/dates", h.Dates)
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/reserve", h.Reserve)
	mux.HandleFunc("/api/v1/admin/reservations", h.List)
	mux.HandleFunc("/api/v1/admin/reservation", h.Get)
	mux.HandleFunc("/api/v1/admin/reservations/confirm", h.Confirm)
	mux.HandleFunc("/api/v1/admin/reservations/reject", h.Reject)
	mux.HandleFunc("/api/v1/admin/reservations/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/admin/reservations/reschedule", h.Reschedule)
}

type reserveRequest struct {
	StartsAt    string `json:"starts_at"`
	CarBrand    string `json:"car_brand"`
	CarModel    string `json:"car_model"`
	CarPlate    string `json:"car_plate"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	Description string `json:"description"`
}

type transitionRequest struct {
	ReservationID string `json:"reservation_id"`
	MechanicNote  string `json:"mechanic_note"`
	Reason        string `json:"reason"`
}

type rescheduleRequest struct {
	ReservationID string `json:"reservation_id"`
	StartsAt      string `json:"starts_at"`
	MechanicNote  string `json:"mechanic_note"`
}

type reservationItem struct {
	ReservationID string `json:"reservation_id"`
	StartsAt      string `json:"starts_at"`
	Status        string `json:"status"`
	CarBrand      string `json:"car_brand"`
	CarModel      string `json:"car_model"`
	CarPlate      string `json:"car_plate"`
	ClientName    string `json:"client_name"`
	ClientPhone   string `json:"client_phone"`
	Description   string `json:"description,omitempty"`
	MechanicNote  string `json:"mechanic_note,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toItem(res model.Reservation) reservationItem {
	item := reservationItem{
		ReservationID: res.ID,
		StartsAt:      res.StartsAt.UTC().Format(time.RFC3339),
		Status:        string(res.Status),
		CarBrand:      res.CarBrand,
		CarModel:      res.CarModel,
		CarPlate:      res.CarPlate,
		ClientName:    res.ClientName,
		ClientPhone:   res.ClientPhone,
		Description:   res.Description,
		MechanicNote:  res.MechanicNote,
		CreatedAt:     res.CreatedAt.UTC().Format(time.RFC3339),
	}
	if res.CancelledAt != nil {
		item.CancelledAt = res.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

// Dates returns the calendar dates (garage-local, YYYY-MM-DD) within the
// booking horizon that still have at least one free slot. Optional ?from=
// moves the start of the scan; it defaults to today.
func (h *BookingHandler) Dates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg, err := h.schedules.Current(r.Context())
	if err != nil {
		http.Error(w, "schedule unavailable", http.StatusServiceUnavailable)
		return
	}

	from := time.Now().In(cfg.Location)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		from, err = time.ParseInLocation("2006-01-02", raw, cfg.Location)
		if err != nil {
			http.Error(w, "invalid from date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	dates, err := h.engine.AvailableDates(r.Context(), from)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	items := make([]string, 0, len(dates))
	for _, d := range dates {
		items = append(items, d.Format("2006-01-02"))
	}
	writeJSON(w, http.StatusOK, items)
}

// Slots returns the free slot instants (RFC3339, UTC) on ?date=YYYY-MM-DD.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg, err := h.schedules.Current(r.Context())
	if err != nil {
		http.Error(w, "schedule unavailable", http.StatusServiceUnavailable)
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		http.Error(w, "date is required", http.StatusBadRequest)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", raw, cfg.Location)
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	slots, err := h.engine.AvailableSlots(r.Context(), day)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	items := make([]string, 0, len(slots))
	for _, s := range slots {
		items = append(items, s.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, items)
}

// Reserve commits a pending reservation for the requested instant. A repeated
// request with the same Idempotency-Key returns the reservation created the
// first time.
func (h *BookingHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.CarBrand = strings.TrimSpace(req.CarBrand)
	req.CarModel = strings.TrimSpace(req.CarModel)
	req.CarPlate = strings.TrimSpace(req.CarPlate)
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientPhone = strings.TrimSpace(req.ClientPhone)
	if req.CarBrand == "" || req.CarModel == "" || req.CarPlate == "" || req.ClientName == "" || req.ClientPhone == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		http.Error(w, "invalid starts_at", http.StatusBadRequest)
		return
	}

	res := model.Reservation{
		StartsAt:    startsAt,
		CarBrand:    req.CarBrand,
		CarModel:    req.CarModel,
		CarPlate:    req.CarPlate,
		ClientName:  req.ClientName,
		ClientPhone: req.ClientPhone,
		Description: strings.TrimSpace(req.Description),
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	created, err := h.engine.Reserve(r.Context(), res, idempotencyKey)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(created))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	reservations, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list reservations", http.StatusInternalServerError)
		return
	}

	items := make([]reservationItem, 0, len(reservations))
	for _, res := range reservations {
		items = append(items, toItem(res))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	res, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "reservation not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load reservation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toItem(res))
}

// Reschedule moves a pending or confirmed reservation to a new slot,
// proposed by the mechanic. The new instant goes through the same window and
// buffer checks as a fresh reservation.
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ReservationID = strings.TrimSpace(req.ReservationID)
	if req.ReservationID == "" {
		http.Error(w, "reservation_id required", http.StatusBadRequest)
		return
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		http.Error(w, "invalid starts_at", http.StatusBadRequest)
		return
	}

	moved, err := h.engine.Reschedule(r.Context(), req.ReservationID, startsAt, strings.TrimSpace(req.MechanicNote))
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			http.Error(w, "reservation not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.writeEngineError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, toItem(moved))
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusConfirmed)
}

func (h *BookingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusRejected)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusCancelled)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, to model.Status) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ReservationID = strings.TrimSpace(req.ReservationID)
	if req.ReservationID == "" {
		http.Error(w, "reservation_id required", http.StatusBadRequest)
		return
	}

	note := strings.TrimSpace(req.MechanicNote)
	if note == "" {
		note = strings.TrimSpace(req.Reason)
	}

	res, err := h.store.Transition(r.Context(), req.ReservationID, to, note)
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			http.Error(w, "reservation not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("reservation transition failed", "reservation_id", req.ReservationID, "to", to, "err", err)
			http.Error(w, "failed to update reservation", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, toItem(res))
}

func (h *BookingHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotUnavailable), errors.Is(err, booking.ErrConflict):
		http.Error(w, "slot unavailable", http.StatusConflict)
	case errors.Is(err, booking.ErrOutOfWindow):
		http.Error(w, "requested time outside the booking window", http.StatusUnprocessableEntity)
	case errors.Is(err, booking.ErrStoreUnavailable):
		http.Error(w, "service temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, booking.ErrInvalidConfig):
		http.Error(w, "work schedule misconfigured", http.StatusInternalServerError)
	default:
		h.logger.Error("booking request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
