// Package booking is the availability and slot allocation engine. Reads are
// pure computations over a schedule snapshot and the active reservations;
// the only write path is Reserve, whose commit is serialized by the store.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkolodziej/garagebook/services/booking-service/internal/availability"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/model"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/schedule"
)

var (
	// ErrSlotUnavailable: the requested instant conflicts with the buffer
	// window of an active reservation. Expected outcome, the caller picks
	// another slot.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrOutOfWindow: in the past, outside work hours, or beyond the horizon.
	ErrOutOfWindow = errors.New("requested time outside the booking window")
	// ErrConflict is returned by Store.TryInsert when the database exclusion
	// constraint rejects the insert.
	ErrConflict = errors.New("reservation conflicts with an existing buffer window")
	// ErrStoreUnavailable wraps storage/config collaborator failures.
	ErrStoreUnavailable = errors.New("reservation store unavailable")
	// ErrInvalidConfig wraps schedule.ErrInvalid at the point of use.
	ErrInvalidConfig = errors.New("invalid work schedule configuration")
)

// Store is the transactional reservation store the engine commits through.
// TryInsert must re-validate the buffer neighbourhood and insert within one
// atomic unit (the exclusion constraint in Postgres); a conflicting
// concurrent commit fails with ErrConflict rather than double-booking.
type Store interface {
	ListActiveBetween(ctx context.Context, from, to time.Time) ([]model.Reservation, error)
	TryInsert(ctx context.Context, res model.Reservation, buffer time.Duration, idempotencyKey string) (model.Reservation, error)
	Reschedule(ctx context.Context, id string, at time.Time, buffer time.Duration, note string) (model.Reservation, error)
}

type Engine struct {
	store     Store
	schedules schedule.Source
	logger    *slog.Logger
	clock     func() time.Time
}

func NewEngine(store Store, schedules schedule.Source, logger *slog.Logger) *Engine {
	return &Engine{store: store, schedules: schedules, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// AvailableDates returns the dates from `from` through the booking horizon
// that still have at least one free slot. `from` carries a calendar date in
// the schedule's zone.
func (e *Engine) AvailableDates(ctx context.Context, from time.Time) ([]time.Time, error) {
	cfg, err := e.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	now := e.clock()

	rangeStart := cfg.StartOfDay(from).Add(-cfg.Buffer)
	rangeEnd := cfg.StartOfDay(from.AddDate(0, 0, cfg.HorizonDays+1)).Add(cfg.Buffer)
	active, err := e.store.ListActiveBetween(ctx, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return availability.OpenDates(from, cfg, active, now), nil
}

// AvailableSlots returns the free slot instants on the given calendar date.
func (e *Engine) AvailableSlots(ctx context.Context, day time.Time) ([]time.Time, error) {
	cfg, err := e.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	now := e.clock()

	rangeStart := cfg.StartOfDay(day).Add(-cfg.Buffer)
	rangeEnd := cfg.StartOfDay(day.AddDate(0, 0, 1)).Add(cfg.Buffer)
	active, err := e.store.ListActiveBetween(ctx, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return availability.Filter(availability.SlotTimes(day, cfg), active, now, cfg), nil
}

// Reserve validates the requested instant against the work window and commits
// a pending reservation. The commit re-checks the buffer neighbourhood inside
// the same atomic unit as the write, so two concurrent calls for the same
// slot cannot both succeed. On a constraint conflict the availability check
// is retried exactly once (the conflicting row may have been cancelled in the
// meantime); a second conflict is reported as ErrSlotUnavailable.
func (e *Engine) Reserve(ctx context.Context, res model.Reservation, idempotencyKey string) (model.Reservation, error) {
	cfg, err := e.currentConfig(ctx)
	if err != nil {
		return model.Reservation{}, err
	}
	now := e.clock()

	if err := checkWindow(res.StartsAt, cfg, now); err != nil {
		return model.Reservation{}, err
	}

	res.Status = model.StatusPending
	created, err := e.store.TryInsert(ctx, res, cfg.Buffer, idempotencyKey)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, ErrConflict) {
		return model.Reservation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	active, err := e.store.ListActiveBetween(ctx, res.StartsAt.Add(-cfg.Buffer), res.StartsAt.Add(cfg.Buffer))
	if err != nil {
		return model.Reservation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if availability.BufferBlocked(res.StartsAt, active, cfg.Buffer) {
		return model.Reservation{}, ErrSlotUnavailable
	}

	created, err = e.store.TryInsert(ctx, res, cfg.Buffer, idempotencyKey)
	if err == nil {
		return created, nil
	}
	if errors.Is(err, ErrConflict) {
		return model.Reservation{}, ErrSlotUnavailable
	}
	return model.Reservation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Reschedule moves an active reservation to a new instant, re-running the
// same window check and atomic buffer-checked commit as Reserve. Lifecycle
// and not-found errors from the store pass through for the caller to map.
func (e *Engine) Reschedule(ctx context.Context, id string, at time.Time, note string) (model.Reservation, error) {
	cfg, err := e.currentConfig(ctx)
	if err != nil {
		return model.Reservation{}, err
	}
	now := e.clock()

	if err := checkWindow(at, cfg, now); err != nil {
		return model.Reservation{}, err
	}

	moved, err := e.store.Reschedule(ctx, id, at, cfg.Buffer, note)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return model.Reservation{}, ErrSlotUnavailable
		}
		return model.Reservation{}, err
	}
	return moved, nil
}

func (e *Engine) currentConfig(ctx context.Context) (schedule.Config, error) {
	cfg, err := e.schedules.Current(ctx)
	if err != nil {
		return schedule.Config{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := cfg.Validate(); err != nil {
		e.logger.Error("work schedule rejected", "err", err)
		return schedule.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func checkWindow(at time.Time, cfg schedule.Config, now time.Time) error {
	if !at.After(now) {
		return ErrOutOfWindow
	}
	clock := cfg.ClockOf(at)
	if clock < cfg.OpenTime || clock >= cfg.CloseTime {
		return ErrOutOfWindow
	}
	// Latest bookable date is today (garage-local) plus the horizon.
	horizonEnd := cfg.StartOfDay(now.In(cfg.Location)).AddDate(0, 0, cfg.HorizonDays+1)
	if !at.Before(horizonEnd) {
		return ErrOutOfWindow
	}
	return nil
}
