package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkolodziej/garagebook/libs/db"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/schedule"
)

// ScheduleRepository persists the single work schedule row. The first load
// seeds the default schedule, so a fresh database is bookable without an
// admin step.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

var defaultSchedule = scheduleRow{
	Timezone:      "Europe/Warsaw",
	OpenClock:     "08:00",
	CloseClock:    "16:00",
	StepMinutes:   10,
	BufferMinutes: 15,
	HorizonDays:   14,
}

type scheduleRow struct {
	Timezone      string
	OpenClock     string
	CloseClock    string
	StepMinutes   int
	BufferMinutes int
	HorizonDays   int
}

// LoadWorkSchedule implements schedule.Loader.
func (r *ScheduleRepository) LoadWorkSchedule(ctx context.Context) (schedule.Config, error) {
	row, err := r.loadRow(ctx)
	if err != nil {
		return schedule.Config{}, err
	}
	return row.toConfig()
}

// ErrScheduleConflict: the new buffer cannot be honoured because existing
// active reservations would overlap under the widened exclusion zones.
var ErrScheduleConflict = errors.New("existing reservations conflict with the new buffer")

// Save replaces the work schedule and re-derives the exclusion ranges of all
// active reservations from the new buffer, so the database constraint and
// the availability filter keep agreeing. Callers invalidate the cache
// afterwards.
func (r *ScheduleRepository) Save(ctx context.Context, cfg schedule.Config) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO work_schedule (id, timezone, open_clock, close_clock, step_minutes, buffer_minutes, horizon_days, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			open_clock = EXCLUDED.open_clock,
			close_clock = EXCLUDED.close_clock,
			step_minutes = EXCLUDED.step_minutes,
			buffer_minutes = EXCLUDED.buffer_minutes,
			horizon_days = EXCLUDED.horizon_days,
			updated_at = now()
	`, cfg.Timezone,
		schedule.FormatClock(cfg.OpenTime),
		schedule.FormatClock(cfg.CloseTime),
		int(cfg.Step/time.Minute),
		int(cfg.Buffer/time.Minute),
		cfg.HorizonDays)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE reservations
		SET blocked_during = tstzrange(starts_at - make_interval(secs => $1 / 2.0),
		                               starts_at + make_interval(secs => $1 / 2.0), '()'),
			updated_at = now()
		WHERE status IN ('pending', 'confirmed')
	`, cfg.Buffer.Seconds())
	if err != nil {
		if isSlotConflict(err) {
			return ErrScheduleConflict
		}
		return err
	}

	return tx.Commit(ctx)
}

func (r *ScheduleRepository) loadRow(ctx context.Context) (scheduleRow, error) {
	var row scheduleRow
	err := r.pool.QueryRow(ctx, `
		SELECT timezone, open_clock, close_clock, step_minutes, buffer_minutes, horizon_days
		FROM work_schedule
		WHERE id = 1
	`).Scan(&row.Timezone, &row.OpenClock, &row.CloseClock, &row.StepMinutes, &row.BufferMinutes, &row.HorizonDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.seedDefault(ctx)
	}
	if err != nil {
		return scheduleRow{}, err
	}
	return row, nil
}

func (r *ScheduleRepository) seedDefault(ctx context.Context) (scheduleRow, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO work_schedule (id, timezone, open_clock, close_clock, step_minutes, buffer_minutes, horizon_days)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, defaultSchedule.Timezone, defaultSchedule.OpenClock, defaultSchedule.CloseClock,
		defaultSchedule.StepMinutes, defaultSchedule.BufferMinutes, defaultSchedule.HorizonDays)
	if err != nil {
		return scheduleRow{}, err
	}
	// A concurrent seed may have written different values first; read back.
	var row scheduleRow
	err = r.pool.QueryRow(ctx, `
		SELECT timezone, open_clock, close_clock, step_minutes, buffer_minutes, horizon_days
		FROM work_schedule
		WHERE id = 1
	`).Scan(&row.Timezone, &row.OpenClock, &row.CloseClock, &row.StepMinutes, &row.BufferMinutes, &row.HorizonDays)
	if err != nil {
		return scheduleRow{}, err
	}
	return row, nil
}

func (s scheduleRow) toConfig() (schedule.Config, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return schedule.Config{}, fmt.Errorf("work schedule timezone: %w", err)
	}
	open, err := schedule.ParseClock(s.OpenClock)
	if err != nil {
		return schedule.Config{}, fmt.Errorf("work schedule open: %w", err)
	}
	closeAt, err := schedule.ParseClock(s.CloseClock)
	if err != nil {
		return schedule.Config{}, fmt.Errorf("work schedule close: %w", err)
	}
	return schedule.Config{
		Timezone:    s.Timezone,
		Location:    loc,
		OpenTime:    open,
		CloseTime:   closeAt,
		Step:        time.Duration(s.StepMinutes) * time.Minute,
		Buffer:      time.Duration(s.BufferMinutes) * time.Minute,
		HorizonDays: s.HorizonDays,
	}, nil
}
