package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pkolodziej/garagebook/services/booking-service/internal/availability"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/model"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/schedule"
)

type staticSource struct {
	cfg schedule.Config
	err error
}

func (s staticSource) Current(context.Context) (schedule.Config, error) {
	return s.cfg, s.err
}

// fakeStore mirrors the database exclusion constraint: the availability
// re-check and the insert happen under one lock.
type fakeStore struct {
	mu      sync.Mutex
	rows    []model.Reservation
	nextID  int
	listErr error
}

func (s *fakeStore) ListActiveBetween(_ context.Context, from, to time.Time) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.Reservation
	for _, r := range s.rows {
		if r.Status.Blocks() && !r.StartsAt.Before(from) && !r.StartsAt.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) TryInsert(_ context.Context, res model.Reservation, buffer time.Duration, _ string) (model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if availability.BufferBlocked(res.StartsAt, s.rows, buffer) {
		return model.Reservation{}, ErrConflict
	}
	s.nextID++
	res.ID = string(rune('a' + s.nextID))
	res.CreatedAt = time.Now().UTC()
	s.rows = append(s.rows, res)
	return res, nil
}

func (s *fakeStore) Reschedule(_ context.Context, id string, at time.Time, buffer time.Duration, note string) (model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rows {
		if r.ID != id {
			continue
		}
		others := make([]model.Reservation, 0, len(s.rows)-1)
		others = append(others, s.rows[:i]...)
		others = append(others, s.rows[i+1:]...)
		if availability.BufferBlocked(at, others, buffer) {
			return model.Reservation{}, ErrConflict
		}
		s.rows[i].StartsAt = at
		if note != "" {
			s.rows[i].MechanicNote = note
		}
		return s.rows[i], nil
	}
	return model.Reservation{}, errors.New("reservation not found")
}

func testEngine(t *testing.T, store Store, cfg schedule.Config, now time.Time) *Engine {
	t.Helper()
	e := NewEngine(store, staticSource{cfg: cfg}, slog.New(slog.DiscardHandler))
	e.clock = func() time.Time { return now }
	return e
}

func utcConfig() schedule.Config {
	return schedule.Config{
		Timezone:    "UTC",
		Location:    time.UTC,
		OpenTime:    8 * time.Hour,
		CloseTime:   16 * time.Hour,
		Step:        10 * time.Minute,
		Buffer:      15 * time.Minute,
		HorizonDays: 14,
	}
}

func TestReserve_Succeeds(t *testing.T) {
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	e := testEngine(t, store, cfg, now)

	created, err := e.Reserve(context.Background(), model.Reservation{
		StartsAt: time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC),
	}, "")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if created.Status != model.StatusPending {
		t.Fatalf("expected pending status, got %s", created.Status)
	}
	if created.ID == "" {
		t.Fatalf("expected assigned id")
	}
}

func TestReserve_OutOfWindow(t *testing.T) {
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 12, 0, 0, 0, time.UTC)
	e := testEngine(t, &fakeStore{}, cfg, now)

	cases := map[string]time.Time{
		"in the past":        time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC),
		"exactly now":        now,
		"before open":        time.Date(2026, 1, 29, 7, 50, 0, 0, time.UTC),
		"at close":           time.Date(2026, 1, 29, 16, 0, 0, 0, time.UTC),
		"after close":        time.Date(2026, 1, 29, 16, 10, 0, 0, time.UTC),
		"beyond the horizon": time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC),
	}
	for name, at := range cases {
		_, err := e.Reserve(context.Background(), model.Reservation{StartsAt: at}, "")
		if !errors.Is(err, ErrOutOfWindow) {
			t.Fatalf("%s: expected ErrOutOfWindow, got %v", name, err)
		}
	}

	// Last day of the horizon is still bookable.
	_, err := e.Reserve(context.Background(), model.Reservation{
		StartsAt: time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC),
	}, "")
	if err != nil {
		t.Fatalf("horizon boundary day should be bookable: %v", err)
	}
}

func TestReserve_SlotUnavailable(t *testing.T) {
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	at := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []model.Reservation{
		{StartsAt: at.Add(10 * time.Minute), Status: model.StatusConfirmed},
	}}
	e := testEngine(t, store, cfg, now)

	_, err := e.Reserve(context.Background(), model.Reservation{StartsAt: at}, "")
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestReserve_ExactBufferGapAllowed(t *testing.T) {
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	at := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []model.Reservation{
		{StartsAt: at.Add(-cfg.Buffer), Status: model.StatusConfirmed},
	}}
	e := testEngine(t, store, cfg, now)

	if _, err := e.Reserve(context.Background(), model.Reservation{StartsAt: at}, ""); err != nil {
		t.Fatalf("gap exactly equal to buffer must be bookable: %v", err)
	}
}

func TestReserve_ConcurrentSameSlot(t *testing.T) {
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	at := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	e := testEngine(t, store, cfg, now)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Reserve(context.Background(), model.Reservation{StartsAt: at}, "")
		}(i)
	}
	wg.Wait()

	var ok, unavailable int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", ok)
	}
	if unavailable != n-1 {
		t.Fatalf("expected %d losers, got %d", n-1, unavailable)
	}
}

func TestReserve_ZeroBufferSameInstantStillExclusive(t *testing.T) {
	cfg := utcConfig()
	cfg.Buffer = 0
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	at := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	e := testEngine(t, store, cfg, now)

	if _, err := e.Reserve(context.Background(), model.Reservation{StartsAt: at}, ""); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	if _, err := e.Reserve(context.Background(), model.Reservation{StartsAt: at}, ""); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("second reserve for the same instant must fail, got %v", err)
	}
	// Adjacent slots are independent with a zero buffer.
	if _, err := e.Reserve(context.Background(), model.Reservation{StartsAt: at.Add(cfg.Step)}, ""); err != nil {
		t.Fatalf("neighbouring slot must stay bookable with zero buffer: %v", err)
	}
}

func TestReschedule(t *testing.T) {
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []model.Reservation{
		{ID: "res-1", StartsAt: time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC), Status: model.StatusConfirmed},
	}}
	e := testEngine(t, store, cfg, now)

	newAt := time.Date(2026, 1, 29, 11, 0, 0, 0, time.UTC)
	moved, err := e.Reschedule(context.Background(), "res-1", newAt, "parts arrive thursday")
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if !moved.StartsAt.Equal(newAt) {
		t.Fatalf("expected new instant %s, got %s", newAt, moved.StartsAt)
	}
	if moved.MechanicNote != "parts arrive thursday" {
		t.Fatalf("note not recorded: %q", moved.MechanicNote)
	}
}

func TestReschedule_TargetBlocked(t *testing.T) {
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []model.Reservation{
		{ID: "res-1", StartsAt: time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC), Status: model.StatusConfirmed},
		{ID: "res-2", StartsAt: time.Date(2026, 1, 28, 12, 0, 0, 0, time.UTC), Status: model.StatusPending},
	}}
	e := testEngine(t, store, cfg, now)

	// Within res-2's buffer.
	_, err := e.Reschedule(context.Background(), "res-1", time.Date(2026, 1, 28, 12, 10, 0, 0, time.UTC), "")
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestReschedule_OutOfWindow(t *testing.T) {
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []model.Reservation{
		{ID: "res-1", StartsAt: time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC), Status: model.StatusConfirmed},
	}}
	e := testEngine(t, store, cfg, now)

	_, err := e.Reschedule(context.Background(), "res-1", time.Date(2026, 1, 28, 18, 0, 0, 0, time.UTC), "")
	if !errors.Is(err, ErrOutOfWindow) {
		t.Fatalf("expected ErrOutOfWindow, got %v", err)
	}
}

func TestReschedule_AdjacentToOldSlotIsFree(t *testing.T) {
	// Moving a reservation one step away from its own old position must not
	// collide with itself.
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	at := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []model.Reservation{
		{ID: "res-1", StartsAt: at, Status: model.StatusPending},
	}}
	e := testEngine(t, store, cfg, now)

	if _, err := e.Reschedule(context.Background(), "res-1", at.Add(cfg.Step), ""); err != nil {
		t.Fatalf("reschedule near the old slot failed: %v", err)
	}
}

func TestReserve_StoreUnavailable(t *testing.T) {
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	e := testEngine(t, &fakeStore{}, cfg, now)
	e.schedules = staticSource{err: errors.New("redis down, db down")}

	_, err := e.Reserve(context.Background(), model.Reservation{
		StartsAt: time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC),
	}, "")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestReserve_InvalidConfig(t *testing.T) {
	cfg := utcConfig()
	cfg.Step = 0
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	e := testEngine(t, &fakeStore{}, cfg, now)

	_, err := e.Reserve(context.Background(), model.Reservation{
		StartsAt: time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC),
	}, "")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAvailableSlots_ExcludesBooked(t *testing.T) {
	cfg := utcConfig()
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	booked := day.Add(10 * time.Hour)
	store := &fakeStore{rows: []model.Reservation{
		{StartsAt: booked, Status: model.StatusPending},
	}}
	e := testEngine(t, store, cfg, now)

	slots, err := e.AvailableSlots(context.Background(), day)
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	for _, s := range slots {
		gap := s.Sub(booked)
		if gap < 0 {
			gap = -gap
		}
		if gap < cfg.Buffer {
			t.Fatalf("slot %s violates the buffer around the booked slot", s.Format(time.RFC3339))
		}
	}
}

func TestAvailableDates_ZeroHorizon(t *testing.T) {
	cfg := utcConfig()
	cfg.HorizonDays = 0
	now := time.Date(2026, 1, 28, 7, 0, 0, 0, time.UTC)
	e := testEngine(t, &fakeStore{}, cfg, now)

	dates, err := e.AvailableDates(context.Background(), now)
	if err != nil {
		t.Fatalf("dates failed: %v", err)
	}
	if len(dates) != 1 {
		t.Fatalf("zero horizon should offer today only, got %d dates", len(dates))
	}
}
