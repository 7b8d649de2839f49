package schedule

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeLoader struct {
	cfg   Config
	err   error
	calls int
}

func (l *fakeLoader) LoadWorkSchedule(context.Context) (Config, error) {
	l.calls++
	return l.cfg, l.err
}

func TestCachedSource_NoRedisFallsThrough(t *testing.T) {
	loader := &fakeLoader{cfg: Config{
		Timezone:    "UTC",
		Location:    time.UTC,
		OpenTime:    8 * time.Hour,
		CloseTime:   16 * time.Hour,
		Step:        10 * time.Minute,
		Buffer:      15 * time.Minute,
		HorizonDays: 14,
	}}
	src := NewCachedSource(loader, nil, time.Minute, slog.New(slog.DiscardHandler))

	cfg, err := src.Current(context.Background())
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if cfg.OpenTime != 8*time.Hour || loader.calls != 1 {
		t.Fatalf("expected loader hit, calls=%d cfg=%+v", loader.calls, cfg)
	}

	// Invalidate without redis must be a no-op.
	src.Invalidate(context.Background())
}

func TestCachedSource_LoaderError(t *testing.T) {
	loader := &fakeLoader{err: errors.New("db down")}
	src := NewCachedSource(loader, nil, time.Minute, slog.New(slog.DiscardHandler))

	if _, err := src.Current(context.Background()); err == nil {
		t.Fatalf("expected loader error to surface")
	}
}

func TestCachedScheduleRoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	cfg := Config{
		Timezone:    "Europe/Warsaw",
		Location:    loc,
		OpenTime:    8 * time.Hour,
		CloseTime:   16 * time.Hour,
		Step:        10 * time.Minute,
		Buffer:      15 * time.Minute,
		HorizonDays: 14,
	}

	got, err := fromConfig(cfg).toConfig()
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if got.OpenTime != cfg.OpenTime || got.CloseTime != cfg.CloseTime ||
		got.Step != cfg.Step || got.Buffer != cfg.Buffer ||
		got.HorizonDays != cfg.HorizonDays || got.Timezone != cfg.Timezone {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
