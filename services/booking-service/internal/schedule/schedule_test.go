package schedule

import (
	"errors"
	"testing"
	"time"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return Config{
		Timezone:    "Europe/Warsaw",
		Location:    loc,
		OpenTime:    8 * time.Hour,
		CloseTime:   16 * time.Hour,
		Step:        10 * time.Minute,
		Buffer:      15 * time.Minute,
		HorizonDays: 14,
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("08:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d != 8*time.Hour+30*time.Minute {
		t.Fatalf("expected 8h30m, got %v", d)
	}

	if _, err := ParseClock("25:00"); err == nil {
		t.Fatalf("expected error for 25:00")
	}
	if _, err := ParseClock("8am"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestFormatClock(t *testing.T) {
	if got := FormatClock(8*time.Hour + 5*time.Minute); got != "08:05" {
		t.Fatalf("expected 08:05, got %s", got)
	}
	if got := FormatClock(0); got != "00:00" {
		t.Fatalf("expected 00:00, got %s", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := testConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.Step = 0
	if err := bad.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for zero step, got %v", err)
	}

	bad = cfg
	bad.Buffer = -time.Minute
	if err := bad.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for negative buffer, got %v", err)
	}

	bad = cfg
	bad.Location = nil
	if err := bad.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for nil location, got %v", err)
	}

	// Degenerate but self-consistent: zero slots, not an error.
	degenerate := cfg
	degenerate.OpenTime = 16 * time.Hour
	degenerate.CloseTime = 8 * time.Hour
	if err := degenerate.Validate(); err != nil {
		t.Fatalf("degenerate window should validate, got %v", err)
	}
}

func TestInstantAt(t *testing.T) {
	cfg := testConfig(t)
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, cfg.Location)

	at := cfg.InstantAt(day, 8*time.Hour)
	if at.Hour() != 8 || at.Minute() != 0 {
		t.Fatalf("expected 08:00 local, got %s", at.Format(time.RFC3339))
	}
	if got := cfg.ClockOf(at); got != 8*time.Hour {
		t.Fatalf("expected clock 8h, got %v", got)
	}
}

func TestInstantAt_DSTSpringForward(t *testing.T) {
	cfg := testConfig(t)
	// Europe/Warsaw skips 02:00-03:00 on 2026-03-29.
	day := time.Date(2026, 3, 29, 0, 0, 0, 0, cfg.Location)

	at := cfg.InstantAt(day, 2*time.Hour+30*time.Minute)
	if got := cfg.ClockOf(at); got == 2*time.Hour+30*time.Minute {
		t.Fatalf("02:30 should not exist on the spring-forward date, resolved to %s", at.Format(time.RFC3339))
	}

	// Same wall clock on either side of the transition maps to different UTC offsets.
	before := cfg.InstantAt(day.AddDate(0, 0, -1), 10*time.Hour)
	after := cfg.InstantAt(day, 10*time.Hour)
	_, offBefore := before.Zone()
	_, offAfter := after.Zone()
	if offAfter-offBefore != 3600 {
		t.Fatalf("expected one hour offset shift across DST, got %d -> %d", offBefore, offAfter)
	}
}
