package jobs

import (
	"testing"
	"time"
)

func testEvent() ReservationEvent {
	return ReservationEvent{
		ReservationID: "res-1",
		Status:        "confirmed",
		CarBrand:      "Toyota",
		CarModel:      "Corolla",
		CarPlate:      "WX 12345",
		ClientName:    "Jan Kowalski",
	}
}

func TestBuildJobs(t *testing.T) {
	startsAt := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	now := startsAt.Add(-24 * time.Hour)
	offsets := []time.Duration{3 * time.Hour, 1 * time.Hour, 30 * time.Minute}

	built := BuildJobs(testEvent(), startsAt, offsets, 42, now)
	if len(built) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(built))
	}
	if !built[0].RemindAt.Equal(startsAt.Add(-3 * time.Hour)) {
		t.Fatalf("expected first reminder 3h before, got %s", built[0].RemindAt)
	}
	if built[0].IdempotencyKey == built[1].IdempotencyKey {
		t.Fatalf("offsets must produce distinct idempotency keys")
	}
	for _, j := range built {
		if j.ReservationID != "res-1" || j.ChatID != 42 {
			t.Fatalf("job fields not carried over: %+v", j)
		}
		if j.TemplateData["car_plate"] != "WX 12345" {
			t.Fatalf("template data missing: %+v", j.TemplateData)
		}
	}
}

func TestBuildJobs_SkipsPastOffsets(t *testing.T) {
	startsAt := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	// Confirmed 45 minutes before the visit: only the 30m reminder is still ahead.
	now := startsAt.Add(-45 * time.Minute)
	offsets := []time.Duration{3 * time.Hour, 1 * time.Hour, 30 * time.Minute}

	built := BuildJobs(testEvent(), startsAt, offsets, 42, now)
	if len(built) != 1 {
		t.Fatalf("expected only the 30m reminder, got %d jobs", len(built))
	}
	if !built[0].RemindAt.Equal(startsAt.Add(-30 * time.Minute)) {
		t.Fatalf("expected the 30m reminder, got %s", built[0].RemindAt)
	}
}

func TestBuildJobs_RescheduleChangesKeys(t *testing.T) {
	startsAt := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	now := startsAt.Add(-48 * time.Hour)
	offsets := []time.Duration{time.Hour}

	before := BuildJobs(testEvent(), startsAt, offsets, 42, now)
	after := BuildJobs(testEvent(), startsAt.Add(2*time.Hour), offsets, 42, now)
	if len(before) != 1 || len(after) != 1 {
		t.Fatalf("expected one job each, got %d and %d", len(before), len(after))
	}
	if before[0].IdempotencyKey == after[0].IdempotencyKey {
		t.Fatalf("moving the slot must produce a new idempotency key, got %q twice", before[0].IdempotencyKey)
	}
}

func TestParseOffsets(t *testing.T) {
	offsets, rejected := ParseOffsets("180, 60,30")
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejects: %v", rejected)
	}
	want := []time.Duration{3 * time.Hour, time.Hour, 30 * time.Minute}
	if len(offsets) != len(want) {
		t.Fatalf("expected %d offsets, got %v", len(want), offsets)
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("offset %d: expected %s, got %s", i, want[i], offsets[i])
		}
	}
}

func TestParseOffsets_RejectsAndFallsBack(t *testing.T) {
	offsets, rejected := ParseOffsets("abc,-5,0")
	if len(rejected) != 3 {
		t.Fatalf("expected 3 rejects, got %v", rejected)
	}
	if len(offsets) != len(DefaultOffsets) {
		t.Fatalf("expected fallback to defaults, got %v", offsets)
	}
}

func TestBuildJobs_AllPast(t *testing.T) {
	startsAt := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	now := startsAt.Add(-10 * time.Minute)

	built := BuildJobs(testEvent(), startsAt, []time.Duration{3 * time.Hour, 30 * time.Minute}, 42, now)
	if len(built) != 0 {
		t.Fatalf("expected no jobs when every offset is in the past, got %d", len(built))
	}
}
