// Package availability computes candidate slots and filters them against
// existing reservations. Everything here is pure: callers pass in the
// schedule snapshot, the active reservations and the current instant, and get
// absolute instants back. No I/O, no clocks, no global state.
package availability

import (
	"time"

	"github.com/pkolodziej/garagebook/services/booking-service/internal/model"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/schedule"
)

// SlotTimes returns the ordered candidate slot instants for the calendar date
// carried by day (interpreted in cfg's zone). Slots start at OpenTime, are
// spaced Step apart, and each whole step fits before CloseTime. Wall-clock
// times that do not exist on that date (DST spring-forward gap) are dropped
// rather than shifted onto a neighbouring slot.
func SlotTimes(day time.Time, cfg schedule.Config) []time.Time {
	if cfg.Step <= 0 || cfg.CloseTime <= cfg.OpenTime {
		return nil
	}
	var slots []time.Time
	for clock := cfg.OpenTime; clock+cfg.Step <= cfg.CloseTime; clock += cfg.Step {
		at := cfg.InstantAt(day, clock)
		if cfg.ClockOf(at) != clock%(24*time.Hour) {
			continue
		}
		slots = append(slots, at)
	}
	return slots
}

// Filter keeps the candidates that are strictly in the future and at least
// cfg.Buffer away from every blocking reservation. A gap exactly equal to the
// buffer is allowed; anything smaller is not.
func Filter(candidates []time.Time, active []model.Reservation, now time.Time, cfg schedule.Config) []time.Time {
	out := make([]time.Time, 0, len(candidates))
	for _, s := range candidates {
		if !s.After(now) {
			continue
		}
		if BufferBlocked(s, active, cfg.Buffer) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// BufferBlocked reports whether any blocking reservation sits closer to s
// than buffer. The instant itself is always blocked, even with a zero
// buffer: a slot holds one reservation.
func BufferBlocked(s time.Time, active []model.Reservation, buffer time.Duration) bool {
	for _, r := range active {
		if !r.Status.Blocks() {
			continue
		}
		gap := s.Sub(r.StartsAt)
		if gap < 0 {
			gap = -gap
		}
		if gap == 0 || gap < buffer {
			return true
		}
	}
	return false
}

// OpenDates returns the dates in [from, from+HorizonDays] (inclusive) that
// still have at least one available slot. The scan stops per date as soon as
// one free slot is found.
func OpenDates(from time.Time, cfg schedule.Config, active []model.Reservation, now time.Time) []time.Time {
	var dates []time.Time
	for i := 0; i <= cfg.HorizonDays; i++ {
		d := from.AddDate(0, 0, i)
		if hasOpenSlot(d, cfg, active, now) {
			dates = append(dates, d)
		}
	}
	return dates
}

func hasOpenSlot(day time.Time, cfg schedule.Config, active []model.Reservation, now time.Time) bool {
	for _, s := range SlotTimes(day, cfg) {
		if !s.After(now) {
			continue
		}
		if !BufferBlocked(s, active, cfg.Buffer) {
			return true
		}
	}
	return false
}
