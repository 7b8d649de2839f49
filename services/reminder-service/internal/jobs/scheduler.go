package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultOffsets is used when REMINDER_OFFSETS_MINUTES is unset or
// yields nothing valid.
var DefaultOffsets = []time.Duration{3 * time.Hour, 1 * time.Hour, 30 * time.Minute}

// ParseOffsets parses a comma-separated list of minute counts into
// reminder offsets. Entries that are not positive integers are returned
// in rejected; an empty result falls back to DefaultOffsets.
func ParseOffsets(raw string) (offsets []time.Duration, rejected []string) {
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			rejected = append(rejected, part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	return offsets, rejected
}

// ReservationEvent is the payload shape of the booking.reservation.*.v1
// topics this service consumes.
type ReservationEvent struct {
	ReservationID string `json:"reservation_id"`
	StartsAt      string `json:"starts_at"`
	Status        string `json:"status"`
	CarBrand      string `json:"car_brand"`
	CarModel      string `json:"car_model"`
	CarPlate      string `json:"car_plate"`
	ClientName    string `json:"client_name"`
}

// BuildJobs expands a confirmed reservation into one reminder job per
// offset. Offsets whose remind-at instant has already passed are skipped.
// The idempotency key ties each job to its reservation, slot time, and
// offset: redelivered events insert nothing new, while a reschedule to a
// different slot produces fresh keys.
func BuildJobs(evt ReservationEvent, startsAt time.Time, offsets []time.Duration, chatID int64, now time.Time) []Job {
	var out []Job
	for _, offset := range offsets {
		remindAt := startsAt.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		out = append(out, Job{
			IdempotencyKey: fmt.Sprintf("%s:%s:%s", evt.ReservationID, startsAt.UTC().Format(time.RFC3339), offset),
			ReservationID:  evt.ReservationID,
			ChatID:         chatID,
			RemindAt:       remindAt,
			TemplateData: map[string]any{
				"starts_at":   startsAt.UTC().Format(time.RFC3339),
				"car_brand":   evt.CarBrand,
				"car_model":   evt.CarModel,
				"car_plate":   evt.CarPlate,
				"client_name": evt.ClientName,
			},
		})
	}
	return out
}
