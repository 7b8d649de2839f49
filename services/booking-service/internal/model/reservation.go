package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Blocks reports whether a reservation in this status still occupies its slot.
// Cancelled and rejected reservations free the calendar immediately.
func (s Status) Blocks() bool {
	return s == StatusPending || s == StatusConfirmed
}

// CanTransition enforces the reservation lifecycle: a pending reservation is
// either confirmed or rejected by the mechanic; a confirmed one can only be
// cancelled. Cancelled and rejected are terminal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusRejected
	case StatusConfirmed:
		return to == StatusCancelled
	default:
		return false
	}
}

// Reservation is a point-in-time workshop visit. StartsAt is an absolute
// instant stored in UTC; conversion to garage-local wall time happens only in
// the availability layer.
type Reservation struct {
	ID           string
	StartsAt     time.Time
	Status       Status
	CarBrand     string
	CarModel     string
	CarPlate     string
	ClientName   string
	ClientPhone  string
	Description  string
	MechanicNote string
	CancelledAt  *time.Time
	CreatedAt    time.Time
}
