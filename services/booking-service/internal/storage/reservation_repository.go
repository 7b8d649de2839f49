package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkolodziej/garagebook/libs/db"
	"github.com/pkolodziej/garagebook/libs/outbox"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/booking"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/model"
)

var (
	ErrNotFound          = errors.New("reservation not found")
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// ReservationRepository is the durable store behind the allocation engine.
// Commits are serialized by the reservations_no_buffer_overlap exclusion
// constraint: each active row owns an open tstzrange of half the buffer on
// each side of its instant, so two instants closer than one full buffer
// always collide, while a gap of exactly the buffer is allowed.
type ReservationRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewReservationRepository(pool *db.Pool, outboxRepo *outbox.Repository) *ReservationRepository {
	return &ReservationRepository{pool: pool, outbox: outboxRepo}
}

const reservationColumns = `
	id::text, starts_at, status,
	car_brand, car_model, car_plate,
	client_name, client_phone, description,
	COALESCE(mechanic_note, ''), cancelled_at, created_at`

func scanReservation(row pgx.Row) (model.Reservation, error) {
	var res model.Reservation
	var status string
	var cancelledAt *time.Time
	err := row.Scan(
		&res.ID,
		&res.StartsAt,
		&status,
		&res.CarBrand,
		&res.CarModel,
		&res.CarPlate,
		&res.ClientName,
		&res.ClientPhone,
		&res.Description,
		&res.MechanicNote,
		&cancelledAt,
		&res.CreatedAt,
	)
	if err != nil {
		return model.Reservation{}, err
	}
	res.Status = model.Status(status)
	res.CancelledAt = cancelledAt
	return res, nil
}

// ListActiveBetween returns pending and confirmed reservations with
// starts_at in [from, to], ordered by instant. Range bounds are inclusive so
// that a caller probing a buffer neighbourhood sees rows sitting exactly at
// the buffer distance.
func (r *ReservationRepository) ListActiveBetween(ctx context.Context, from, to time.Time) ([]model.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE starts_at >= $1 AND starts_at <= $2
			AND status IN ('pending', 'confirmed')
		ORDER BY starts_at ASC
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// TryInsert atomically commits a pending reservation. The exclusion
// constraint re-validates the buffer neighbourhood inside the same unit as
// the write; a conflicting concurrent commit fails with booking.ErrConflict
// and leaves zero rows behind. An idempotency key, when present, replays the
// reservation it originally created instead of inserting again.
func (r *ReservationRepository) TryInsert(ctx context.Context, res model.Reservation, buffer time.Duration, idempotencyKey string) (model.Reservation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Reservation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if idempotencyKey != "" {
		existingID, err := r.lockIdempotencyKey(ctx, tx, idempotencyKey)
		if err != nil {
			return model.Reservation{}, err
		}
		if existingID != "" {
			existing, err := scanReservation(tx.QueryRow(ctx, `
				SELECT `+reservationColumns+`
				FROM reservations
				WHERE id = $1
			`, existingID))
			if err != nil {
				return model.Reservation{}, err
			}
			return existing, tx.Commit(ctx)
		}
	}

	res.ID = uuid.NewString()
	err = tx.QueryRow(ctx, `
		INSERT INTO reservations
			(id, starts_at, status, car_brand, car_model, car_plate, client_name, client_phone, description, blocked_during)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			tstzrange($2 - make_interval(secs => $10 / 2.0),
			          $2 + make_interval(secs => $10 / 2.0), '()'))
		RETURNING created_at
	`, res.ID, res.StartsAt.UTC(), string(res.Status),
		res.CarBrand, res.CarModel, res.CarPlate,
		res.ClientName, res.ClientPhone, res.Description,
		buffer.Seconds()).Scan(&res.CreatedAt)
	if err != nil {
		if isSlotConflict(err) {
			return model.Reservation{}, booking.ErrConflict
		}
		return model.Reservation{}, err
	}

	if err := r.insertStatusEvent(ctx, tx, res, "booking.reservation.requested.v1"); err != nil {
		return model.Reservation{}, err
	}

	if idempotencyKey != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE reservation_idempotency_keys
			SET reservation_id = $2
			WHERE idempotency_key = $1
		`, idempotencyKey, res.ID); err != nil {
			return model.Reservation{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Reservation{}, err
	}
	return res, nil
}

// Transition moves a reservation through its lifecycle under FOR UPDATE.
// Repeating an already-applied transition returns the recorded state instead
// of failing, so confirm/cancel retries stay idempotent.
func (r *ReservationRepository) Transition(ctx context.Context, id string, to model.Status, note string) (model.Reservation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Reservation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := scanReservation(tx.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Reservation{}, ErrNotFound
		}
		return model.Reservation{}, err
	}

	if res.Status == to {
		return res, tx.Commit(ctx)
	}
	if !model.CanTransition(res.Status, to) {
		return model.Reservation{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, res.Status, to)
	}

	var cancelledAt *time.Time
	err = tx.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2,
			mechanic_note = NULLIF($3, ''),
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN now() ELSE cancelled_at END,
			updated_at = now()
		WHERE id = $1
		RETURNING cancelled_at
	`, id, string(to), note).Scan(&cancelledAt)
	if err != nil {
		return model.Reservation{}, err
	}
	res.Status = to
	res.CancelledAt = cancelledAt
	if note != "" {
		res.MechanicNote = note
	}

	if err := r.insertStatusEvent(ctx, tx, res, "booking.reservation."+string(to)+".v1"); err != nil {
		return model.Reservation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Reservation{}, err
	}
	return res, nil
}

// Reschedule moves an active reservation to a new instant. The exclusion
// constraint re-validates the new buffer neighbourhood within the update
// itself; the row never conflicts with its own previous position.
func (r *ReservationRepository) Reschedule(ctx context.Context, id string, at time.Time, buffer time.Duration, note string) (model.Reservation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Reservation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := scanReservation(tx.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Reservation{}, ErrNotFound
		}
		return model.Reservation{}, err
	}
	if !res.Status.Blocks() {
		return model.Reservation{}, fmt.Errorf("%w: %s reservations cannot be rescheduled", ErrInvalidTransition, res.Status)
	}

	_, err = tx.Exec(ctx, `
		UPDATE reservations
		SET starts_at = $2,
			blocked_during = tstzrange($2 - make_interval(secs => $3 / 2.0),
			                           $2 + make_interval(secs => $3 / 2.0), '()'),
			mechanic_note = COALESCE(NULLIF($4, ''), mechanic_note),
			updated_at = now()
		WHERE id = $1
	`, id, at.UTC(), buffer.Seconds(), note)
	if err != nil {
		if isSlotConflict(err) {
			return model.Reservation{}, booking.ErrConflict
		}
		return model.Reservation{}, err
	}
	res.StartsAt = at.UTC()
	if note != "" {
		res.MechanicNote = note
	}

	if err := r.insertStatusEvent(ctx, tx, res, "booking.reservation.rescheduled.v1"); err != nil {
		return model.Reservation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Reservation{}, err
	}
	return res, nil
}

func (r *ReservationRepository) GetByID(ctx context.Context, id string) (model.Reservation, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Reservation{}, ErrNotFound
	}
	return res, err
}

func (r *ReservationRepository) ListRecent(ctx context.Context, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		ORDER BY starts_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ReservationRepository) insertStatusEvent(ctx context.Context, tx pgx.Tx, res model.Reservation, eventType string) error {
	payload, err := json.Marshal(map[string]any{
		"reservation_id": res.ID,
		"starts_at":      res.StartsAt.UTC().Format(time.RFC3339),
		"status":         string(res.Status),
		"car_brand":      res.CarBrand,
		"car_model":      res.CarModel,
		"car_plate":      res.CarPlate,
		"client_name":    res.ClientName,
		"client_phone":   res.ClientPhone,
	})
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "reservation",
		AggregateID:   res.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func (r *ReservationRepository) lockIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (string, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO reservation_idempotency_keys (idempotency_key)
		VALUES ($1)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key)
	if err != nil {
		return "", err
	}
	var reservationID string
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(reservation_id::text, '')
		FROM reservation_idempotency_keys
		WHERE idempotency_key = $1
		FOR UPDATE
	`, key).Scan(&reservationID)
	if err != nil {
		return "", err
	}
	return reservationID, nil
}

// isSlotConflict covers both exclusion violations (23P01, buffer overlap)
// and unique violations (23505, same instant under a zero buffer).
func isSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
