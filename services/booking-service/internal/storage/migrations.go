package storage

import (
	"context"

	"github.com/pkolodziej/garagebook/libs/db"
)

// schemaSQL is idempotent and applied at startup. The btree_gist extension is
// needed for the gist exclusion constraint over tstzrange.
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS btree_gist;

CREATE TABLE IF NOT EXISTS reservations (
	id             uuid PRIMARY KEY,
	starts_at      timestamptz NOT NULL,
	status         text NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'confirmed', 'cancelled', 'rejected')),
	car_brand      text NOT NULL,
	car_model      text NOT NULL,
	car_plate      text NOT NULL,
	client_name    text NOT NULL,
	client_phone   text NOT NULL,
	description    text NOT NULL DEFAULT '',
	mechanic_note  text,
	blocked_during tstzrange NOT NULL,
	cancelled_at   timestamptz,
	created_at     timestamptz NOT NULL DEFAULT now(),
	updated_at     timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT reservations_no_buffer_overlap
		EXCLUDE USING gist (blocked_during WITH &&)
		WHERE (status IN ('pending', 'confirmed'))
);

CREATE INDEX IF NOT EXISTS reservations_starts_at_idx
	ON reservations (starts_at)
	WHERE status IN ('pending', 'confirmed');

-- A zero buffer makes blocked_during an empty range, and empty ranges never
-- overlap; the slot instant itself must still be exclusive.
CREATE UNIQUE INDEX IF NOT EXISTS reservations_active_starts_at_key
	ON reservations (starts_at)
	WHERE status IN ('pending', 'confirmed');

CREATE TABLE IF NOT EXISTS reservation_idempotency_keys (
	idempotency_key text PRIMARY KEY,
	reservation_id  uuid REFERENCES reservations (id),
	created_at      timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS work_schedule (
	id             int PRIMARY KEY CHECK (id = 1),
	timezone       text NOT NULL,
	open_clock     text NOT NULL,
	close_clock    text NOT NULL,
	step_minutes   int NOT NULL,
	buffer_minutes int NOT NULL,
	horizon_days   int NOT NULL,
	updated_at     timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             bigserial PRIMARY KEY,
	event_id       uuid NOT NULL DEFAULT gen_random_uuid(),
	aggregate_type text NOT NULL,
	aggregate_id   text NOT NULL,
	event_type     text NOT NULL,
	payload        jsonb NOT NULL,
	traceparent    text NOT NULL DEFAULT '',
	tracestate     text NOT NULL DEFAULT '',
	created_at     timestamptz NOT NULL DEFAULT now(),
	published_at   timestamptz
);

CREATE INDEX IF NOT EXISTS outbox_events_unpublished_idx
	ON outbox_events (id)
	WHERE published_at IS NULL;
`

func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
