package storage

import (
	"context"

	"github.com/pkolodziej/garagebook/libs/db"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS inbox_events (
	event_id   text PRIMARY KEY,
	event_type text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reminder_jobs (
	id              bigserial PRIMARY KEY,
	idempotency_key text NOT NULL UNIQUE,
	reservation_id  text NOT NULL,
	chat_id         bigint NOT NULL,
	remind_at       timestamptz NOT NULL,
	template_data   jsonb NOT NULL DEFAULT '{}',
	status          text NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'processed', 'failed', 'cancelled')),
	attempts        int NOT NULL DEFAULT 0,
	max_attempts    int NOT NULL DEFAULT 5,
	next_run_at     timestamptz NOT NULL,
	last_error      text,
	traceparent     text NOT NULL DEFAULT '',
	tracestate      text NOT NULL DEFAULT '',
	created_at      timestamptz NOT NULL DEFAULT now(),
	updated_at      timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS reminder_jobs_due_idx
	ON reminder_jobs (next_run_at)
	WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS reminder_jobs_reservation_idx
	ON reminder_jobs (reservation_id);

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
