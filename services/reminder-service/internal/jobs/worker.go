package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkolodziej/garagebook/libs/db"
	otelx "github.com/pkolodziej/garagebook/libs/otel"
	"github.com/pkolodziej/garagebook/libs/outbox"
	"github.com/pkolodziej/garagebook/services/reminder-service/internal/telegram"
)

// Worker polls due reminder jobs and delivers them over Telegram. Delivery
// failures retry with a fixed backoff; a job that exhausts its attempts is
// parked as failed and surfaced on the DLQ topic.
type Worker struct {
	pool      *db.Pool
	repo      *Repository
	outbox    *outbox.Repository
	sender    telegram.Sender
	logger    *slog.Logger
	location  *time.Location
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
	Location  *time.Location
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, sender telegram.Sender, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		outbox:    outboxRepo,
		sender:    sender,
		logger:    logger,
		location:  cfg.Location,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var delivered []int64
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)

		if err := w.sender.Send(jobCtx, job.ChatID, w.renderMessage(job)); err != nil {
			w.logger.Warn("reminder delivery failed",
				"reservation_id", job.ReservationID,
				"attempt", job.Attempts+1,
				"err", err)
			if err := w.markFailure(jobCtx, tx, job, err); err != nil {
				return err
			}
			continue
		}
		delivered = append(delivered, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, delivered); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (w *Worker) markFailure(ctx context.Context, tx pgx.Tx, job Job, cause error) error {
	attempts := job.Attempts + 1
	nextRunAt := time.Now().UTC().Add(w.backoff)
	if err := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, nextRunAt, cause.Error()); err != nil {
		return err
	}
	if attempts < job.MaxAttempts {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"reservation_id": job.ReservationID,
		"chat_id":        job.ChatID,
		"remind_at":      job.RemindAt.UTC().Format(time.RFC3339),
		"template_data":  job.TemplateData,
		"error_reason":   cause.Error(),
		"failed_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "reminder_job",
		AggregateID:   job.ReservationID,
		EventType:     "reminder.delivery.dlq.v1",
		Payload:       payload,
	})
}

func (w *Worker) renderMessage(job Job) string {
	startsAt := stringField(job.TemplateData, "starts_at")
	if t, err := time.Parse(time.RFC3339, startsAt); err == nil {
		startsAt = t.In(w.location).Format("Mon, 02 Jan 15:04")
	}
	car := stringField(job.TemplateData, "car_brand") + " " + stringField(job.TemplateData, "car_model")
	plate := stringField(job.TemplateData, "car_plate")
	name := stringField(job.TemplateData, "client_name")

	msg := fmt.Sprintf("Reminder: service appointment at %s for %s", startsAt, car)
	if plate != "" {
		msg += " (" + plate + ")"
	}
	if name != "" {
		msg += ", client " + name
	}
	return msg
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
