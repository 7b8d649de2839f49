package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/pkolodziej/garagebook/libs/config"
	"github.com/pkolodziej/garagebook/libs/db"
	"github.com/pkolodziej/garagebook/libs/httpx"
	"github.com/pkolodziej/garagebook/libs/kafkax"
	otelx "github.com/pkolodziej/garagebook/libs/otel"
	"github.com/pkolodziej/garagebook/libs/outbox"
	"github.com/pkolodziej/garagebook/libs/runtime"
	"github.com/pkolodziej/garagebook/services/reminder-service/internal/consumer"
	"github.com/pkolodziej/garagebook/services/reminder-service/internal/inbox"
	"github.com/pkolodziej/garagebook/services/reminder-service/internal/jobs"
	"github.com/pkolodziej/garagebook/services/reminder-service/internal/storage"
	"github.com/pkolodziej/garagebook/services/reminder-service/internal/telegram"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "reminder-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := storage.Migrate(ctx, pool); err != nil {
		logger.Error("db migration failed", "err", err)
		panic(err)
	}

	chatID, err := strconv.ParseInt(config.String("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		panic(fmt.Errorf("TELEGRAM_CHAT_ID must be numeric: %w", err))
	}
	var sender telegram.Sender
	if token := config.String("TELEGRAM_BOT_TOKEN", ""); token != "" {
		sender = telegram.NewBotSender(token)
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set; reminders are dropped")
		sender = telegram.NewNoopSender()
	}

	location := time.UTC
	if tz := config.String("TIMEZONE", "Europe/Warsaw"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			location = loc
		} else {
			logger.Warn("unknown TIMEZONE, using UTC", "value", tz)
		}
	}

	offsets, rejected := jobs.ParseOffsets(config.String("REMINDER_OFFSETS_MINUTES", "180,60,30"))
	for _, bad := range rejected {
		logger.Warn("invalid reminder offset", "value", bad)
	}
	jobsRepo := jobs.NewRepository()
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	worker := jobs.NewWorker(pool, jobsRepo, outboxRepo, sender, logger, jobs.WorkerConfig{
		Interval:  config.Duration("WORKER_INTERVAL", 5*time.Second),
		BatchSize: config.Int("WORKER_BATCH_SIZE", 50),
		Backoff:   config.Duration("WORKER_BACKOFF", 1*time.Minute),
		Location:  location,
	})
	go worker.Run(ctx)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	decodeEvent := func(msg kafka.Message) (jobs.ReservationEvent, bool) {
		var evt jobs.ReservationEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return evt, false
		}
		if evt.ReservationID == "" {
			logger.Error("missing required event fields", "topic", msg.Topic)
			return evt, false
		}
		return evt, true
	}

	insertJobs := func(ctx context.Context, tx pgx.Tx, evt jobs.ReservationEvent) error {
		startsAt, err := time.Parse(time.RFC3339, evt.StartsAt)
		if err != nil {
			logger.Error("invalid starts_at in event", "reservation_id", evt.ReservationID)
			return nil
		}
		for _, job := range jobs.BuildJobs(evt, startsAt, offsets, chatID, time.Now().UTC()) {
			if err := jobsRepo.Insert(ctx, tx, job); err != nil {
				return err
			}
		}
		return nil
	}

	scheduleReminders := func(ctx context.Context, msg kafka.Message) error {
		evt, ok := decodeEvent(msg)
		if !ok {
			return nil
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := insertJobs(ctx, tx, evt); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	cancelReminders := func(ctx context.Context, msg kafka.Message) error {
		evt, ok := decodeEvent(msg)
		if !ok {
			return nil
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := jobsRepo.CancelByReservation(ctx, tx, evt.ReservationID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	// On a reschedule the old remind-at instants are wrong; drop them and,
	// if the reservation is still confirmed, rebuild against the new time.
	rescheduleReminders := func(ctx context.Context, msg kafka.Message) error {
		evt, ok := decodeEvent(msg)
		if !ok {
			return nil
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := jobsRepo.CancelByReservation(ctx, tx, evt.ReservationID); err != nil {
			return err
		}
		if evt.Status == "confirmed" {
			if err := insertJobs(ctx, tx, evt); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "reminder-service")
	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" || strings.TrimSpace(brokers) == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	startConsumer("booking.reservation.confirmed.v1", scheduleReminders)
	startConsumer("booking.reservation.cancelled.v1", cancelReminders)
	startConsumer("booking.reservation.rejected.v1", cancelReminders)
	startConsumer("booking.reservation.rescheduled.v1", rescheduleReminders)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "reminder")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
