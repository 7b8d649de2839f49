package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkolodziej/garagebook/libs/config"
	"github.com/pkolodziej/garagebook/libs/db"
	"github.com/pkolodziej/garagebook/libs/httpx"
	"github.com/pkolodziej/garagebook/libs/kafkax"
	otelx "github.com/pkolodziej/garagebook/libs/otel"
	"github.com/pkolodziej/garagebook/libs/outbox"
	"github.com/pkolodziej/garagebook/libs/runtime"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/booking"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/handlers"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/schedule"
	"github.com/pkolodziej/garagebook/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8080")
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
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := storage.Migrate(ctx, pool); err != nil {
		logger.Error("db migration failed", "err", err)
		panic(err)
	}

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
	}

	outboxRepo := outbox.NewRepository(pool)
	reservationRepo := storage.NewReservationRepository(pool, outboxRepo)
	scheduleRepo := storage.NewScheduleRepository(pool)
	scheduleSource := schedule.NewCachedSource(scheduleRepo, rdb,
		config.Duration("SCHEDULE_CACHE_TTL", 30*time.Second), logger)

	engine := booking.NewEngine(reservationRepo, scheduleSource, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(engine, reservationRepo, scheduleSource, logger)
	scheduleHandler := handlers.NewScheduleHandler(scheduleRepo, scheduleSource, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	bookingHandler.Register(mux)
	scheduleHandler.Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id,Idempotency-Key")),
			MaxAge:         config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(config.Duration("HTTP_REQUEST_TIMEOUT", 15*time.Second)),
	}
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT", 60), time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT", 60), time.Minute)
		middlewares = append(middlewares, limiter.Middleware())
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
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
