package schedule

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Source supplies the current work schedule. Implementations may cache;
// the engine only assumes the snapshot is valid for the single call.
type Source interface {
	Current(ctx context.Context) (Config, error)
}

// Loader loads the schedule from durable storage.
type Loader interface {
	LoadWorkSchedule(ctx context.Context) (Config, error)
}

const cacheKey = "garagebook:work_schedule:v1"

type cachedSchedule struct {
	Timezone      string `json:"timezone"`
	OpenClock     string `json:"open"`
	CloseClock    string `json:"close"`
	StepMinutes   int    `json:"step_minutes"`
	BufferMinutes int    `json:"buffer_minutes"`
	HorizonDays   int    `json:"horizon_days"`
}

// CachedSource is a read-through Redis cache over a Loader. Redis failures
// degrade to loading from storage; they never fail a request on their own.
type CachedSource struct {
	loader Loader
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedSource(loader Loader, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedSource{loader: loader, rdb: rdb, ttl: ttl, logger: logger}
}

func (s *CachedSource) Current(ctx context.Context) (Config, error) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, cacheKey).Result()
		if err == nil {
			var cached cachedSchedule
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				if cfg, err := cached.toConfig(); err == nil {
					return cfg, nil
				}
			}
			// Poisoned cache entry: fall through to storage and rewrite it.
		} else if err != redis.Nil {
			s.logger.Warn("schedule cache read failed", "err", err)
		}
	}

	cfg, err := s.loader.LoadWorkSchedule(ctx)
	if err != nil {
		return Config{}, err
	}

	if s.rdb != nil {
		raw, err := json.Marshal(fromConfig(cfg))
		if err == nil {
			if err := s.rdb.Set(ctx, cacheKey, raw, s.ttl).Err(); err != nil {
				s.logger.Warn("schedule cache write failed", "err", err)
			}
		}
	}
	return cfg, nil
}

// Invalidate drops the cached snapshot after an admin update.
func (s *CachedSource) Invalidate(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, cacheKey).Err(); err != nil {
		s.logger.Warn("schedule cache invalidation failed", "err", err)
	}
}

func (c cachedSchedule) toConfig() (Config, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return Config{}, err
	}
	open, err := ParseClock(c.OpenClock)
	if err != nil {
		return Config{}, err
	}
	closeAt, err := ParseClock(c.CloseClock)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Timezone:    c.Timezone,
		Location:    loc,
		OpenTime:    open,
		CloseTime:   closeAt,
		Step:        time.Duration(c.StepMinutes) * time.Minute,
		Buffer:      time.Duration(c.BufferMinutes) * time.Minute,
		HorizonDays: c.HorizonDays,
	}, nil
}

func fromConfig(cfg Config) cachedSchedule {
	return cachedSchedule{
		Timezone:      cfg.Timezone,
		OpenClock:     FormatClock(cfg.OpenTime),
		CloseClock:    FormatClock(cfg.CloseTime),
		StepMinutes:   int(cfg.Step / time.Minute),
		BufferMinutes: int(cfg.Buffer / time.Minute),
		HorizonDays:   cfg.HorizonDays,
	}
}
