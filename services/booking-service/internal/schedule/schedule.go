package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid marks a work schedule that cannot be used for any computation
// (unknown timezone, non-positive step, negative buffer). Degenerate but
// self-consistent schedules (open >= close, buffer wider than the whole day)
// are NOT errors; they simply yield zero slots.
var ErrInvalid = errors.New("invalid work schedule")

// Config is the per-operation snapshot of the garage work schedule. Callers
// fetch it once per request; the availability code never reaches for global
// state.
type Config struct {
	Timezone    string
	Location    *time.Location
	OpenTime    time.Duration // wall-clock offset from local midnight
	CloseTime   time.Duration
	Step        time.Duration
	Buffer      time.Duration
	HorizonDays int
}

const day = 24 * time.Hour

func (c Config) Validate() error {
	if c.Location == nil {
		return fmt.Errorf("%w: timezone not resolved", ErrInvalid)
	}
	if c.Step <= 0 {
		return fmt.Errorf("%w: step %v must be positive", ErrInvalid, c.Step)
	}
	if c.Buffer < 0 {
		return fmt.Errorf("%w: buffer %v must not be negative", ErrInvalid, c.Buffer)
	}
	if c.HorizonDays < 0 {
		return fmt.Errorf("%w: horizon %d must not be negative", ErrInvalid, c.HorizonDays)
	}
	if c.OpenTime < 0 || c.OpenTime >= day || c.CloseTime < 0 || c.CloseTime > day {
		return fmt.Errorf("%w: open/close must fall within one day", ErrInvalid)
	}
	return nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad clock time %q", ErrInvalid, s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FormatClock renders an offset from midnight as "HH:MM".
func FormatClock(d time.Duration) string {
	d = d % day
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// ClockOf returns the wall-clock offset from local midnight of an instant.
func (c Config) ClockOf(t time.Time) time.Duration {
	lt := t.In(c.Location)
	return time.Duration(lt.Hour())*time.Hour +
		time.Duration(lt.Minute())*time.Minute +
		time.Duration(lt.Second())*time.Second +
		time.Duration(lt.Nanosecond())
}

// InstantAt maps a calendar date (year/month/day of d) plus a wall-clock
// offset to an absolute instant in the schedule's zone. time.Date resolves
// DST transitions per that specific date, so the same clock time lands on
// different UTC offsets on either side of a transition.
func (c Config) InstantAt(d time.Time, clock time.Duration) time.Time {
	y, m, dd := d.Date()
	return time.Date(y, m, dd, 0, 0, 0, int(clock), c.Location)
}

// StartOfDay returns local midnight of the calendar date carried by d.
func (c Config) StartOfDay(d time.Time) time.Time {
	return c.InstantAt(d, 0)
}
