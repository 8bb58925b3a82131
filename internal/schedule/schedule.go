// Package schedule holds the persisted broadcast schedule model.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool { return s == StatusActive || s == StatusInactive }

// TimeOfDay is a wall-clock hour:minute without a date; it recurs daily.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// CronSpec renders the time as a standard 5-field daily cron expression.
func (t TimeOfDay) CronSpec() string { return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour) }

// On returns the instant of t on the calendar day of day, in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, loc)
}

var reHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseTimeOfDay parses "HH:MM" (hour 0-23, minute 0-59). A single-digit hour is accepted.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	m := reHHMM.FindStringSubmatch(raw)
	if len(m) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	h, err := strconv.Atoi(m[1])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", raw)
	}
	mm, err := strconv.Atoi(m[2])
	if err != nil || mm < 0 || mm > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", raw)
	}
	return TimeOfDay{Hour: h, Minute: mm}, nil
}

// Schedule is a persisted (target, time-of-day) pair.
type Schedule struct {
	ID        int64
	Target    string
	At        TimeOfDay
	Status    Status
	CreatedAt time.Time
}

func (s Schedule) Active() bool { return s.Status == StatusActive }
