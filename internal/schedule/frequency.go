// Package schedule holds the time arithmetic shared by recurring jobs and the
// result type they report per item.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

// Frequency describes how often a recurring job runs. It is either one of
// the named cadences or a standard 5-field cron expression.
type Frequency struct {
	spec string
	cron cron.Schedule
}

func ParseFrequency(spec string) (Frequency, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	switch s {
	case Daily, Weekly, Monthly:
		return Frequency{spec: s}, nil
	case "":
		return Frequency{}, fmt.Errorf("frequency is empty")
	}

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return Frequency{}, fmt.Errorf("invalid frequency %q: %w", spec, err)
	}
	return Frequency{spec: strings.TrimSpace(spec), cron: sched}, nil
}

func (f Frequency) String() string {
	return f.spec
}

// Next advances prev by exactly one step. Named cadences use calendar
// arithmetic in UTC; cron expressions return their next fire time after prev.
func (f Frequency) Next(prev time.Time) time.Time {
	prev = prev.UTC()
	switch f.spec {
	case Daily:
		return prev.AddDate(0, 0, 1)
	case Weekly:
		return prev.AddDate(0, 0, 7)
	case Monthly:
		return addMonths(prev, 1)
	}
	return f.cron.Next(prev).UTC()
}

// Previous steps back one interval from at. For cron expressions the length
// of the step following at is used.
func (f Frequency) Previous(at time.Time) time.Time {
	at = at.UTC()
	switch f.spec {
	case Daily:
		return at.AddDate(0, 0, -1)
	case Weekly:
		return at.AddDate(0, 0, -7)
	case Monthly:
		return addMonths(at, -1)
	}
	return at.Add(-f.cron.Next(at).Sub(at))
}

// First returns the first occurrence strictly after created: the next UTC
// midnight for daily, the next Monday for weekly, the first of the next month
// for monthly.
func (f Frequency) First(created time.Time) time.Time {
	created = created.UTC()
	midnight := time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, time.UTC)
	switch f.spec {
	case Daily:
		return midnight.AddDate(0, 0, 1)
	case Weekly:
		days := (8 - int(midnight.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		return midnight.AddDate(0, 0, days)
	case Monthly:
		return time.Date(created.Year(), created.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	}
	return f.cron.Next(created).UTC()
}

// addMonths moves t by n calendar months, keeping the time of day and
// clamping the day to the length of the target month (Jan 31 + 1 is Feb 29
// in a leap year, not Mar 2).
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC).AddDate(0, n, 0)
	day := t.Day()
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
