package backup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinRunInterval is the shortest gap allowed between two firings of a schedule.
const MinRunInterval = 60 * time.Second

// nextRunHorizon bounds the NextRun search.
const nextRunHorizon = 4 * 366 * 24 * time.Hour

// ErrInvalidCron is returned for expressions outside the supported grammar.
var ErrInvalidCron = errors.New("invalid cron expression")

// wildcard marks a field that matches every value.
const wildcard = -1

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 7},
}

// CronSpec is a parsed five-field expression. Each field holds an exact
// value or wildcard. Ranges, lists and steps are not supported.
type CronSpec struct {
	Minute     int
	Hour       int
	DayOfMonth int
	Month      int
	DayOfWeek  int
}

// ParseCron parses "minute hour day-of-month month day-of-week".
// Day of week accepts 0-7 where both 0 and 7 mean Sunday.
func ParseCron(expr string) (CronSpec, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return CronSpec{}, fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalidCron, len(parts))
	}

	var vals [5]int
	for i, p := range parts {
		v, err := parseCronField(p, cronFields[i])
		if err != nil {
			return CronSpec{}, err
		}
		vals[i] = v
	}
	if vals[4] == 7 {
		vals[4] = 0
	}

	return CronSpec{
		Minute:     vals[0],
		Hour:       vals[1],
		DayOfMonth: vals[2],
		Month:      vals[3],
		DayOfWeek:  vals[4],
	}, nil
}

func parseCronField(s string, f cronField) (int, error) {
	if s == "*" {
		return wildcard, nil
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %s field %q must be * or a number", ErrInvalidCron, f.name, s)
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s field %q: %v", ErrInvalidCron, f.name, s, err)
	}
	if v < f.min || v > f.max {
		return 0, fmt.Errorf("%w: %s field %d out of range %d-%d", ErrInvalidCron, f.name, v, f.min, f.max)
	}
	return v, nil
}

// ValidateCron reports whether expr parses.
func ValidateCron(expr string) error {
	_, err := ParseCron(expr)
	return err
}

func fieldMatches(want, got int) bool {
	return want == wildcard || want == got
}

// Matches reports whether t falls in a minute selected by c. Every
// field must match, so day of month and day of week are both required when set.
// t is evaluated in its own location.
func (c CronSpec) Matches(t time.Time) bool {
	return fieldMatches(c.Minute, t.Minute()) &&
		fieldMatches(c.Hour, t.Hour()) &&
		c.dayMatches(t)
}

func (c CronSpec) dayMatches(t time.Time) bool {
	return fieldMatches(c.Month, int(t.Month())) &&
		fieldMatches(c.DayOfMonth, t.Day()) &&
		fieldMatches(c.DayOfWeek, int(t.Weekday()))
}

// String renders c back to cron syntax.
func (c CronSpec) String() string {
	vals := []int{c.Minute, c.Hour, c.DayOfMonth, c.Month, c.DayOfWeek}
	out := make([]string, len(vals))
	for i, v := range vals {
		if v == wildcard {
			out[i] = "*"
		} else {
			out[i] = strconv.Itoa(v)
		}
	}
	return strings.Join(out, " ")
}

// ShouldRun reports whether a schedule is due at now. A schedule never fires
// twice within MinRunInterval of its last run.
func ShouldRun(spec CronSpec, lastRunAt *time.Time, now time.Time) bool {
	if !spec.Matches(now) {
		return false
	}
	if lastRunAt == nil {
		return true
	}
	return now.Sub(*lastRunAt) >= MinRunInterval
}

// NextRun returns the first matching minute strictly after after. The
// boolean is false when nothing matches within four years, which happens
// for dates such as February 30.
func NextRun(spec CronSpec, after time.Time) (time.Time, bool) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(nextRunHorizon)

	for !t.After(limit) {
		if !spec.dayMatches(t) {
			y, m, d := t.Date()
			t = time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !fieldMatches(spec.Hour, t.Hour()) {
			y, m, d := t.Date()
			t = time.Date(y, m, d, t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !fieldMatches(spec.Minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// NextRunAfter parses expr and returns a pointer to its next run after t, or
// nil when the expression is invalid or never matches.
func NextRunAfter(expr string, t time.Time) *time.Time {
	spec, err := ParseCron(expr)
	if err != nil {
		return nil
	}
	next, ok := NextRun(spec, t)
	if !ok {
		return nil
	}
	return &next
}
