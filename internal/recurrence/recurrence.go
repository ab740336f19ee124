// Package recurrence turns a campaign's repeat settings into concrete send
// instants. Every instant becomes its own campaign row.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	TypeNone   = "none"
	TypeDaily  = "daily"
	TypeWeekly = "weekly"
	TypeCustom = "custom"
)

// DefaultTime is used when a recurring spec carries no times.
const DefaultTime = "09:00"

var (
	ErrUnknownType = errors.New("unknown recurrence type")
	ErrInvalidTime = errors.New("invalid time of day")
	ErrInvalidDay  = errors.New("invalid day of week")
)

// Spec is the user-facing repeat description. Days use 0 = Sunday.
type Spec struct {
	Type    string     `json:"type"`
	Days    []int      `json:"days"`
	Times   []string   `json:"times"`
	EndDate *time.Time `json:"end_date,omitempty"`
}

type clock struct {
	hour, minute int
}

// Validate checks the spec without expanding it.
func (s Spec) Validate() error {
	switch s.Type {
	case "", TypeNone, TypeDaily, TypeWeekly, TypeCustom:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, s.Type)
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: %d", ErrInvalidDay, d)
		}
	}
	_, err := parseTimes(s.Times)
	return err
}

// Expand materializes the spec. A nil entry means "send as soon as
// dispatched". The result is never empty.
func Expand(base *time.Time, spec Spec, now time.Time, loc *time.Location) ([]*time.Time, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	if spec.Type == "" || spec.Type == TypeNone {
		return []*time.Time{base}, nil
	}

	clocks, _ := parseTimes(spec.Times)

	start := now.In(loc)
	if base != nil {
		start = base.In(loc)
	}

	end := start.AddDate(0, 1, 0)
	if spec.EndDate != nil {
		end = spec.EndDate.In(loc)
	}
	lastDay := midnight(end)

	days := make(map[time.Weekday]bool, len(spec.Days))
	for _, d := range spec.Days {
		days[time.Weekday(d)] = true
	}

	var out []*time.Time
	for day := midnight(start); !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		if spec.Type != TypeDaily && !days[day.Weekday()] {
			continue
		}
		for _, c := range clocks {
			ts := time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, loc)
			out = append(out, &ts)
		}
	}

	if len(out) == 0 {
		fallback := start
		return []*time.Time{&fallback}, nil
	}
	return out, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// parseTimes returns the distinct times sorted, defaulting to 09:00.
func parseTimes(raw []string) ([]clock, error) {
	if len(raw) == 0 {
		raw = []string{DefaultTime}
	}
	seen := make(map[clock]bool, len(raw))
	clocks := make([]clock, 0, len(raw))
	for _, r := range raw {
		c, err := parseClock(r)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		clocks = append(clocks, c)
	}
	sort.Slice(clocks, func(i, j int) bool {
		if clocks[i].hour != clocks[j].hour {
			return clocks[i].hour < clocks[j].hour
		}
		return clocks[i].minute < clocks[j].minute
	})
	return clocks, nil
}

func parseClock(s string) (clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return clock{hour: h, minute: m}, nil
}
