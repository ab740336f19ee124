// Package pacing decides when a campaign may send and how long to wait
// between sends so traffic looks typed by a person.
package pacing

import (
	"math/rand"
	"time"
	"unicode/utf8"
)

// QuotaCheckEvery is how many processed contacts pass between re-reads of the
// tenant's monthly usage.
const QuotaCheckEvery = 50

const (
	ReasonWeekend     = "weekend"
	ReasonBeforeHours = "before_hours"
	ReasonAfterHours  = "after_hours"
)

const (
	typingCharsPerSecond = 3.3
	minTyping            = time.Second
	maxTyping            = 7 * time.Second
)

// Window is the sending policy of a campaign.
type Window struct {
	StartHour int
	EndHour   int
	Weekends  bool
}

// Decision is the outcome of CanSendNow. Wait is zero when Allowed.
type Decision struct {
	Allowed bool
	Reason  string
	Wait    time.Duration
}

// CanSendNow evaluates the window in now's location. Rules are applied in
// order: weekend, before start, at or after end.
func CanSendNow(w Window, now time.Time) Decision {
	wd := now.Weekday()
	if !w.Weekends && (wd == time.Saturday || wd == time.Sunday) {
		daysToMonday := (int(time.Monday) - int(wd) + 7) % 7
		monday := startOfDay(now).AddDate(0, 0, daysToMonday)
		return Decision{Reason: ReasonWeekend, Wait: monday.Sub(now)}
	}

	if now.Hour() < w.StartHour {
		return Decision{Reason: ReasonBeforeHours, Wait: atHour(now, 0, w.StartHour).Sub(now)}
	}

	if now.Hour() >= w.EndHour {
		return Decision{Reason: ReasonAfterHours, Wait: atHour(now, 1, w.StartHour).Sub(now)}
	}

	return Decision{Allowed: true}
}

// Rand is the subset of *rand.Rand used for delays.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// DefaultRand draws from math/rand's global source.
var DefaultRand Rand = globalRand{}

// HumanDelay samples uniformly in [min, max] seconds, adds a symmetric jitter
// of up to half a second and never returns less than min seconds.
func HumanDelay(minSeconds, maxSeconds int, r Rand) time.Duration {
	if r == nil {
		r = DefaultRand
	}
	if maxSeconds < minSeconds {
		maxSeconds = minSeconds
	}
	lo := float64(minSeconds) * 1000
	span := float64(maxSeconds-minSeconds) * 1000
	ms := lo + r.Float64()*span
	noise := (r.Float64() + r.Float64() - 1) * 500
	ms += noise
	if ms < lo {
		ms = lo
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// TypingDelay is the simulated typing time for text, clamped to [1s, 7s].
func TypingDelay(text string) time.Duration {
	secs := float64(utf8.RuneCountInString(text)) / typingCharsPerSecond
	d := time.Duration(secs * float64(time.Second))
	if d < minTyping {
		return minTyping
	}
	if d > maxTyping {
		return maxTyping
	}
	return d
}

// QuotaExceeded reports whether the monthly usage reached the limit. A
// non-positive limit means unlimited.
func QuotaExceeded(sent, limit int) bool {
	return limit > 0 && sent >= limit
}

// ShouldCheckQuota reports whether the contact at index i triggers a quota
// re-read.
func ShouldCheckQuota(i int) bool {
	return i > 0 && i%QuotaCheckEvery == 0
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func atHour(t time.Time, dayOffset, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+dayOffset, hour, 0, 0, 0, t.Location())
}
