// Package ratelimit implements fixed-window request limiting and
// failed-login lockout for the gateway.
//
// A Limiter applies one Policy (window length, maximum count, key
// derivation and rejection response) on top of a Counter. Counters are
// swappable: MemoryCounter keeps windows in process, RedisCounter shares
// them between gateway instances.
//
// FailedLoginTracker counts only authentication failures reported by the
// wrapped login handler and clears a key on success.
package ratelimit

import (
	"math"
	"time"
)

// Window is the state of one rate window counter.
type Window struct {
	// Key identifies the counted client (and secondary field, if any).
	Key string `json:"key"`

	// Count is the number of requests counted in the current window.
	// It never exceeds the limit it was taken against.
	Count int `json:"count"`

	// Start is when the current window opened.
	Start time.Time `json:"start"`

	// Length is the window length.
	Length time.Duration `json:"length"`
}

// ResetAt returns when the window closes.
func (w Window) ResetAt() time.Time {
	return w.Start.Add(w.Length)
}

// IsExpired reports whether the window has elapsed at now.
func (w Window) IsExpired(now time.Time) bool {
	return now.Sub(w.Start) > w.Length
}

// TimeUntilReset returns the duration until the window closes.
// Returns 0 if it already has.
func (w Window) TimeUntilReset(now time.Time) time.Duration {
	d := w.ResetAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Decision is the result of a limiter check.
type Decision struct {
	// Allowed is false when the request must be rejected.
	Allowed bool

	// Limit is the configured maximum.
	Limit int

	// Remaining is how many more requests the key may make in the window.
	Remaining int

	// ResetAt is when the window closes.
	ResetAt time.Time
}

// RetryAfter returns the whole seconds a rejected client should wait,
// at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func decide(w Window, limit int, allowed bool) Decision {
	remaining := limit - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   w.ResetAt(),
	}
}
