package admission

import (
	"context"
	"fmt"
	"time"
)

// RateLimitResult is one allow/deny decision for one identifier.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed-window rate limiter over the shared Store. Fixed windows are
// deliberate: the protected operations (signups, admin traffic) tolerate
// window-edge bursts, and a single atomic increment keeps the check non-blocking.
type Limiter struct {
	store Store
	now   func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Check consumes one unit of the identifier's budget for the current window and
// reports the decision. limit <= 0 always denies (and skips the store entirely);
// a non-positive window is a configuration bug surfaced as an error, it must be
// caught at setup via ValidateWindow, not at request time.
//
// When a caller is checked against multiple identifiers, check them in order and
// stop on the first denial: the short-circuit keeps later counters untouched.
func (l *Limiter) Check(ctx context.Context, id Identifier, limit int, window time.Duration) (RateLimitResult, error) {
	if err := ValidateWindow(window); err != nil {
		return RateLimitResult{}, err
	}

	now := l.now().UTC()
	windowStart := now.Truncate(window)
	resetAt := windowStart.Add(window)

	if limit <= 0 {
		return RateLimitResult{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	count, err := l.store.IncrementCounter(ctx, id, windowStart, window)
	if err != nil {
		return RateLimitResult{}, err
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// RetryAfterSeconds converts a denial into the Retry-After hint: whole seconds
// until the window resets, rounded up, never below 1.
func (l *Limiter) RetryAfterSeconds(res RateLimitResult) int {
	secs := int((res.ResetAt.Sub(l.now()) + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ValidateWindow rejects non-positive window durations. Call it when building
// limiter configuration so a bad window fails fast at startup.
func ValidateWindow(window time.Duration) error {
	if window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", window)
	}
	return nil
}
