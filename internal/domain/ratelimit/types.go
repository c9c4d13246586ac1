// Package ratelimit defines the fixed-window rate limiting domain: a
// per-key request count capped at rate*burstMultiplier requests per
// window, reset at each window boundary.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config is the limit applied to one (consumer, server) key.
type Config struct {
	// Rate is the number of requests allowed per Window before the burst
	// multiplier is applied.
	Rate int
	// BurstMultiplier scales Rate to get the window's hard cap; a
	// multiplier of 1.0 means no extra burst allowance.
	BurstMultiplier float64
	// Window is the fixed window duration (e.g. one minute).
	Window time.Duration
}

// Limit returns the effective request cap for the window: ceil(rate *
// burstMultiplier), per spec §4.3.
func (c Config) Limit() int {
	cap := int(math.Ceil(float64(c.Rate) * c.BurstMultiplier))
	if cap < c.Rate {
		cap = c.Rate
	}
	if cap <= 0 {
		cap = 1
	}
	return cap
}

// Result is the outcome of a single Allow check.
type Result struct {
	// Allowed is true when the request may proceed.
	Allowed bool
	// Remaining is the number of requests left in the current window.
	Remaining int
	// ResetAfter is the duration until the window rolls over.
	ResetAfter time.Duration
}

// Limiter checks and consumes rate limit budget for a key.
type Limiter interface {
	// Allow atomically checks and, if permitted, consumes one unit of the
	// key's budget for the current window.
	Allow(ctx context.Context, key string, cfg Config) (Result, error)
}

// Key formats a structured rate-limit key from a consumer and server ID.
func Key(consumerID, serverID string) string {
	return fmt.Sprintf("%s:%s", consumerID, serverID)
}
