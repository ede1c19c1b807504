// Package ratelimit counts executed transfers per recipient in fixed windows.
package ratelimit

import (
	"context"
	"time"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// Limiter tracks per-key counters. Reserve compares and increments in one
// atomic step, so a counter never passes the limit even when several
// processes share the backend.
type Limiter interface {
	// Check reports the current counter without modifying it.
	Check(ctx context.Context, key string) (models.RateLimitState, bool, error)
	// Reserve takes one unit of the window's allowance if any is left.
	// The returned state carries the count after the call and the window
	// the unit was taken from.
	Reserve(ctx context.Context, key string) (models.RateLimitState, bool, error)
	// Release returns a unit taken by Reserve to the window in st.
	Release(ctx context.Context, st models.RateLimitState) error
	Close() error
}

// WindowStart returns the start of the fixed window containing t. Windows are
// aligned to the Unix epoch in UTC, so a 24h window starts at UTC midnight.
func WindowStart(t time.Time, window time.Duration) time.Time {
	return t.UTC().Truncate(window)
}

// NoOpLimiter always allows.
type NoOpLimiter struct{}

// Check always allows.
func (NoOpLimiter) Check(_ context.Context, key string) (models.RateLimitState, bool, error) {
	return models.RateLimitState{Key: key}, true, nil
}

// Reserve always allows and counts nothing.
func (NoOpLimiter) Reserve(_ context.Context, key string) (models.RateLimitState, bool, error) {
	return models.RateLimitState{Key: key}, true, nil
}

// Release does nothing.
func (NoOpLimiter) Release(context.Context, models.RateLimitState) error { return nil }

// Close does nothing.
func (NoOpLimiter) Close() error { return nil }
