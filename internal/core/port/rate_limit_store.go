package port

import (
	"context"
	"time"
)

// RateLimitStore defines the persistence operations required to enforce fixed-window limits.
type RateLimitStore interface {
	// Count returns hits recorded in the current window and the time left before it resets.
	Count(ctx context.Context, identifier string) (int64, time.Duration, error)
	// Increment records a hit, opening a new window of the given length when none is active.
	Increment(ctx context.Context, identifier string, window time.Duration) (int64, time.Duration, error)
}
