package port

import (
	"context"
	"time"
)

// Reservation is the outcome of an atomic check-and-record on a sliding window.
type Reservation struct {
	Allowed bool
	// Count is the number of hits in the window, including the reserved one when Allowed.
	Count int
	// Oldest is the oldest hit still in the window; zero when the window is empty.
	Oldest time.Time
	// ID identifies the reserved hit for ReleaseAttempt. Empty when not Allowed.
	ID string
}

// CounterStore persists timestamped hits per key to enforce sliding-window limits.
type CounterStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
	// ReserveAttempt trims the window and records a hit at `at` only while fewer than limit hits
	// remain, as one atomic step.
	ReserveAttempt(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (Reservation, error)
	// ReleaseAttempt removes a hit previously returned by ReserveAttempt. Unknown ids are ignored.
	ReleaseAttempt(ctx context.Context, identifier, id string) error
	// Sweep drops keys whose newest hit is older than cutoff and returns how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}
