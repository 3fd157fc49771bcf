package bridge

import (
	"context"
	"fmt"
	"time"
)

// Clock abstracts time so polling loops are testable without real
// delays.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// RetryPolicy is a bounded fixed-interval poll: up to MaxAttempts
// attempts spaced Interval apart. The attempt callback reports either
// completion (done=true), a soft miss (done=false, err=nil — the thing
// polled for does not exist yet), or a transport error (err != nil).
// Both misses and transport errors consume the same budget and are
// retried with the same cadence.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// Outcome summarizes an exhausted poll for logging.
type Outcome struct {
	Attempts        int
	TransportErrors int
	LastErr         error
}

// Run executes the poll until done, ctx cancellation, or budget
// exhaustion. On exhaustion it returns the Outcome and a non-nil error
// (the last transport error if any, otherwise context-free exhaustion).
func (p RetryPolicy) Run(ctx context.Context, clock Clock, attempt func(context.Context) (bool, error)) (Outcome, error) {
	out := Outcome{}
	for i := 0; i < p.MaxAttempts; i++ {
		out.Attempts++

		done, err := attempt(ctx)
		if done {
			return out, nil
		}
		if err != nil {
			out.TransportErrors++
			out.LastErr = err
		}

		if i == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-clock.After(p.Interval):
		}
	}

	if out.LastErr != nil {
		return out, fmt.Errorf("retry budget exhausted after %d attempts: %w", out.Attempts, out.LastErr)
	}
	return out, fmt.Errorf("retry budget exhausted after %d attempts", out.Attempts)
}
