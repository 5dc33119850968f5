// Package readiness polls host conditions until they hold or a deadline
// passes.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a predicate did not hold before its deadline.
var ErrTimeout = errors.New("readiness deadline exceeded")

// Predicate reports whether a condition currently holds.
type Predicate func(ctx context.Context) bool

// WaitFor evaluates pred immediately and then every interval until it returns
// true or more than deadline has elapsed. The predicate is always evaluated
// at least once. A cancelled context aborts the wait with the context error.
func WaitFor(ctx context.Context, clock Clock, pred Predicate, interval, deadline time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("readiness interval must be positive, got %s", interval)
	}
	start := clock.Now()
	for {
		if pred(ctx) {
			return nil
		}
		if clock.Now().Sub(start) > deadline {
			return ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(interval):
		}
	}
}
