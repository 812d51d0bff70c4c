// Package guardrails bounds the phases of a detection cycle
package guardrails

import (
	"context"
	"time"
)

// Timeouts is the budget bundle for one detection cycle
// zero values mean no extra timeout at that level
type Timeouts struct {
	// Cycle is the overall budget for one pass over the latest frame
	Cycle time.Duration

	// Detect caps the detector call
	Detect time.Duration

	// Persist caps the snapshot write
	Persist time.Duration
}

// WithCycle returns a context limited by the cycle budget without extending any parent deadline
func WithCycle(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Cycle)
}

// ForDetect returns a sub context for the detector call bounded by Detect and any remaining parent budget
func ForDetect(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Detect)
}

// ForPersist returns a sub context for the sink write bounded by Persist and any remaining parent budget
func ForPersist(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Persist)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout chooses the tighter of d and the parent remainder; it never extends the parent
// a zero d still returns a cancelable child
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
