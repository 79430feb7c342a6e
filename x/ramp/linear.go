// Package ramp steps an integer level towards a target over time.
package ramp

import (
	"context"
	"time"

	"pca9685-go/x/mathx"
)

// Step applies a new level. An error aborts the ramp.
type Step func(level uint16) error

// Linear moves from cur to to (capped at top) in steps evenly spaced over
// duration, calling set for each level that changes and always finishing on
// the target. steps == 0 or duration == 0 snaps straight to the target.
// It blocks; run it on its own goroutine and cancel through ctx.
func Linear(ctx context.Context, cur, to, top uint16, duration time.Duration, steps uint16, set Step) error {
	to = mathx.Min(to, top)
	if steps == 0 || duration <= 0 {
		return set(to)
	}
	stepDur := mathx.Max(duration/time.Duration(steps), time.Millisecond)
	t := time.NewTimer(stepDur)
	defer t.Stop()

	d := int32(to) - int32(cur)
	st := int32(steps)
	acc := int32(0)
	lvl := int32(cur)
	for i := uint16(1); i < steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		t.Reset(stepDur)

		acc += d
		inc := acc / st
		if inc == 0 {
			continue
		}
		acc -= inc * st
		lvl = mathx.Clamp(lvl+inc, 0, int32(top))
		if err := set(uint16(lvl)); err != nil {
			return err
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return set(to)
}
