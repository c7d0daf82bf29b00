// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package ratelimit

import (
	"context"
	"time"
)

// WaitTick is how often Wait re-checks the deadline and the context. A
// coarse countdown rather than one long sleep, so shutdown signals get
// through between ticks.
const WaitTick = time.Second

// Wait blocks until the reset deadline passes or ctx is cancelled. It
// returns ctx.Err() on cancellation, nil once the deadline has elapsed.
func Wait(ctx context.Context, until time.Time) error {
	return waitWithClock(ctx, until, time.Now, WaitTick)
}

func waitWithClock(ctx context.Context, until time.Time, now func() time.Time, tick time.Duration) error {
	if !now().Before(until) {
		return nil
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !now().Before(until) {
				return nil
			}
		}
	}
}
