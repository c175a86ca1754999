package main

import (
	"context"
	"time"
)

// Pacer enforces a minimum delay between consecutive outbound calls
type Pacer struct {
	delay time.Duration
	last  time.Time
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a pacer with the given minimum spacing
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{delay: delay, now: time.Now, sleep: sleepContext}
}

// Wait blocks until delay has passed since the previous call started, then
// marks a new call as started. Time spent inside a call counts toward the gap.
func (p *Pacer) Wait(ctx context.Context) error {
	if !p.last.IsZero() && p.delay > 0 {
		if remaining := p.delay - p.now().Sub(p.last); remaining > 0 {
			debugLog("pacing: waiting %s", remaining)
			if err := p.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	p.last = p.now()
	return nil
}

// sleepContext sleeps for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
