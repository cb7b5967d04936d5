// Package poll implements bounded poll-until-predicate loops.
//
// The remote UI never signals completion, so every wait in slidecrawl is a
// fixed-interval poll with a bounded number of attempts and a caller-defined
// fallback when the attempts run out.
package poll

import (
	"context"
	"time"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Condition reports whether the awaited state holds.
// A non-nil error aborts the poll immediately.
type Condition func(ctx context.Context) (bool, error)

// Poller evaluates a condition up to Attempts times, Interval apart.
type Poller struct {
	Interval time.Duration
	Attempts int
	Sleep    SleepFunc
}

// New returns a Poller using the real clock.
func New(interval time.Duration, attempts int) Poller {
	return Poller{Interval: interval, Attempts: attempts, Sleep: Sleep}
}

// Until evaluates cond until it holds or the attempts are exhausted.
// It returns whether the condition held and how many attempts were used.
// Exhaustion is not an error; the caller decides the fallback.
// Cancellation is only observed between attempts.
func (p Poller) Until(ctx context.Context, cond Condition) (bool, int, error) {
	attempts := max(p.Attempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for i := 1; i <= attempts; i++ {
		ok, err := cond(ctx)
		if err != nil {
			return false, i, err
		}
		if ok {
			return true, i, nil
		}
		if i == attempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return false, i, err
		}
	}
	return false, attempts, nil
}

// Sleep waits for d on the real clock, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
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

// NoSleep returns immediately unless ctx is already done. Tests use it.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
