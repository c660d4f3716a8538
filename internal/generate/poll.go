package generate

import (
	"context"
	"math"
	"time"
)

// PollPolicy controls how a long-running video operation is polled.
type PollPolicy struct {
	Interval    time.Duration
	MaxPolls    int
	Multiplier  float64
	MaxInterval time.Duration
}

// DefaultPollPolicy returns a PollPolicy with sensible defaults:
// a fixed 5s interval, giving up after 120 polls (10 minutes).
func DefaultPollPolicy() *PollPolicy {
	return &PollPolicy{
		Interval:    5 * time.Second,
		MaxPolls:    120,
		Multiplier:  1.0,
		MaxInterval: 30 * time.Second,
	}
}

// NextDelay returns the wait before the given poll (1-indexed).
// The delay is Interval * Multiplier^(poll-1), capped at MaxInterval.
func (p *PollPolicy) NextDelay(poll int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(p.Interval) * math.Pow(mult, float64(poll-1))
	if p.MaxInterval > 0 && delay > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(delay)
}

// MaxWait is the total time spent waiting if every poll is used.
func (p *PollPolicy) MaxWait() time.Duration {
	var total time.Duration
	for i := 1; i <= p.MaxPolls; i++ {
		total += p.NextDelay(i)
	}
	return total
}

// Clock abstracts waiting so tests can drive the poll loop without sleeping.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// sleep waits for d on clock or until ctx is done.
func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
