package generate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultPollPolicy(t *testing.T) {
	p := DefaultPollPolicy()
	require.Equal(t, 5*time.Second, p.Interval)
	require.Equal(t, 120, p.MaxPolls)
	require.Equal(t, 5*time.Second, p.NextDelay(1))
	require.Equal(t, 5*time.Second, p.NextDelay(50))
	require.Equal(t, 10*time.Minute, p.MaxWait())
}

func TestPollPolicyBackoff(t *testing.T) {
	p := &PollPolicy{
		Interval:    1 * time.Second,
		MaxPolls:    5,
		Multiplier:  2.0,
		MaxInterval: 5 * time.Second,
	}

	tests := []struct {
		poll int
		want time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{5, 5 * time.Second},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, p.NextDelay(tt.poll), "poll %d", tt.poll)
	}
	require.Equal(t, 17*time.Second, p.MaxWait())
}

func TestPollPolicyZeroMultiplier(t *testing.T) {
	p := &PollPolicy{Interval: time.Second}
	require.Equal(t, time.Second, p.NextDelay(3))
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, realClock{}, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}
