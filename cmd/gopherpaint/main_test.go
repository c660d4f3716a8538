package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/user/gopherpaint/internal/config"
	"github.com/user/gopherpaint/internal/state"
)

func TestPollPolicyFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Poll.IntervalSeconds = 2.5
	cfg.Poll.MaxPolls = 7

	p := pollPolicy(cfg)
	require.Equal(t, 2500*time.Millisecond, p.Interval)
	require.Equal(t, 7, p.MaxPolls)
	require.Equal(t, 30*time.Second, p.MaxInterval)
}

func TestGatewayOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.MaxConcurrent = 3
	cfg.Costs.Video = 1.25

	opts := gatewayOptions(cfg)
	require.Equal(t, int64(3), opts.MaxConcurrent)
	require.InDelta(t, 1.25, opts.Pricing.Video, 1e-9)
	require.NotNil(t, opts.Usage)
}

func TestNewGeneratorWithoutKey(t *testing.T) {
	cfg := config.Default()
	cfg.Gemini.APIKey = ""

	gen, err := newGenerator(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, gen.Configured())
}

func TestResolveConversation(t *testing.T) {
	store := state.NewConversationStore(t.TempDir())
	ctx := context.Background()

	a, err := store.Create(ctx, "a")
	require.NoError(t, err)
	b, err := store.Create(ctx, "b")
	require.NoError(t, err)

	got, err := resolveConversation(ctx, store, string(a))
	require.NoError(t, err)
	require.Equal(t, a, got)

	got, err = resolveConversation(ctx, store, string(b)[:8])
	require.NoError(t, err)
	require.Equal(t, b, got)

	_, err = resolveConversation(ctx, store, "not-a-conversation")
	require.ErrorContains(t, err, "not found")

	_, err = resolveConversation(ctx, store, "")
	require.ErrorContains(t, err, "ambiguous")
}

func TestSimilarKeys(t *testing.T) {
	keys := []string{"costs.image", "costs.video", "gemini.api_key", "gemini.image_model", "log_level"}
	require.Equal(t, []string{"gemini.api_key", "gemini.image_model"}, similarKeys(keys, "gemini.model"))
	require.Equal(t, []string{"log_level"}, similarKeys(keys, "log_level.x"))
	require.Empty(t, similarKeys(keys, "webhook.port"))
}

func TestWithKeyHint(t *testing.T) {
	err := withKeyHint(errors.New("unknown config key: poll.interval"), "poll.interval")
	require.ErrorContains(t, err, "did you mean")
	require.ErrorContains(t, err, "poll.interval_seconds")

	other := errors.New("invalid config: poll.max_polls must be at least 1")
	require.Equal(t, other, withKeyHint(other, "poll.max_polls"))
}
