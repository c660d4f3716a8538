// internal/state/usage_test.go
package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/user/gopherpaint/internal/types"
)

func TestUsageStoreAppendAndTail(t *testing.T) {
	dir := t.TempDir()
	store := NewUsageStore(dir)
	store.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	records, err := store.Tail(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, records)

	for _, mode := range []string{"image", "image", "text_to_video"} {
		require.NoError(t, store.Append(ctx, &types.UsageRecord{Mode: mode, Outcome: "ok", Cost: 0.04}))
	}

	records, err = store.Tail(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(2), records[0].Seq)
	require.Equal(t, int64(3), records[1].Seq)
	require.Equal(t, "text_to_video", records[1].Mode)
	require.Equal(t, "2025-03-01T09:00:00.000000Z", records[1].At)

	all, err := store.Tail(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestUsageStoreSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	store := NewUsageStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &types.UsageRecord{Mode: "image", Outcome: "ok"}))
	f, err := os.OpenFile(filepath.Join(dir, "usage.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{torn\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, store.Append(ctx, &types.UsageRecord{Mode: "image", Outcome: "timeout"}))

	records, err := store.Tail(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "timeout", records[1].Outcome)
}

func TestUsageStoreConcurrentAppends(t *testing.T) {
	store := NewUsageStore(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Append(ctx, &types.UsageRecord{Mode: "image", Outcome: "ok"})
		}()
	}
	wg.Wait()

	records, err := store.Tail(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 20)
	for i, r := range records {
		require.Equal(t, int64(i+1), r.Seq)
	}
}

func TestSummarizeUsage(t *testing.T) {
	totals := SummarizeUsage([]*types.UsageRecord{
		{Mode: "text_to_video", Outcome: "ok", Cost: 3.2},
		{Mode: "image", Outcome: "ok", Cost: 0.04},
		{Mode: "image", Outcome: "request_failed"},
		{Mode: "image", Outcome: "ok", Cost: 0.04},
	})
	require.Len(t, totals, 2)
	require.Equal(t, "image", totals[0].Mode)
	require.Equal(t, 3, totals[0].Jobs)
	require.Equal(t, 1, totals[0].Failures)
	require.InDelta(t, 0.08, totals[0].Cost, 1e-9)
	require.Equal(t, "text_to_video", totals[1].Mode)
	require.Empty(t, SummarizeUsage(nil))
}
