package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/user/gopherpaint/internal/types"
	"github.com/user/gopherpaint/pkg/media"
)

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	queue.Start(context.Background())
	defer queue.Stop()

	var running, maxSeen int32
	queue.SetProcessor(func(_ context.Context, job *Job) {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		job.finish(Result{Path: "ok"})
	})

	var results []<-chan Result
	for i := 0; i < 5; i++ {
		job := NewJob(types.ConversationID(fmt.Sprintf("conv-%d", i)), "p", media.ModeImage)
		require.NoError(t, queue.Enqueue(job))
		results = append(results, job.results)
	}
	for _, ch := range results {
		r := <-ch
		require.Equal(t, "ok", r.Path)
	}

	require.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestQueueSameConversationOrdering(t *testing.T) {
	queue := NewQueue(4)
	queue.Start(context.Background())
	defer queue.Stop()

	var mu sync.Mutex
	var order []string
	queue.SetProcessor(func(_ context.Context, job *Job) {
		mu.Lock()
		order = append(order, job.Prompt)
		mu.Unlock()
		job.finish(Result{})
	})

	var last <-chan Result
	for i := 0; i < 3; i++ {
		job := NewJob("same", fmt.Sprint(i), media.ModeImage)
		require.NoError(t, queue.Enqueue(job))
		last = job.results
	}

	select {
	case <-last:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"0", "1", "2"}, order)
}

func TestQueueProcessorWithoutResult(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	job := NewJob("c", "p", media.ModeImage)
	require.NoError(t, queue.Enqueue(job))

	r, ok := <-job.results
	require.True(t, ok)
	require.Error(t, r.Err)

	_, ok = <-job.results
	require.False(t, ok, "result channel must be closed after one result")
}

func TestQueueFull(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	release := make(chan struct{})
	queue.SetProcessor(func(_ context.Context, job *Job) {
		<-release
		job.finish(Result{})
	})
	defer close(release)

	var err error
	for i := 0; i < laneSize+2 && err == nil; i++ {
		err = queue.Enqueue(NewJob("busy", "p", media.ModeImage))
	}
	require.ErrorContains(t, err, "queue full")
}

func TestQueueStopFailsPendingJobs(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())

	started := make(chan struct{})
	queue.SetProcessor(func(ctx context.Context, job *Job) {
		close(started)
		<-ctx.Done()
		job.finish(Result{Err: ctx.Err()})
	})

	first := NewJob("c", "1", media.ModeImage)
	second := NewJob("c", "2", media.ModeImage)
	require.NoError(t, queue.Enqueue(first))
	require.NoError(t, queue.Enqueue(second))
	<-started

	queue.Stop()

	r1 := <-first.results
	require.ErrorIs(t, r1.Err, context.Canceled)
	r2 := <-second.results
	require.ErrorIs(t, r2.Err, ErrStopped)

	require.ErrorIs(t, queue.Enqueue(NewJob("c", "3", media.ModeImage)), ErrStopped)
}

func TestQueueWaitIdle(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	queue.SetProcessor(func(_ context.Context, job *Job) {
		time.Sleep(30 * time.Millisecond)
		job.finish(Result{})
	})
	require.NoError(t, queue.Enqueue(NewJob("c", "p", media.ModeImage)))
	time.Sleep(5 * time.Millisecond)

	require.True(t, queue.WaitIdle(time.Second))
	require.Zero(t, queue.Active())
}
