package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/gopherpaint/internal/types"
)

// ErrStopped is delivered to jobs still queued when the gateway stops.
var ErrStopped = errors.New("gateway stopped")

const laneSize = 32

// Queue manages per-conversation lanes with a global concurrency semaphore.
// Jobs within one conversation run strictly in submission order; the
// semaphore bounds how many conversations generate at once.
type Queue struct {
	lanes     map[types.ConversationID]chan *Job
	semaphore *semaphore.Weighted
	processor func(context.Context, *Job)
	active    atomic.Int64
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that allows up to maxConcurrent jobs to execute
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.ConversationID]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight jobs, waits for lane goroutines to exit and fails
// every job that never started with ErrStopped.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	q.closed = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.wg.Wait()

	for _, lane := range q.lanes {
		for job := range lane {
			job.finish(Result{Err: ErrStopped})
		}
	}
}

// Enqueue adds a job to its conversation's lane, creating the lane (and its
// goroutine) on first use. It never blocks: a full lane is an error.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.ctx == nil {
		return ErrStopped
	}

	lane, exists := q.lanes[job.ConversationID]
	if !exists {
		lane = make(chan *Job, laneSize)
		q.lanes[job.ConversationID] = lane
		q.wg.Add(1)
		go q.processLane(job.ConversationID, lane)
	}

	select {
	case lane <- job:
		return nil
	default:
		return fmt.Errorf("queue full for conversation %s", job.ConversationID)
	}
}

func (q *Queue) processLane(id types.ConversationID, lane chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if q.ctx.Err() != nil {
				job.finish(Result{Err: ErrStopped})
				continue
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				job.finish(Result{Err: ErrStopped})
				return
			}
			q.active.Add(1)
			if q.processor != nil {
				q.processor(q.ctx, job)
			} else {
				slog.Warn("no processor set, dropping job", "job_id", string(job.ID), "conversation_id", string(id))
			}
			job.finish(Result{Err: errors.New("job produced no result")})
			q.active.Add(-1)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

// Active returns the number of jobs currently generating.
func (q *Queue) Active() int64 {
	return q.active.Load()
}

// WaitIdle blocks until no jobs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued job. The
// processor is expected to call job.finish; if it does not, the job fails.
func (q *Queue) SetProcessor(fn func(context.Context, *Job)) {
	q.processor = fn
}
