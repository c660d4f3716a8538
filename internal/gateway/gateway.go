// Package gateway mediates between callers and the generator: it records
// prompts and results in the conversation store and serialises generations
// per conversation without ever blocking the caller.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/user/gopherpaint/internal/generate"
	"github.com/user/gopherpaint/internal/types"
	"github.com/user/gopherpaint/pkg/media"
)

// Assistant message texts recorded after a generation.
const (
	ImageGeneratedText = "Image Generated"
	VideoGeneratedText = "Video Generated"
	ErrorPrefix        = "Error: "
)

// Options configures a Gateway.
type Options struct {
	MaxConcurrent int64
	Pricing       generate.Pricing
	Usage         types.UsageLog
}

// Gateway owns the job queue and the current generator.
type Gateway struct {
	store   types.ConversationStore
	Queue   *Queue
	pricing generate.Pricing
	usage   types.UsageLog

	mu  sync.RWMutex
	gen *generate.Generator
}

// New creates a Gateway over store using gen. gen may be nil or
// unconfigured; jobs then fail with ErrClientNotConfigured.
func New(store types.ConversationStore, gen *generate.Generator, opts Options) *Gateway {
	concurrency := opts.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 2
	}
	g := &Gateway{
		store:   store,
		Queue:   NewQueue(concurrency),
		pricing: opts.Pricing,
		usage:   opts.Usage,
		gen:     gen,
	}
	g.Queue.SetProcessor(g.process)
	return g
}

// Start starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop stops the queue. Jobs that never started receive ErrStopped.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// SetGenerator replaces the generator used by jobs that start after the
// call. Jobs already generating keep the one they started with.
func (g *Gateway) SetGenerator(gen *generate.Generator) {
	g.mu.Lock()
	g.gen = gen
	g.mu.Unlock()
}

func (g *Gateway) generator() *generate.Generator {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gen
}

// Submit validates job and queues it. The returned channel receives exactly
// one Result and is then closed.
func (g *Gateway) Submit(ctx context.Context, job *Job) (<-chan Result, error) {
	const op = "submit"

	if strings.TrimSpace(job.Prompt) == "" {
		return nil, types.Errorf(types.KindInvalid, op, "prompt is empty")
	}
	conv, err := g.store.Load(ctx, job.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, types.Errorf(types.KindConversationNotFound, op, "conversation %s", job.ConversationID)
	}

	if job.ID == "" {
		job.ID = types.NewJobID()
	}
	if job.Mode == "" {
		job.Mode = media.ModeImage
	}
	if job.results == nil {
		job.results = make(chan Result, 1)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := g.Queue.Enqueue(job); err != nil {
		return nil, err
	}
	slog.Info("job queued", "job_id", string(job.ID), "conversation_id", string(job.ConversationID), "mode", job.Mode)
	return job.results, nil
}

// process runs one job and delivers its result.
func (g *Gateway) process(ctx context.Context, job *Job) {
	r := g.run(ctx, job)
	if r.Err != nil {
		slog.Warn("job failed", "job_id", string(job.ID), "conversation_id", string(job.ConversationID), "error", r.Err)
	} else {
		slog.Info("job complete", "job_id", string(job.ID), "path", r.Path, "cost", r.Cost)
	}
	job.finish(r)
	g.recordUsage(ctx, job, r)
}

// run records the prompt, generates, and records the outcome.
func (g *Gateway) run(ctx context.Context, job *Job) Result {
	gen := g.generator()

	// The base image is looked up before the prompt is recorded, otherwise a
	// reference attached to the prompt would become its own base.
	refs := job.References
	if job.UseLastImage {
		last, err := g.store.LastMedia(ctx, job.ConversationID)
		if err != nil {
			return Result{Err: err}
		}
		if last != "" && !strings.EqualFold(filepath.Ext(last), ".mp4") {
			refs = append([]string{last}, refs...)
		} else {
			slog.Debug("no earlier image to build on", "job_id", string(job.ID), "conversation_id", string(job.ConversationID))
		}
	}

	userMsg := types.NewMessage{Role: types.RoleUser, Text: job.Prompt}
	if len(refs) > 0 && job.Mode != media.ModeTextToVideo {
		userMsg.MediaPath = refs[0]
	}
	if _, err := g.store.AppendMessage(ctx, job.ConversationID, userMsg); err != nil {
		return Result{Err: err}
	}

	ext := ".png"
	if job.Mode.IsVideo() {
		ext = ".mp4"
	}
	outPath, err := g.store.NewMediaPath(job.ConversationID, ext)
	if err != nil {
		g.recordFailure(ctx, job, err)
		return Result{Err: err}
	}

	out, err := gen.Generate(ctx, &generate.Request{
		Prompt:     job.Prompt,
		Mode:       job.Mode,
		References: refs,
		OutputPath: outPath,
	})
	if err != nil {
		g.recordFailure(ctx, job, err)
		return Result{Err: err}
	}

	text := ImageGeneratedText
	if job.Mode.IsVideo() {
		text = VideoGeneratedText
	}
	cost := g.pricing.Cost(job.Mode)
	if _, err := g.store.AppendMessage(ctx, job.ConversationID, types.NewMessage{
		Role:      types.RoleAssistant,
		Text:      text,
		MediaPath: out.Path,
		Cost:      cost,
	}); err != nil {
		os.Remove(out.Path)
		return Result{Err: fmt.Errorf("record result: %w", err)}
	}
	return Result{Path: out.Path, Cost: cost, Polls: out.Polls}
}

// recordFailure appends the error as an assistant message without media.
func (g *Gateway) recordFailure(ctx context.Context, job *Job, cause error) {
	_, err := g.store.AppendMessage(ctx, job.ConversationID, types.NewMessage{
		Role: types.RoleAssistant,
		Text: ErrorPrefix + cause.Error(),
	})
	if err != nil {
		slog.Error("failed to record job error", "job_id", string(job.ID), "error", err)
	}
}

// recordUsage appends the finished job to the usage log, if one is set.
func (g *Gateway) recordUsage(ctx context.Context, job *Job, r Result) {
	if g.usage == nil {
		return
	}
	outcome := "ok"
	if r.Err != nil {
		outcome = string(types.KindOf(r.Err))
		if outcome == "" {
			outcome = "error"
		}
	}
	rec := &types.UsageRecord{
		JobID:          job.ID,
		ConversationID: job.ConversationID,
		Mode:           string(job.Mode),
		Outcome:        outcome,
		Cost:           r.Cost,
		DurationMS:     time.Since(job.CreatedAt).Milliseconds(),
		Polls:          r.Polls,
	}
	if err := g.usage.Append(ctx, rec); err != nil {
		slog.Warn("failed to record usage", "job_id", string(job.ID), "error", err)
	}
}
