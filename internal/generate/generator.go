// Package generate turns a prompt plus optional reference images into a
// single media file on disk, dispatching on the generation mode.
package generate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/gopherpaint/internal/types"
	"github.com/user/gopherpaint/pkg/media"
)

// MaxReferences is the most reference images a multi-reference video accepts.
const MaxReferences = 3

// Request describes one generation. References are image file paths;
// ReferenceImages are raw encoded images appended after them.
type Request struct {
	Prompt          string
	Mode            media.Mode
	References      []string
	ReferenceImages [][]byte
	OutputPath      string
}

// Output describes the file a successful generation produced. Path may
// differ from the requested OutputPath in its extension.
type Output struct {
	Path     string
	Mode     media.Mode
	MIMEType string
	Polls    int
	Duration time.Duration
}

// ProgressFunc observes video operation state changes.
type ProgressFunc func(state media.OperationState, polls int)

// Generator runs generations against a media provider.
type Generator struct {
	provider media.Provider
	policy   *PollPolicy
	clock    Clock
	progress ProgressFunc
}

// Option configures a Generator.
type Option func(*Generator)

// WithPollPolicy overrides the video poll policy.
func WithPollPolicy(p *PollPolicy) Option {
	return func(g *Generator) {
		if p != nil {
			g.policy = p
		}
	}
}

// WithClock overrides the clock used between polls.
func WithClock(c Clock) Option {
	return func(g *Generator) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithProgress registers a callback for video state changes.
func WithProgress(fn ProgressFunc) Option {
	return func(g *Generator) { g.progress = fn }
}

// New creates a Generator. A nil provider is allowed; every Generate call
// then fails with ErrClientNotConfigured.
func New(provider media.Provider, opts ...Option) *Generator {
	g := &Generator{
		provider: provider,
		policy:   DefaultPollPolicy(),
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Configured reports whether the generator has a provider.
func (g *Generator) Configured() bool {
	return g != nil && g.provider != nil
}

// Generate runs req to completion and writes the result to disk.
func (g *Generator) Generate(ctx context.Context, req *Request) (*Output, error) {
	const op = "generate"

	if !g.Configured() {
		return nil, types.E(types.KindClientNotConfigured, op, nil)
	}
	if req == nil || req.OutputPath == "" {
		return nil, types.Errorf(types.KindInvalid, op, "output path is required")
	}

	mode := req.Mode
	if mode == "" {
		mode = media.ModeImage
	}
	count, err := referenceCount(mode, len(req.References)+len(req.ReferenceImages))
	if err != nil {
		return nil, err
	}

	refs, err := loadReferences(req.References, req.ReferenceImages, count)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var out *Output
	if mode == media.ModeImage {
		out, err = g.generateImage(ctx, req.Prompt, refs, req.OutputPath)
	} else {
		out, err = g.generateVideo(ctx, mode, req.Prompt, refs, req.OutputPath)
	}
	if err != nil {
		slog.Debug("generation failed", "mode", mode, "error", err)
		return nil, err
	}
	out.Duration = time.Since(start)
	slog.Info("generation complete", "mode", mode, "path", out.Path, "duration", out.Duration)
	return out, nil
}

// referenceCount validates the number of available references for mode and
// returns how many of them the request will carry.
func referenceCount(mode media.Mode, n int) (int, error) {
	const op = "generate"
	switch mode {
	case media.ModeImage:
		return n, nil
	case media.ModeTextToVideo:
		return 0, nil
	case media.ModeImageToVideo:
		if n == 0 {
			return 0, types.Errorf(types.KindMissingReference, op, "%s requires a start frame", mode)
		}
		return 1, nil
	case media.ModeMultiReferenceToVideo:
		if n == 0 {
			return 0, types.Errorf(types.KindMissingReference, op, "%s requires at least one reference image", mode)
		}
		if n > MaxReferences {
			slog.Debug("truncating reference images", "supplied", n, "max", MaxReferences)
			return MaxReferences, nil
		}
		return n, nil
	}
	return 0, types.Errorf(types.KindInvalid, op, "unknown mode %q", mode)
}

func (g *Generator) generateImage(ctx context.Context, prompt string, refs []media.Image, outPath string) (*Output, error) {
	const op = "generate image"

	// Cancelling stops the provider's stream once we have what we need.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := g.provider.StreamImage(streamCtx, &media.ImageRequest{Prompt: prompt, References: refs})
	if err != nil {
		return nil, types.E(types.KindRequestFailed, op, err)
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, types.E(types.KindRequestFailed, op, chunk.Err)
		}
		for _, part := range chunk.Parts {
			format, ok := detectImage(part.Data)
			if !ok {
				slog.Debug("skipping undecodable chunk part", "mime", part.MIMEType, "bytes", len(part.Data))
				continue
			}
			path := withExt(outPath, format)
			if err := writeBytes(path, part.Data); err != nil {
				return nil, err
			}
			cancel()
			return &Output{Path: path, Mode: media.ModeImage, MIMEType: "image/" + format}, nil
		}
		if chunk.Text != "" {
			slog.Debug("model returned text", "text", chunk.Text)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, types.E(types.KindRequestFailed, op, err)
	}
	return nil, types.Errorf(types.KindNoContentReturned, op, "response contained no image data")
}

func (g *Generator) generateVideo(ctx context.Context, mode media.Mode, prompt string, refs []media.Image, outPath string) (*Output, error) {
	const op = "generate video"

	vreq := &media.VideoRequest{Prompt: prompt}
	switch mode {
	case media.ModeImageToVideo:
		vreq.StartFrame = &refs[0]
	case media.ModeMultiReferenceToVideo:
		vreq.References = refs
	}

	operation, err := g.provider.SubmitVideo(ctx, vreq)
	if err != nil {
		return nil, types.E(types.KindRequestFailed, op, err)
	}
	g.report(media.StateSubmitted, 0)
	slog.Info("video operation submitted", "operation", operation.Name, "mode", mode,
		"max_polls", g.policy.MaxPolls, "max_wait", g.policy.MaxWait())

	polls := 0
	for !operation.Done {
		if polls >= g.policy.MaxPolls {
			g.report(media.StateTimedOut, polls)
			return nil, types.Errorf(types.KindTimeout, op, "operation %s not done after %d polls (%s)", operation.Name, polls, g.policy.MaxWait())
		}
		polls++
		if err := sleep(ctx, g.clock, g.policy.NextDelay(polls)); err != nil {
			return nil, types.E(types.KindRequestFailed, op, err)
		}
		g.report(media.StatePolling, polls)

		next, err := g.provider.PollVideo(ctx, operation)
		if err != nil {
			return nil, types.E(types.KindRequestFailed, op, err)
		}
		operation = next
	}

	if operation.Error != "" {
		g.report(media.StateFailed, polls)
		return nil, types.Errorf(types.KindRequestFailed, op, "operation %s failed: %s", operation.Name, operation.Error)
	}
	if operation.Result.Empty() {
		g.report(media.StateFailed, polls)
		return nil, types.Errorf(types.KindNoContentReturned, op, "operation %s returned no video", operation.Name)
	}

	path := withExt(outPath, "mp4")
	result := operation.Result
	if len(result.Data) > 0 {
		err = writeBytes(path, result.Data)
	} else {
		err = writeStream(path, func(w io.Writer) error {
			return g.provider.FetchVideo(ctx, result, w)
		})
	}
	if err != nil {
		g.report(media.StateFailed, polls)
		return nil, err
	}

	g.report(media.StateCompleted, polls)
	mime := result.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	return &Output{Path: path, Mode: mode, MIMEType: mime, Polls: polls}, nil
}

func (g *Generator) report(state media.OperationState, polls int) {
	if g.progress != nil {
		g.progress(state, polls)
	}
}

var extensions = map[string]string{
	"png":  ".png",
	"jpeg": ".jpg",
	"gif":  ".gif",
	"mp4":  ".mp4",
}

// withExt returns path with its extension replaced by the canonical one
// for format. Equivalent spellings (".jpeg" for jpeg) are left alone.
func withExt(path, format string) string {
	want, ok := extensions[format]
	if !ok {
		return path
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == want || (format == "jpeg" && ext == ".jpeg") {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + want
}

// Describe returns a short human message for err suitable for chat output.
func Describe(err error) string {
	switch types.KindOf(err) {
	case types.KindClientNotConfigured:
		return "API key is not configured"
	case types.KindMissingReference:
		return "this mode needs a reference image"
	case types.KindTimeout:
		return "video generation timed out"
	case types.KindNoContentReturned:
		return "the model returned no media"
	}
	return fmt.Sprint(err)
}
