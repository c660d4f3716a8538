package media

import (
	"context"
	"io"
)

// Provider defines the interface for generative-media backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response decoding; callers see only the tagged types
// in this package.
type Provider interface {
	// StreamImage sends an image request and returns a channel of response
	// chunks in arrival order. The channel is closed when the stream ends or
	// ctx is cancelled; a mid-stream failure arrives as a chunk with Err set.
	StreamImage(ctx context.Context, req *ImageRequest) (<-chan ImageChunk, error)

	// SubmitVideo starts a long-running video generation.
	SubmitVideo(ctx context.Context, req *VideoRequest) (*VideoOperation, error)

	// PollVideo re-fetches the status of a submitted operation.
	PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error)

	// FetchVideo streams a completed result's remote asset to w.
	FetchVideo(ctx context.Context, result *VideoResult, w io.Writer) error
}

// Config holds common configuration for media providers.
type Config struct {
	BaseURL           string
	APIKey            string
	ImageModel        string
	VideoModel        string
	AspectRatio       string
	ImageSize         string
	RequestsPerMinute int
}
