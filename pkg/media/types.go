package media

import "fmt"

// Mode selects what a generation produces and how the request is shaped.
type Mode string

const (
	ModeImage                 Mode = "image"
	ModeTextToVideo           Mode = "text_to_video"
	ModeImageToVideo          Mode = "image_to_video"
	ModeMultiReferenceToVideo Mode = "multi_reference_to_video"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{ModeImage, ModeTextToVideo, ModeImageToVideo, ModeMultiReferenceToVideo}

// ParseMode maps a user-supplied name to a Mode. The empty string is ModeImage.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeImage, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// IsVideo reports whether the mode goes through the long-running video path.
func (m Mode) IsVideo() bool {
	return m == ModeTextToVideo || m == ModeImageToVideo || m == ModeMultiReferenceToVideo
}

// Image is an encoded image ready for transmission.
type Image struct {
	Data     []byte
	MIMEType string
}

// ImageRequest asks for a single generated image.
type ImageRequest struct {
	Prompt     string
	References []Image
}

// ImageChunk is one streamed response chunk. Parts holds every inline
// payload the chunk carried, in order. Err is set on the last chunk of a
// stream that failed.
type ImageChunk struct {
	Parts []Image
	Text  string
	Err   error
}

// VideoRequest submits a long-running video generation. StartFrame is set
// for image-to-video, References for multi-reference video.
type VideoRequest struct {
	Prompt      string
	StartFrame  *Image
	References  []Image
	AspectRatio string
}

// OperationState is the lifecycle of a long-running video job.
type OperationState string

const (
	StateSubmitted OperationState = "submitted"
	StatePolling   OperationState = "polling"
	StateCompleted OperationState = "completed"
	StateFailed    OperationState = "failed"
	StateTimedOut  OperationState = "timed_out"
)

// VideoOperation is the handle of a submitted video job.
type VideoOperation struct {
	Name   string
	Done   bool
	Error  string
	Result *VideoResult
}

// VideoResult is the outcome of a completed job: either a URI to download
// or the video bytes themselves.
type VideoResult struct {
	URI      string
	Data     []byte
	MIMEType string
}

// Empty reports whether the result carries nothing usable.
func (r *VideoResult) Empty() bool {
	return r == nil || (r.URI == "" && len(r.Data) == 0)
}
