package gateway

import (
	"sync"
	"time"

	"github.com/user/gopherpaint/internal/types"
	"github.com/user/gopherpaint/pkg/media"
)

// Job is one generation request against a conversation.
type Job struct {
	ID             types.JobID
	ConversationID types.ConversationID
	Prompt         string
	Mode           media.Mode
	References     []string
	UseLastImage   bool
	CreatedAt      time.Time

	results chan Result
	once    sync.Once
}

// Result is the outcome of a Job. Exactly one of Path and Err is set.
type Result struct {
	JobID          types.JobID
	ConversationID types.ConversationID
	Mode           media.Mode
	Path           string
	Cost           float64
	Polls          int
	Err            error
	Duration       time.Duration
}

// NewJob creates a Job for the given conversation and prompt.
func NewJob(id types.ConversationID, prompt string, mode media.Mode) *Job {
	if mode == "" {
		mode = media.ModeImage
	}
	return &Job{
		ID:             types.NewJobID(),
		ConversationID: id,
		Prompt:         prompt,
		Mode:           mode,
		CreatedAt:      time.Now(),
		results:        make(chan Result, 1),
	}
}

// finish delivers r to the job's result channel and closes it. Later calls
// are ignored.
func (j *Job) finish(r Result) {
	j.once.Do(func() {
		r.JobID = j.ID
		r.ConversationID = j.ConversationID
		r.Mode = j.Mode
		r.Duration = time.Since(j.CreatedAt)
		j.results <- r
		close(j.results)
	})
}
