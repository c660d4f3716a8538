package types

import (
	"strings"

	"github.com/google/uuid"
)

type ConversationID string
type JobID string
type ChannelKey string

func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

func NewChannelKey(parts ...string) ChannelKey {
	return ChannelKey(strings.Join(parts, ":"))
}
