package types

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DefaultTitle is the placeholder title of a freshly created conversation.
const DefaultTitle = "New Conversation"

// Conversation is the on-disk history.json document.
type Conversation struct {
	ID        ConversationID `json:"id"`
	Title     string         `json:"title"`
	CreatedAt string         `json:"created_at"`
	TotalCost float64        `json:"total_cost"`
	History   []Message      `json:"history"`
}

// Message is a single entry in a conversation history. Text and Image are
// serialised as null when absent.
type Message struct {
	Role      Role    `json:"role"`
	Text      *string `json:"text"`
	Timestamp string  `json:"timestamp"`
	Image     *string `json:"image"`
	Cost      float64 `json:"cost"`
}

// NewMessage carries the caller-supplied fields of an append.
type NewMessage struct {
	Role      Role
	Text      string
	MediaPath string
	Cost      float64
}

// Summary is the listing projection of a conversation.
type Summary struct {
	ID           ConversationID `json:"id"`
	Title        string         `json:"title"`
	CreatedAt    string         `json:"created_at"`
	TotalCost    float64        `json:"total_cost"`
	MessageCount int            `json:"message_count"`
}

// Summary returns the listing projection of c.
func (c *Conversation) Summary() *Summary {
	return &Summary{
		ID:           c.ID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		TotalCost:    c.TotalCost,
		MessageCount: len(c.History),
	}
}

// Binding ties an external channel (e.g. a Telegram chat) to the
// conversation it is currently writing to.
type Binding struct {
	Key            ChannelKey     `json:"key"`
	ConversationID ConversationID `json:"conversation_id"`
	UpdatedAt      string         `json:"updated_at"`
}

// StringPtr returns nil for the empty string and &s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// UsageRecord is one line of the usage log: the outcome of a single
// generation job.
type UsageRecord struct {
	Seq            int64          `json:"seq"`
	At             string         `json:"at"`
	JobID          JobID          `json:"job_id"`
	ConversationID ConversationID `json:"conversation_id"`
	Mode           string         `json:"mode"`
	Outcome        string         `json:"outcome"`
	Cost           float64        `json:"cost"`
	DurationMS     int64          `json:"duration_ms"`
	Polls          int            `json:"polls,omitempty"`
}
