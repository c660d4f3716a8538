package types

import "context"

type ConversationStore interface {
	Create(ctx context.Context, title string) (ConversationID, error)
	AppendMessage(ctx context.Context, id ConversationID, msg NewMessage) (*Conversation, error)
	Load(ctx context.Context, id ConversationID) (*Conversation, error)
	List(ctx context.Context) ([]*Summary, error)
	NewMediaPath(id ConversationID, ext string) (string, error)
	LastMedia(ctx context.Context, id ConversationID) (string, error)
	ResolveMedia(ref string) string
}

type BindingStore interface {
	Resolve(ctx context.Context, key ChannelKey, create func(context.Context) (ConversationID, error)) (ConversationID, error)
	Rebind(ctx context.Context, key ChannelKey, id ConversationID) error
	List(ctx context.Context) ([]*Binding, error)
}

type UsageLog interface {
	Append(ctx context.Context, rec *UsageRecord) error
	Tail(ctx context.Context, limit int) ([]*UsageRecord, error)
}
