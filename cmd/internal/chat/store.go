package chat

import (
	"context"
	"time"
)

// MessageStore persists messages and their delivery/read markers.
//
// Requirements:
//   - Append assigns the id and is the only write needed to make a message durable
//   - ListByConversation orders by (created_at, id) ASC
//   - MarkDelivered/MarkRead never clear a marker that is already set
//   - Missing messages are reported as ErrNotFound
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (Message, error)
	Get(ctx context.Context, messageID string) (Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]Message, error)
	MarkDelivered(ctx context.Context, messageID string, at time.Time) (Message, bool, error)
	MarkRead(ctx context.Context, messageID string, at time.Time) (Message, bool, error)
	Close() error
}

// AppendInput describes a message append request.
type AppendInput struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	SenderRole     Role
	Content        string
	Now            time.Time
}

func (in AppendInput) validate(op string) error {
	if in.ConversationID == "" || in.SenderID == "" || in.ReceiverID == "" || in.Content == "" {
		return opErr(op, ErrInvalidArgument, "incomplete message")
	}
	return nil
}

func messageNotFound(op, id string) error {
	return opErr(op, ErrNotFound, "message "+id)
}
