package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	memMaxMessagesPerConversation = 10_000
)

// ErrConversationFull is returned by InMemoryStore.Append once a conversation reached its cap.
// Stored messages are never evicted.
var ErrConversationFull = errors.New("chat: in-memory conversation is full")

// InMemoryStore is a dev-only fallback when no database is configured.
type InMemoryStore struct {
	mu                 sync.Mutex
	byID               map[string]*Message
	convs              map[string][]string // conversation_id -> message ids in append order
	maxPerConversation int
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:               make(map[string]*Message),
		convs:              make(map[string][]string),
		maxPerConversation: memMaxMessagesPerConversation,
	}
}

var _ MessageStore = (*InMemoryStore)(nil)

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append persists a new message.
func (s *InMemoryStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	const op = "chat.InMemoryStore.Append"
	if err := in.validate(op); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		SenderRole:     in.SenderRole,
		Content:        in.Content,
		CreatedAt:      now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.convs[in.ConversationID]); n >= s.maxPerConversation {
		return Message{}, fmt.Errorf("%s: %w (max=%d)", op, ErrConversationFull, s.maxPerConversation)
	}

	stored := msg
	s.byID[id] = &stored
	s.convs[in.ConversationID] = append(s.convs[in.ConversationID], id)

	return msg, nil
}

// Get returns a message by id.
func (s *InMemoryStore) Get(ctx context.Context, messageID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[messageID]
	if !ok {
		return Message{}, messageNotFound("chat.InMemoryStore.Get", messageID)
	}
	return cloneMessage(*m), nil
}

// ListByConversation returns all messages ordered by (created_at, id) ASC.
func (s *InMemoryStore) ListByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	ids := s.convs[conversationID]
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.byID[id]; ok {
			out = append(out, cloneMessage(*m))
		}
	}
	s.mu.Unlock()

	sortMessages(out)
	return out, nil
}

// MarkDelivered sets delivered_at unless already set. The bool reports whether it changed.
func (s *InMemoryStore) MarkDelivered(ctx context.Context, messageID string, at time.Time) (Message, bool, error) {
	return s.mark(ctx, "chat.InMemoryStore.MarkDelivered", messageID, func(m *Message) bool {
		if m.DeliveredAt != nil {
			return false
		}
		t := at
		m.DeliveredAt = &t
		return true
	})
}

// MarkRead sets read and read_at unless already read. The bool reports whether it changed.
func (s *InMemoryStore) MarkRead(ctx context.Context, messageID string, at time.Time) (Message, bool, error) {
	return s.mark(ctx, "chat.InMemoryStore.MarkRead", messageID, func(m *Message) bool {
		if m.Read {
			return false
		}
		t := at
		m.Read = true
		m.ReadAt = &t
		return true
	})
}

func (s *InMemoryStore) mark(ctx context.Context, op, messageID string, apply func(*Message) bool) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[messageID]
	if !ok {
		return Message{}, false, messageNotFound(op, messageID)
	}
	changed := apply(m)
	return cloneMessage(*m), changed, nil
}

func cloneMessage(m Message) Message {
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		m.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		m.ReadAt = &t
	}
	return m
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
