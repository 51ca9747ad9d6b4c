// Package chat implements booking-scoped two-party messaging: the connection registry,
// the message pipeline, delivery routing with push fallback, presence/receipt broadcast,
// and the conversation read model.
package chat

import (
	"strings"
	"time"
)

// Role is the fixed role of a participant inside one conversation.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

// ParseRole accepts the wire spellings of a role. "worker" is the legacy name of provider.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client":
		return RoleClient, nil
	case "provider", "worker":
		return RoleProvider, nil
	default:
		return "", opErr("chat.ParseRole", ErrInvalidArgument, "unknown role: "+s)
	}
}

// Profile is user metadata owned by the external directory.
type Profile struct {
	DisplayName  string
	PushToken    string
	ProfileImage string
}

// Participant is a user in a fixed role within one conversation.
type Participant struct {
	UserID  string
	Role    Role
	Profile Profile
}

// Conversation is the chat scoped to one booking. Its identity is the booking id.
type Conversation struct {
	ID       string
	Client   Participant
	Provider Participant
}

// Validate reports ErrNotFound unless both participants are resolved.
func (c Conversation) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return opErr("chat.Conversation", ErrNotFound, "missing booking id")
	}
	if c.Client.UserID == "" || c.Provider.UserID == "" {
		return opErr("chat.Conversation", ErrNotFound, "booking "+c.ID+" has no two resolved participants")
	}
	return nil
}

// ParticipantFor returns the participant holding role.
func (c Conversation) ParticipantFor(role Role) (Participant, bool) {
	switch role {
	case RoleClient:
		return c.Client, true
	case RoleProvider:
		return c.Provider, true
	default:
		return Participant{}, false
	}
}

// Member returns the participant with the given user id.
func (c Conversation) Member(userID string) (Participant, bool) {
	switch {
	case userID == "":
		return Participant{}, false
	case c.Client.UserID == userID:
		return c.Client, true
	case c.Provider.UserID == userID:
		return c.Provider, true
	default:
		return Participant{}, false
	}
}

// Counterpart returns the other participant.
func (c Conversation) Counterpart(userID string) (Participant, bool) {
	switch userID {
	case c.Client.UserID:
		return c.Provider, true
	case c.Provider.UserID:
		return c.Client, true
	default:
		return Participant{}, false
	}
}

// Participants returns client then provider.
func (c Conversation) Participants() []Participant {
	return []Participant{c.Client, c.Provider}
}

// Message is a persisted chat message.
//
// State machine: sent -> delivered? -> read. Delivered may be skipped; no transition reverts.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	SenderRole     Role
	Content        string
	CreatedAt      time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
	Read           bool
}

// Delivered reports whether a delivery marker is set.
func (m Message) Delivered() bool { return m.DeliveredAt != nil }
