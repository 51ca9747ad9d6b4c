package chat

import (
	"context"
	"log/slog"
	"time"
)

// ConversationView is the read model of one booking chat as seen by one participant.
type ConversationView struct {
	BookingID     string          `json:"booking_id"`
	Client        ParticipantView `json:"client"`
	Provider      ParticipantView `json:"provider"`
	LastMessage   string          `json:"last_message"`
	LastMessageAt *time.Time      `json:"last_message_at"`
	Unread        int             `json:"unread"`
	Messages      []MessageView   `json:"messages"`
}

// ParticipantView decorates a participant with live presence.
type ParticipantView struct {
	UserID       string     `json:"user_id"`
	Role         Role       `json:"role"`
	Name         string     `json:"name"`
	ProfileImage string     `json:"profile_image,omitempty"`
	Status       string     `json:"status"`
	IsOnline     bool       `json:"is_online"`
	LastSeen     *time.Time `json:"last_seen"`
}

// MessageView is a message as rendered in a conversation.
type MessageView struct {
	ID          string     `json:"id"`
	SenderRole  Role       `json:"sender_role"`
	SenderID    string     `json:"sender_id"`
	ReceiverID  string     `json:"receiver_id"`
	Text        string     `json:"text"`
	CreatedAt   time.Time  `json:"created_at"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at"`
}

// Assembler builds read models from persisted messages and live registry state. It never writes.
type Assembler struct {
	log      *slog.Logger
	store    MessageStore
	reg      Registry
	lastSeen LastSeenStore
}

// NewAssembler constructs an Assembler. lastSeen may be nil.
func NewAssembler(log *slog.Logger, store MessageStore, reg Registry, lastSeen LastSeenStore) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{log: log, store: store, reg: reg, lastSeen: lastSeen}
}

// Conversation assembles the view for requesterID, who must be one of the participants.
func (a *Assembler) Conversation(ctx context.Context, conv Conversation, requesterID string) (ConversationView, error) {
	const op = "chat.GetConversation"

	if _, ok := conv.Member(requesterID); !ok {
		return ConversationView{}, opErr(op, ErrForbidden, "not a participant of booking "+conv.ID)
	}

	msgs, err := a.store.ListByConversation(ctx, conv.ID)
	if err != nil {
		return ConversationView{}, persistErr(op, err)
	}

	participants := a.Participants(ctx, conv)
	view := ConversationView{
		BookingID: conv.ID,
		Client:    participants[0],
		Provider:  participants[1],
		Messages:  make([]MessageView, 0, len(msgs)),
	}

	for _, m := range msgs {
		if m.ReceiverID == requesterID && !m.Read {
			view.Unread++
		}
		view.Messages = append(view.Messages, MessageView{
			ID:          m.ID,
			SenderRole:  m.SenderRole,
			SenderID:    m.SenderID,
			ReceiverID:  m.ReceiverID,
			Text:        m.Content,
			CreatedAt:   m.CreatedAt,
			Delivered:   m.Delivered(),
			DeliveredAt: m.DeliveredAt,
			Read:        m.Read,
			ReadAt:      m.ReadAt,
		})
	}
	if n := len(msgs); n > 0 {
		last := msgs[n-1]
		at := last.CreatedAt
		view.LastMessage = last.Content
		view.LastMessageAt = &at
	}

	return view, nil
}

// Participants returns client and provider decorated with presence from the registry.
// Last-seen is looked up only for offline participants and is best-effort.
func (a *Assembler) Participants(ctx context.Context, conv Conversation) []ParticipantView {
	online := make(map[string]bool, 2)
	for _, id := range a.reg.OnlineParticipants(conv.ID) {
		online[id] = true
	}

	out := make([]ParticipantView, 0, 2)
	for _, p := range conv.Participants() {
		v := ParticipantView{
			UserID:       p.UserID,
			Role:         p.Role,
			Name:         p.Profile.DisplayName,
			ProfileImage: p.Profile.ProfileImage,
			IsOnline:     online[p.UserID],
			Status:       "offline",
		}
		if v.IsOnline {
			v.Status = "online"
		} else if a.lastSeen != nil {
			ts, err := a.lastSeen.LastSeen(ctx, p.UserID)
			if err != nil {
				a.log.Warn("chat.presence.last_seen.fail", "booking_id", conv.ID, "user_id", p.UserID, "err", err)
			}
			v.LastSeen = ts
		}
		out = append(out, v)
	}
	return out
}
