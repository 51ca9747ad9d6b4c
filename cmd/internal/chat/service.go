package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Deps wires the Service. Directory and Store are required.
type Deps struct {
	Log       *slog.Logger
	Directory Directory
	Store     MessageStore
	Registry  Registry      // default: NewMemoryRegistry()
	LastSeen  LastSeenStore // default: NewMemoryLastSeen()
	Notifier  Notifier      // nil disables the push fallback
	Metrics   *Metrics
	Now       func() time.Time

	// DeliveryTimeout bounds routing after persistence (default 10s).
	DeliveryTimeout time.Duration
}

// Service is the entry point for request/response operations and connection events.
type Service struct {
	log   *slog.Logger
	dir   Directory
	store MessageStore
	reg   Registry
	now   func() time.Time

	metrics         *Metrics
	deliveryTimeout time.Duration

	router    *Router
	presence  *Broadcaster
	assembler *Assembler
}

// NewService validates deps and builds the pipeline components.
func NewService(d Deps) (*Service, error) {
	if d.Directory == nil {
		return nil, errors.New("chat: nil directory")
	}
	if d.Store == nil {
		return nil, errors.New("chat: nil store")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = NewMemoryRegistry()
	}
	if d.LastSeen == nil {
		d.LastSeen = NewMemoryLastSeen()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.DeliveryTimeout <= 0 {
		d.DeliveryTimeout = deliveryTimeout
	}

	return &Service{
		log:             d.Log,
		dir:             d.Directory,
		store:           d.Store,
		reg:             d.Registry,
		now:             d.Now,
		metrics:         d.Metrics,
		deliveryTimeout: d.DeliveryTimeout,
		router:          NewRouter(d.Log, d.Registry, d.Notifier, d.Metrics),
		presence:        NewBroadcaster(d.Log, d.Registry, d.Store, d.LastSeen, d.Metrics, d.Now),
		assembler:       NewAssembler(d.Log, d.Store, d.Registry, d.LastSeen),
	}, nil
}

// Registry returns the connection registry.
func (s *Service) Registry() Registry { return s.reg }

// Presence returns the broadcaster.
func (s *Service) Presence() *Broadcaster { return s.presence }

// SendInput is a send_message request.
type SendInput struct {
	ConversationID string
	SenderID       string
	SenderRole     Role
	Content        string
}

// Send validates, persists and routes one message.
//
// The returned error reflects validation and persistence only. Once the message is stored
// it is returned even if the receiver could not be reached.
func (s *Service) Send(ctx context.Context, in SendInput) (Message, error) {
	const op = "chat.Send"

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return Message{}, opErr(op, ErrInvalidArgument, "empty content")
	}
	if utf8.RuneCountInString(content) > maxMessageChars {
		return Message{}, opErr(op, ErrInvalidArgument, fmt.Sprintf("message too long: max=%d chars", maxMessageChars))
	}
	if in.SenderRole != RoleClient && in.SenderRole != RoleProvider {
		return Message{}, opErr(op, ErrInvalidArgument, "unknown sender role")
	}

	conv, err := s.resolve(ctx, op, in.ConversationID)
	if err != nil {
		return Message{}, err
	}

	sender, _ := conv.ParticipantFor(in.SenderRole)
	if in.SenderID == "" || sender.UserID != in.SenderID {
		return Message{}, opErr(op, ErrUnauthorized, "sender does not hold role "+string(in.SenderRole))
	}
	receiver, _ := conv.Counterpart(sender.UserID)

	msg, err := s.store.Append(ctx, AppendInput{
		ConversationID: conv.ID,
		SenderID:       sender.UserID,
		ReceiverID:     receiver.UserID,
		SenderRole:     sender.Role,
		Content:        content,
		Now:            s.now(),
	})
	if err != nil {
		return Message{}, persistErr(op, err)
	}
	s.metrics.messagePersisted()
	s.log.Info("chat.send.persisted", "booking_id", conv.ID, "message_id", msg.ID, "sender_id", msg.SenderID, "receiver_id", msg.ReceiverID)

	// The sender's cancellation must not abort delivery of a stored message.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deliveryTimeout)
	defer cancel()

	out := s.router.Route(rctx, conv, msg)
	if out.Err != nil {
		s.log.Warn("chat.send.delivery_degraded", "booking_id", conv.ID, "message_id", msg.ID, "err", out.Err)
	}
	return msg, nil
}

// MarkRead marks messageID read on behalf of readerID acting as readerRole.
func (s *Service) MarkRead(ctx context.Context, messageID, readerID string, readerRole Role) (Message, error) {
	const op = "chat.MarkRead"

	if messageID == "" {
		return Message{}, opErr(op, ErrInvalidArgument, "missing message_id")
	}
	msg, err := s.store.Get(ctx, messageID)
	if err != nil {
		return Message{}, persistErr(op, err)
	}

	conv, err := s.resolve(ctx, op, msg.ConversationID)
	if err != nil {
		return Message{}, err
	}
	p, ok := conv.ParticipantFor(readerRole)
	if !ok || readerID == "" || p.UserID != readerID {
		return Message{}, opErr(op, ErrForbidden, "reader does not hold role "+string(readerRole))
	}

	return s.presence.MarkRead(ctx, conv, messageID, readerID)
}

// MarkDelivered records that participantID's device received messageID.
func (s *Service) MarkDelivered(ctx context.Context, conv Conversation, messageID, participantID string) (Message, error) {
	return s.presence.MarkDelivered(ctx, conv, messageID, participantID)
}

// GetConversation returns the conversation view for requesterID.
func (s *Service) GetConversation(ctx context.Context, bookingID, requesterID string) (ConversationView, error) {
	conv, err := s.resolve(ctx, "chat.GetConversation", bookingID)
	if err != nil {
		return ConversationView{}, err
	}
	return s.assembler.Conversation(ctx, conv, requesterID)
}

// OnlineStatus returns both participants with their presence. requesterID must be a participant.
func (s *Service) OnlineStatus(ctx context.Context, bookingID, requesterID string) ([]ParticipantView, error) {
	const op = "chat.OnlineStatus"

	conv, err := s.resolve(ctx, op, bookingID)
	if err != nil {
		return nil, err
	}
	if _, ok := conv.Member(requesterID); !ok {
		return nil, opErr(op, ErrForbidden, "not a participant of booking "+conv.ID)
	}
	return s.assembler.Participants(ctx, conv), nil
}

// Authorize resolves the booking and checks that userID is one of its participants.
// Transports call it before accepting a connection.
func (s *Service) Authorize(ctx context.Context, bookingID, userID string) (Conversation, Participant, error) {
	const op = "chat.Authorize"

	conv, err := s.resolve(ctx, op, bookingID)
	if err != nil {
		return Conversation{}, Participant{}, err
	}
	p, ok := conv.Member(userID)
	if !ok {
		return Conversation{}, Participant{}, opErr(op, ErrForbidden, "not a participant of booking "+conv.ID)
	}
	return conv, p, nil
}

// Connect registers h and broadcasts presence. See Broadcaster.OnConnect.
func (s *Service) Connect(ctx context.Context, conv Conversation, participantID string, h Handle) Handle {
	return s.presence.OnConnect(ctx, conv, participantID, h)
}

// Disconnect deregisters h. See Broadcaster.OnDisconnect.
func (s *Service) Disconnect(ctx context.Context, conv Conversation, participantID string, h Handle) bool {
	return s.presence.OnDisconnect(ctx, conv, participantID, h)
}

// Typing relays a typing indicator.
func (s *Service) Typing(ctx context.Context, conv Conversation, participantID string, isTyping bool) {
	s.presence.Typing(ctx, conv.ID, participantID, isTyping)
}

func (s *Service) resolve(ctx context.Context, op, bookingID string) (Conversation, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return Conversation{}, opErr(op, ErrInvalidArgument, "missing booking_id")
	}
	conv, err := s.dir.Resolve(ctx, bookingID)
	if err != nil {
		if IsNotFound(err) {
			return Conversation{}, err
		}
		return Conversation{}, fmt.Errorf("%s: resolve booking: %w", op, err)
	}
	if err := conv.Validate(); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}
