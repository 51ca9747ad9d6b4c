package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	v1 "jobchat/shared/contracts/chat/v1"
)

// Broadcaster fans presence, typing and receipt events out to the other participants
// of a conversation, and owns the connect/disconnect lifecycle in the registry.
type Broadcaster struct {
	log      *slog.Logger
	reg      Registry
	store    MessageStore
	lastSeen LastSeenStore
	metrics  *Metrics
	now      func() time.Time

	// pairs serializes connect and disconnect of one (conversation, participant) pair.
	// The lock is held across the registry change, the last-seen write and the broadcast.
	pairs pairLocks
}

// NewBroadcaster constructs a Broadcaster. lastSeen may be nil.
func NewBroadcaster(log *slog.Logger, reg Registry, store MessageStore, lastSeen LastSeenStore, metrics *Metrics, now func() time.Time) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Broadcaster{log: log, reg: reg, store: store, lastSeen: lastSeen, metrics: metrics, now: now}
}

type pairLock struct {
	sync.Mutex
	refs int
}

// pairLocks hands out one mutex per key and forgets it once no caller holds or waits on it.
type pairLocks struct {
	mu sync.Mutex
	m  map[string]*pairLock
}

func (p *pairLocks) lock(conversationID, participantID string) (unlock func()) {
	key := conversationID + "\x00" + participantID

	p.mu.Lock()
	if p.m == nil {
		p.m = make(map[string]*pairLock)
	}
	l := p.m[key]
	if l == nil {
		l = &pairLock{}
		p.m[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(p.m, key)
		}
		p.mu.Unlock()
	}
}

// OnConnect registers h for the participant, announces it to the others and sends the
// caller the online snapshot. It returns the handle h superseded, if any; the caller
// decides whether to close it.
func (b *Broadcaster) OnConnect(ctx context.Context, conv Conversation, participantID string, h Handle) Handle {
	unlock := b.pairs.lock(conv.ID, participantID)
	defer unlock()

	prev := b.reg.Register(conv.ID, participantID, h)
	b.metrics.connected(prev != nil)

	if b.lastSeen != nil {
		if err := b.lastSeen.MarkOnline(ctx, participantID); err != nil {
			b.log.Warn("chat.presence.mark_online.fail", "booking_id", conv.ID, "user_id", participantID, "err", err)
		}
	}

	b.Broadcast(ctx, conv.ID, participantID, v1.UserStatus{UserID: participantID, IsOnline: true})

	if err := h.Send(ctx, v1.OnlineUsers{Users: b.reg.OnlineParticipants(conv.ID)}); err != nil {
		b.log.Info("chat.presence.snapshot.fail", "booking_id", conv.ID, "user_id", participantID, "err", err)
	}

	b.log.Info("chat.presence.online", "booking_id", conv.ID, "user_id", participantID, "handle_id", h.ID(), "superseded", prev != nil)
	return prev
}

// OnDisconnect removes h if it is still the registered handle and announces the participant
// offline. Disconnecting a superseded or already removed handle is a no-op and returns false.
func (b *Broadcaster) OnDisconnect(ctx context.Context, conv Conversation, participantID string, h Handle) bool {
	unlock := b.pairs.lock(conv.ID, participantID)
	defer unlock()

	if !b.reg.Deregister(conv.ID, participantID, h) {
		return false
	}
	b.metrics.disconnected()

	if b.lastSeen != nil {
		if err := b.lastSeen.MarkOffline(ctx, participantID, b.now()); err != nil {
			b.log.Warn("chat.presence.mark_offline.fail", "booking_id", conv.ID, "user_id", participantID, "err", err)
		}
	}

	b.Broadcast(ctx, conv.ID, participantID, v1.UserStatus{UserID: participantID, IsOnline: false})
	b.log.Info("chat.presence.offline", "booking_id", conv.ID, "user_id", participantID)
	return true
}

// Typing relays a transient typing indicator. Nothing is stored.
func (b *Broadcaster) Typing(ctx context.Context, conversationID, participantID string, isTyping bool) {
	b.Broadcast(ctx, conversationID, participantID, v1.TypingStatus{UserID: participantID, IsTyping: isTyping})
}

// MarkDelivered sets delivered_at on a message addressed to participantID and sends the
// receipt to the other side. Messages already delivered or read are returned unchanged.
func (b *Broadcaster) MarkDelivered(ctx context.Context, conv Conversation, messageID, participantID string) (Message, error) {
	const op = "chat.MarkDelivered"

	msg, err := b.messageIn(ctx, op, conv.ID, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.ReceiverID != participantID {
		return Message{}, opErr(op, ErrForbidden, "only the receiver can acknowledge delivery")
	}
	if msg.Delivered() || msg.Read {
		return msg, nil
	}

	msg, changed, err := b.store.MarkDelivered(ctx, messageID, b.now())
	if err != nil {
		return Message{}, persistErr(op, err)
	}
	if !changed || msg.DeliveredAt == nil {
		return msg, nil
	}

	b.metrics.receipt("delivered")
	b.Broadcast(ctx, conv.ID, participantID, v1.DeliveredReceipt{
		MessageID: msg.ID,
		UserID:    participantID,
		Timestamp: *msg.DeliveredAt,
	})
	return msg, nil
}

// MarkRead sets the read flag on a message addressed to readerID and sends the read receipt
// to everyone but the reader. Once read, a message is never reset or re-announced.
func (b *Broadcaster) MarkRead(ctx context.Context, conv Conversation, messageID, readerID string) (Message, error) {
	const op = "chat.MarkRead"

	msg, err := b.messageIn(ctx, op, conv.ID, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.ReceiverID != readerID {
		return Message{}, opErr(op, ErrForbidden, "only the receiver can mark a message read")
	}
	if msg.Read {
		return msg, nil
	}

	msg, changed, err := b.store.MarkRead(ctx, messageID, b.now())
	if err != nil {
		return Message{}, persistErr(op, err)
	}
	if !changed || msg.ReadAt == nil {
		return msg, nil
	}

	b.metrics.receipt("read")
	b.Broadcast(ctx, conv.ID, readerID, v1.ReadReceipt{
		MessageID: msg.ID,
		UserID:    readerID,
		Timestamp: *msg.ReadAt,
		BookingID: conv.ID,
	})
	return msg, nil
}

// Broadcast sends ev to every live handle in the conversation except exclude.
// Sends never block; a closed or saturated handle just misses the event.
func (b *Broadcaster) Broadcast(ctx context.Context, conversationID, exclude string, ev v1.Outbound) int {
	sent := 0
	for id, h := range b.reg.Handles(conversationID) {
		if id == exclude {
			continue
		}
		if err := h.Send(ctx, ev); err != nil {
			b.metrics.fanoutDropped()
			b.log.Debug("chat.broadcast.drop", "booking_id", conversationID, "user_id", id, "type", ev.Type(), "err", err)
			continue
		}
		sent++
	}
	return sent
}

func (b *Broadcaster) messageIn(ctx context.Context, op, conversationID, messageID string) (Message, error) {
	if messageID == "" {
		return Message{}, opErr(op, ErrInvalidArgument, "missing message_id")
	}
	msg, err := b.store.Get(ctx, messageID)
	if err != nil {
		return Message{}, persistErr(op, err)
	}
	if msg.ConversationID != conversationID {
		return Message{}, messageNotFound(op, messageID)
	}
	return msg, nil
}
