package chat

import (
	"context"
	"log/slog"

	v1 "jobchat/shared/contracts/chat/v1"
)

// Outcome is what the router did with one message.
type Outcome struct {
	LivePushed bool
	Notified   bool
	FannedOut  int
	Err        error // wraps ErrDeliveryDegraded when the receiver was reached by neither path
}

// Router delivers persisted messages: live push to the receiver when connected,
// push-notification fallback otherwise, plus a fan-out to the remaining live views.
// Failures are logged and counted, never returned to the sender.
type Router struct {
	log      *slog.Logger
	reg      Registry
	notifier Notifier
	metrics  *Metrics
}

// NewRouter constructs a Router. notifier may be nil (fallback disabled).
func NewRouter(log *slog.Logger, reg Registry, notifier Notifier, metrics *Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{log: log, reg: reg, notifier: notifier, metrics: metrics}
}

// Route delivers msg within conv. The live path is tried once and never retried.
func (r *Router) Route(ctx context.Context, conv Conversation, msg Message) Outcome {
	var out Outcome

	sender, _ := conv.Member(msg.SenderID)
	receiver, _ := conv.Member(msg.ReceiverID)
	ev := NewMessageEvent(msg, sender)

	if h, ok := r.reg.Lookup(conv.ID, receiver.UserID); ok {
		if err := h.Send(ctx, ev); err != nil {
			r.log.Info("chat.route.live.fail",
				"booking_id", conv.ID, "message_id", msg.ID, "user_id", receiver.UserID, "handle_id", h.ID(), "err", err)
			r.metrics.livePushResult("failed")
		} else {
			out.LivePushed = true
			r.metrics.livePushResult("ok")
		}
	} else {
		r.metrics.livePushResult("offline")
	}

	if !out.LivePushed {
		out.Notified = r.notify(ctx, conv, msg, sender, receiver)
		if !out.Notified {
			out.Err = opErr("chat.Route", ErrDeliveryDegraded, "receiver "+receiver.UserID+" not reached")
		}
	}

	for id, h := range r.reg.Handles(conv.ID) {
		if id == msg.SenderID || id == receiver.UserID {
			continue
		}
		if err := h.Send(ctx, ev); err != nil {
			r.metrics.fanoutDropped()
			continue
		}
		out.FannedOut++
	}

	return out
}

func (r *Router) notify(ctx context.Context, conv Conversation, msg Message, sender, receiver Participant) bool {
	if r.notifier == nil {
		r.metrics.pushResult("disabled")
		return false
	}
	if receiver.Profile.PushToken == "" {
		r.metrics.pushResult("no_token")
		return false
	}

	n := BuildNotification(msg, sender, receiver)
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.log.Warn("chat.route.push.fail", "booking_id", conv.ID, "message_id", msg.ID, "user_id", receiver.UserID, "err", err)
		r.metrics.pushResult("failed")
		return false
	}

	r.metrics.pushResult("sent")
	return true
}

// NewMessageEvent renders msg as the outbound new_message event.
func NewMessageEvent(msg Message, sender Participant) v1.NewMessage {
	return v1.NewMessage{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		SenderType: string(msg.SenderRole),
		Content:    msg.Content,
		Timestamp:  msg.CreatedAt,
		BookingID:  msg.ConversationID,
		SenderName: sender.Profile.DisplayName,
	}
}
