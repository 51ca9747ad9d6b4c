package chat

import (
	"context"
	"time"

	v1 "jobchat/shared/contracts/chat/v1"
)

// Notification is an out-of-band push for a participant without a live connection.
type Notification struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Notifier sends push notifications. Delivery is best-effort; errors are logged by the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// BuildNotification renders the push for msg addressed to receiver.
func BuildNotification(msg Message, sender, receiver Participant) Notification {
	name := sender.Profile.DisplayName
	if name == "" {
		name = string(sender.Role)
	}
	preview := truncateRunes(msg.Content, pushBodyChars)

	return Notification{
		Token: receiver.Profile.PushToken,
		Title: truncateRunes("New message from "+name, pushTitleChars),
		Body:  preview,
		Data: map[string]string{
			"type":        v1.TypeNewMessage,
			"message_id":  msg.ID,
			"booking_id":  msg.ConversationID,
			"sender_id":   msg.SenderID,
			"sender_type": string(msg.SenderRole),
			"sender_name": name,
			"content":     preview,
			"timestamp":   msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
