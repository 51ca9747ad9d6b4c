package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	v1 "jobchat/shared/contracts/chat/v1"
)

func routedMessage() Message {
	return Message{
		ID:             "01JTEST",
		ConversationID: testBooking,
		SenderID:       testClient,
		ReceiverID:     testProvider,
		SenderRole:     RoleClient,
		Content:        "Hello",
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRouter_FanOutExcludesSenderAndReceiver(t *testing.T) {
	t.Parallel()

	reg := NewMemoryRegistry()
	sender := newFakeHandle("s")
	receiver := newFakeHandle("r")
	observer := newFakeHandle("o")
	reg.Register(testBooking, testClient, sender)
	reg.Register(testBooking, testProvider, receiver)
	reg.Register(testBooking, "observer", observer)

	r := NewRouter(testLogger(), reg, nil, nil)
	out := r.Route(context.Background(), testConversation(), routedMessage())

	if !out.LivePushed || out.Notified || out.Err != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.FannedOut != 1 {
		t.Fatalf("fanned out=%d want 1", out.FannedOut)
	}
	if n := len(eventsOf[v1.NewMessage](receiver)); n != 1 {
		t.Fatalf("receiver got %d events", n)
	}
	if n := len(eventsOf[v1.NewMessage](observer)); n != 1 {
		t.Fatalf("observer got %d events", n)
	}
	if n := len(sender.snapshot()); n != 0 {
		t.Fatalf("sender must not get its own message back, got %d", n)
	}
}

func TestRouter_DegradedWhenNoPathReachesReceiver(t *testing.T) {
	t.Parallel()

	conv := testConversation()

	// No notifier configured.
	out := NewRouter(testLogger(), NewMemoryRegistry(), nil, nil).Route(context.Background(), conv, routedMessage())
	if !errors.Is(out.Err, ErrDeliveryDegraded) {
		t.Fatalf("expected degraded without notifier, got %+v", out)
	}

	// Receiver has no push token.
	conv.Provider.Profile.PushToken = ""
	n := &recordingNotifier{}
	out = NewRouter(testLogger(), NewMemoryRegistry(), n, nil).Route(context.Background(), conv, routedMessage())
	if !errors.Is(out.Err, ErrDeliveryDegraded) || len(n.sent()) != 0 {
		t.Fatalf("expected degraded without token and no push, got %+v pushes=%d", out, len(n.sent()))
	}
}

func TestRouter_NotifierFuncFallback(t *testing.T) {
	t.Parallel()

	var got Notification
	n := NotifierFunc(func(_ context.Context, in Notification) error {
		got = in
		return nil
	})
	out := NewRouter(testLogger(), NewMemoryRegistry(), n, nil).Route(context.Background(), testConversation(), routedMessage())
	if !out.Notified || out.LivePushed || out.Err != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if got.Token != "tok-provider" {
		t.Fatalf("push token=%q", got.Token)
	}
}
