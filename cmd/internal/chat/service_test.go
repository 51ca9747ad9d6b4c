package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	v1 "jobchat/shared/contracts/chat/v1"
)

func TestService_Send_LiveReceiverGetsMessageWithoutPush(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	provider := env.connect(t, testProvider)

	msg := env.send(t, testClient, RoleClient, "Hello")

	got := eventsOf[v1.NewMessage](provider)
	if len(got) != 1 {
		t.Fatalf("provider got %d new_message events, want 1", len(got))
	}
	ev := got[0]
	if ev.MessageID != msg.ID || ev.Content != "Hello" || ev.SenderID != testClient || ev.ReceiverID != testProvider {
		t.Fatalf("unexpected event: %#v", ev)
	}
	if ev.SenderType != "client" || ev.BookingID != testBooking || ev.SenderName != "Ann" {
		t.Fatalf("unexpected event metadata: %#v", ev)
	}
	if n := len(env.notifier.sent()); n != 0 {
		t.Fatalf("expected no push for a live receiver, got %d", n)
	}
}

func TestService_Send_OfflineReceiverGetsPush(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	msg := env.send(t, testClient, RoleClient, "Running late")

	sent := env.notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one push, got %d", len(sent))
	}
	n := sent[0]
	if n.Token != "tok-provider" || n.Body != "Running late" || n.Title != "New message from Ann" {
		t.Fatalf("unexpected push: %#v", n)
	}
	if n.Data["message_id"] != msg.ID || n.Data["booking_id"] != testBooking || n.Data["sender_type"] != "client" {
		t.Fatalf("unexpected push data: %#v", n.Data)
	}
}

func TestService_Send_FailedLivePushFallsBackToNotification(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	provider := env.connect(t, testProvider)
	provider.failSends(errTransport)

	env.send(t, testClient, RoleClient, "are you there")

	if n := len(env.notifier.sent()); n != 1 {
		t.Fatalf("expected push fallback after live failure, got %d pushes", n)
	}
}

func TestService_Send_PersistsEvenWhenBothPathsFail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	provider := env.connect(t, testProvider)
	provider.failSends(errTransport)
	env.notifier.err = errTransport

	msg, err := env.svc.Send(context.Background(), SendInput{
		ConversationID: testBooking,
		SenderID:       testClient,
		SenderRole:     RoleClient,
		Content:        "still stored",
	})
	if err != nil {
		t.Fatalf("Send must succeed once persisted, got %v", err)
	}

	stored, err := env.store.Get(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Content != "still stored" || stored.Read || stored.Delivered() {
		t.Fatalf("unexpected stored message: %#v", stored)
	}
}

func TestService_Send_StoreFailureStopsDelivery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.useStore(t, brokenAppendStore{InMemoryStore: env.store, err: errDiskFull})
	provider := env.connect(t, testProvider)

	_, err := env.svc.Send(context.Background(), SendInput{
		ConversationID: testBooking,
		SenderID:       testClient,
		SenderRole:     RoleClient,
		Content:        "lost",
	})
	if !IsPersistence(err) || !errors.Is(err, errDiskFull) {
		t.Fatalf("want persistence failure wrapping the cause, got %v", err)
	}
	if got := eventsOf[v1.NewMessage](provider); len(got) != 0 {
		t.Fatalf("nothing must be pushed for an unsaved message, got %d", len(got))
	}
	if n := len(env.notifier.sent()); n != 0 {
		t.Fatalf("nothing must be notified for an unsaved message, got %d", n)
	}
}

func TestService_Send_RejectsSenderNotHoldingRole(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	_, err := env.svc.Send(context.Background(), SendInput{
		ConversationID: testBooking,
		SenderID:       testClient,
		SenderRole:     RoleProvider,
		Content:        "hi",
	})
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	_, err = env.svc.Send(context.Background(), SendInput{
		ConversationID: testBooking,
		SenderID:       "stranger",
		SenderRole:     RoleClient,
		Content:        "hi",
	})
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized for stranger, got %v", err)
	}

	msgs, _ := env.store.ListByConversation(context.Background(), testBooking)
	if len(msgs) != 0 {
		t.Fatalf("rejected sends must not persist, got %d messages", len(msgs))
	}
}

func TestService_Send_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   SendInput
		is   func(error) bool
	}{
		{"empty", SendInput{ConversationID: testBooking, SenderID: testClient, SenderRole: RoleClient, Content: "   "}, IsInvalidArgument},
		{"too long", SendInput{ConversationID: testBooking, SenderID: testClient, SenderRole: RoleClient, Content: strings.Repeat("x", maxMessageChars+1)}, IsInvalidArgument},
		{"bad role", SendInput{ConversationID: testBooking, SenderID: testClient, SenderRole: "admin", Content: "hi"}, IsInvalidArgument},
		{"missing booking", SendInput{SenderID: testClient, SenderRole: RoleClient, Content: "hi"}, IsInvalidArgument},
		{"unknown booking", SendInput{ConversationID: "nope", SenderID: testClient, SenderRole: RoleClient, Content: "hi"}, IsNotFound},
	}
	for _, tc := range cases {
		if _, err := env.svc.Send(ctx, tc.in); !tc.is(err) {
			t.Fatalf("%s: unexpected err %v", tc.name, err)
		}
	}
}

func TestService_Send_TrimsContentAndCountsRunes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	msg := env.send(t, testClient, RoleClient, "  hi  ")
	if msg.Content != "hi" {
		t.Fatalf("content=%q want trimmed", msg.Content)
	}

	// Multi-byte runes count once each.
	env.send(t, testClient, RoleClient, strings.Repeat("é", maxMessageChars))
}

func TestService_MarkRead_ReceiptAndIdempotence(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	client := env.connect(t, testClient)
	provider := env.connect(t, testProvider)
	ctx := context.Background()

	msg := env.send(t, testClient, RoleClient, "please confirm")
	client.reset()
	provider.reset()

	read, err := env.svc.MarkRead(ctx, msg.ID, testProvider, RoleProvider)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !read.Read || read.ReadAt == nil {
		t.Fatalf("expected read message, got %#v", read)
	}

	receipts := eventsOf[v1.ReadReceipt](client)
	if len(receipts) != 1 {
		t.Fatalf("sender got %d read receipts, want 1", len(receipts))
	}
	if receipts[0].MessageID != msg.ID || receipts[0].UserID != testProvider || receipts[0].BookingID != testBooking {
		t.Fatalf("unexpected receipt: %#v", receipts[0])
	}
	if !receipts[0].Timestamp.Equal(*read.ReadAt) {
		t.Fatalf("receipt timestamp %v != read_at %v", receipts[0].Timestamp, *read.ReadAt)
	}
	if got := eventsOf[v1.ReadReceipt](provider); len(got) != 0 {
		t.Fatalf("reader must not receive its own receipt")
	}

	again, err := env.svc.MarkRead(ctx, msg.ID, testProvider, RoleProvider)
	if err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	if !again.ReadAt.Equal(*read.ReadAt) {
		t.Fatalf("read_at changed on repeat: %v -> %v", *read.ReadAt, *again.ReadAt)
	}
	if got := eventsOf[v1.ReadReceipt](client); len(got) != 1 {
		t.Fatalf("repeat read must not re-broadcast, got %d receipts", len(got))
	}
}

func TestService_MarkRead_Authorization(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	msg := env.send(t, testClient, RoleClient, "hi")

	if _, err := env.svc.MarkRead(ctx, msg.ID, testClient, RoleClient); !IsForbidden(err) {
		t.Fatalf("sender marking own message read: expected forbidden, got %v", err)
	}
	if _, err := env.svc.MarkRead(ctx, msg.ID, testProvider, RoleClient); !IsForbidden(err) {
		t.Fatalf("wrong role: expected forbidden, got %v", err)
	}
	if _, err := env.svc.MarkRead(ctx, "missing", testProvider, RoleProvider); !IsNotFound(err) {
		t.Fatalf("unknown message: expected not found, got %v", err)
	}
	if _, err := env.svc.MarkRead(ctx, "", testProvider, RoleProvider); !IsInvalidArgument(err) {
		t.Fatalf("empty id: expected invalid argument, got %v", err)
	}
}

func TestService_MarkDelivered_NeverRegressesRead(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	client := env.connect(t, testClient)
	ctx := context.Background()

	msg := env.send(t, testClient, RoleClient, "hi")
	if _, err := env.svc.MarkRead(ctx, msg.ID, testProvider, RoleProvider); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	client.reset()

	got, err := env.svc.MarkDelivered(ctx, env.conv, msg.ID, testProvider)
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if !got.Read {
		t.Fatalf("delivered ack must not reset read")
	}
	if n := len(eventsOf[v1.DeliveredReceipt](client)); n != 0 {
		t.Fatalf("no delivered receipt expected after read, got %d", n)
	}
}

func TestService_MarkDelivered_ReceiptToSender(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	client := env.connect(t, testClient)
	ctx := context.Background()

	msg := env.send(t, testClient, RoleClient, "hi")
	client.reset()

	if _, err := env.svc.MarkDelivered(ctx, env.conv, msg.ID, testClient); !IsForbidden(err) {
		t.Fatalf("sender ack: expected forbidden, got %v", err)
	}

	got, err := env.svc.MarkDelivered(ctx, env.conv, msg.ID, testProvider)
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if !got.Delivered() || got.Read {
		t.Fatalf("unexpected state: %#v", got)
	}
	if _, err := env.svc.MarkDelivered(ctx, env.conv, msg.ID, testProvider); err != nil {
		t.Fatalf("repeat MarkDelivered: %v", err)
	}

	receipts := eventsOf[v1.DeliveredReceipt](client)
	if len(receipts) != 1 || receipts[0].MessageID != msg.ID || receipts[0].UserID != testProvider {
		t.Fatalf("unexpected delivered receipts: %#v", receipts)
	}
}

func TestService_MarkDelivered_OtherConversationIsNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	msg := env.send(t, testClient, RoleClient, "hi")

	other := env.conv
	other.ID = "B2"
	if _, err := env.svc.MarkDelivered(context.Background(), other, msg.ID, testProvider); !IsNotFound(err) {
		t.Fatalf("expected not found across conversations, got %v", err)
	}
}

func TestService_Authorize(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	conv, p, err := env.svc.Authorize(ctx, testBooking, testProvider)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if conv.ID != testBooking || p.Role != RoleProvider {
		t.Fatalf("unexpected authorize result: %v %v", conv.ID, p)
	}

	if _, _, err := env.svc.Authorize(ctx, testBooking, "stranger"); !IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, _, err := env.svc.Authorize(ctx, "nope", testProvider); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_UnresolvedBookingIsNotFound(t *testing.T) {
	t.Parallel()

	half := Conversation{ID: "B9", Client: Participant{UserID: testClient}}
	svc, err := NewService(Deps{Log: testLogger(), Directory: NewMemoryDirectory(half), Store: NewInMemoryStore()})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, _, err := svc.Authorize(context.Background(), "B9", testClient); !IsNotFound(err) {
		t.Fatalf("expected not found for booking without provider, got %v", err)
	}
}

func TestService_OnlineStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.connect(t, testProvider)
	ctx := context.Background()

	views, err := env.svc.OnlineStatus(ctx, testBooking, testClient)
	if err != nil {
		t.Fatalf("OnlineStatus: %v", err)
	}
	if len(views) != 2 || views[0].UserID != testClient || views[1].UserID != testProvider {
		t.Fatalf("unexpected participants: %#v", views)
	}
	if views[0].IsOnline || views[0].Status != "offline" {
		t.Fatalf("client should be offline: %#v", views[0])
	}
	if !views[1].IsOnline || views[1].Status != "online" {
		t.Fatalf("provider should be online: %#v", views[1])
	}

	if _, err := env.svc.OnlineStatus(ctx, testBooking, "stranger"); !IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestNewService_RequiresDirectoryAndStore(t *testing.T) {
	t.Parallel()

	if _, err := NewService(Deps{Store: NewInMemoryStore()}); err == nil {
		t.Fatalf("expected error without directory")
	}
	if _, err := NewService(Deps{Directory: NewMemoryDirectory()}); err == nil {
		t.Fatalf("expected error without store")
	}
}
