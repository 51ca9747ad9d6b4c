package chat

import (
	"context"
	"reflect"
	"testing"
	"time"

	v1 "jobchat/shared/contracts/chat/v1"
)

func TestBroadcaster_ConnectAnnouncesAndSendsSnapshot(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	client := newFakeHandle("hc")
	env.svc.Connect(ctx, env.conv, testClient, client)

	provider := newFakeHandle("hp")
	env.svc.Connect(ctx, env.conv, testProvider, provider)

	snaps := eventsOf[v1.OnlineUsers](provider)
	if len(snaps) != 1 || !reflect.DeepEqual(snaps[0].Users, []string{testClient, testProvider}) {
		t.Fatalf("provider snapshot = %#v", snaps)
	}

	statuses := eventsOf[v1.UserStatus](client)
	if len(statuses) != 1 || statuses[0].UserID != testProvider || !statuses[0].IsOnline {
		t.Fatalf("client statuses = %#v", statuses)
	}
	if got := eventsOf[v1.UserStatus](provider); len(got) != 0 {
		t.Fatalf("a participant must not receive its own status: %#v", got)
	}
}

func TestBroadcaster_DisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	client := env.connect(t, testClient)
	provider := newFakeHandle("hp")
	env.svc.Connect(ctx, env.conv, testProvider, provider)
	client.reset()

	if !env.svc.Disconnect(ctx, env.conv, testProvider, provider) {
		t.Fatalf("first disconnect should report true")
	}
	if env.svc.Disconnect(ctx, env.conv, testProvider, provider) {
		t.Fatalf("second disconnect should report false")
	}

	statuses := eventsOf[v1.UserStatus](client)
	if len(statuses) != 1 || statuses[0].UserID != testProvider || statuses[0].IsOnline {
		t.Fatalf("expected exactly one offline status, got %#v", statuses)
	}

	ts, err := env.lastSeen.LastSeen(ctx, testProvider)
	if err != nil || ts == nil {
		t.Fatalf("expected last_seen after disconnect, got %v err=%v", ts, err)
	}
}

func TestBroadcaster_SupersededDisconnectKeepsParticipantOnline(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	client := env.connect(t, testClient)

	old := newFakeHandle("old")
	env.svc.Connect(ctx, env.conv, testProvider, old)
	cur := newFakeHandle("new")
	prev := env.svc.Connect(ctx, env.conv, testProvider, cur)
	if prev == nil || prev.ID() != "old" {
		t.Fatalf("expected old handle to be returned as superseded, got %v", prev)
	}
	client.reset()

	if env.svc.Disconnect(ctx, env.conv, testProvider, old) {
		t.Fatalf("disconnecting a superseded handle must be a no-op")
	}
	if got := eventsOf[v1.UserStatus](client); len(got) != 0 {
		t.Fatalf("no offline status expected, got %#v", got)
	}

	env.send(t, testClient, RoleClient, "after reconnect")
	if got := eventsOf[v1.NewMessage](cur); len(got) != 1 {
		t.Fatalf("new handle should receive the message, got %d", len(got))
	}
	if got := eventsOf[v1.NewMessage](old); len(got) != 0 {
		t.Fatalf("superseded handle must not receive messages")
	}
}

func TestBroadcaster_TypingGoesToOthersOnly(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	client := env.connect(t, testClient)
	provider := env.connect(t, testProvider)
	client.reset()

	env.svc.Typing(ctx, env.conv, testClient, true)
	env.svc.Typing(ctx, env.conv, testClient, false)

	got := eventsOf[v1.TypingStatus](provider)
	if len(got) != 2 || got[0].UserID != testClient || !got[0].IsTyping || got[1].IsTyping {
		t.Fatalf("provider typing events = %#v", got)
	}
	if n := len(client.snapshot()); n != 0 {
		t.Fatalf("typer must not receive its own indicator, got %d events", n)
	}

	msgs, _ := env.store.ListByConversation(ctx, testBooking)
	if len(msgs) != 0 {
		t.Fatalf("typing must not persist anything")
	}
}

func TestBroadcaster_BroadcastSkipsFailingHandles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	client := env.connect(t, testClient)
	client.failSends(errTransport)
	env.connect(t, testProvider)

	n := env.svc.Presence().Broadcast(context.Background(), testBooking, "", v1.Pong{})
	if n != 1 {
		t.Fatalf("sent=%d want 1", n)
	}
}

// gatedLastSeen blocks MarkOffline until release is closed.
type gatedLastSeen struct {
	*MemoryLastSeen
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLastSeen) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	close(g.entered)
	<-g.release
	return g.MemoryLastSeen.MarkOffline(ctx, userID, at)
}

func TestBroadcaster_ReconnectDuringSlowDisconnectStaysOnline(t *testing.T) {
	t.Parallel()

	conv := testConversation()
	lastSeen := &gatedLastSeen{
		MemoryLastSeen: NewMemoryLastSeen(),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	svc, err := NewService(Deps{
		Log:       testLogger(),
		Directory: NewMemoryDirectory(conv),
		Store:     NewInMemoryStore(),
		LastSeen:  lastSeen,
		Now:       newTestClock().Now,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	client := newFakeHandle("hc")
	svc.Connect(ctx, conv, testClient, client)
	old := newFakeHandle("old")
	svc.Connect(ctx, conv, testProvider, old)
	client.reset()

	disconnected := make(chan bool)
	go func() { disconnected <- svc.Disconnect(ctx, conv, testProvider, old) }()
	<-lastSeen.entered

	cur := newFakeHandle("new")
	connected := make(chan struct{})
	go func() {
		svc.Connect(ctx, conv, testProvider, cur)
		close(connected)
	}()

	close(lastSeen.release)
	if !<-disconnected {
		t.Fatalf("disconnect of the registered handle should report true")
	}
	<-connected

	statuses := eventsOf[v1.UserStatus](client)
	if len(statuses) == 0 || !statuses[len(statuses)-1].IsOnline {
		t.Fatalf("last status seen by the peer must be online, got %#v", statuses)
	}
	if h, ok := svc.Registry().Lookup(testBooking, testProvider); !ok || h.ID() != "new" {
		t.Fatalf("registry should hold the new handle, got %v ok=%v", h, ok)
	}
	if ts, err := lastSeen.LastSeen(ctx, testProvider); err != nil || ts != nil {
		t.Fatalf("last_seen should be cleared while online, got %v err=%v", ts, err)
	}
}

func TestPairLocks_ReleasesEntries(t *testing.T) {
	t.Parallel()

	var p pairLocks
	unlock := p.lock("b", "u")
	unlock()
	unlock = p.lock("b", "u")
	unlock()

	if len(p.m) != 0 {
		t.Fatalf("expected no retained locks, got %d", len(p.m))
	}
}
