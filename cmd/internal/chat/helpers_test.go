package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "jobchat/shared/contracts/chat/v1"
)

const (
	testBooking  = "B1"
	testClient   = "c1"
	testProvider = "p1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConversation() Conversation {
	return Conversation{
		ID: testBooking,
		Client: Participant{
			UserID:  testClient,
			Role:    RoleClient,
			Profile: Profile{DisplayName: "Ann", PushToken: "tok-client"},
		},
		Provider: Participant{
			UserID:  testProvider,
			Role:    RoleProvider,
			Profile: Profile{DisplayName: "Bob", PushToken: "tok-provider"},
		},
	}
}

// testClock advances by step on every call.
type testClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), step: time.Second}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

// fakeHandle records outbound events.
type fakeHandle struct {
	id string

	mu      sync.Mutex
	events  []v1.Outbound
	sendErr error
	closed  string
}

func newFakeHandle(id string) *fakeHandle { return &fakeHandle{id: id} }

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(_ context.Context, ev v1.Outbound) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.events = append(h.events, ev)
	return nil
}

func (h *fakeHandle) Close(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed == "" {
		h.closed = reason
	}
}

func (h *fakeHandle) failSends(err error) {
	h.mu.Lock()
	h.sendErr = err
	h.mu.Unlock()
}

func (h *fakeHandle) snapshot() []v1.Outbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]v1.Outbound(nil), h.events...)
}

func (h *fakeHandle) reset() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}

// eventsOf returns the recorded events of type T.
func eventsOf[T v1.Outbound](h *fakeHandle) []T {
	var out []T
	for _, ev := range h.snapshot() {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// recordingNotifier captures notifications and optionally fails.
type recordingNotifier struct {
	mu  sync.Mutex
	got []Notification
	err error
}

func (n *recordingNotifier) Notify(_ context.Context, in Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, in)
	return n.err
}

func (n *recordingNotifier) sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.got...)
}

var errTransport = errors.New("transport down")

type testEnv struct {
	svc      *Service
	store    *InMemoryStore
	reg      *MemoryRegistry
	lastSeen *MemoryLastSeen
	notifier *recordingNotifier
	conv     Conversation
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    NewInMemoryStore(),
		reg:      NewMemoryRegistry(),
		lastSeen: NewMemoryLastSeen(),
		notifier: &recordingNotifier{},
		conv:     testConversation(),
	}
	env.useStore(t, env.store)
	return env
}

// useStore rebuilds the service on store, keeping the registry, last-seen and notifier.
func (e *testEnv) useStore(t *testing.T, store MessageStore) {
	t.Helper()
	svc, err := NewService(Deps{
		Log:       testLogger(),
		Directory: NewMemoryDirectory(e.conv),
		Store:     store,
		Registry:  e.reg,
		LastSeen:  e.lastSeen,
		Notifier:  e.notifier,
		Now:       newTestClock().Now,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	e.svc = svc
}

// brokenAppendStore fails every Append with err.
type brokenAppendStore struct {
	*InMemoryStore
	err error
}

func (s brokenAppendStore) Append(context.Context, AppendInput) (Message, error) {
	return Message{}, s.err
}

var errDiskFull = errors.New("disk full")

// connect registers a fake handle for userID and clears its connect-time events.
func (e *testEnv) connect(t *testing.T, userID string) *fakeHandle {
	t.Helper()
	h := newFakeHandle(userID + "-" + NewHandleID())
	e.svc.Connect(context.Background(), e.conv, userID, h)
	h.reset()
	return h
}

func (e *testEnv) send(t *testing.T, senderID string, role Role, content string) Message {
	t.Helper()
	msg, err := e.svc.Send(context.Background(), SendInput{
		ConversationID: testBooking,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("Send(%q): %v", content, err)
	}
	return msg
}
