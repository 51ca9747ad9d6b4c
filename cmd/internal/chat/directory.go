package chat

import (
	"context"
	"sync"
	"time"
)

// Directory resolves a booking to its two fixed participants.
// A booking that does not resolve to both participants is reported as ErrNotFound.
type Directory interface {
	Resolve(ctx context.Context, bookingID string) (Conversation, error)
}

// LastSeenStore keeps the user-level online flag and last-seen time for offline participants.
type LastSeenStore interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string, at time.Time) error
	LastSeen(ctx context.Context, userID string) (*time.Time, error)
}

// MemoryDirectory is a static Directory for dev and tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	convs map[string]Conversation
}

// NewMemoryDirectory constructs a directory seeded with convs.
func NewMemoryDirectory(convs ...Conversation) *MemoryDirectory {
	d := &MemoryDirectory{convs: make(map[string]Conversation, len(convs))}
	for _, c := range convs {
		d.Put(c)
	}
	return d
}

// Put adds or replaces a booking.
func (d *MemoryDirectory) Put(c Conversation) {
	c.Client.Role = RoleClient
	c.Provider.Role = RoleProvider

	d.mu.Lock()
	d.convs[c.ID] = c
	d.mu.Unlock()
}

// Resolve returns the booking's conversation.
func (d *MemoryDirectory) Resolve(ctx context.Context, bookingID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	d.mu.RLock()
	c, ok := d.convs[bookingID]
	d.mu.RUnlock()

	if !ok {
		return Conversation{}, opErr("chat.MemoryDirectory.Resolve", ErrNotFound, "booking "+bookingID)
	}
	if err := c.Validate(); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// MemoryLastSeen is a process-local LastSeenStore.
type MemoryLastSeen struct {
	mu    sync.Mutex
	users map[string]memPresence
}

type memPresence struct {
	online   bool
	lastSeen time.Time
}

// NewMemoryLastSeen constructs an empty store.
func NewMemoryLastSeen() *MemoryLastSeen {
	return &MemoryLastSeen{users: make(map[string]memPresence)}
}

// MarkOnline sets the online flag and clears last-seen.
func (s *MemoryLastSeen) MarkOnline(_ context.Context, userID string) error {
	s.mu.Lock()
	s.users[userID] = memPresence{online: true}
	s.mu.Unlock()
	return nil
}

// MarkOffline clears the online flag and records at as last-seen.
func (s *MemoryLastSeen) MarkOffline(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	s.users[userID] = memPresence{lastSeen: at.UTC()}
	s.mu.Unlock()
	return nil
}

// LastSeen returns the recorded last-seen time, nil when online or unknown.
func (s *MemoryLastSeen) LastSeen(_ context.Context, userID string) (*time.Time, error) {
	s.mu.Lock()
	p, ok := s.users[userID]
	s.mu.Unlock()

	if !ok || p.online || p.lastSeen.IsZero() {
		return nil, nil
	}
	t := p.lastSeen
	return &t, nil
}
