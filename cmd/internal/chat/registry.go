package chat

import (
	"context"
	"sort"
	"sync"

	v1 "jobchat/shared/contracts/chat/v1"
)

// Handle is a live duplex connection of one participant.
//
// Send enqueues without blocking and fails when the transport is closed or saturated;
// the router treats any Send error as "receiver not reachable". Close is idempotent.
type Handle interface {
	ID() string
	Send(ctx context.Context, ev v1.Outbound) error
	Close(reason string)
}

// Registry tracks which participant holds a live handle in which conversation.
//
// At most one handle is tracked per (conversation, participant); Register is last-write-wins.
// Deregister matches by handle identity so a stale disconnect never removes a newer handle.
// Implementations must be safe for concurrent use and must not block on I/O.
type Registry interface {
	Register(conversationID, participantID string, h Handle) (prev Handle)
	Deregister(conversationID, participantID string, h Handle) bool
	Lookup(conversationID, participantID string) (Handle, bool)
	OnlineParticipants(conversationID string) []string
	Handles(conversationID string) map[string]Handle
}

// MemoryRegistry is the process-local Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	convs map[string]map[string]Handle
}

// NewMemoryRegistry constructs an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{convs: make(map[string]map[string]Handle)}
}

var _ Registry = (*MemoryRegistry)(nil)

// Register stores h for the pair and returns the handle it replaced, if any.
func (r *MemoryRegistry) Register(conversationID, participantID string, h Handle) Handle {
	if conversationID == "" || participantID == "" || h == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.convs[conversationID]
	if members == nil {
		members = make(map[string]Handle, 2)
		r.convs[conversationID] = members
	}
	prev := members[participantID]
	members[participantID] = h
	if prev != nil && prev.ID() == h.ID() {
		return nil
	}
	return prev
}

// Deregister removes the pair if it still maps to h and reports whether it did.
// A nil h removes whatever is registered.
func (r *MemoryRegistry) Deregister(conversationID, participantID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.convs[conversationID]
	cur, ok := members[participantID]
	if !ok {
		return false
	}
	if h != nil && cur.ID() != h.ID() {
		return false
	}

	delete(members, participantID)
	if len(members) == 0 {
		delete(r.convs, conversationID)
	}
	return true
}

// Lookup returns the live handle for the pair.
func (r *MemoryRegistry) Lookup(conversationID, participantID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.convs[conversationID][participantID]
	return h, ok
}

// OnlineParticipants returns a sorted snapshot of participants with a live handle.
func (r *MemoryRegistry) OnlineParticipants(conversationID string) []string {
	r.mu.RLock()
	members := r.convs[conversationID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Handles returns a snapshot copy of the conversation's live handles.
func (r *MemoryRegistry) Handles(conversationID string) map[string]Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.convs[conversationID]
	out := make(map[string]Handle, len(members))
	for id, h := range members {
		out[id] = h
	}
	return out
}
