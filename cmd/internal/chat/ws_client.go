package chat

import (
	"context"
	"errors"
	"sync"

	v1 "jobchat/shared/contracts/chat/v1"
)

var (
	errClientClosed = errors.New("client closed")
	errBackpressure = errors.New("send queue full")
)

// wsClient is the Handle of one websocket session.
//
// Notes:
//   - send is never closed by the server so concurrent broadcasters cannot panic.
//   - done signals the session goroutines to stop; Close is idempotent.
type wsClient struct {
	id     string
	userID string
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	reason string
}

func newWSClient(userID string, queueSize int) *wsClient {
	if queueSize <= 0 {
		queueSize = wsDefaultSendQueueSize
	}
	return &wsClient{
		id:     NewHandleID(),
		userID: userID,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

var _ Handle = (*wsClient)(nil)

func (c *wsClient) ID() string { return c.id }

// Send encodes ev and enqueues it without blocking.
func (c *wsClient) Send(ctx context.Context, ev v1.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	b, err := v1.Encode(ev)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errClientClosed
	case c.send <- b:
		return nil
	default:
		return errBackpressure
	}
}

// Close signals the session to stop. The first reason wins.
func (c *wsClient) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *wsClient) Done() <-chan struct{} { return c.done }

func (c *wsClient) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}
