package realtime

import (
	"sync"

	v1 "chirp/contracts/realtime/v1"
)

// Client represents one connected websocket subscription.
//
// Send is never closed by the server so concurrent publishers cannot panic.
// Close is idempotent; the first reason wins.
type Client struct {
	ConnID string
	UserID string
	// SessionID is the identity-provider session the credential belongs to.
	SessionID string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID, userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID:    connID,
		UserID:    userID,
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() { c.CloseWithReason("") }

// CloseWithReason stops the client and records why. The gateway uses the
// reason as the websocket close reason.
func (c *Client) CloseWithReason(reason string) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

// Reason returns the close reason. Valid only after Done is closed.
func (c *Client) Reason() string {
	select {
	case <-c.Done():
		return c.reason
	default:
		return ""
	}
}

// TrySend enqueues env without blocking.
func (c *Client) TrySend(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
