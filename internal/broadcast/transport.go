package broadcast

import (
	"context"
	"sync"

	commonerrors "lead-intelligence/internal/common/errors"
)

// ChannelTransport delivers payloads over an in-process channel. It backs
// server-sent-event style consumers and is the transport used by
// in-process subscribers such as the stats dashboard feed.
type ChannelTransport struct {
	mu     sync.Mutex
	ch     chan []byte
	id     string
	closed bool
}

// NewChannelTransport creates a transport with the given receive buffer.
func NewChannelTransport(subscriptionID string, buffer int) *ChannelTransport {
	return &ChannelTransport{
		ch: make(chan []byte, buffer),
		id: subscriptionID,
	}
}

// Receive exposes the delivery channel for the consumer side.
func (t *ChannelTransport) Receive() <-chan []byte {
	return t.ch
}

// Send delivers the payload or fails on a full buffer, expired context,
// or closed transport. A full buffer is a send failure, not a stall: the
// pipeline never waits on a slow consumer.
func (t *ChannelTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return commonerrors.NewConnectionClosedError(t.id)
	}

	select {
	case t.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the transport dead and releases the consumer.
func (t *ChannelTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		t.closed = true
		close(t.ch)
	}
	return nil
}
