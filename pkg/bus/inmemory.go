package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemory is a Listener backed by a buffered channel, grounded in the
// teacher's pkg/events/events.go Broker: a single publish channel plus a
// pending-delivery map standing in for the Broker's per-subscriber fan-out,
// since a bus listener only ever has one consumer.
type InMemory struct {
	mu      sync.Mutex
	ch      chan *Message
	pending map[string]*Message
	closed  bool
}

// NewInMemory builds an InMemory listener with the given channel buffer.
func NewInMemory(buffer int) *InMemory {
	return &InMemory{
		ch:      make(chan *Message, buffer),
		pending: make(map[string]*Message),
	}
}

// Publish enqueues body as a new message, assigning it a fresh ID.
func (b *InMemory) Publish(body []byte) (string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", fmt.Errorf("bus: listener closed")
	}
	b.mu.Unlock()

	msg := &Message{
		ID:         uuid.NewString(),
		Body:       append([]byte(nil), body...),
		ReceivedAt: time.Now(),
	}
	select {
	case b.ch <- msg:
		return msg.ID, nil
	default:
		return "", fmt.Errorf("bus: channel full")
	}
}

func (b *InMemory) Next(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-b.ch:
		if !ok {
			return nil, fmt.Errorf("bus: listener closed")
		}
		b.mu.Lock()
		b.pending[msg.ID] = msg
		b.mu.Unlock()
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
		return nil, nil
	}
}

func (b *InMemory) Acknowledge(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
	return nil
}

func (b *InMemory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.ch)
	return nil
}

var _ Listener = (*InMemory)(nil)
