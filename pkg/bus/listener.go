// Package bus defines the message-bus ingress contract (spec.md §4.1): a
// Listener hands the event loop one raw notification at a time and only
// commits delivery once the loop signals the notification was durably
// admitted (at-least-once, ack-after-persist).
package bus

import (
	"context"
	"time"
)

// Message is one raw, unparsed notification read off the bus.
type Message struct {
	// ID identifies the message within its bus implementation (e.g. a
	// Redis Streams entry ID) so Acknowledge can commit it later.
	ID string

	// Body is the raw payload; the event loop decodes it into an Event.
	Body []byte

	// ReceivedAt is when the listener read the message off the bus.
	ReceivedAt time.Time
}

// Listener is the narrow interface the event loop needs from a bus client.
type Listener interface {
	// Next blocks until a message is available, ctx is cancelled, or no
	// message arrives before the implementation's own poll deadline (in
	// which case it returns (nil, nil) so the loop can run its other
	// housekeeping steps).
	Next(ctx context.Context) (*Message, error)

	// Acknowledge commits a previously returned message as durably
	// admitted into the event queue. Until this is called the bus may
	// redeliver the message to another consumer.
	Acknowledge(ctx context.Context, id string) error

	// Close releases the listener's underlying connection.
	Close() error
}
