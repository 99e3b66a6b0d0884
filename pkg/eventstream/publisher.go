package eventstream

import "context"

// Publisher emits lifecycle events to a stream.
type Publisher interface {
	// Publish sends the events. Implementations must tolerate being called
	// concurrently.
	Publish(ctx context.Context, events ...*Event) error

	// Close flushes and releases the underlying transport.
	Close() error
}

// Nop is a Publisher that discards everything. Used when no broker is
// configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...*Event) error { return nil }
func (Nop) Close() error                             { return nil }

var _ Publisher = Nop{}
