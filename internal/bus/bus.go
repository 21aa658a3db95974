// Package bus delivers every data and control message to the orchestrator's
// listeners, in the order they registered.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/auditcore/internal/message"
)

// Listener receives published messages.
type Listener interface {
	Receive(ctx context.Context, msg message.Message) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, msg message.Message) error

func (f ListenerFunc) Receive(ctx context.Context, msg message.Message) error { return f(ctx, msg) }

// Bus is a synchronous, ordered fan-out.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

// New creates a bus with no listeners.
func New() *Bus {
	return &Bus{}
}

// Register appends l. Registering the same listener twice delivers twice.
func (b *Bus) Register(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish hands msg to every listener in registration order and returns
// once all of them have. A failing listener does not stop the others; the
// failures are joined.
func (b *Bus) Publish(ctx context.Context, msg message.Message) error {
	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()

	var errs []error
	for i, l := range listeners {
		if err := l.Receive(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("listener %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
