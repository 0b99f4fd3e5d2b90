package comms

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// InMemoryBus is a thread-safe in-process bus.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // projectID ("" = all) -> handlers
	nextID   int
}

type handlerEntry struct {
	id      int
	handler Handler
}

// NewInMemoryBus creates an InMemoryBus with no subscribers.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]handlerEntry)}
}

// Publish invokes every matching handler. Handlers run outside the lock so
// they may subscribe or unsubscribe.
func (b *InMemoryBus) Publish(ctx context.Context, msg *Message) error {
	b.mu.RLock()
	var targets []Handler
	for _, e := range b.handlers[msg.ProjectID] {
		targets = append(targets, e.handler)
	}
	if msg.ProjectID != "" {
		for _, e := range b.handlers[""] {
			targets = append(targets, e.handler)
		}
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish: %d handler error(s): %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Subscribe registers a handler for projectID ("" for all projects).
func (b *InMemoryBus) Subscribe(projectID string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[projectID] = append(b.handlers[projectID], handlerEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[projectID]
		filtered := entries[:0]
		for _, e := range entries {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(b.handlers, projectID)
		} else {
			b.handlers[projectID] = filtered
		}
	}
}

// Close drops every subscription.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.handlers)
	return nil
}
