// Package notify fans cache version changes out to every connected client,
// within one process or across server instances.
package notify

import (
	"context"
	"sync"
)

type Handler func(version int64)

// Bus delivers published versions to every subscriber, including the
// publisher's own subscribers.
type Bus interface {
	Publish(ctx context.Context, version int64) error
	Subscribe(h Handler) (unsubscribe func(), err error)
	Close() error
}

// LocalBus is the single-process Bus.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]Handler)}
}

func (b *LocalBus) Publish(_ context.Context, version int64) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(version)
	}
	return nil
}

func (b *LocalBus) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[int]Handler)
	return nil
}
