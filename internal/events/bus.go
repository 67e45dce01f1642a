// Package events is the typed publish/subscribe contract between the cart
// engine and its consumers (presentation, admin, payment, broker fan-out).
package events

import (
	"sync"

	"cart-service/internal/models"

	"go.uber.org/zap"
)

// Handler receives a published event. Handlers must not block for long;
// they run synchronously on the publisher's goroutine.
type Handler func(models.Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events by name. The zero value is not usable; call NewBus.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	byName map[models.EventName][]subscription
	all    []subscription
	logger *zap.Logger
}

// NewBus creates an empty bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		byName: make(map[models.EventName][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for one event name. The returned function
// removes the registration; calling it more than once is harmless.
func (b *Bus) Subscribe(name models.EventName, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.byName[name] = append(b.byName[name], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byName[name] = remove(b.byName[name], id)
	}
}

// SubscribeAll registers a handler for every event
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// Publish delivers the event to name subscribers first, then to catch-all
// subscribers, in registration order. A panicking handler is logged and
// does not stop delivery to the rest.
func (b *Bus) Publish(evt models.Event) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.byName[evt.Name])+len(b.all))
	targets = append(targets, b.byName[evt.Name]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s.handler, evt)
	}
}

func (b *Bus) deliver(h Handler, evt models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event", string(evt.Name)),
				zap.Any("panic", r))
		}
	}()
	h(evt)
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
