package events

import (
	"context"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Subscription is the disposal handle returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler) Subscription
	SubscribeAll(handler EventHandler) Subscription
}

type listener struct {
	id      uint64
	handler EventHandler
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[EventType][]listener
	wildcard  []listener
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{
		listeners: make(map[EventType][]listener),
	}
}

// Publish synchronously invokes handlers for the given event. Handler errors
// do not stop delivery; the first one is returned.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := make([]listener, 0, len(d.listeners[event.Type])+len(d.wildcard))
	handlers = append(handlers, d.listeners[event.Type]...)
	handlers = append(handlers, d.wildcard...)
	d.mu.RUnlock()

	var firstErr error
	for _, l := range handlers {
		if err := l.handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.listeners[eventType] = append(d.listeners[eventType], listener{id: id, handler: handler})
	return &subscription{release: func() { d.remove(eventType, id, false) }}
}

// SubscribeAll registers a handler for every event type.
func (d *inMemoryDispatcher) SubscribeAll(handler EventHandler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.wildcard = append(d.wildcard, listener{id: id, handler: handler})
	return &subscription{release: func() { d.remove("", id, true) }}
}

func (d *inMemoryDispatcher) remove(eventType EventType, id uint64, wildcard bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if wildcard {
		d.wildcard = without(d.wildcard, id)
		return
	}
	d.listeners[eventType] = without(d.listeners[eventType], id)
	if len(d.listeners[eventType]) == 0 {
		delete(d.listeners, eventType)
	}
}

func without(list []listener, id uint64) []listener {
	out := make([]listener, 0, len(list))
	for _, l := range list {
		if l.id != id {
			out = append(out, l)
		}
	}
	return out
}

type subscription struct {
	once    sync.Once
	release func()
}

// Unsubscribe releases the handler. Calling it more than once is a no-op.
func (s *subscription) Unsubscribe() {
	s.once.Do(s.release)
}

// ListenerCount reports how many handlers are registered. It exists for
// leak checks in tests and health output.
func ListenerCount(d Dispatcher) int {
	mem, ok := d.(*inMemoryDispatcher)
	if !ok {
		return -1
	}
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	n := len(mem.wildcard)
	for _, l := range mem.listeners {
		n += len(l)
	}
	return n
}
