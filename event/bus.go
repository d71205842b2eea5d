package event

import (
	"sync"
	"time"
)

// Handler receives events synchronously as they are published.
type Handler func(Event)

// Bus fans events out to registered handlers and channel subscribers.
//
// Handlers run synchronously in registration order under the publisher's
// goroutine, so events for a single task are always observed in causal
// order. They are invoked without the bus lock held, so a handler may
// call back into the bus; concurrent publishers imply concurrent handler
// invocation, so handlers must be safe for concurrent use. Channel
// subscribers receive the same per-publisher ordering; a subscriber that
// falls behind loses its oldest events rather than blocking the core.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
	subs     map[int]chan Event
	nextSub  int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Handle registers a synchronous handler. Handlers must return quickly.
func (b *Bus) Handle(fn Handler) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

// Subscribe returns a buffered channel of events and a cancel function.
// The channel is closed when cancel is called.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers the event to all handlers and subscribers.
// A zero At is stamped with the current time.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	for _, ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				// Full buffer: drop the oldest event to make room.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
	b.mu.Unlock()

	// Invoke handlers on a snapshot outside the lock so a handler can
	// publish, register, or subscribe without deadlocking.
	for _, fn := range handlers {
		fn(ev)
	}
}
