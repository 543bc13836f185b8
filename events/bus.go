package events

import "sync"

// Handler receives the emitted payload. Args are delivered as-is; a
// handler runs at least once per matching Emit.
type Handler func(args ...any)

type subscription struct {
	id   int
	once bool
	fn   Handler
}

// Bus is a small in-process publish/subscribe channel. Handlers run
// synchronously on the emitting goroutine, outside the bus lock.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[IOEvent][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[IOEvent][]subscription)}
}

// Subscribe registers a handler and returns its unsubscribe func.
func (b *Bus) Subscribe(event IOEvent, fn Handler) func() {
	return b.add(event, fn, false)
}

// Once registers a handler that is removed after its first delivery.
func (b *Bus) Once(event IOEvent, fn Handler) func() {
	return b.add(event, fn, true)
}

func (b *Bus) add(event IOEvent, fn Handler, once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, once: once, fn: fn})
	return func() { b.remove(event, id) }
}

func (b *Bus) remove(event IOEvent, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			b.subs[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers args to every current subscriber of event.
func (b *Bus) Emit(event IOEvent, args ...any) {
	b.mu.Lock()
	subs := b.subs[event]
	handlers := make([]Handler, 0, len(subs))
	remaining := subs[:0:0]
	for _, s := range subs {
		handlers = append(handlers, s.fn)
		if !s.once {
			remaining = append(remaining, s)
		}
	}
	b.subs[event] = remaining
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(args...)
	}
}
