// Package eventbus provides the named-topic pub/sub bus through which the
// connection engine publishes lifecycle and tag events to collaborators.
package eventbus

import "sync"

// Handler receives a published event payload.
type Handler func(data any)

type subscriber struct {
	id   int
	once bool
	fn   Handler
}

// Bus dispatches events synchronously, in subscription order. A handler may
// unsubscribe (itself or others) during dispatch; the handlers already
// snapshotted for the event still run.
type Bus struct {
	mu   sync.Mutex
	seq  int
	subs map[string][]subscriber
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers a handler for topic and returns its cancel function.
func (b *Bus) Subscribe(topic string, fn Handler) (cancel func()) {
	return b.add(topic, fn, false)
}

// Once registers a handler that is removed after its first delivery.
func (b *Bus) Once(topic string, fn Handler) (cancel func()) {
	return b.add(topic, fn, true)
}

func (b *Bus) add(topic string, fn Handler, once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := b.seq
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, once: once, fn: fn})
	return func() { b.remove(topic, id) }
}

func (b *Bus) remove(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers data to every handler subscribed to topic, in
// subscription order, on the caller's goroutine.
func (b *Bus) Publish(topic string, data any) {
	b.mu.Lock()
	snapshot := make([]subscriber, len(b.subs[topic]))
	copy(snapshot, b.subs[topic])
	b.mu.Unlock()

	for _, s := range snapshot {
		if s.once {
			b.remove(topic, s.id)
		}
		s.fn(data)
	}
}

// Subscribers reports how many handlers are registered for topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
