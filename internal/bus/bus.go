// Package bus provides a minimal in-process event bus used to decouple the
// analysis pipeline from the components that react to its output (the
// notification dispatcher and the stats cache). Publishers and subscribers
// only share topic names, never each other.
package bus

import (
	"log/slog"
	"sync"
)

// Handler consumes an event published on a topic. Handlers must not block for
// long; publishing is synchronous per subscriber.
type Handler func(event any)

// TopicHandler consumes every event regardless of topic. Used by bridges
// that fan events out by topic name, like the websocket broadcaster.
type TopicHandler func(topic string, event any)

// Bus is a topic-based publish/subscribe event bus.
// Thread-safe via RWMutex.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	catchAll []TopicHandler
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a topic. There is no unsubscribe:
// subscriptions live for the process lifetime, matching the fixed component
// wiring done at startup.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[topic] = append(b.handlers[topic], h)
}

// SubscribeAll registers a handler for every topic. Room topics are created
// dynamically, so topic-by-topic subscription cannot cover them.
func (b *Bus) SubscribeAll(h TopicHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.catchAll = append(b.catchAll, h)
}

// Publish delivers an event to every handler subscribed to the topic.
// Delivery is best-effort: a panicking handler is recovered and logged so one
// subscriber cannot take down the publisher.
func (b *Bus) Publish(topic string, event any) {
	b.mu.RLock()
	handlers := b.handlers[topic]
	catchAll := b.catchAll
	b.mu.RUnlock()

	for _, h := range handlers {
		invoke(topic, h, event)
	}
	for _, h := range catchAll {
		invoke(topic, func(e any) { h(topic, e) }, event)
	}
}

func invoke(topic string, h Handler, event any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "topic", topic, "panic", r)
		}
	}()
	h(event)
}
