// Package broadcast manages websocket connections and fans events out to
// topic subscribers. Topics use the same names as the event bus, so the
// bridge between the two is a straight pass-through.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ni-heemang/chat-flow/internal/bus"
)

// Session wraps one websocket connection. Writes are serialized through a
// mutex because gorilla/websocket forbids concurrent writers.
type Session struct {
	ID string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSession wraps an upgraded connection.
func NewSession(id string, conn *websocket.Conn) *Session {
	return &Session{ID: id, conn: conn}
}

// Send marshals the payload and writes it as a text frame.
func (s *Session) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw writes pre-marshaled bytes as a text frame.
func (s *Session) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Broadcaster tracks which sessions subscribed to which topics and delivers
// published events to them.
type Broadcaster struct {
	logger *slog.Logger

	mu     sync.RWMutex
	topics map[string]map[*Session]bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger,
		topics: make(map[string]map[*Session]bool),
	}
}

// AttachBus forwards every bus event to the matching websocket topic.
func (b *Broadcaster) AttachBus(eventBus *bus.Bus) {
	eventBus.SubscribeAll(func(topic string, event any) {
		b.Broadcast(topic, event)
	})
}

// Subscribe registers a session for a topic.
func (b *Broadcaster) Subscribe(topic string, s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Session]bool)
	}
	b.topics[topic][s] = true
}

// Unsubscribe removes a session from one topic.
func (b *Broadcaster) Unsubscribe(topic string, s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(topic, s)
}

// UnsubscribeAll removes a session from every topic. Called on disconnect.
func (b *Broadcaster) UnsubscribeAll(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic := range b.topics {
		b.removeLocked(topic, s)
	}
}

func (b *Broadcaster) removeLocked(topic string, s *Session) {
	conns, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(conns, s)
	if len(conns) == 0 {
		delete(b.topics, topic)
	}
}

// Broadcast sends an event to all subscribers of a topic. Delivery is
// best-effort: a failed write is logged and the session stays registered
// until its reader tears it down.
func (b *Broadcaster) Broadcast(topic string, event any) {
	b.mu.RLock()
	sessions := make([]*Session, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	if len(sessions) == 0 {
		return
	}

	// Serialize once per broadcast.
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal broadcast event", "topic", topic, "error", err)
		return
	}

	for _, s := range sessions {
		if err := s.SendRaw(data); err != nil {
			b.logger.Warn("failed to send to websocket client",
				"topic", topic,
				"session_id", s.ID,
				"error", err,
			)
		}
	}
}

// ConnectionCount returns the number of sessions subscribed to a topic.
func (b *Broadcaster) ConnectionCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
