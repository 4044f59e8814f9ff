package broadcast

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ni-heemang/chat-flow/internal/bus"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsPair upgrades one server-side connection and returns both ends.
func wsPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case conn := <-serverConns:
		t.Cleanup(func() { conn.Close() })
		return conn, clientConn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server connection")
		return nil, nil
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return payload
}

func TestBroadcasterDeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster(newTestLogger())

	serverConn, clientConn := wsPair(t)
	session := NewSession("s1", serverConn)
	b.Subscribe("room/1", session)

	b.Broadcast("room/1", map[string]string{"content": "hello"})

	payload := readJSON(t, clientConn)
	if payload["content"] != "hello" {
		t.Errorf("expected hello, got %v", payload["content"])
	}
}

func TestBroadcasterTopicIsolation(t *testing.T) {
	b := NewBroadcaster(newTestLogger())

	serverConn, clientConn := wsPair(t)
	session := NewSession("s1", serverConn)
	b.Subscribe("room/1", session)

	// An event on another topic must not reach this session.
	b.Broadcast("room/2", map[string]string{"content": "other"})
	b.Broadcast("room/1", map[string]string{"content": "mine"})

	payload := readJSON(t, clientConn)
	if payload["content"] != "mine" {
		t.Errorf("received event from the wrong topic: %v", payload)
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster(newTestLogger())

	serverConn, clientConn := wsPair(t)
	session := NewSession("s1", serverConn)
	b.Subscribe("room/1", session)
	b.Subscribe("room/1/members", session)

	if got := b.ConnectionCount("room/1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	b.Unsubscribe("room/1", session)
	if got := b.ConnectionCount("room/1"); got != 0 {
		t.Errorf("expected 0 subscribers after Unsubscribe, got %d", got)
	}
	if got := b.ConnectionCount("room/1/members"); got != 1 {
		t.Errorf("other topic should be untouched, got %d", got)
	}

	b.UnsubscribeAll(session)
	if got := b.ConnectionCount("room/1/members"); got != 0 {
		t.Errorf("expected 0 subscribers after UnsubscribeAll, got %d", got)
	}

	// Broadcasting to an empty topic must not panic or write.
	b.Broadcast("room/1", map[string]string{"content": "nobody"})
	_ = clientConn
}

func TestBroadcasterBridgesBusEvents(t *testing.T) {
	b := NewBroadcaster(newTestLogger())
	eventBus := bus.New()
	b.AttachBus(eventBus)

	serverConn, clientConn := wsPair(t)
	session := NewSession("s1", serverConn)
	b.Subscribe(bus.RoomMembersTopic(7), session)

	eventBus.Publish(bus.RoomMembersTopic(7), map[string]string{"type": "USER_ONLINE"})

	payload := readJSON(t, clientConn)
	if payload["type"] != "USER_ONLINE" {
		t.Errorf("expected bridged USER_ONLINE, got %v", payload)
	}
}
