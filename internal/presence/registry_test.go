package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ni-heemang/chat-flow/internal/auth"
	"github.com/ni-heemang/chat-flow/internal/bus"
	"github.com/ni-heemang/chat-flow/internal/chat"
)

const testSecret = "presence-test-secret"

type fixture struct {
	registry *Registry
	members  *chat.InMemoryMemberRepository
	tokens   *auth.Service
	events   *[]Event
}

func newFixture(t *testing.T, roomID int64) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New()
	members := chat.NewInMemoryMemberRepository()
	tokens := auth.NewService(testSecret)

	events := &[]Event{}
	b.Subscribe(bus.RoomMembersTopic(roomID), func(event any) {
		if e, ok := event.(Event); ok {
			*events = append(*events, e)
		}
	})

	return &fixture{
		registry: NewRegistry(logger, b, tokens, members),
		members:  members,
		tokens:   tokens,
		events:   events,
	}
}

func (f *fixture) connect(t *testing.T, sessionID, username string) {
	t.Helper()
	token, err := f.tokens.GenerateAccessToken(username, "")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	if _, err := f.registry.Connect(sessionID, token); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

func (f *fixture) addMember(t *testing.T, roomID int64, username string) {
	t.Helper()
	if _, err := f.members.Add(context.Background(), roomID, username, ""); err != nil {
		t.Fatalf("Add member failed: %v", err)
	}
}

func TestRegistryConnect(t *testing.T) {
	t.Run("rejects_invalid_token", func(t *testing.T) {
		f := newFixture(t, 1)
		if _, err := f.registry.Connect("s1", "not-a-token"); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
		if _, _, ok := f.registry.Session("s1"); ok {
			t.Error("rejected session should not be admitted")
		}
	})

	t.Run("binds_identity", func(t *testing.T) {
		f := newFixture(t, 1)
		token, _ := f.tokens.GenerateAccessToken("alice", "Alice")
		claims, err := f.registry.Connect("s1", token)
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if claims.Username() != "alice" {
			t.Errorf("expected alice, got %s", claims.Username())
		}
		username, nickname, ok := f.registry.Session("s1")
		if !ok || username != "alice" || nickname != "Alice" {
			t.Errorf("unexpected session binding: %s/%s ok=%v", username, nickname, ok)
		}
	})
}

func TestRegistryOnlineTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("member_goes_online_once", func(t *testing.T) {
		f := newFixture(t, 1)
		f.addMember(t, 1, "alice")
		f.connect(t, "s1", "alice")

		if err := f.registry.JoinRoomSession(ctx, 1, "s1"); err != nil {
			t.Fatalf("JoinRoomSession failed: %v", err)
		}
		// Repeat join of the same session is idempotent.
		if err := f.registry.JoinRoomSession(ctx, 1, "s1"); err != nil {
			t.Fatalf("repeat JoinRoomSession failed: %v", err)
		}

		if len(*f.events) != 1 || (*f.events)[0].Type != EventUserOnline {
			t.Fatalf("expected exactly one USER_ONLINE, got %v", *f.events)
		}
		if (*f.events)[0].OnlineCount != 1 {
			t.Errorf("expected online count 1, got %d", (*f.events)[0].OnlineCount)
		}
		online, _ := f.members.CountOnline(ctx, 1)
		if online != 1 {
			t.Errorf("expected persisted online count 1, got %d", online)
		}
	})

	t.Run("second_session_no_duplicate_events", func(t *testing.T) {
		f := newFixture(t, 1)
		f.addMember(t, 1, "alice")
		f.connect(t, "s1", "alice")
		f.connect(t, "s2", "alice")

		_ = f.registry.JoinRoomSession(ctx, 1, "s1")
		_ = f.registry.JoinRoomSession(ctx, 1, "s2")
		if len(*f.events) != 1 {
			t.Fatalf("second session should not re-announce, got %d events", len(*f.events))
		}

		// Closing one of two sessions keeps the user online.
		_ = f.registry.LeaveRoomSession(ctx, 1, "s1")
		if len(*f.events) != 1 {
			t.Fatalf("user with a live session went offline, events: %v", *f.events)
		}

		// Closing the last session announces offline exactly once.
		_ = f.registry.LeaveRoomSession(ctx, 1, "s2")
		if len(*f.events) != 2 || (*f.events)[1].Type != EventUserOffline {
			t.Fatalf("expected one USER_OFFLINE, got %v", *f.events)
		}
		if f.registry.ParticipantCount(1) != 0 {
			t.Error("room should have no presence entries left")
		}
	})

	t.Run("non_member_produces_no_events", func(t *testing.T) {
		f := newFixture(t, 1)
		f.connect(t, "s1", "mallory")

		if err := f.registry.JoinRoomSession(ctx, 1, "s1"); err != nil {
			t.Fatalf("JoinRoomSession failed: %v", err)
		}
		if len(*f.events) != 0 {
			t.Errorf("non-member should not announce, got %v", *f.events)
		}
		// The session is still tracked as a participant.
		if f.registry.ParticipantCount(1) != 1 {
			t.Error("non-member session should still count as a participant")
		}
		if f.registry.OnlineCount(1) != 0 {
			t.Error("non-member must not count as online")
		}

		_ = f.registry.LeaveRoomSession(ctx, 1, "s1")
		if len(*f.events) != 0 {
			t.Errorf("non-member leave should not announce, got %v", *f.events)
		}
	})

	t.Run("membership_lookup_error_fails_closed", func(t *testing.T) {
		f := newFixture(t, 1)
		f.addMember(t, 1, "alice")
		f.connect(t, "s1", "alice")

		broken := &erroringMembers{MemberRepository: f.members}
		f.registry.members = broken

		if err := f.registry.JoinRoomSession(ctx, 1, "s1"); err != nil {
			t.Fatalf("JoinRoomSession failed: %v", err)
		}
		if len(*f.events) != 0 {
			t.Errorf("lookup error must suppress the event, got %v", *f.events)
		}
	})
}

func TestRegistryDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("cascades_over_rooms", func(t *testing.T) {
		f := newFixture(t, 1)
		extraEvents := &[]Event{}
		f.registry.bus.Subscribe(bus.RoomMembersTopic(2), func(event any) {
			if e, ok := event.(Event); ok {
				*extraEvents = append(*extraEvents, e)
			}
		})

		f.addMember(t, 1, "alice")
		f.addMember(t, 2, "alice")
		f.connect(t, "s1", "alice")
		_ = f.registry.JoinRoomSession(ctx, 1, "s1")
		_ = f.registry.JoinRoomSession(ctx, 2, "s1")

		f.registry.Disconnect(ctx, "s1")

		if len(*f.events) != 2 || (*f.events)[1].Type != EventUserOffline {
			t.Errorf("room 1: expected online then offline, got %v", *f.events)
		}
		if len(*extraEvents) != 2 || (*extraEvents)[1].Type != EventUserOffline {
			t.Errorf("room 2: expected online then offline, got %v", *extraEvents)
		}
		if _, _, ok := f.registry.Session("s1"); ok {
			t.Error("disconnected session should be forgotten")
		}
	})

	t.Run("unknown_session_is_noop", func(t *testing.T) {
		f := newFixture(t, 1)
		f.registry.Disconnect(ctx, "ghost")
		if err := f.registry.LeaveRoomSession(ctx, 1, "ghost"); !errors.Is(err, ErrUnknownSession) {
			t.Errorf("expected ErrUnknownSession, got %v", err)
		}
	})
}

func TestRegistryDerivedGlobalView(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, 1)
	f.addMember(t, 1, "alice")
	f.connect(t, "s1", "alice")

	if f.registry.IsOnlineAnywhere("alice") {
		t.Error("alice should not be online before joining")
	}
	_ = f.registry.JoinRoomSession(ctx, 1, "s1")
	if !f.registry.IsOnlineAnywhere("alice") {
		t.Error("alice should be online after a confirmed join")
	}
	users := f.registry.OnlineUsers(1)
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("expected [alice], got %v", users)
	}

	f.registry.Disconnect(ctx, "s1")
	if f.registry.IsOnlineAnywhere("alice") {
		t.Error("alice should be offline after disconnect")
	}
}

func TestRegistrySlowSubscriberDoesNotStallOtherRooms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	f.registry.bus.Subscribe(bus.RoomMembersTopic(1), func(any) {
		entered <- struct{}{}
		<-release
	})

	f.addMember(t, 1, "alice")
	f.addMember(t, 2, "bob")
	f.connect(t, "s1", "alice")
	f.connect(t, "s2", "bob")

	// Park room 1's online announcement inside the stuck subscriber.
	stalled := make(chan struct{})
	go func() {
		_ = f.registry.JoinRoomSession(ctx, 1, "s1")
		close(stalled)
	}()
	<-entered

	// A join for an unrelated room must still complete: announcements run
	// outside the registry lock.
	done := make(chan error, 1)
	go func() {
		done <- f.registry.JoinRoomSession(ctx, 2, "s2")
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("JoinRoomSession failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("room 2 join blocked behind a stalled room 1 event delivery")
	}
	if f.registry.OnlineCount(2) != 1 {
		t.Errorf("expected bob online in room 2, got %d", f.registry.OnlineCount(2))
	}

	close(release)
	<-stalled
}

// erroringMembers wraps a MemberRepository and fails every membership lookup.
type erroringMembers struct {
	chat.MemberRepository
}

func (e *erroringMembers) IsMember(context.Context, int64, string) (bool, error) {
	return false, errors.New("store unavailable")
}
