// Package presence tracks live websocket sessions per room. Presence is
// room-scoped: the canonical state maps (room, user) to the set of sessions
// the user currently holds in that room, and the global online view is
// derived from it. Durable membership lives in the chat package; presence
// only decides which transitions are worth announcing.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ni-heemang/chat-flow/internal/auth"
	"github.com/ni-heemang/chat-flow/internal/bus"
	"github.com/ni-heemang/chat-flow/internal/chat"
)

// Presence event types broadcast on the room members topic.
const (
	EventUserOnline  = "USER_ONLINE"
	EventUserOffline = "USER_OFFLINE"
)

// ErrUnknownSession is returned for operations on sessions that never
// connected or have already disconnected.
var ErrUnknownSession = errors.New("unknown session")

// Event is a presence transition announced to a room's members topic.
// Only membership-confirmed users produce events.
type Event struct {
	Type        string    `json:"type"`
	RoomID      int64     `json:"roomId"`
	Username    string    `json:"username"`
	Nickname    string    `json:"nickname,omitempty"`
	OnlineCount int       `json:"onlineCount"`
	Timestamp   time.Time `json:"timestamp"`
}

type session struct {
	username string
	nickname string
	rooms    map[int64]struct{}
}

// roomEntry tracks one user's sessions inside one room. Entries with zero
// sessions are removed immediately rather than kept around.
type roomEntry struct {
	sessions  map[string]struct{}
	confirmed bool
}

// Registry is the in-memory session and room presence tracker.
type Registry struct {
	logger  *slog.Logger
	bus     *bus.Bus
	tokens  *auth.Service
	members chat.MemberRepository

	mu       sync.Mutex
	sessions map[string]*session
	rooms    map[int64]map[string]*roomEntry // roomID -> username -> entry
}

// NewRegistry creates an empty presence registry.
func NewRegistry(logger *slog.Logger, b *bus.Bus, tokens *auth.Service, members chat.MemberRepository) *Registry {
	return &Registry{
		logger:   logger,
		bus:      b,
		tokens:   tokens,
		members:  members,
		sessions: make(map[string]*session),
		rooms:    make(map[int64]map[string]*roomEntry),
	}
}

// Connect validates the token and binds the session to the authenticated
// identity. A session that fails validation is never admitted.
func (r *Registry) Connect(sessionID, token string) (*auth.Claims, error) {
	claims, err := r.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = &session{
		username: claims.Username(),
		nickname: claims.Nickname,
		rooms:    make(map[int64]struct{}),
	}
	return claims, nil
}

// JoinRoomSession associates the session with a room. Joining is a transport
// association, not a membership change: the first session a user opens in a
// room triggers the online transition only when durable membership is
// confirmed. Repeat joins of the same session are idempotent.
func (r *Registry) JoinRoomSession(ctx context.Context, roomID int64, sessionID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownSession
	}

	entries, ok := r.rooms[roomID]
	if !ok {
		entries = make(map[string]*roomEntry)
		r.rooms[roomID] = entries
	}
	entry, ok := entries[sess.username]
	if !ok {
		entry = &roomEntry{sessions: make(map[string]struct{})}
		entries[sess.username] = entry
	}

	first := len(entry.sessions) == 0
	entry.sessions[sessionID] = struct{}{}
	sess.rooms[roomID] = struct{}{}
	username, nickname := sess.username, sess.nickname
	r.mu.Unlock()

	if !first {
		return nil
	}
	// Membership confirmation is a durable round-trip; it runs without the
	// lock so one slow lookup cannot stall unrelated rooms.
	if !r.confirmMembership(ctx, roomID, username) {
		return nil
	}

	// The session may have left while the lookup was in flight; re-check
	// before flipping the entry online.
	r.mu.Lock()
	entry, ok = r.entry(roomID, username)
	if !ok || len(entry.sessions) == 0 || entry.confirmed {
		r.mu.Unlock()
		return nil
	}
	entry.confirmed = true
	count := r.onlineCountLocked(roomID)
	r.mu.Unlock()

	r.announce(ctx, transition{
		roomID:      roomID,
		username:    username,
		nickname:    nickname,
		online:      true,
		onlineCount: count,
	})
	return nil
}

// LeaveRoomSession drops the session's association with a room. The user's
// last session in the room flips them offline exactly once.
func (r *Registry) LeaveRoomSession(ctx context.Context, roomID int64, sessionID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownSession
	}
	pending := r.leaveLocked(roomID, sessionID, sess)
	r.mu.Unlock()

	if pending != nil {
		r.announce(ctx, *pending)
	}
	return nil
}

// Disconnect removes the session from every room it joined and forgets it.
// Unknown session IDs are a no-op.
func (r *Registry) Disconnect(ctx context.Context, sessionID string) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	var pending []transition
	for roomID := range sess.rooms {
		if t := r.leaveLocked(roomID, sessionID, sess); t != nil {
			pending = append(pending, *t)
		}
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	for _, t := range pending {
		r.announce(ctx, t)
	}
}

// Session returns the identity bound to a session, if any.
func (r *Registry) Session(sessionID string) (username, nickname string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, found := r.sessions[sessionID]
	if !found {
		return "", "", false
	}
	return sess.username, sess.nickname, true
}

// OnlineUsers returns the confirmed-online usernames in a room.
func (r *Registry) OnlineUsers(roomID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var users []string
	for username, entry := range r.rooms[roomID] {
		if entry.confirmed {
			users = append(users, username)
		}
	}
	return users
}

// OnlineCount returns the number of confirmed-online users in a room.
func (r *Registry) OnlineCount(roomID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineCountLocked(roomID)
}

// ParticipantCount returns the number of users with at least one live
// session in the room, confirmed or not.
func (r *Registry) ParticipantCount(roomID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// IsOnlineAnywhere reports whether the user is confirmed online in any room.
// This is the derived global view.
func (r *Registry) IsOnlineAnywhere(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entries := range r.rooms {
		if entry, ok := entries[username]; ok && entry.confirmed {
			return true
		}
	}
	return false
}

// leaveLocked removes the session from the room under r.mu. When the user's
// last session leaves a confirmed entry it returns the offline transition for
// the caller to announce after releasing the lock.
func (r *Registry) leaveLocked(roomID int64, sessionID string, sess *session) *transition {
	entries, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	entry, ok := entries[sess.username]
	if !ok {
		return nil
	}
	if _, held := entry.sessions[sessionID]; !held {
		return nil
	}
	delete(entry.sessions, sessionID)
	delete(sess.rooms, roomID)

	if len(entry.sessions) > 0 {
		return nil
	}
	// Last session for the pair: drop the entry so no empty entries linger.
	delete(entries, sess.username)
	if len(entries) == 0 {
		delete(r.rooms, roomID)
	}
	if !entry.confirmed {
		return nil
	}
	return &transition{
		roomID:      roomID,
		username:    sess.username,
		nickname:    sess.nickname,
		online:      false,
		onlineCount: r.onlineCountLocked(roomID),
	}
}

// confirmMembership asks the durable store whether the user belongs to the
// room. Lookup failures are logged and treated as "not a member" so a flaky
// store can suppress a status event but never fabricate one.
func (r *Registry) confirmMembership(ctx context.Context, roomID int64, username string) bool {
	ok, err := r.members.IsMember(ctx, roomID, username)
	if err != nil {
		r.logger.Error("membership lookup failed",
			"room_id", roomID, "username", username, "error", err)
		return false
	}
	return ok
}

// transition is an online/offline flip computed under the lock and announced
// after it is released.
type transition struct {
	roomID      int64
	username    string
	nickname    string
	online      bool
	onlineCount int
}

// announce persists the online flag and publishes the presence event. Both
// are slow paths (a database write, synchronous fan-out into websocket
// writes) and must never run while r.mu is held.
func (r *Registry) announce(ctx context.Context, t transition) {
	if err := r.members.SetOnline(ctx, t.roomID, t.username, t.online); err != nil {
		r.logger.Error("failed to persist online status",
			"room_id", t.roomID, "username", t.username, "error", err)
	}

	eventType := EventUserOnline
	if !t.online {
		eventType = EventUserOffline
	}
	r.bus.Publish(bus.RoomMembersTopic(t.roomID), Event{
		Type:        eventType,
		RoomID:      t.roomID,
		Username:    t.username,
		Nickname:    t.nickname,
		OnlineCount: t.onlineCount,
		Timestamp:   time.Now(),
	})
}

// entry returns the live roomEntry for (room, user) if one exists.
func (r *Registry) entry(roomID int64, username string) (*roomEntry, bool) {
	entries, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	entry, ok := entries[username]
	return entry, ok
}

func (r *Registry) onlineCountLocked(roomID int64) int {
	count := 0
	for _, entry := range r.rooms[roomID] {
		if entry.confirmed {
			count++
		}
	}
	return count
}
