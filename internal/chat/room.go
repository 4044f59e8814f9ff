// Package chat provides the room, membership, and message models together
// with their repositories. Durable membership is distinct from transport
// presence: a user can hold live sessions in a room (preview) without a
// membership record, and keeps the record while offline.
package chat

import (
	"context"
	"errors"
	"time"
)

// Common errors for chat operations.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomInactive = errors.New("room is inactive")
	ErrRoomFull     = errors.New("room is full")
	ErrNotMember    = errors.New("not a member of the room")
)

// Message types.
const (
	MessageTypeText   = "TEXT"
	MessageTypeSystem = "SYSTEM"
)

// Room is a named chat channel with bounded capacity.
type Room struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	MaxParticipants     int       `json:"maxParticipants"`
	CurrentParticipants int       `json:"currentParticipants"`
	IsPrivate           bool      `json:"isPrivate"`
	IsActive            bool      `json:"isActive"`
	CreatedBy           string    `json:"createdBy"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Member is a durable membership record. Deactivated on leave rather than
// deleted so rejoin restores history access.
type Member struct {
	RoomID   int64      `json:"roomId"`
	Username string     `json:"username"`
	Nickname string     `json:"nickname,omitempty"`
	IsActive bool       `json:"isActive"`
	IsOnline bool       `json:"isOnline"`
	JoinedAt time.Time  `json:"joinedAt"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// DisplayName returns the nickname when present, otherwise the account name.
func (m *Member) DisplayName() string {
	if m.Nickname != "" {
		return m.Nickname
	}
	return m.Username
}

// Message is a single chat message. Messages are soft-deleted; the analysis
// pipeline and rebuild paths only ever see non-deleted rows.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"roomId"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname,omitempty"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Deleted   bool      `json:"-"`
}

// DisplayName returns the sender's display identity (nickname first).
func (m *Message) DisplayName() string {
	if m.Nickname != "" {
		return m.Nickname
	}
	return m.Username
}

// RoomRepository defines room persistence operations.
type RoomRepository interface {
	Create(ctx context.Context, room *Room) (*Room, error)

	// GetByID returns ErrRoomNotFound for unknown rooms.
	GetByID(ctx context.Context, roomID int64) (*Room, error)

	List(ctx context.Context) ([]*Room, error)

	// UpdateParticipants stores the current live participant count.
	UpdateParticipants(ctx context.Context, roomID int64, count int) error
}

// MemberRepository defines durable membership operations.
type MemberRepository interface {
	// Add creates a membership or reactivates a deactivated one. Idempotent.
	Add(ctx context.Context, roomID int64, username, nickname string) (*Member, error)

	// Remove deactivates the membership. Unknown memberships are a no-op.
	Remove(ctx context.Context, roomID int64, username string) error

	// IsMember reports whether username holds an active membership in roomID.
	IsMember(ctx context.Context, roomID int64, username string) (bool, error)

	// SetOnline updates the online flag and last-seen time for one room.
	SetOnline(ctx context.Context, roomID int64, username string, online bool) error

	// SetAllOffline marks every membership offline. Used on process start.
	SetAllOffline(ctx context.Context) error

	ListByRoom(ctx context.Context, roomID int64) ([]*Member, error)

	CountActive(ctx context.Context, roomID int64) (int, error)

	CountOnline(ctx context.Context, roomID int64) (int, error)
}

// MessageRepository defines message persistence. This is the durable message
// history the stat aggregator is rebuilt from.
type MessageRepository interface {
	Append(ctx context.Context, msg *Message) (*Message, error)

	// Recent returns up to limit most recent non-deleted messages, oldest first.
	Recent(ctx context.Context, roomID int64, limit int) ([]*Message, error)

	// History returns non-deleted TEXT messages for a room. A zero since
	// means the full history.
	History(ctx context.Context, roomID int64, since time.Time) ([]*Message, error)

	// ActiveRoomIDs returns the distinct rooms with non-deleted messages
	// newer than since.
	ActiveRoomIDs(ctx context.Context, since time.Time) ([]int64, error)
}
