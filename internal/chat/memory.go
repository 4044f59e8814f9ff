package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRoomRepository is an in-memory implementation of RoomRepository.
// Thread-safe via RWMutex.
type InMemoryRoomRepository struct {
	mu     sync.RWMutex
	rooms  map[int64]*Room
	nextID int64
}

// NewInMemoryRoomRepository creates a new in-memory room repository.
func NewInMemoryRoomRepository() *InMemoryRoomRepository {
	return &InMemoryRoomRepository{
		rooms:  make(map[int64]*Room),
		nextID: 1,
	}
}

// Create stores a new room, assigning its ID when unset.
func (r *InMemoryRoomRepository) Create(_ context.Context, room *Room) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room.ID == 0 {
		room.ID = r.nextID
		r.nextID++
	} else if room.ID >= r.nextID {
		r.nextID = room.ID + 1
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	roomCopy := *room
	r.rooms[room.ID] = &roomCopy
	return room, nil
}

// GetByID returns a copy of the room or ErrRoomNotFound.
func (r *InMemoryRoomRepository) GetByID(_ context.Context, roomID int64) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	roomCopy := *room
	return &roomCopy, nil
}

// List returns all rooms ordered by ID.
func (r *InMemoryRoomRepository) List(_ context.Context) ([]*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		roomCopy := *room
		result = append(result, &roomCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateParticipants stores the current live participant count.
func (r *InMemoryRoomRepository) UpdateParticipants(_ context.Context, roomID int64, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	room.CurrentParticipants = count
	return nil
}

type memberKey struct {
	roomID   int64
	username string
}

// InMemoryMemberRepository is an in-memory implementation of MemberRepository.
// Thread-safe via RWMutex.
type InMemoryMemberRepository struct {
	mu      sync.RWMutex
	members map[memberKey]*Member
}

// NewInMemoryMemberRepository creates a new in-memory member repository.
func NewInMemoryMemberRepository() *InMemoryMemberRepository {
	return &InMemoryMemberRepository{
		members: make(map[memberKey]*Member),
	}
}

// Add creates a membership or reactivates a deactivated one.
func (r *InMemoryMemberRepository) Add(_ context.Context, roomID int64, username, nickname string) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memberKey{roomID: roomID, username: username}
	if existing, ok := r.members[key]; ok {
		existing.IsActive = true
		if nickname != "" {
			existing.Nickname = nickname
		}
		memberCopy := *existing
		return &memberCopy, nil
	}

	member := &Member{
		RoomID:   roomID,
		Username: username,
		Nickname: nickname,
		IsActive: true,
		JoinedAt: time.Now(),
	}
	r.members[key] = member
	memberCopy := *member
	return &memberCopy, nil
}

// Remove deactivates the membership.
func (r *InMemoryMemberRepository) Remove(_ context.Context, roomID int64, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if member, ok := r.members[memberKey{roomID: roomID, username: username}]; ok {
		member.IsActive = false
		member.IsOnline = false
	}
	return nil
}

// IsMember reports whether username holds an active membership in roomID.
func (r *InMemoryMemberRepository) IsMember(_ context.Context, roomID int64, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	member, ok := r.members[memberKey{roomID: roomID, username: username}]
	return ok && member.IsActive, nil
}

// SetOnline updates the online flag and last-seen time for one room.
func (r *InMemoryMemberRepository) SetOnline(_ context.Context, roomID int64, username string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if member, ok := r.members[memberKey{roomID: roomID, username: username}]; ok {
		member.IsOnline = online
		now := time.Now()
		member.LastSeen = &now
	}
	return nil
}

// SetAllOffline marks every membership offline.
func (r *InMemoryMemberRepository) SetAllOffline(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, member := range r.members {
		if member.IsOnline {
			member.IsOnline = false
			member.LastSeen = &now
		}
	}
	return nil
}

// ListByRoom returns all active members of a room ordered by join time.
func (r *InMemoryMemberRepository) ListByRoom(_ context.Context, roomID int64) ([]*Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Member, 0)
	for key, member := range r.members {
		if key.roomID == roomID && member.IsActive {
			memberCopy := *member
			result = append(result, &memberCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].JoinedAt.Before(result[j].JoinedAt) })
	return result, nil
}

// CountActive returns the number of active members of a room.
func (r *InMemoryMemberRepository) CountActive(_ context.Context, roomID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for key, member := range r.members {
		if key.roomID == roomID && member.IsActive {
			count++
		}
	}
	return count, nil
}

// CountOnline returns the number of online members of a room.
func (r *InMemoryMemberRepository) CountOnline(_ context.Context, roomID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for key, member := range r.members {
		if key.roomID == roomID && member.IsActive && member.IsOnline {
			count++
		}
	}
	return count, nil
}

// InMemoryMessageRepository is an in-memory implementation of
// MessageRepository. Thread-safe via RWMutex.
type InMemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[int64][]*Message // roomID -> messages in append order
	nextID   int64
}

// NewInMemoryMessageRepository creates a new in-memory message repository.
func NewInMemoryMessageRepository() *InMemoryMessageRepository {
	return &InMemoryMessageRepository{
		messages: make(map[int64][]*Message),
		nextID:   1,
	}
}

// Append stores a message and assigns its ID and timestamp when unset.
func (r *InMemoryMessageRepository) Append(_ context.Context, msg *Message) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == 0 {
		msg.ID = r.nextID
		r.nextID++
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msgCopy := *msg
	r.messages[msg.RoomID] = append(r.messages[msg.RoomID], &msgCopy)
	return msg, nil
}

// Recent returns up to limit most recent non-deleted messages, oldest first.
func (r *InMemoryMessageRepository) Recent(_ context.Context, roomID int64, limit int) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.messages[roomID]
	result := make([]*Message, 0, limit)
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if all[i].Deleted {
			continue
		}
		msgCopy := *all[i]
		result = append(result, &msgCopy)
	}
	// Reverse into chronological order.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// History returns non-deleted TEXT messages for a room, oldest first.
func (r *InMemoryMessageRepository) History(_ context.Context, roomID int64, since time.Time) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Message, 0)
	for _, msg := range r.messages[roomID] {
		if msg.Deleted || msg.Type != MessageTypeText {
			continue
		}
		if !since.IsZero() && msg.Timestamp.Before(since) {
			continue
		}
		msgCopy := *msg
		result = append(result, &msgCopy)
	}
	return result, nil
}

// ActiveRoomIDs returns the distinct rooms with messages newer than since.
func (r *InMemoryMessageRepository) ActiveRoomIDs(_ context.Context, since time.Time) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0)
	for roomID, msgs := range r.messages {
		for _, msg := range msgs {
			if !msg.Deleted && msg.Timestamp.After(since) {
				ids = append(ids, roomID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
