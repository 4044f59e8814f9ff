package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRoomRepository implements RoomRepository using PostgreSQL.
type PostgresRoomRepository struct {
	db *sql.DB
}

// NewPostgresRoomRepository creates a new PostgresRoomRepository.
func NewPostgresRoomRepository(db *sql.DB) *PostgresRoomRepository {
	return &PostgresRoomRepository{db: db}
}

// Create inserts a room and returns it with its assigned ID.
func (r *PostgresRoomRepository) Create(ctx context.Context, room *Room) (*Room, error) {
	query := `
		INSERT INTO chat_rooms (name, description, max_participants, is_private, is_active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		room.Name, room.Description, room.MaxParticipants, room.IsPrivate, room.IsActive, room.CreatedBy,
	).Scan(&room.ID, &room.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert room: %w", err)
	}
	return room, nil
}

// GetByID returns ErrRoomNotFound for unknown rooms.
func (r *PostgresRoomRepository) GetByID(ctx context.Context, roomID int64) (*Room, error) {
	query := `
		SELECT id, name, description, max_participants, current_participants,
		       is_private, is_active, created_by, created_at
		FROM chat_rooms
		WHERE id = $1
	`
	room := &Room{}
	err := r.db.QueryRowContext(ctx, query, roomID).Scan(
		&room.ID, &room.Name, &room.Description, &room.MaxParticipants, &room.CurrentParticipants,
		&room.IsPrivate, &room.IsActive, &room.CreatedBy, &room.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return room, nil
}

// List returns all rooms ordered by ID.
func (r *PostgresRoomRepository) List(ctx context.Context) ([]*Room, error) {
	query := `
		SELECT id, name, description, max_participants, current_participants,
		       is_private, is_active, created_by, created_at
		FROM chat_rooms
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var result []*Room
	for rows.Next() {
		room := &Room{}
		if err := rows.Scan(
			&room.ID, &room.Name, &room.Description, &room.MaxParticipants, &room.CurrentParticipants,
			&room.IsPrivate, &room.IsActive, &room.CreatedBy, &room.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		result = append(result, room)
	}
	return result, rows.Err()
}

// UpdateParticipants stores the current live participant count.
func (r *PostgresRoomRepository) UpdateParticipants(ctx context.Context, roomID int64, count int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chat_rooms SET current_participants = $2 WHERE id = $1`, roomID, count)
	if err != nil {
		return fmt.Errorf("failed to update participant count: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// PostgresMemberRepository implements MemberRepository using PostgreSQL.
type PostgresMemberRepository struct {
	db *sql.DB
}

// NewPostgresMemberRepository creates a new PostgresMemberRepository.
func NewPostgresMemberRepository(db *sql.DB) *PostgresMemberRepository {
	return &PostgresMemberRepository{db: db}
}

// Add creates a membership or reactivates a deactivated one.
func (r *PostgresMemberRepository) Add(ctx context.Context, roomID int64, username, nickname string) (*Member, error) {
	query := `
		INSERT INTO chat_room_members (room_id, username, nickname, is_active, is_online, joined_at)
		VALUES ($1, $2, $3, TRUE, FALSE, NOW())
		ON CONFLICT (room_id, username)
		DO UPDATE SET is_active = TRUE,
		              nickname = CASE WHEN EXCLUDED.nickname <> '' THEN EXCLUDED.nickname ELSE chat_room_members.nickname END
		RETURNING room_id, username, nickname, is_active, is_online, joined_at, last_seen
	`
	member := &Member{}
	err := r.db.QueryRowContext(ctx, query, roomID, username, nickname).Scan(
		&member.RoomID, &member.Username, &member.Nickname,
		&member.IsActive, &member.IsOnline, &member.JoinedAt, &member.LastSeen,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert membership: %w", err)
	}
	return member, nil
}

// Remove deactivates the membership. Unknown memberships are a no-op.
func (r *PostgresMemberRepository) Remove(ctx context.Context, roomID int64, username string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_room_members SET is_active = FALSE, is_online = FALSE WHERE room_id = $1 AND username = $2`,
		roomID, username)
	if err != nil {
		return fmt.Errorf("failed to deactivate membership: %w", err)
	}
	return nil
}

// IsMember reports whether username holds an active membership in roomID.
func (r *PostgresMemberRepository) IsMember(ctx context.Context, roomID int64, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_room_members WHERE room_id = $1 AND username = $2 AND is_active)`,
		roomID, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// SetOnline updates the online flag and last-seen time for one room.
func (r *PostgresMemberRepository) SetOnline(ctx context.Context, roomID int64, username string, online bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_room_members SET is_online = $3, last_seen = NOW() WHERE room_id = $1 AND username = $2 AND is_active`,
		roomID, username, online)
	if err != nil {
		return fmt.Errorf("failed to update online status: %w", err)
	}
	return nil
}

// SetAllOffline marks every membership offline.
func (r *PostgresMemberRepository) SetAllOffline(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_room_members SET is_online = FALSE, last_seen = NOW() WHERE is_online`)
	if err != nil {
		return fmt.Errorf("failed to reset online status: %w", err)
	}
	return nil
}

// ListByRoom returns all active members of a room ordered by join time.
func (r *PostgresMemberRepository) ListByRoom(ctx context.Context, roomID int64) ([]*Member, error) {
	query := `
		SELECT room_id, username, nickname, is_active, is_online, joined_at, last_seen
		FROM chat_room_members
		WHERE room_id = $1 AND is_active
		ORDER BY joined_at
	`
	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var result []*Member
	for rows.Next() {
		member := &Member{}
		if err := rows.Scan(
			&member.RoomID, &member.Username, &member.Nickname,
			&member.IsActive, &member.IsOnline, &member.JoinedAt, &member.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		result = append(result, member)
	}
	return result, rows.Err()
}

// CountActive returns the number of active members of a room.
func (r *PostgresMemberRepository) CountActive(ctx context.Context, roomID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_room_members WHERE room_id = $1 AND is_active`, roomID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// CountOnline returns the number of online members of a room.
func (r *PostgresMemberRepository) CountOnline(ctx context.Context, roomID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_room_members WHERE room_id = $1 AND is_active AND is_online`, roomID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count online members: %w", err)
	}
	return count, nil
}

// PostgresMessageRepository implements MessageRepository using PostgreSQL.
type PostgresMessageRepository struct {
	db *sql.DB
}

// NewPostgresMessageRepository creates a new PostgresMessageRepository.
func NewPostgresMessageRepository(db *sql.DB) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: db}
}

// Append inserts a message and returns it with its assigned ID and timestamp.
func (r *PostgresMessageRepository) Append(ctx context.Context, msg *Message) (*Message, error) {
	query := `
		INSERT INTO chat_messages (room_id, username, nickname, content, message_type, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		msg.RoomID, msg.Username, msg.Nickname, msg.Content, msg.Type,
	).Scan(&msg.ID, &msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// Recent returns up to limit most recent non-deleted messages, oldest first.
func (r *PostgresMessageRepository) Recent(ctx context.Context, roomID int64, limit int) ([]*Message, error) {
	query := `
		SELECT id, room_id, username, nickname, content, message_type, created_at
		FROM (
			SELECT id, room_id, username, nickname, content, message_type, created_at
			FROM chat_messages
			WHERE room_id = $1 AND NOT is_deleted
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at
	`
	return r.queryMessages(ctx, query, roomID, limit)
}

// History returns non-deleted TEXT messages for a room, oldest first.
func (r *PostgresMessageRepository) History(ctx context.Context, roomID int64, since time.Time) ([]*Message, error) {
	query := `
		SELECT id, room_id, username, nickname, content, message_type, created_at
		FROM chat_messages
		WHERE room_id = $1 AND NOT is_deleted AND message_type = 'TEXT' AND created_at >= $2
		ORDER BY created_at
	`
	if since.IsZero() {
		since = time.Unix(0, 0)
	}
	return r.queryMessages(ctx, query, roomID, since)
}

// ActiveRoomIDs returns the distinct rooms with messages newer than since.
func (r *PostgresMessageRepository) ActiveRoomIDs(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT room_id FROM chat_messages WHERE NOT is_deleted AND created_at > $1 ORDER BY room_id`,
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rooms: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan room id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresMessageRepository) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(
			&msg.ID, &msg.RoomID, &msg.Username, &msg.Nickname, &msg.Content, &msg.Type, &msg.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
