package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresEventStore implements EventStore using PostgreSQL. Keywords are
// stored as a JSONB array.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a new PostgresEventStore.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// Append implements EventStore.
func (s *PostgresEventStore) Append(ctx context.Context, event *Event) error {
	keywords, err := json.Marshal(event.Keywords)
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}

	query := `
		INSERT INTO analysis_events (room_id, message_id, keywords, topic, emotion, is_fallback, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`
	err = s.db.QueryRowContext(ctx, query,
		event.RoomID, event.MessageID, keywords, event.Topic, event.Emotion, event.Fallback,
	).Scan(&event.ID, &event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert analysis event: %w", err)
	}
	return nil
}

// RecentByRoom implements EventStore.
func (s *PostgresEventStore) RecentByRoom(ctx context.Context, roomID int64, limit int) ([]*Event, error) {
	query := `
		SELECT id, room_id, message_id, keywords, topic, emotion, is_fallback, created_at
		FROM analysis_events
		WHERE room_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis events: %w", err)
	}
	defer rows.Close()

	var result []*Event
	for rows.Next() {
		event := &Event{}
		var keywords []byte
		if err := rows.Scan(
			&event.ID, &event.RoomID, &event.MessageID, &keywords,
			&event.Topic, &event.Emotion, &event.Fallback, &event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis event: %w", err)
		}
		if err := json.Unmarshal(keywords, &event.Keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords: %w", err)
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

// PostgresRecordStore implements RecordStore using PostgreSQL.
type PostgresRecordStore struct {
	db *sql.DB
}

// NewPostgresRecordStore creates a new PostgresRecordStore.
func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

// Append implements RecordStore.
func (s *PostgresRecordStore) Append(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO analysis_records
			(room_id, analysis_type, payload, message_count, participant_count, period_start, period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		record.RoomID, record.Type, []byte(record.Payload),
		record.MessageCount, record.ParticipantCount,
		record.PeriodStart, record.PeriodEnd,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert analysis record: %w", err)
	}
	return nil
}

// History implements RecordStore. Filtering happens in SQL so paging stays
// correct for large histories.
func (s *PostgresRecordStore) History(ctx context.Context, roomID int64, filter HistoryFilter) ([]*Record, int, error) {
	where := "WHERE room_id = $1"
	args := []any{roomID}

	if filter.Type != "" {
		args = append(args, filter.Type)
		where += fmt.Sprintf(" AND analysis_type = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM analysis_records " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count analysis records: %w", err)
	}

	size := filter.Size
	if size <= 0 {
		size = DefaultHistoryPageSize
	}
	args = append(args, size, filter.Page*size)
	query := fmt.Sprintf(`
		SELECT id, room_id, analysis_type, payload, message_count, participant_count,
		       period_start, period_end, created_at
		FROM analysis_records
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query analysis records: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		record := &Record{}
		var payload []byte
		if err := rows.Scan(
			&record.ID, &record.RoomID, &record.Type, &payload,
			&record.MessageCount, &record.ParticipantCount,
			&record.PeriodStart, &record.PeriodEnd, &record.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan analysis record: %w", err)
		}
		record.Payload = payload
		result = append(result, record)
	}
	return result, total, rows.Err()
}
