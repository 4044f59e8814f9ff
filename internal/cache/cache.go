// Package cache provides a read-through cache for derived analysis stats.
// Values are JSON so the Redis and in-memory implementations store the same
// representation.
package cache

import (
	"context"
	"strconv"
	"time"
)

// Cache is a read-through cache with explicit invalidation. GetOrCompute
// returns the cached JSON value for key, or runs compute, stores the result,
// and returns it. Invalidation is best-effort: a single stale read after an
// invalidation is acceptable, a fabricated value is not.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, error)
	Invalidate(ctx context.Context, keys ...string) error
}

// Key builders for a room's derived-stat entries. Every mutation path
// invalidates all of them for the room it touched.

func KeywordKey(roomID int64) string {
	return "analysis:keywords:" + strconv.FormatInt(roomID, 10)
}

func ParticipationKey(roomID int64) string {
	return "analysis:participation:" + strconv.FormatInt(roomID, 10)
}

func HourlyKey(roomID int64) string {
	return "analysis:hourly:" + strconv.FormatInt(roomID, 10)
}

// RoomKeys returns every derived-stat key for a room.
func RoomKeys(roomID int64) []string {
	return []string{KeywordKey(roomID), ParticipationKey(roomID), HourlyKey(roomID)}
}
