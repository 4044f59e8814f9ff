package middleware

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestRedisRateLimitStore exercises the Redis store against a real instance
// on localhost:6379 and skips when none is available.
func TestRedisRateLimitStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer client.Close()

	store := NewRedisRateLimitStore(client)
	config := RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}
	key := "test-redis-key-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	ctx = context.Background()

	t.Run("allows_up_to_limit", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			allowed, _ := store.Allow(ctx, key, config)
			if !allowed {
				t.Errorf("request %d should be allowed", i+1)
			}
		}
	})

	t.Run("blocks_over_limit", func(t *testing.T) {
		allowed, retryAfter := store.Allow(ctx, key, config)
		if allowed {
			t.Error("6th request should be blocked")
		}
		if retryAfter <= 0 || retryAfter > 60 {
			t.Errorf("expected retryAfter in (0, 60], got %d", retryAfter)
		}
	})

	t.Run("window_resets", func(t *testing.T) {
		shortKey := key + "-short"
		short := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second}
		store.Allow(ctx, shortKey, short)
		if allowed, _ := store.Allow(ctx, shortKey, short); allowed {
			t.Fatal("second request within window should be blocked")
		}
		time.Sleep(1100 * time.Millisecond)
		if allowed, _ := store.Allow(ctx, shortKey, short); !allowed {
			t.Error("request after window expiry should be allowed")
		}
	})
}

func TestRedisRateLimitStoreFailsOpen(t *testing.T) {
	// Port 1 is never a Redis server.
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	metrics := NewMetrics()
	store := NewRedisRateLimitStore(client).WithMetrics(metrics)
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}

	allowed, _ := store.Allow(context.Background(), "unreachable", config)
	if !allowed {
		t.Error("store should fail open when Redis is unreachable")
	}
}
