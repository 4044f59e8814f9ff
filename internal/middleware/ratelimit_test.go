package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  RateLimitConfig
		wantErr bool
	}{
		{"valid", RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}, false},
		{"zero_requests", RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Minute}, true},
		{"negative_requests", RateLimitConfig{RequestsPerWindow: -1, WindowDuration: time.Minute}, true},
		{"zero_window", RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInMemoryRateLimitStore(t *testing.T) {
	ctx := context.Background()
	config := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}

	t.Run("allows_up_to_limit_then_blocks", func(t *testing.T) {
		store := NewInMemoryRateLimitStore()
		for i := 0; i < 3; i++ {
			allowed, _ := store.Allow(ctx, "k", config)
			if !allowed {
				t.Fatalf("request %d should be allowed", i+1)
			}
		}
		allowed, retryAfter := store.Allow(ctx, "k", config)
		if allowed {
			t.Error("4th request should be blocked")
		}
		if retryAfter <= 0 || retryAfter > 60 {
			t.Errorf("expected retryAfter in (0, 60], got %d", retryAfter)
		}
	})

	t.Run("keys_are_independent", func(t *testing.T) {
		store := NewInMemoryRateLimitStore()
		for i := 0; i < 3; i++ {
			store.Allow(ctx, "a", config)
		}
		if allowed, _ := store.Allow(ctx, "b", config); !allowed {
			t.Error("key b should not share key a's bucket")
		}
	})

	t.Run("cleanup_drops_expired_buckets", func(t *testing.T) {
		store := NewInMemoryRateLimitStore()
		short := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Nanosecond}
		store.Allow(ctx, "stale", short)
		time.Sleep(time.Millisecond)
		store.Cleanup()
		if len(store.buckets) != 0 {
			t.Errorf("expected empty bucket map, got %d entries", len(store.buckets))
		}
	})
}

func TestKeyFuncs(t *testing.T) {
	t.Run("ip_prefers_forwarded_for", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		req.RemoteAddr = "192.0.2.1:1234"
		if got := IPKeyFunc()(req); got != "203.0.113.9" {
			t.Errorf("expected first forwarded IP, got %q", got)
		}
	})

	t.Run("ip_falls_back_to_remote_addr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		if got := IPKeyFunc()(req); got != "192.0.2.1" {
			t.Errorf("expected host without port, got %q", got)
		}
	})

	t.Run("user_key_uses_username", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(SetUsername(req.Context(), "alice"))
		if got := UserKeyFunc()(req); got != "user:alice" {
			t.Errorf("expected user:alice, got %q", got)
		}
	})

	t.Run("user_key_falls_back_to_ip", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		if got := UserKeyFunc()(req); got != "ip:192.0.2.1" {
			t.Errorf("expected ip fallback, got %q", got)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	config := RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}

	t.Run("blocks_over_limit_with_retry_after", func(t *testing.T) {
		handler := RateLimiter(NewInMemoryRateLimitStore(), config, IPKeyFunc())(okHandler)

		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
			}
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("expected Retry-After header")
		}
		if rec.Header().Get("X-RateLimit-Reset") == "" {
			t.Error("expected X-RateLimit-Reset header")
		}
	})
}
