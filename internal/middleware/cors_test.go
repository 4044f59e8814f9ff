package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://chat.example.com"}
	cfg.AllowCredentials = true

	t.Run("allowed_origin_gets_headers", func(t *testing.T) {
		handler := CORS(cfg)(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
		req.Header.Set("Origin", "https://chat.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.example.com" {
			t.Errorf("expected allow-origin header, got %q", got)
		}
		if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("expected allow-credentials header")
		}
	})

	t.Run("disallowed_origin_rejected", func(t *testing.T) {
		handler := CORS(cfg)(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("preflight_handled", func(t *testing.T) {
		handler := CORS(cfg)(okHandler)
		req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
		req.Header.Set("Origin", "https://chat.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Methods") == "" {
			t.Error("expected allow-methods header on preflight")
		}
		if rec.Header().Get("Access-Control-Max-Age") != "600" {
			t.Errorf("expected max-age 600, got %q", rec.Header().Get("Access-Control-Max-Age"))
		}
	})

	t.Run("same_origin_passes_through", func(t *testing.T) {
		handler := CORS(cfg)(okHandler)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("expected no CORS headers on same-origin request")
		}
	})

	t.Run("no_origins_disables_cors", func(t *testing.T) {
		handler := CORS(DefaultCORSConfig())(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
		req.Header.Set("Origin", "https://anything.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 when CORS disabled, got %d", rec.Code)
		}
	})
}
