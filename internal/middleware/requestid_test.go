package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID(t *testing.T) {
	t.Run("propagates_incoming_header", func(t *testing.T) {
		var seen string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "upstream-id")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if seen != "upstream-id" {
			t.Errorf("expected upstream-id in context, got %q", seen)
		}
		if got := rec.Header().Get(RequestIDHeader); got != "upstream-id" {
			t.Errorf("expected upstream-id echoed in response, got %q", got)
		}
	})

	t.Run("generates_id_when_absent", func(t *testing.T) {
		var seen string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" {
			t.Error("expected generated request ID in context")
		}
		if rec.Header().Get(RequestIDHeader) != seen {
			t.Errorf("response header %q does not match context ID %q", rec.Header().Get(RequestIDHeader), seen)
		}
	})
}
