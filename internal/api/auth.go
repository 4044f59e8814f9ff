package api

import (
	"net/http"
	"strings"

	"github.com/ni-heemang/chat-flow/internal/auth"
	"github.com/ni-heemang/chat-flow/internal/middleware"
)

// BearerToken extracts the credential from the Authorization header, with a
// "token" query parameter fallback for clients that cannot set headers
// (browser WebSocket upgrades).
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// RequireAuth returns a middleware that validates the request credential and
// stores the authenticated username in the context. Requests without a valid
// token get a 401 with the standard error envelope.
func RequireAuth(tokens *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or expired token")
				return
			}

			ctx := middleware.SetUsername(r.Context(), claims.Username())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
