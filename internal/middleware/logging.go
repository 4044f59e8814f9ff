// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// usernameKey is the context key for the authenticated username.
type usernameKey struct{}

// errorCodeKey is the context key for the machine-readable error code.
type errorCodeKey struct{}

// errorCodeHolder lets handlers set an error code that the logging
// middleware, further up the chain, can still observe.
type errorCodeHolder struct {
	code string
}

// SetUsername stores the authenticated username in the context.
// This should be called by authentication middleware after validating the token.
func SetUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey{}, username)
}

// GetUsername retrieves the authenticated username from the context.
// Returns an empty string for unauthenticated requests.
func GetUsername(ctx context.Context) string {
	if name, ok := ctx.Value(usernameKey{}).(string); ok {
		return name
	}
	return ""
}

// SetErrorCode stores a machine-readable error code in the context so the
// logging middleware can include it in the access log. When the logging
// middleware wraps the request the code is written into its holder, making
// it visible upstream; otherwise a derived context is returned.
func SetErrorCode(ctx context.Context, code string) context.Context {
	if holder, ok := ctx.Value(errorCodeKey{}).(*errorCodeHolder); ok {
		holder.code = code
		return ctx
	}
	return context.WithValue(ctx, errorCodeKey{}, &errorCodeHolder{code: code})
}

// GetErrorCode retrieves the error code from the context, if any.
func GetErrorCode(ctx context.Context) string {
	if holder, ok := ctx.Value(errorCodeKey{}).(*errorCodeHolder); ok {
		return holder.code
	}
	return ""
}

// NewLogger creates a structured logger appropriate for the environment.
// Production gets JSON output for log aggregation, everything else gets
// human-readable text.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// response size for logging.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Logging returns a middleware that writes one structured access log line per
// request. Server errors log at Error, client errors at Warn, everything else
// at Info.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Inject the holder before calling down so handlers can report
			// an error code without threading the context back up.
			ctx := context.WithValue(r.Context(), errorCodeKey{}, &errorCodeHolder{})
			r = r.WithContext(ctx)

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.status),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int("size", rw.size),
			}
			if requestID := GetRequestID(r.Context()); requestID != "" {
				attrs = append(attrs, slog.String("request_id", requestID))
			}
			if username := GetUsername(r.Context()); username != "" {
				attrs = append(attrs, slog.String("username", username))
			}
			if code := GetErrorCode(r.Context()); code != "" {
				attrs = append(attrs, slog.String("error_code", code))
			}

			level := slog.LevelInfo
			switch {
			case rw.status >= 500:
				level = slog.LevelError
			case rw.status >= 400:
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "http request", attrs...)
		})
	}
}
