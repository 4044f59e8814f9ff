package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are paths recorded as-is, with no dynamic segments.
var staticRoutes = map[string]bool{
	"/":                         true,
	"/api/rooms":                true,
	"/api/analysis/rebuild-all": true,
	"/ws/chat":                  true,
	"/healthz":                  true,
	"/metrics":                  true,
}

// analysisSubresources are the per-room analysis endpoints under
// /api/analysis/rooms/{id}/.
var analysisSubresources = map[string]bool{
	"keywords":      true,
	"participation": true,
	"hourly":        true,
	"summary":       true,
	"history":       true,
	"rebuild":       true,
}

// normalizePath collapses dynamic path segments into route patterns so metric
// label cardinality stays bounded. /api/rooms/42 becomes /api/rooms/{id}.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	if strings.HasPrefix(path, "/api/rooms/") {
		parts := strings.Split(path, "/")
		// parts: ["", "api", "rooms", "{id}", ...]
		if len(parts) == 4 && parts[3] != "" {
			return "/api/rooms/{id}"
		}
		if len(parts) == 5 && (parts[4] == "join" || parts[4] == "leave" || parts[4] == "members" || parts[4] == "messages") {
			return "/api/rooms/{id}/" + parts[4]
		}
	}

	if strings.HasPrefix(path, "/api/analysis/rooms/") {
		parts := strings.Split(path, "/")
		// parts: ["", "api", "analysis", "rooms", "{id}", ...]
		if len(parts) == 5 && parts[4] != "" {
			return "/api/analysis/rooms/{id}"
		}
		if len(parts) == 6 && analysisSubresources[parts[5]] {
			return "/api/analysis/rooms/{id}/" + parts[5]
		}
	}

	// Unknown paths pass through so new routes still get metrics.
	return path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and
// response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// HTTPMetrics returns a middleware that records request duration, count, and
// sizes. Health and metrics endpoints are excluded to keep scrape traffic out
// of the numbers.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			requestSize := int64(0)
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
