package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/haasonsaas/fleet/internal/observability"
)

// LoggingMiddleware logs every request as "METHOD PATH STATUS
// DURATIONms", at a level chosen by the response class, and feeds the
// request metrics.
func LoggingMiddleware(logger *slog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			msg := fmt.Sprintf("%s %s %d %dms", r.Method, r.URL.Path, wrapped.status, duration.Milliseconds())
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration", duration,
			}
			switch {
			case wrapped.status >= 500:
				logger.Error(msg, attrs...)
			case wrapped.status >= 400:
				logger.Warn(msg, attrs...)
			default:
				logger.Info(msg, attrs...)
			}

			if metrics != nil {
				metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(wrapped.status), duration.Seconds())
			}
		})
	}
}

// RecoveryMiddleware turns panics into opaque 500 responses.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", rec)
					writeError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter captures the status code for logging.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
