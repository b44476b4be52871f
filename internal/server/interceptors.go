package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

// ErrPanicRecovered indicates an admin HTTP handler panicked and was recovered.
var ErrPanicRecovered = errors.New("panic recovered in admin handler")

// statusRecorder captures the status code an http.ResponseWriter was
// written with, since the stdlib interface doesn't expose it after the
// fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware wraps an http.Handler, logging every request with its
// path, status, and duration. Log level is Info for 2xx/3xx responses and
// Warn otherwise — the admin surface's request volume is low enough that
// per-request logging is cheap (§4.11).
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		attrs := []slog.Attr{
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", duration),
		}

		if rec.status >= 400 {
			logger.LogAttrs(r.Context(), slog.LevelWarn, "admin request completed with error", attrs...)
		} else {
			logger.LogAttrs(r.Context(), slog.LevelInfo, "admin request completed", attrs...)
		}
	})
}

// RecoveryMiddleware wraps an http.Handler, recovering from panics. On
// panic, it logs the panic value and stack trace at Error level and
// responds with 500.
func RecoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)

				logger.ErrorContext(r.Context(), "panic recovered in admin handler",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(buf[:n])),
				)

				err := fmt.Errorf("%s: %w", r.URL.Path, ErrPanicRecovered)
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
