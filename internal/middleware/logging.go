package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"zkdpp/pkg/logger"

	"github.com/gorilla/mux"
)

// HTTPObserver records per-request metrics.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// LoggingMiddleware records basic request metrics using the provided logger.
type LoggingMiddleware struct {
	logger   logger.Logger
	observer HTTPObserver
}

// NewLoggingMiddleware constructs a LoggingMiddleware. observer may be nil.
func NewLoggingMiddleware(log logger.Logger, observer HTTPObserver) *LoggingMiddleware {
	return &LoggingMiddleware{logger: log, observer: observer}
}

// Log wraps handlers with structured request/response logging.
func (m *LoggingMiddleware) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if m.observer != nil {
			m.observer.ObserveHTTP(r.Method, route, wrapped.statusCode, elapsed)
		}

		if route == "/health" || route == "/metrics" {
			return
		}
		m.logger.Info("HTTP Request", map[string]interface{}{
			"request_id":  RequestIDFromContext(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"route":       route,
			"status":      wrapped.statusCode,
			"duration_ms": elapsed.Milliseconds(),
			"ip":          r.RemoteAddr,
			"user_agent":  r.UserAgent(),
		})
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets websocket upgrades pass through the wrapper.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
