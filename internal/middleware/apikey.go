package middleware

import (
	"context"
	"net/http"
	"strings"

	"zkdpp/internal/auth"
	"zkdpp/pkg/logger"
)

type callerKey struct{}

// APIKeyAuth resolves X-API-Key to a caller tier. When no keys are configured every
// request passes through anonymously.
type APIKeyAuth struct {
	keys   *auth.APIKeyService
	logger logger.Logger
}

func NewAPIKeyAuth(keys *auth.APIKeyService, log logger.Logger) *APIKeyAuth {
	return &APIKeyAuth{keys: keys, logger: log}
}

func (m *APIKeyAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.keys.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		raw := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if raw == "" {
			jsonError(w, http.StatusUnauthorized, "API key required")
			return
		}
		caller, err := m.keys.ValidateKey(raw)
		if err != nil {
			m.logger.Warn("Rejected API key", map[string]interface{}{
				"request_id": RequestIDFromContext(r.Context()),
				"ip":         r.RemoteAddr,
			})
			jsonError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func WithCaller(ctx context.Context, caller *auth.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (*auth.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(*auth.Caller)
	return c, ok && c != nil
}
