package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"zkdpp/internal/auth"
	"zkdpp/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.Called(method, route, status, elapsed)
}

func TestCorrelationID(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "has spaces\tand tabs")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "has spaces\tand tabs", seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

func TestAPIKeyAuth(t *testing.T) {
	raw, entry, err := auth.GenerateKey("standard")
	require.NoError(t, err)
	keys, err := auth.NewAPIKeyService([]string{entry})
	require.NoError(t, err)

	var tier string
	h := NewAPIKeyAuth(keys, logger.NewNop()).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := CallerFromContext(r.Context())
		require.True(t, ok)
		tier = c.Tier
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/verify", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/verify", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])

	req = httptest.NewRequest(http.MethodPost, "/v1/verify", nil)
	req.Header.Set("X-API-Key", raw)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "standard", tier)
}

func TestAPIKeyAuthDisabledPassesThrough(t *testing.T) {
	keys, err := auth.NewAPIKeyService(nil)
	require.NoError(t, err)

	called := false
	h := NewAPIKeyAuth(keys, logger.NewNop()).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := CallerFromContext(r.Context())
		assert.False(t, ok)
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func TestBodyLimit(t *testing.T) {
	h := BodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingReportsRouteTemplate(t *testing.T) {
	obs := new(MockObserver)
	obs.On("ObserveHTTP", http.MethodGet, "/v1/predicates/{id}", http.StatusTeapot, mock.Anything).Once()

	r := mux.NewRouter()
	r.Use(NewLoggingMiddleware(logger.NewNop(), obs).Log)
	r.HandleFunc("/v1/predicates/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/predicates/CERT_VALID_V1", nil))
	obs.AssertExpectations(t)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRateLimiter(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available")
	}
	defer rdb.Close()

	ip := "198.51.100." + uuid.NewString()[:3]
	defer rdb.Del(context.Background(), "zkdpp:ratelimit:"+ip)

	rl := NewRateLimiter(rdb, 2, time.Minute, logger.NewNop())
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/verify", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://dash.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/verify", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/v1/verify", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCallerAndRequestIDShareContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	_, ok := CallerFromContext(ctx)
	assert.False(t, ok)

	ctx = WithCaller(ctx, &auth.Caller{KeyID: "k1", Tier: "premium"})
	caller, ok := CallerFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "premium", caller.Tier)
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))

	_, ok = CallerFromContext(WithCaller(context.Background(), nil))
	assert.False(t, ok)
}
