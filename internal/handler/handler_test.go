package handler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"zkdpp/internal/auth"
	"zkdpp/internal/domain"
	"zkdpp/internal/gateway"
	"zkdpp/internal/middleware"
	"zkdpp/internal/receipt"
	"zkdpp/internal/registry"
	"zkdpp/internal/replay"
	"zkdpp/internal/verifier"
	"zkdpp/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Verify(ctx context.Context, pkg *domain.ProofPackage) (*domain.VerificationReceipt, error) {
	args := m.Called(ctx, pkg)
	if r := args.Get(0); r != nil {
		return r.(*domain.VerificationReceipt), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockAttempts struct {
	mock.Mock
}

func (m *MockAttempts) ListRecent(ctx context.Context, limit, offset int) ([]*domain.VerificationAttempt, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*domain.VerificationAttempt), args.Error(1)
}

func (m *MockAttempts) CountByOutcome(ctx context.Context, since time.Time) (map[domain.AttemptOutcome]int64, error) {
	args := m.Called(ctx, since)
	return args.Get(0).(map[domain.AttemptOutcome]int64), args.Error(1)
}

type testServer struct {
	router http.Handler
	signer *receipt.Signer
}

type serverOpts struct {
	service  VerificationService
	keys     []string
	attempts AttemptQuerier
	probes   []Probe
}

func newTestServer(t *testing.T, o serverOpts) *testServer {
	t.Helper()
	log := logger.NewNop()

	signer, err := receipt.NewSigner(ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x22}, 32)), "handler-key")
	require.NoError(t, err)

	reg := registry.Default()
	svc := o.service
	if svc == nil {
		guard := replay.NewMemoryGuard(5*time.Minute, time.Minute, log)
		svc = gateway.NewService(reg, guard, verifier.NewMockVerifier(), signer, nil, log, gateway.Options{GatewayID: "gw-http"})
	}

	keys, err := auth.NewAPIKeyService(o.keys)
	require.NoError(t, err)

	router := NewRouter(RouterDeps{
		Verify:      NewVerifyHandler(svc, reg, log),
		Catalog:     NewCatalogHandler(reg, signer, log),
		System:      NewSystemHandler("gw-http", o.probes, o.attempts, log),
		Logging:     middleware.NewLoggingMiddleware(log, nil),
		APIKeys:     middleware.NewAPIKeyAuth(keys, log),
		MaxBodySize: 64 << 10,
		Logger:      log,
	})
	return &testServer{router: router, signer: signer}
}

func (s *testServer) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func packageBody(t *testing.T, mutate func(p map[string]interface{})) []byte {
	t.Helper()
	pkg := map[string]interface{}{
		"predicateId": map[string]string{"name": "RECYCLED_CONTENT_GTE", "version": "V1"},
		"proof":       strings.Repeat("ab", 64),
		"publicInputs": map[string]interface{}{
			"threshold":      20,
			"commitmentRoot": strings.Repeat("cd", 32),
		},
		"nonce":       uuid.NewString(),
		"generatedAt": time.Now().UnixMilli(),
		"context":     map[string]string{"supplierId": "sup-9", "requesterId": "brand-3"},
	}
	if mutate != nil {
		mutate(pkg)
	}
	body, err := json.Marshal(map[string]interface{}{"proofPackage": pkg})
	require.NoError(t, err)
	return body
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	return resp
}

func TestVerifyEndpointIssuesReceipt(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	for _, path := range []string{"/verify", "/v1/verify"} {
		rec := s.do(http.MethodPost, path, packageBody(t, nil), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp VerifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		require.NotNil(t, resp.Receipt)
		assert.True(t, resp.Receipt.Result)
		assert.Equal(t, "RECYCLED_CONTENT_GTE_V1", resp.Receipt.PredicateID)
		assert.Equal(t, "gw-http", resp.Receipt.GatewayID)
		assert.Equal(t, "sup-9", resp.Receipt.SupplierID)

		claims, err := receipt.Verify(resp.Receipt.Signature, s.signer.PublicKey())
		require.NoError(t, err)
		assert.Equal(t, resp.Receipt.ID, claims.ReceiptID)
		assert.Equal(t, strings.Repeat("cd", 32), claims.CommitmentRoot)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestVerifyEndpointGateFailures(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	replayed := packageBody(t, nil)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/verify", replayed, nil).Code)

	tests := []struct {
		name   string
		body   []byte
		status int
		code   string
	}{
		{"replay", replayed, http.StatusBadRequest, "REPLAY_DETECTED"},
		{"invalid json", []byte(`{"proofPackage":`), http.StatusBadRequest, "MALFORMED_PACKAGE"},
		{"missing package", []byte(`{}`), http.StatusBadRequest, "MALFORMED_PACKAGE"},
		{"short root", packageBody(t, func(p map[string]interface{}) {
			p["publicInputs"] = map[string]interface{}{"threshold": 20, "commitmentRoot": "abcd"}
		}), http.StatusBadRequest, "MALFORMED_PACKAGE"},
		{"unknown predicate", packageBody(t, func(p map[string]interface{}) {
			p["predicateId"] = "FOO_V9"
		}), http.StatusBadRequest, "UNKNOWN_PREDICATE"},
		{"stale", packageBody(t, func(p map[string]interface{}) {
			p["generatedAt"] = time.Now().Add(-time.Hour).UnixMilli()
		}), http.StatusBadRequest, "STALE_OR_FUTURE_PROOF"},
		{"rejected proof", packageBody(t, func(p map[string]interface{}) {
			p["proof"] = strings.Repeat("00", 64)
		}), http.StatusBadRequest, "PROOF_REJECTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/verify", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
			assert.False(t, resp.Retryable)
		})
	}
}

func TestVerifyEndpointInfrastructureFailure(t *testing.T) {
	svc := new(MockService)
	svc.On("Verify", mock.Anything, mock.Anything).Return(nil, &gateway.VerificationError{
		Code:    gateway.CodeVerifierUnavailable,
		Message: "Verifier unavailable",
		Cause:   errors.New("nargo: not found"),
	})
	s := newTestServer(t, serverOpts{service: svc})

	rec := s.do(http.MethodPost, "/verify", packageBody(t, nil), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "VERIFIER_UNAVAILABLE", resp.Code)
	assert.Equal(t, "Verifier unavailable", resp.Error)
	assert.True(t, resp.Retryable)
	assert.NotContains(t, rec.Body.String(), "nargo")
}

func TestVerifyEndpointBodyTooLarge(t *testing.T) {
	s := newTestServer(t, serverOpts{service: new(MockService)})

	huge := packageBody(t, func(p map[string]interface{}) {
		p["proof"] = strings.Repeat("ab", 64<<10)
	})
	rec := s.do(http.MethodPost, "/verify", huge, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestVerifyEndpointEnforcesTier(t *testing.T) {
	raw, entry, err := auth.GenerateKey("basic")
	require.NoError(t, err)

	svc := new(MockService)
	s := newTestServer(t, serverOpts{service: svc, keys: []string{entry}})

	rec := s.do(http.MethodPost, "/verify", packageBody(t, nil), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	premiumOnly := packageBody(t, func(p map[string]interface{}) {
		p["predicateId"] = "SUBSTANCE_NOT_IN_LIST_V1"
	})
	rec = s.do(http.MethodPost, "/verify", premiumOnly, map[string]string{"X-API-Key": raw})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "TIER_FORBIDDEN", decodeError(t, rec).Code)
	svc.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)

	svc.On("Verify", mock.Anything, mock.Anything).Return(&domain.VerificationReceipt{ID: uuid.New(), Result: true}, nil).Once()
	rec = s.do(http.MethodPost, "/verify", packageBody(t, nil), map[string]string{"X-API-Key": raw})
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestPredicateEndpoints(t *testing.T) {
	s := newTestServer(t, serverOpts{service: new(MockService)})

	rec := s.do(http.MethodGet, "/v1/predicates", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Predicates []PredicateView `json:"predicates"`
		Count      int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 4, list.Count)
	assert.NotContains(t, rec.Body.String(), "circuitPath")

	rec = s.do(http.MethodGet, "/v1/predicates/CERT_VALID_V1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view PredicateView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "CERT_VALID_V1", view.ID)
	assert.Equal(t, "cert_validity", view.Family)
	assert.Equal(t, "0.05", view.PricePerVerification.String())

	rec = s.do(http.MethodGet, "/v1/predicates/NOPE_V1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKeysEndpoint(t *testing.T) {
	s := newTestServer(t, serverOpts{service: new(MockService)})

	rec := s.do(http.MethodGet, "/v1/keys", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var set struct {
		Keys []receipt.JWK `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "handler-key", set.Keys[0].KeyID)
	assert.Equal(t, "EdDSA", set.Keys[0].Algorithm)
	assert.Equal(t, s.signer.JWK().X, set.Keys[0].X)
}

func TestHealthAndReady(t *testing.T) {
	failing := errors.New("redis: connection refused")
	s := newTestServer(t, serverOpts{
		service: new(MockService),
		probes: []Probe{
			{Name: "verifier", Check: func(context.Context) error { return nil }},
			{Name: "replay", Check: func(context.Context) error { return failing }},
		},
	})

	rec := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gw-http")

	rec = s.do(http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "ok", body.Checks["verifier"])
	assert.Equal(t, failing.Error(), body.Checks["replay"])
}

func TestAttemptEndpoints(t *testing.T) {
	s := newTestServer(t, serverOpts{service: new(MockService)})
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/v1/attempts", nil, nil).Code)

	adminRaw, adminEntry, err := auth.GenerateKey(AdminTier)
	require.NoError(t, err)
	basicRaw, basicEntry, err := auth.GenerateKey("basic")
	require.NoError(t, err)

	attempts := new(MockAttempts)
	attempts.On("ListRecent", mock.Anything, 10, 0).Return([]*domain.VerificationAttempt{
		{ID: uuid.New(), PredicateID: "CERT_VALID_V1", Outcome: domain.OutcomeAccepted},
	}, nil).Once()
	attempts.On("CountByOutcome", mock.Anything, mock.Anything).Return(map[domain.AttemptOutcome]int64{
		domain.OutcomeAccepted: 3,
		domain.OutcomeRejected: 1,
	}, nil).Once()

	s = newTestServer(t, serverOpts{service: new(MockService), attempts: attempts, keys: []string{adminEntry, basicEntry}})

	rec := s.do(http.MethodGet, "/v1/attempts?limit=10", nil, map[string]string{"X-API-Key": basicRaw})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/v1/attempts?limit=10", nil, map[string]string{"X-API-Key": adminRaw})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "CERT_VALID_V1")

	rec = s.do(http.MethodGet, "/v1/attempts/stats?window=1h", nil, map[string]string{"X-API-Key": adminRaw})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":3`)

	rec = s.do(http.MethodGet, "/v1/attempts/stats?window=bogus", nil, map[string]string{"X-API-Key": adminRaw})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	attempts.AssertExpectations(t)
}
