package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"zkdpp/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveVerification(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveVerification("RECYCLED_CONTENT_GTE_V1", domain.OutcomeAccepted, "", 20*time.Millisecond)
	m.ObserveVerification("RECYCLED_CONTENT_GTE_V1", domain.OutcomeRejected, "REPLAY_DETECTED", time.Millisecond)
	m.ObserveVerification("RECYCLED_CONTENT_GTE_V1", domain.OutcomeRejected, "REPLAY_DETECTED", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("RECYCLED_CONTENT_GTE_V1", "accepted", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.verifications.WithLabelValues("RECYCLED_CONTENT_GTE_V1", "rejected", "REPLAY_DETECTED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.verifyDuration))
}

func TestReplayNonceGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	size := 3
	m.TrackReplayNonces(func() int { return size })

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "zkdpp_gateway_replay_nonces" {
			found = true
			assert.Equal(t, 3.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveHTTP(http.MethodPost, "/v1/verify", http.StatusOK, 5*time.Millisecond)
	m.EventPublished("log")
	m.EventDropped("amqp")
	m.AttemptRecorded(true)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `zkdpp_http_requests_total{method="POST",route="/v1/verify",status="200"} 1`)
	assert.Contains(t, body, `zkdpp_events_dropped_total{sink="amqp"} 1`)
	assert.Contains(t, body, `zkdpp_audit_attempts_total{result="ok"} 1`)
}
