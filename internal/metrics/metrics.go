// Package metrics exposes gateway Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"zkdpp/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zkdpp"

// Metrics owns every collector the gateway reports.
type Metrics struct {
	registry prometheus.Registerer

	verifications    *prometheus.CounterVec
	verifyDuration   *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	eventsPublished  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	attemptsRecorded *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registry: reg,
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "verifications_total",
			Help:      "Verification attempts by predicate and outcome",
		}, []string{"predicate", "outcome", "code"}),
		verifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "verification_duration_seconds",
			Help:      "End-to-end verification latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"predicate"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"method", "route"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Verification events delivered per sink",
		}, []string{"sink"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Verification events dropped per sink",
		}, []string{"sink"}),
		attemptsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "attempts_total",
			Help:      "Audit writes by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.verifications,
		m.verifyDuration,
		m.httpRequests,
		m.httpDuration,
		m.eventsPublished,
		m.eventsDropped,
		m.attemptsRecorded,
	)
	return m
}

// ObserveVerification counts one verify call.
func (m *Metrics) ObserveVerification(predicateID string, outcome domain.AttemptOutcome, code string, elapsed time.Duration) {
	m.verifications.WithLabelValues(predicateID, string(outcome), code).Inc()
	m.verifyDuration.WithLabelValues(predicateID).Observe(elapsed.Seconds())
}

// ObserveHTTP counts one served request. route is the mux path template.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) EventPublished(sink string) { m.eventsPublished.WithLabelValues(sink).Inc() }

func (m *Metrics) EventDropped(sink string) { m.eventsDropped.WithLabelValues(sink).Inc() }

func (m *Metrics) AttemptRecorded(ok bool) {
	if ok {
		m.attemptsRecorded.WithLabelValues("ok").Inc()
		return
	}
	m.attemptsRecorded.WithLabelValues("error").Inc()
}

// TrackReplayNonces exports the replay guard size, sampled at scrape time.
func (m *Metrics) TrackReplayNonces(size func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "replay_nonces",
		Help:      "Nonces currently tracked by the replay guard",
	}, func() float64 { return float64(size()) }))
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
