package handler

import (
	"net/http"

	"zkdpp/internal/middleware"
	"zkdpp/pkg/logger"

	"github.com/gorilla/mux"
)

// RouterDeps wires handlers and middleware into one router. Events, Metrics and
// RateLimiter are optional.
type RouterDeps struct {
	Verify      *VerifyHandler
	Catalog     *CatalogHandler
	System      *SystemHandler
	Events      http.HandlerFunc
	Metrics     http.Handler
	Logging     *middleware.LoggingMiddleware
	APIKeys     *middleware.APIKeyAuth
	RateLimiter *middleware.RateLimiter
	MaxBodySize int64
	CORSOrigins []string
	Logger      logger.Logger
}

// NewRouter registers every gateway route behind CORS handling.
func NewRouter(d RouterDeps) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.CorrelationID)
	if d.Logging != nil {
		r.Use(d.Logging.Log)
	}
	r.Use(middleware.SecurityHeaders)

	r.HandleFunc("/health", d.System.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", d.System.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/keys", d.Catalog.Keys).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(d.APIKeys.Authenticate)
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.Limit)
	}

	verify := middleware.BodyLimit(d.MaxBodySize)(http.HandlerFunc(d.Verify.Verify))
	api.Handle("/verify", verify).Methods(http.MethodPost)
	api.Handle("/v1/verify", verify).Methods(http.MethodPost)

	api.HandleFunc("/v1/predicates", d.Catalog.ListPredicates).Methods(http.MethodGet)
	api.HandleFunc("/v1/predicates/{id}", d.Catalog.GetPredicate).Methods(http.MethodGet)
	api.HandleFunc("/v1/attempts", d.System.GetAttempts).Methods(http.MethodGet)
	api.HandleFunc("/v1/attempts/stats", d.System.GetAttemptStats).Methods(http.MethodGet)
	if d.Events != nil {
		api.HandleFunc("/v1/events", d.Events).Methods(http.MethodGet)
	}

	return middleware.CORS(d.CORSOrigins)(r)
}
