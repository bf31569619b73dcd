package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"zkdpp/internal/domain"
	"zkdpp/internal/middleware"
	"zkdpp/pkg/logger"
)

// Probe is one readiness dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// AttemptQuerier reads the audit trail.
type AttemptQuerier interface {
	ListRecent(ctx context.Context, limit, offset int) ([]*domain.VerificationAttempt, error)
	CountByOutcome(ctx context.Context, since time.Time) (map[domain.AttemptOutcome]int64, error)
}

// AdminTier may read the audit trail when API keys are configured.
const AdminTier = "admin"

type SystemHandler struct {
	gatewayID string
	probes    []Probe
	attempts  AttemptQuerier
	logger    logger.Logger
	startTime time.Time
}

// NewSystemHandler creates a SystemHandler. attempts may be nil when no database is
// configured.
func NewSystemHandler(gatewayID string, probes []Probe, attempts AttemptQuerier, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		gatewayID: gatewayID,
		probes:    probes,
		attempts:  attempts,
		logger:    log,
		startTime: time.Now(),
	}
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"gatewayId": h.gatewayID,
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Ready checks every probe with a short deadline.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for _, p := range h.probes {
		if err := p.Check(ctx); err != nil {
			h.logger.Warn("Readiness probe failed", map[string]interface{}{
				"probe": p.Name,
				"error": err.Error(),
			})
			checks[p.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[p.Name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	respondJSON(w, h.logger, status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}

// GetAttempts lists recent verification attempts.
func (h *SystemHandler) GetAttempts(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeAdmin(w, r) {
		return
	}

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	attempts, err := h.attempts.ListRecent(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to fetch verification attempts", map[string]interface{}{"error": err.Error()})
		respondError(w, h.logger, http.StatusInternalServerError, "Failed to fetch verification attempts")
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"attempts": attempts,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetAttemptStats tallies outcomes over the trailing window (default 24h).
func (h *SystemHandler) GetAttemptStats(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeAdmin(w, r) {
		return
	}

	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			respondError(w, h.logger, http.StatusBadRequest, "Invalid window")
			return
		}
		window = d
	}

	counts, err := h.attempts.CountByOutcome(r.Context(), time.Now().Add(-window))
	if err != nil {
		h.logger.Error("Failed to count verification attempts", map[string]interface{}{"error": err.Error()})
		respondError(w, h.logger, http.StatusInternalServerError, "Failed to count verification attempts")
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"window": window.String(),
		"counts": counts,
	})
}

func (h *SystemHandler) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.attempts == nil {
		respondError(w, h.logger, http.StatusServiceUnavailable, "Audit trail not configured")
		return false
	}
	if caller, ok := middleware.CallerFromContext(r.Context()); ok && caller.Tier != AdminTier {
		respondError(w, h.logger, http.StatusForbidden, "Admin tier required")
		return false
	}
	return true
}
