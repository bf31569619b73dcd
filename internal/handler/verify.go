// Package handler provides the HTTP surface of the verification gateway.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"zkdpp/internal/domain"
	"zkdpp/internal/gateway"
	"zkdpp/internal/middleware"
	"zkdpp/pkg/logger"
)

// VerificationService runs the gate pipeline.
type VerificationService interface {
	Verify(ctx context.Context, pkg *domain.ProofPackage) (*domain.VerificationReceipt, error)
}

// PredicateCatalog exposes the loaded registry.
type PredicateCatalog interface {
	Lookup(canonicalID string) (*domain.PredicateDescriptor, bool)
	List() []*domain.PredicateDescriptor
}

// VerifyRequest is the POST /verify body.
type VerifyRequest struct {
	ProofPackage *domain.ProofPackage `json:"proofPackage"`
}

// VerifyResponse is returned on full acceptance.
type VerifyResponse struct {
	Success bool                        `json:"success"`
	Receipt *domain.VerificationReceipt `json:"receipt"`
}

// ErrorResponse is returned on any gate failure.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
}

const codeTierForbidden = "TIER_FORBIDDEN"

// VerifyHandler serves POST /verify.
type VerifyHandler struct {
	service  VerificationService
	registry PredicateCatalog
	logger   logger.Logger
}

// NewVerifyHandler creates a VerifyHandler.
func NewVerifyHandler(service VerificationService, registry PredicateCatalog, log logger.Logger) *VerifyHandler {
	return &VerifyHandler{service: service, registry: registry, logger: log}
}

// Verify decodes the proof package, applies the caller's tier restriction and runs the
// gateway.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, string(gateway.CodeMalformedPackage), "Request body too large", false)
			return
		}
		h.respondError(w, http.StatusBadRequest, string(gateway.CodeMalformedPackage), "Malformed proof package: invalid JSON body", false)
		return
	}
	if req.ProofPackage == nil {
		h.respondError(w, http.StatusBadRequest, string(gateway.CodeMalformedPackage), "Malformed proof package: proofPackage is required", false)
		return
	}

	if caller, ok := middleware.CallerFromContext(r.Context()); ok {
		pred, found := h.registry.Lookup(req.ProofPackage.PredicateID.Canonical())
		if found && !pred.AllowsTier(caller.Tier) {
			h.logger.Warn("Predicate not available to caller tier", map[string]interface{}{
				"request_id":   middleware.RequestIDFromContext(r.Context()),
				"predicate_id": pred.ID.Canonical(),
				"tier":         caller.Tier,
				"key_id":       caller.KeyID,
			})
			h.respondError(w, http.StatusForbidden, codeTierForbidden, "Predicate not available for your access tier", false)
			return
		}
	}

	receipt, err := h.service.Verify(r.Context(), req.ProofPackage)
	if err != nil {
		verr := gateway.AsVerificationError(err)
		h.respondError(w, verr.HTTPStatus(), string(verr.Code), verr.Error(), verr.Retryable())
		return
	}

	h.respondJSON(w, http.StatusOK, VerifyResponse{Success: true, Receipt: receipt})
}

func (h *VerifyHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, h.logger, status, data)
}

func (h *VerifyHandler) respondError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	respondJSON(w, h.logger, status, ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      code,
		Retryable: retryable,
	})
}

func respondJSON(w http.ResponseWriter, log logger.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("json encode failed", map[string]interface{}{"error": err.Error()})
	}
}

func respondError(w http.ResponseWriter, log logger.Logger, status int, message string) {
	respondJSON(w, log, status, ErrorResponse{Success: false, Error: message})
}
