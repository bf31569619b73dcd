package handler

import (
	"net/http"
	"strings"

	"zkdpp/internal/domain"
	"zkdpp/internal/receipt"
	"zkdpp/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// PredicateView is the public descriptor. Circuit locations stay private.
type PredicateView struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Version              string          `json:"version"`
	Family               string          `json:"family"`
	Description          string          `json:"description"`
	PublicInputs         []string        `json:"publicInputs"`
	AccessTiers          []string        `json:"accessTiers"`
	PricePerVerification decimal.Decimal `json:"pricePerVerification"`
}

func newPredicateView(d *domain.PredicateDescriptor) PredicateView {
	return PredicateView{
		ID:                   d.ID.Canonical(),
		Name:                 d.ID.Name,
		Version:              d.ID.Version,
		Family:               string(d.Family),
		Description:          d.Description,
		PublicInputs:         d.PublicInputs,
		AccessTiers:          d.AccessTiers,
		PricePerVerification: d.PricePerVerification,
	}
}

// KeyPublisher exposes the receipt verification key.
type KeyPublisher interface {
	JWK() receipt.JWK
}

// CatalogHandler serves the read-only predicate and key endpoints.
type CatalogHandler struct {
	registry PredicateCatalog
	keys     KeyPublisher
	logger   logger.Logger
}

func NewCatalogHandler(registry PredicateCatalog, keys KeyPublisher, log logger.Logger) *CatalogHandler {
	return &CatalogHandler{registry: registry, keys: keys, logger: log}
}

// ListPredicates returns every registered predicate.
func (h *CatalogHandler) ListPredicates(w http.ResponseWriter, r *http.Request) {
	descs := h.registry.List()
	out := make([]PredicateView, 0, len(descs))
	for _, d := range descs {
		out = append(out, newPredicateView(d))
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"predicates": out,
		"count":      len(out),
	})
}

// GetPredicate accepts the canonical id, with dots or underscores in the version.
func (h *CatalogHandler) GetPredicate(w http.ResponseWriter, r *http.Request) {
	id := domain.ParsePredicateID(mux.Vars(r)["id"]).Canonical()
	d, ok := h.registry.Lookup(id)
	if !ok {
		respondError(w, h.logger, http.StatusNotFound, "Unknown predicate: "+strings.TrimSpace(mux.Vars(r)["id"]))
		return
	}
	respondJSON(w, h.logger, http.StatusOK, newPredicateView(d))
}

// Keys publishes the receipt signing key as a JWK set.
func (h *CatalogHandler) Keys(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"keys": []receipt.JWK{h.keys.JWK()},
	})
}
