// Package registry holds the read-only predicate lookup table consulted by the gateway.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"zkdpp/internal/domain"
	"zkdpp/pkg/errors"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Registry maps canonical predicate ids to descriptors. It is never mutated after New.
type Registry struct {
	byID map[string]*domain.PredicateDescriptor
}

// New builds a registry, rejecting duplicate or incomplete descriptors.
func New(descriptors []domain.PredicateDescriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]*domain.PredicateDescriptor, len(descriptors))}
	for i := range descriptors {
		d := descriptors[i]
		if strings.TrimSpace(d.ID.Name) == "" || strings.TrimSpace(d.ID.Version) == "" {
			return nil, errors.Wrap(errors.ErrInvalidRegistry, fmt.Sprintf("entry %d has no name or version", i))
		}
		if d.Family == "" {
			d.Family = domain.FamilyThreshold
		}
		key := d.ID.Canonical()
		if _, exists := r.byID[key]; exists {
			return nil, errors.Wrap(errors.ErrDuplicatePredicate, key)
		}
		d.PublicInputs = append([]string(nil), d.PublicInputs...)
		d.AccessTiers = append([]string(nil), d.AccessTiers...)
		r.byID[key] = &d
	}
	return r, nil
}

// Lookup resolves a canonical id. The returned descriptor must not be modified.
func (r *Registry) Lookup(canonicalID string) (*domain.PredicateDescriptor, bool) {
	d, ok := r.byID[canonicalID]
	return d, ok
}

// List returns descriptors ordered by canonical id.
func (r *Registry) List() []*domain.PredicateDescriptor {
	out := make([]*domain.PredicateDescriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Canonical() < out[j].ID.Canonical()
	})
	return out
}

func (r *Registry) Len() int {
	return len(r.byID)
}

type fileEntry struct {
	Name             string   `yaml:"name"`
	Version          string   `yaml:"version"`
	Family           string   `yaml:"family"`
	Description      string   `yaml:"description"`
	CircuitPath      string   `yaml:"circuit_path"`
	VerifyingKeyPath string   `yaml:"verifying_key_path"`
	PublicInputs     []string `yaml:"public_inputs"`
	AccessTiers      []string `yaml:"access_tiers"`
	Price            string   `yaml:"price_per_verification"`
}

type fileFormat struct {
	Predicates []fileEntry `yaml:"predicates"`
}

// LoadFile reads a YAML registry definition.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read predicate registry")
	}
	return Parse(raw)
}

// Parse decodes a YAML registry definition.
func Parse(raw []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRegistry, err.Error())
	}

	descriptors := make([]domain.PredicateDescriptor, 0, len(f.Predicates))
	for _, e := range f.Predicates {
		price := decimal.Zero
		if strings.TrimSpace(e.Price) != "" {
			p, err := decimal.NewFromString(strings.TrimSpace(e.Price))
			if err != nil {
				return nil, errors.Wrap(errors.ErrInvalidRegistry, fmt.Sprintf("%s_%s: price: %v", e.Name, e.Version, err))
			}
			price = p
		}
		descriptors = append(descriptors, domain.PredicateDescriptor{
			ID:                   domain.PredicateID{Name: e.Name, Version: e.Version},
			Family:               domain.PredicateFamily(e.Family),
			Description:          e.Description,
			CircuitPath:          e.CircuitPath,
			VerifyingKeyPath:     e.VerifyingKeyPath,
			PublicInputs:         e.PublicInputs,
			AccessTiers:          e.AccessTiers,
			PricePerVerification: price,
		})
	}
	return New(descriptors)
}

var bindingInputs = []string{"commitment_root", "product_binding", "requester_binding"}

// Defaults returns the predicates shipped with the gateway.
func Defaults() []domain.PredicateDescriptor {
	return []domain.PredicateDescriptor{
		{
			ID:                   domain.PredicateID{Name: "RECYCLED_CONTENT_GTE", Version: "V1"},
			Family:               domain.FamilyThreshold,
			Description:          "Recycled content percentage is greater than or equal to the threshold",
			CircuitPath:          "recycled_content_gte_v1",
			PublicInputs:         append([]string{"threshold"}, bindingInputs...),
			AccessTiers:          []string{"basic", "standard", "premium"},
			PricePerVerification: decimal.RequireFromString("0.05"),
		},
		{
			ID:                   domain.PredicateID{Name: "CARBON_FOOTPRINT_LTE", Version: "V1"},
			Family:               domain.FamilyThreshold,
			Description:          "Product carbon footprint is less than or equal to the threshold",
			CircuitPath:          "carbon_footprint_lte_v1",
			PublicInputs:         append([]string{"threshold"}, bindingInputs...),
			AccessTiers:          []string{"standard", "premium"},
			PricePerVerification: decimal.RequireFromString("0.10"),
		},
		{
			ID:                   domain.PredicateID{Name: "CERT_VALID", Version: "V1"},
			Family:               domain.FamilyCertValidity,
			Description:          "Certificate is valid at the check timestamp",
			CircuitPath:          "cert_valid_v1",
			PublicInputs:         append([]string{"check_timestamp"}, bindingInputs...),
			AccessTiers:          []string{"basic", "standard", "premium"},
			PricePerVerification: decimal.RequireFromString("0.05"),
		},
		{
			ID:                   domain.PredicateID{Name: "SUBSTANCE_NOT_IN_LIST", Version: "V1"},
			Family:               domain.FamilySubstanceCheck,
			Description:          "Product contains none of the substances in the forbidden list",
			CircuitPath:          "substance_not_in_list_v1",
			PublicInputs:         append([]string{"forbidden_list_hash"}, bindingInputs...),
			AccessTiers:          []string{"premium"},
			PricePerVerification: decimal.RequireFromString("0.25"),
		},
	}
}

// Default returns a registry of the built-in predicates.
func Default() *Registry {
	r, err := New(Defaults())
	if err != nil {
		panic(err)
	}
	return r
}
