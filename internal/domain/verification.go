package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PredicateID identifies a versioned predicate circuit.
type PredicateID struct {
	Name    string `json:"name" yaml:"name" validate:"required,max=128"`
	Version string `json:"version" yaml:"version" validate:"required,max=32"`
}

// Canonical returns the registry key, e.g. RECYCLED_CONTENT_GTE_V1.
func (p PredicateID) Canonical() string {
	return p.Name + "_" + strings.ReplaceAll(p.Version, ".", "_")
}

func (p PredicateID) String() string {
	return p.Canonical()
}

// ParsePredicateID splits a canonical id on its last underscore.
func ParsePredicateID(s string) PredicateID {
	s = strings.TrimSpace(s)
	i := strings.LastIndex(s, "_")
	if i <= 0 || i == len(s)-1 {
		return PredicateID{Name: s}
	}
	return PredicateID{Name: s[:i], Version: s[i+1:]}
}

// UnmarshalJSON accepts either {"name":..,"version":..} or the canonical string form.
func (p *PredicateID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ParsePredicateID(s)
		return nil
	}
	type plain PredicateID
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("predicateId: %w", err)
	}
	*p = PredicateID(v)
	return nil
}

// PredicateFamily selects the public input layout handed to the verifier.
type PredicateFamily string

const (
	FamilyThreshold      PredicateFamily = "threshold"
	FamilyCertValidity   PredicateFamily = "cert_validity"
	FamilySubstanceCheck PredicateFamily = "substance_not_in_list"
)

// PredicateDescriptor is immutable once the registry is loaded.
type PredicateDescriptor struct {
	ID                   PredicateID     `json:"id" yaml:"id"`
	Family               PredicateFamily `json:"family" yaml:"family"`
	Description          string          `json:"description" yaml:"description"`
	CircuitPath          string          `json:"circuitPath" yaml:"circuit_path"`
	VerifyingKeyPath     string          `json:"-" yaml:"verifying_key_path"`
	PublicInputs         []string        `json:"publicInputs" yaml:"public_inputs"`
	AccessTiers          []string        `json:"accessTiers" yaml:"access_tiers"`
	PricePerVerification decimal.Decimal `json:"pricePerVerification" yaml:"price_per_verification"`
}

// AllowsTier reports whether callers of the given tier may request this predicate.
// An empty tier list means the predicate is open to every tier.
func (d *PredicateDescriptor) AllowsTier(tier string) bool {
	if len(d.AccessTiers) == 0 {
		return true
	}
	for _, t := range d.AccessTiers {
		if strings.EqualFold(t, tier) {
			return true
		}
	}
	return false
}

// PublicInputs are visible to the verifier. Binding fields are hex-encoded 32-byte values.
type PublicInputs struct {
	Threshold        *uint64                `json:"threshold,omitempty"`
	CommitmentRoot   string                 `json:"commitmentRoot" validate:"required,hex32"`
	ProductBinding   string                 `json:"productBinding,omitempty" validate:"omitempty,hex32"`
	RequesterBinding string                 `json:"requesterBinding,omitempty" validate:"omitempty,hex32"`
	Timestamp        *uint64                `json:"timestamp,omitempty"`
	Extra            map[string]interface{} `json:"extra,omitempty"`
}

// PackageContext carries optional business identifiers echoed into the receipt.
type PackageContext struct {
	SupplierID  string `json:"supplierId,omitempty" validate:"omitempty,max=128"`
	RequesterID string `json:"requesterId,omitempty" validate:"omitempty,max=128"`
	ProductID   string `json:"productId,omitempty" validate:"omitempty,max=128"`
}

// ProofPackage is the untrusted, caller-submitted verification request.
type ProofPackage struct {
	PredicateID  PredicateID     `json:"predicateId" validate:"required"`
	Proof        string          `json:"proof" validate:"required,hexeven,min=64"`
	PublicInputs *PublicInputs   `json:"publicInputs" validate:"required"`
	Nonce        string          `json:"nonce" validate:"required,max=256"`
	GeneratedAt  int64           `json:"generatedAt" validate:"required,gt=0"`
	Context      *PackageContext `json:"context,omitempty"`
}

// NonceRecord is the replay guard entry for a consumed nonce.
type NonceRecord struct {
	Nonce       string
	PredicateID string
	FirstSeenAt time.Time
	ExpiresAt   time.Time
}

// ReceiptClaims is the minimal signed surface of a receipt.
type ReceiptClaims struct {
	ReceiptID      uuid.UUID
	PredicateID    string
	CommitmentRoot string
	Result         bool
	IssuedAt       time.Time
}

// VerificationReceipt is returned to the caller; the gateway keeps no copy.
type VerificationReceipt struct {
	ID               uuid.UUID `json:"id"`
	PredicateID      string    `json:"predicateId"`
	Result           bool      `json:"result"`
	CommitmentRoot   string    `json:"commitmentRoot"`
	ProductBinding   string    `json:"productBinding,omitempty"`
	RequesterBinding string    `json:"requesterBinding,omitempty"`
	SupplierID       string    `json:"supplierId,omitempty"`
	RequesterID      string    `json:"requesterId,omitempty"`
	Nonce            string    `json:"nonce"`
	VerifiedAt       time.Time `json:"verifiedAt"`
	GatewayID        string    `json:"gatewayId"`
	Signature        string    `json:"gatewaySignature"`
}

// Claims returns the signed subset of the receipt.
func (r *VerificationReceipt) Claims() ReceiptClaims {
	return ReceiptClaims{
		ReceiptID:      r.ID,
		PredicateID:    r.PredicateID,
		CommitmentRoot: r.CommitmentRoot,
		Result:         r.Result,
		IssuedAt:       r.VerifiedAt,
	}
}

// VerificationEvent is published for billing and passport composition after a success.
type VerificationEvent struct {
	ReceiptID      uuid.UUID `json:"receiptId"`
	PredicateID    string    `json:"predicateId"`
	SupplierID     string    `json:"supplierId,omitempty"`
	RequesterID    string    `json:"requesterId,omitempty"`
	Result         bool      `json:"result"`
	CommitmentRoot string    `json:"commitmentRoot"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// NewVerificationEvent derives the side-channel event from a receipt.
func NewVerificationEvent(r *VerificationReceipt) VerificationEvent {
	return VerificationEvent{
		ReceiptID:      r.ID,
		PredicateID:    r.PredicateID,
		SupplierID:     r.SupplierID,
		RequesterID:    r.RequesterID,
		Result:         r.Result,
		CommitmentRoot: r.CommitmentRoot,
		OccurredAt:     r.VerifiedAt,
	}
}

// AttemptOutcome classifies a verification attempt for the audit trail.
type AttemptOutcome string

const (
	OutcomeAccepted AttemptOutcome = "accepted"
	OutcomeRejected AttemptOutcome = "rejected"
	OutcomeFailed   AttemptOutcome = "failed"
)

// VerificationAttempt is the audit record of one verify call. Proof bytes are never kept.
type VerificationAttempt struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	RequestID   string         `db:"request_id" json:"requestId"`
	PredicateID string         `db:"predicate_id" json:"predicateId"`
	Nonce       string         `db:"nonce" json:"nonce"`
	Outcome     AttemptOutcome `db:"outcome" json:"outcome"`
	ErrorCode   *string        `db:"error_code" json:"errorCode,omitempty"`
	DurationMs  int64          `db:"duration_ms" json:"durationMs"`
	SupplierID  *string        `db:"supplier_id" json:"supplierId,omitempty"`
	RequesterID *string        `db:"requester_id" json:"requesterId,omitempty"`
	ReceiptID   *uuid.UUID     `db:"receipt_id" json:"receiptId,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
}
