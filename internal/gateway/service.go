// Package gateway sequences the verification gates and issues signed receipts.
package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"zkdpp/internal/domain"
	"zkdpp/internal/middleware"
	"zkdpp/internal/replay"
	"zkdpp/internal/verifier"
	"zkdpp/pkg/errors"
	"zkdpp/pkg/logger"
	"zkdpp/pkg/validator"

	"github.com/google/uuid"
)

// DefaultFreshnessWindow bounds |now - generatedAt|.
const DefaultFreshnessWindow = 5 * time.Minute

// generatedAt values below this are epoch seconds.
const epochMillisThreshold = 1_000_000_000_000

// PredicateLookup resolves canonical predicate ids.
type PredicateLookup interface {
	Lookup(canonicalID string) (*domain.PredicateDescriptor, bool)
}

// Signer signs receipt claims and owns the key material.
type Signer interface {
	Sign(claims domain.ReceiptClaims) (string, error)
	Close()
}

// EventPublisher receives events for accepted verifications. Publish must not block.
type EventPublisher interface {
	Publish(event domain.VerificationEvent)
}

// AttemptRecorder stores the audit trail. Record must not block.
type AttemptRecorder interface {
	Record(attempt *domain.VerificationAttempt)
}

// Observer records verification metrics.
type Observer interface {
	ObserveVerification(predicateID string, outcome domain.AttemptOutcome, code string, elapsed time.Duration)
}

// Options carries optional collaborators and tunables.
type Options struct {
	GatewayID       string
	FreshnessWindow time.Duration
	Now             func() time.Time
	Events          EventPublisher
	Recorder        AttemptRecorder
	Observer        Observer
}

// Service is the verification orchestrator.
type Service struct {
	registry  PredicateLookup
	guard     replay.Guard
	verifier  verifier.Verifier
	signer    Signer
	validator *validator.Validator
	logger    logger.Logger

	gatewayID string
	window    time.Duration
	now       func() time.Time
	events    EventPublisher
	recorder  AttemptRecorder
	observer  Observer

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func NewService(reg PredicateLookup, guard replay.Guard, v verifier.Verifier, signer Signer, val *validator.Validator, log logger.Logger, opts Options) *Service {
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = DefaultFreshnessWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if val == nil {
		val = validator.New()
	}
	return &Service{
		registry:  reg,
		guard:     guard,
		verifier:  v,
		signer:    signer,
		validator: val,
		logger:    log,
		gatewayID: opts.GatewayID,
		window:    opts.FreshnessWindow,
		now:       opts.Now,
		events:    opts.Events,
		recorder:  opts.Recorder,
		observer:  opts.Observer,
	}
}

// Start launches the replay guard's eviction loop.
func (s *Service) Start() {
	s.guard.Start()
}

// Shutdown stops eviction, refuses new work, waits for in-flight verifications until ctx
// is done, and then releases the signing key.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.guard.Stop()

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "in-flight verifications did not drain")
		s.logger.Warn("Shutdown grace period elapsed with verifications in flight", nil)
	}

	s.signer.Close()
	s.logger.Info("Gateway stopped", map[string]interface{}{"gateway_id": s.gatewayID})
	return err
}

func (s *Service) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Verify runs every gate in order and returns a signed receipt only if all of them pass.
// Any returned error is a *VerificationError.
func (s *Service) Verify(ctx context.Context, pkg *domain.ProofPackage) (*domain.VerificationReceipt, error) {
	if !s.enter() {
		return nil, newError(CodeVerifierUnavailable, "Gateway is shutting down", errors.ErrGatewayClosed)
	}
	defer s.inflight.Done()

	started := s.now()
	receipt, verr := s.verify(ctx, pkg)
	s.finish(ctx, pkg, receipt, verr, s.now().Sub(started))
	if verr != nil {
		return nil, verr
	}
	return receipt, nil
}

func (s *Service) verify(ctx context.Context, pkg *domain.ProofPackage) (*domain.VerificationReceipt, *VerificationError) {
	// 1. Structure.
	proof, verr := s.checkStructure(pkg)
	if verr != nil {
		return nil, verr
	}

	// 2. Predicate.
	canonical := pkg.PredicateID.Canonical()
	predicate, ok := s.registry.Lookup(canonical)
	if !ok {
		return nil, newError(CodeUnknownPredicate, "Unknown predicate: "+canonical, errors.ErrPredicateNotFound)
	}

	// 3. Freshness.
	if verr := s.checkFreshness(pkg.GeneratedAt); verr != nil {
		return nil, verr
	}

	// 4. Replay. The nonce stays consumed whatever happens next.
	generated := time.UnixMilli(normalizeGeneratedAt(pkg.GeneratedAt))
	fresh, err := s.guard.CheckAndStore(ctx, pkg.Nonce, canonical, generated)
	if err != nil {
		return nil, newError(CodeReplayStoreUnavailable, "Replay store unavailable", err)
	}
	if !fresh {
		return nil, newError(CodeReplayDetected, "Nonce replay detected", nil)
	}

	// 5. Proof.
	inputs := s.verifierInputs(predicate, pkg)
	result, err := s.runVerifier(ctx, predicate, proof, inputs)
	if err != nil {
		return nil, newError(CodeVerifierUnavailable, "Verifier unavailable", err)
	}
	if !result.Valid {
		msg := "Proof rejected"
		if result.Reason != "" {
			msg += ": " + result.Reason
		}
		return nil, newError(CodeProofRejected, msg, nil)
	}

	// 6. Receipt.
	return s.issue(predicate, pkg)
}

func (s *Service) checkStructure(pkg *domain.ProofPackage) ([]byte, *VerificationError) {
	if pkg == nil {
		return nil, newError(CodeMalformedPackage, "Malformed proof package: proofPackage is required", nil)
	}
	if err := s.validator.Validate(pkg); err != nil {
		return nil, newError(CodeMalformedPackage, "Malformed proof package: "+err.Error(), err)
	}
	proof, err := hex.DecodeString(pkg.Proof)
	if err != nil || len(proof) < 32 {
		return nil, newError(CodeMalformedPackage, "Malformed proof package: proof must decode to at least 32 bytes", err)
	}
	return proof, nil
}

// normalizeGeneratedAt converts epoch seconds to epoch milliseconds.
func normalizeGeneratedAt(v int64) int64 {
	if v < epochMillisThreshold {
		return v * 1000
	}
	return v
}

func (s *Service) checkFreshness(generatedAt int64) *VerificationError {
	skew := s.now().UnixMilli() - normalizeGeneratedAt(generatedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.window.Milliseconds() {
		return newError(CodeStaleOrFutureProof,
			fmt.Sprintf("Proof is stale or from the future: generated %dms from now, window is %dms", skew, s.window.Milliseconds()), nil)
	}
	return nil
}

// verifierInputs fills family-specific defaults without touching the caller's package.
func (s *Service) verifierInputs(predicate *domain.PredicateDescriptor, pkg *domain.ProofPackage) domain.PublicInputs {
	inputs := *pkg.PublicInputs
	if predicate.Family == domain.FamilyCertValidity && inputs.Timestamp == nil {
		ts := uint64(normalizeGeneratedAt(pkg.GeneratedAt) / 1000)
		inputs.Timestamp = &ts
	}
	return inputs
}

type verifierOutcome struct {
	result verifier.Result
	err    error
}

// runVerifier detaches the backend call from caller cancellation. If the caller goes away
// the call still completes in the background and its result is dropped.
func (s *Service) runVerifier(ctx context.Context, predicate *domain.PredicateDescriptor, proof []byte, inputs domain.PublicInputs) (verifier.Result, error) {
	done := make(chan verifierOutcome, 1)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				done <- verifierOutcome{err: fmt.Errorf("verifier panic: %v", r)}
			}
		}()
		res, err := s.verifier.Verify(context.WithoutCancel(ctx), predicate, proof, inputs)
		done <- verifierOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return verifier.Result{}, errors.Wrap(ctx.Err(), "request cancelled during verification")
	}
}

func (s *Service) issue(predicate *domain.PredicateDescriptor, pkg *domain.ProofPackage) (*domain.VerificationReceipt, *VerificationError) {
	in := pkg.PublicInputs
	receipt := &domain.VerificationReceipt{
		ID:               uuid.New(),
		PredicateID:      predicate.ID.Canonical(),
		Result:           true,
		CommitmentRoot:   strings.ToLower(strings.TrimPrefix(in.CommitmentRoot, "0x")),
		ProductBinding:   in.ProductBinding,
		RequesterBinding: in.RequesterBinding,
		Nonce:            pkg.Nonce,
		VerifiedAt:       s.now().UTC().Truncate(time.Second),
		GatewayID:        s.gatewayID,
	}
	if pkg.Context != nil {
		receipt.SupplierID = pkg.Context.SupplierID
		receipt.RequesterID = pkg.Context.RequesterID
	}

	sig, err := s.signer.Sign(receipt.Claims())
	if err != nil {
		return nil, newError(CodeSigningFailure, "Receipt signing failed", err)
	}
	receipt.Signature = sig
	return receipt, nil
}

func (s *Service) finish(ctx context.Context, pkg *domain.ProofPackage, receipt *domain.VerificationReceipt, verr *VerificationError, elapsed time.Duration) {
	predicateID, nonce := "", ""
	if pkg != nil {
		predicateID = pkg.PredicateID.Canonical()
		nonce = pkg.Nonce
	}
	requestID := middleware.RequestIDFromContext(ctx)

	fields := map[string]interface{}{
		"request_id":   requestID,
		"predicate_id": predicateID,
		"nonce":        nonce,
		"duration_ms":  elapsed.Milliseconds(),
	}

	outcome := domain.OutcomeAccepted
	code := ""
	switch {
	case verr == nil:
		fields["receipt_id"] = receipt.ID.String()
		s.logger.Info("Proof verified", fields)
	case verr.CallerError():
		outcome = domain.OutcomeRejected
		code = string(verr.Code)
		fields["error_code"] = code
		fields["error"] = verr.Error()
		s.logger.Warn("Verification rejected", fields)
	default:
		outcome = domain.OutcomeFailed
		code = string(verr.Code)
		fields["error_code"] = code
		fields["error"] = verr.Error()
		if verr.Cause != nil {
			fields["cause"] = verr.Cause.Error()
		}
		s.logger.Error("Verification failed", fields)
	}

	if s.observer != nil {
		s.observer.ObserveVerification(predicateID, outcome, code, elapsed)
	}
	if s.recorder != nil {
		s.recorder.Record(buildAttempt(requestID, pkg, receipt, outcome, code, elapsed, s.now()))
	}
	if s.events != nil && receipt != nil {
		s.events.Publish(domain.NewVerificationEvent(receipt))
	}
}

func buildAttempt(requestID string, pkg *domain.ProofPackage, receipt *domain.VerificationReceipt, outcome domain.AttemptOutcome, code string, elapsed time.Duration, now time.Time) *domain.VerificationAttempt {
	a := &domain.VerificationAttempt{
		ID:         uuid.New(),
		RequestID:  requestID,
		Outcome:    outcome,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  now.UTC(),
	}
	if code != "" {
		a.ErrorCode = &code
	}
	if pkg != nil {
		a.PredicateID = pkg.PredicateID.Canonical()
		a.Nonce = pkg.Nonce
		if pkg.Context != nil {
			if pkg.Context.SupplierID != "" {
				a.SupplierID = &pkg.Context.SupplierID
			}
			if pkg.Context.RequesterID != "" {
				a.RequesterID = &pkg.Context.RequesterID
			}
		}
	}
	if receipt != nil {
		id := receipt.ID
		a.ReceiptID = &id
	}
	return a
}
