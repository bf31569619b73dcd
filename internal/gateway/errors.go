package gateway

import (
	"net/http"

	"zkdpp/pkg/errors"
)

// Code classifies why a verification did not produce a receipt.
type Code string

const (
	CodeMalformedPackage       Code = "MALFORMED_PACKAGE"
	CodeUnknownPredicate       Code = "UNKNOWN_PREDICATE"
	CodeStaleOrFutureProof     Code = "STALE_OR_FUTURE_PROOF"
	CodeReplayDetected         Code = "REPLAY_DETECTED"
	CodeProofRejected          Code = "PROOF_REJECTED"
	CodeVerifierUnavailable    Code = "VERIFIER_UNAVAILABLE"
	CodeSigningFailure         Code = "SIGNING_FAILURE"
	CodeReplayStoreUnavailable Code = "REPLAY_STORE_UNAVAILABLE"
)

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrMalformedPackage       = &VerificationError{Code: CodeMalformedPackage}
	ErrUnknownPredicate       = &VerificationError{Code: CodeUnknownPredicate}
	ErrStaleOrFutureProof     = &VerificationError{Code: CodeStaleOrFutureProof}
	ErrReplayDetected         = &VerificationError{Code: CodeReplayDetected}
	ErrProofRejected          = &VerificationError{Code: CodeProofRejected}
	ErrVerifierUnavailable    = &VerificationError{Code: CodeVerifierUnavailable}
	ErrSigningFailure         = &VerificationError{Code: CodeSigningFailure}
	ErrReplayStoreUnavailable = &VerificationError{Code: CodeReplayStoreUnavailable}
)

// VerificationError is the only error type Verify returns.
type VerificationError struct {
	Code    Code
	Message string
	Cause   error
}

func newError(code Code, message string, cause error) *VerificationError {
	return &VerificationError{Code: code, Message: message, Cause: cause}
}

func (e *VerificationError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *VerificationError) Unwrap() error { return e.Cause }

func (e *VerificationError) Is(target error) bool {
	t, ok := target.(*VerificationError)
	return ok && t.Code == e.Code
}

// CallerError reports whether the failure is attributable to the submitted package.
func (e *VerificationError) CallerError() bool {
	switch e.Code {
	case CodeMalformedPackage, CodeUnknownPredicate, CodeStaleOrFutureProof, CodeReplayDetected, CodeProofRejected:
		return true
	}
	return false
}

// Retryable reports whether resubmitting with a fresh nonce may succeed.
func (e *VerificationError) Retryable() bool {
	return !e.CallerError()
}

func (e *VerificationError) HTTPStatus() int {
	switch e.Code {
	case CodeVerifierUnavailable, CodeReplayStoreUnavailable:
		return http.StatusServiceUnavailable
	case CodeSigningFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// AsVerificationError extracts a VerificationError, classifying anything else as an
// unavailable verifier.
func AsVerificationError(err error) *VerificationError {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve
	}
	return newError(CodeVerifierUnavailable, "Verifier unavailable", err)
}
