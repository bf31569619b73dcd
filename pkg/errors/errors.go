// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrPredicateNotFound  = errors.New("predicate not found")
	ErrInvalidRegistry    = errors.New("invalid predicate registry")
	ErrDuplicatePredicate = errors.New("duplicate predicate in registry")

	// Signing key errors
	ErrSigningKeyMissing = errors.New("receipt signing key not configured")
	ErrInvalidSigningKey = errors.New("invalid receipt signing key")
	ErrSignerClosed      = errors.New("receipt signer closed")
	ErrInvalidReceipt    = errors.New("invalid receipt token")

	// Verifier backend errors
	ErrArtifactNotFound   = errors.New("circuit artifact not found")
	ErrVerifierTimeout    = errors.New("external verifier timed out")
	ErrMockNotEnabled     = errors.New("mock verifier requested but not explicitly enabled")
	ErrUnknownBackend     = errors.New("unknown verifier backend")
	ErrInvalidPublicInput = errors.New("invalid public input")

	// API access errors
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrTierForbidden = errors.New("access tier not permitted for predicate")

	ErrGatewayClosed = errors.New("gateway is shutting down")
)

// New is a passthrough so callers do not need the stdlib package alongside this one.
func New(message string) error {
	return errors.New(message)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
