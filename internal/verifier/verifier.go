// Package verifier checks proof soundness through a pluggable backend. The gateway treats
// every backend as an accept/reject oracle: rejections come back in Result, while problems
// with the backend itself come back as errors.
package verifier

import (
	"context"
	"time"

	"zkdpp/internal/domain"
	"zkdpp/pkg/config"
	"zkdpp/pkg/errors"
	"zkdpp/pkg/logger"
)

// Result is the outcome of a completed verification.
type Result struct {
	Valid  bool
	Reason string
}

// Verifier is implemented by every proof backend.
type Verifier interface {
	Verify(ctx context.Context, predicate *domain.PredicateDescriptor, proof []byte, inputs domain.PublicInputs) (Result, error)
}

// Checker is implemented by backends that can report readiness.
type Checker interface {
	Check(ctx context.Context) error
}

func accepted() Result { return Result{Valid: true} }

func rejected(reason string) Result { return Result{Valid: false, Reason: reason} }

// New selects a backend from configuration. The mock backend is only returned when it
// has been enabled explicitly.
func New(cfg config.VerifierConfig, log logger.Logger) (Verifier, error) {
	switch cfg.Backend {
	case "noir", "":
		return NewNoirVerifier(NoirConfig{
			NargoBin:    cfg.NargoBin,
			CircuitsDir: cfg.CircuitsDir,
			CacheDir:    cfg.CacheDir,
			VerifyArgs:  cfg.VerifyArgs,
			Timeout:     cfg.Timeout,
		}, log), nil
	case "groth16":
		return NewGroth16Verifier(cfg.CircuitsDir, log), nil
	case "mock":
		if !cfg.MockEnabled {
			return nil, errors.ErrMockNotEnabled
		}
		log.Error("MOCK VERIFIER ENABLED: proofs are not cryptographically checked", map[string]interface{}{
			"backend": "mock",
		})
		return NewMockVerifier(), nil
	default:
		return nil, errors.Wrap(errors.ErrUnknownBackend, cfg.Backend)
	}
}

func defaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
