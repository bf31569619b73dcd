package verifier

import (
	"context"

	"zkdpp/internal/domain"
)

// MockVerifier accepts every proof except one made entirely of zero bytes. It exists for
// local development and must never be selected implicitly.
type MockVerifier struct{}

func NewMockVerifier() *MockVerifier { return &MockVerifier{} }

func (MockVerifier) Verify(ctx context.Context, _ *domain.PredicateDescriptor, proof []byte, _ domain.PublicInputs) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	for _, b := range proof {
		if b != 0 {
			return accepted(), nil
		}
	}
	return rejected("mock verifier: all-zero proof"), nil
}
