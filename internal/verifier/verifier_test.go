package verifier

import (
	"context"
	"testing"

	"zkdpp/internal/domain"
	"zkdpp/pkg/config"
	"zkdpp/pkg/errors"
	"zkdpp/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsBackend(t *testing.T) {
	log := logger.NewNop()

	v, err := New(config.VerifierConfig{Backend: "noir"}, log)
	require.NoError(t, err)
	assert.IsType(t, &NoirVerifier{}, v)

	v, err = New(config.VerifierConfig{Backend: "groth16"}, log)
	require.NoError(t, err)
	assert.IsType(t, &Groth16Verifier{}, v)

	_, err = New(config.VerifierConfig{Backend: "quantum"}, log)
	assert.True(t, errors.Is(err, errors.ErrUnknownBackend))
}

func TestMockRequiresExplicitEnable(t *testing.T) {
	_, err := New(config.VerifierConfig{Backend: "mock"}, logger.NewNop())
	assert.True(t, errors.Is(err, errors.ErrMockNotEnabled))

	v, err := New(config.VerifierConfig{Backend: "mock", MockEnabled: true}, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MockVerifier{}, v)
}

func TestMockVerifier(t *testing.T) {
	v := NewMockVerifier()
	pred := &domain.PredicateDescriptor{}

	res, err := v.Verify(context.Background(), pred, []byte{0, 0, 1}, domain.PublicInputs{})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = v.Verify(context.Background(), pred, make([]byte, 32), domain.PublicInputs{})
	require.NoError(t, err)
	assert.False(t, res.Valid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.Verify(ctx, pred, []byte{1}, domain.PublicInputs{})
	assert.Error(t, err)
}
