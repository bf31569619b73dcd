package verifier

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"zkdpp/internal/domain"
	"zkdpp/pkg/errors"
	"zkdpp/pkg/logger"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
)

// Groth16Verifier checks gnark Groth16 proofs over BN254 in process. The public witness is
// the predicate's input layout flattened into field elements, so circuits must declare
// their public fields in the same order.
type Groth16Verifier struct {
	circuitsDir string
	curve       ecc.ID
	logger      logger.Logger

	mu   sync.Mutex
	keys map[string]groth16.VerifyingKey
}

func NewGroth16Verifier(circuitsDir string, log logger.Logger) *Groth16Verifier {
	return &Groth16Verifier{
		circuitsDir: circuitsDir,
		curve:       ecc.BN254,
		logger:      log,
		keys:        make(map[string]groth16.VerifyingKey),
	}
}

func (v *Groth16Verifier) Verify(ctx context.Context, predicate *domain.PredicateDescriptor, proof []byte, inputs domain.PublicInputs) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	set, err := BuildInputs(predicate, inputs)
	if err != nil {
		return rejected(err.Error()), nil
	}

	vk, err := v.verifyingKey(predicate)
	if err != nil {
		return Result{}, err
	}

	p := groth16.NewProof(v.curve)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return rejected(fmt.Sprintf("malformed proof: %v", err)), nil
	}

	public, err := publicWitness(v.curve, set)
	if err != nil {
		return rejected(err.Error()), nil
	}

	if err := groth16.Verify(p, vk, public); err != nil {
		return rejected(err.Error()), nil
	}
	return accepted(), nil
}

// Check reports nothing to probe; keys load lazily.
func (v *Groth16Verifier) Check(_ context.Context) error { return nil }

func (v *Groth16Verifier) keyPath(predicate *domain.PredicateDescriptor) string {
	path := predicate.VerifyingKeyPath
	if path == "" {
		path = filepath.Join(predicate.CircuitPath, packageName(predicate)+".vk")
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(v.circuitsDir, path)
}

func (v *Groth16Verifier) verifyingKey(predicate *domain.PredicateDescriptor) (groth16.VerifyingKey, error) {
	id := predicate.ID.Canonical()

	v.mu.Lock()
	defer v.mu.Unlock()
	if vk, ok := v.keys[id]; ok {
		return vk, nil
	}

	path := v.keyPath(predicate)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrArtifactNotFound, path)
	}
	defer f.Close()

	vk := groth16.NewVerifyingKey(v.curve)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read verifying key %s: %w", path, err)
	}
	v.keys[id] = vk
	v.logger.Info("Verifying key loaded", map[string]interface{}{
		"predicate_id": id,
		"path":         path,
	})
	return vk, nil
}

func publicWitness(curve ecc.ID, set InputSet) (witness.Witness, error) {
	elems := set.FieldElements()
	w, err := witness.New(curve.ScalarField())
	if err != nil {
		return nil, err
	}
	values := make(chan any, len(elems))
	for _, e := range elems {
		values <- e
	}
	close(values)
	if err := w.Fill(len(elems), 0, values); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidPublicInput, err.Error())
	}
	return w, nil
}
