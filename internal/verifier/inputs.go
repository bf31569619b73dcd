package verifier

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"zkdpp/internal/domain"
	"zkdpp/pkg/errors"

	"github.com/pelletier/go-toml/v2"
)

const bindingLen = 32

// InputField is one named public input. Exactly one of Bytes or Scalar is set.
type InputField struct {
	Name   string
	Bytes  []byte
	Scalar *big.Int
}

// InputSet is the ordered public input layout of a predicate.
type InputSet []InputField

// BuildInputs lays out public inputs for the predicate's family. The order is the
// circuit's public parameter order.
func BuildInputs(predicate *domain.PredicateDescriptor, in domain.PublicInputs) (InputSet, error) {
	var set InputSet

	switch predicate.Family {
	case domain.FamilyThreshold, "":
		if in.Threshold == nil {
			return nil, errors.Wrap(errors.ErrInvalidPublicInput, "threshold is required")
		}
		set = append(set, scalarField("threshold", *in.Threshold))
	case domain.FamilyCertValidity:
		if in.Timestamp == nil {
			return nil, errors.Wrap(errors.ErrInvalidPublicInput, "timestamp is required")
		}
		set = append(set, scalarField("check_timestamp", *in.Timestamp))
	case domain.FamilySubstanceCheck:
		raw, _ := in.Extra["forbiddenListHash"].(string)
		b, err := decodeBinding("forbidden_list_hash", raw, false)
		if err != nil {
			return nil, err
		}
		set = append(set, InputField{Name: "forbidden_list_hash", Bytes: b})
	default:
		return nil, errors.Wrap(errors.ErrInvalidPublicInput, fmt.Sprintf("unsupported predicate family %q", predicate.Family))
	}

	for _, f := range []struct {
		name     string
		value    string
		optional bool
	}{
		{"commitment_root", in.CommitmentRoot, false},
		{"product_binding", in.ProductBinding, true},
		{"requester_binding", in.RequesterBinding, true},
	} {
		b, err := decodeBinding(f.name, f.value, f.optional)
		if err != nil {
			return nil, err
		}
		set = append(set, InputField{Name: f.name, Bytes: b})
	}
	return set, nil
}

func scalarField(name string, v uint64) InputField {
	return InputField{Name: name, Scalar: new(big.Int).SetUint64(v)}
}

// decodeBinding returns 32 bytes. Optional empty bindings become all-zero arrays.
func decodeBinding(name, value string, optional bool) ([]byte, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if value == "" {
		if optional {
			return make([]byte, bindingLen), nil
		}
		return nil, errors.Wrap(errors.ErrInvalidPublicInput, name+" is required")
	}
	b, err := hex.DecodeString(value)
	if err != nil || len(b) != bindingLen {
		return nil, errors.Wrap(errors.ErrInvalidPublicInput, name+" must be 32 bytes of hex")
	}
	return b, nil
}

// TOML renders the input descriptor consumed by the external toolchain: 32-byte fields as
// arrays of decimal bytes and scalar fields as decimal strings.
func (s InputSet) TOML() ([]byte, error) {
	doc := make(map[string]interface{}, len(s))
	for _, f := range s {
		if f.Scalar != nil {
			doc[f.Name] = f.Scalar.String()
			continue
		}
		arr := make([]int, len(f.Bytes))
		for i, b := range f.Bytes {
			arr[i] = int(b)
		}
		doc[f.Name] = arr
	}
	return toml.Marshal(doc)
}

// FieldElements flattens the set into circuit field elements, one per byte for binding
// fields and one per scalar.
func (s InputSet) FieldElements() []*big.Int {
	var out []*big.Int
	for _, f := range s {
		if f.Scalar != nil {
			out = append(out, new(big.Int).Set(f.Scalar))
			continue
		}
		for _, b := range f.Bytes {
			out = append(out, big.NewInt(int64(b)))
		}
	}
	return out
}

// Names lists the field names in order.
func (s InputSet) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

func (f InputField) String() string {
	if f.Scalar != nil {
		return f.Name + "=" + f.Scalar.String()
	}
	return f.Name + "=[" + strconv.Itoa(len(f.Bytes)) + " bytes]"
}
