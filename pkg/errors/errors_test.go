package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codedErr struct{ code string }

func (e *codedErr) Error() string { return e.code }

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	err := Wrap(ErrPredicateNotFound, "lookup CERT_VALID_V1")
	assert.EqualError(t, err, "lookup CERT_VALID_V1: predicate not found")
	assert.True(t, Is(err, ErrPredicateNotFound))
	assert.False(t, Is(err, ErrInvalidRegistry))
}

func TestAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(&codedErr{code: "X"}, "inner"))
	var target *codedErr
	assert.True(t, As(err, &target))
	assert.Equal(t, "X", target.code)
}
