package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := Mismatch("value", 1, 2)
	assert.Equal(t, "assertion failure: value mismatch: expected 1, got 2", err.Error())

	err = WithPhase(WithEndpoint(err, "integer_endpoint"), "device-datastream")
	assert.Equal(t,
		"phase device-datastream: endpoint integer_endpoint: assertion failure: value mismatch: expected 1, got 2",
		err.Error())
	assert.Equal(t, KindAssertion, KindOf(err))
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(KindEncoding, io.ErrUnexpectedEOF, "decode %s", "payload")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "encoding error: decode payload: unexpected EOF", err.Error())
	assert.Nil(t, Wrap(KindEncoding, nil, "nothing"))
}

func TestWithPhaseOnPlainError(t *testing.T) {
	err := WithPhase(io.EOF, "teardown")
	assert.Equal(t, "phase teardown: error: EOF", err.Error())
	assert.ErrorIs(t, err, io.EOF)
	assert.Nil(t, WithPhase(nil, "discovery"))
}

func TestWithPhaseKeepsInnermostPhase(t *testing.T) {
	inner := WithPhase(New(KindAssertion, "boom"), "server-property")
	outer := WithPhase(inner, "run")
	assert.Equal(t, inner, outer)
}

func TestWithPhaseThroughFmtWrapping(t *testing.T) {
	wrapped := fmt.Errorf("checking: %w", New(KindSchema, "missing field"))
	err := WithPhase(wrapped, "device-aggregate")

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "device-aggregate", e.Phase)
	assert.Equal(t, KindSchema, e.Kind)
	assert.Equal(t, "phase device-aggregate: checking: schema error: missing field", err.Error())
}

func TestIsKindWalksChain(t *testing.T) {
	last := Mismatch("interfaces", []string{"a"}, []string{})
	err := &Error{Kind: KindExhaustedRetries, Message: "too many attempts", Err: last}

	assert.Equal(t, KindExhaustedRetries, KindOf(err))
	assert.True(t, IsKind(err, KindExhaustedRetries))
	assert.True(t, IsKind(err, KindAssertion))
	assert.False(t, IsKind(err, KindSchema))
	assert.False(t, IsKind(io.EOF, KindSchema))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "teardown error", KindTeardown.String())
	assert.Equal(t, "error", Kind(99).String())
}
