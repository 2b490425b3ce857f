package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKitErrorMessage(t *testing.T) {
	cause := stderrors.New("boom")
	err := NewDecodingError(OpApplyUpdate, "document", cause)
	msg := err.Error()
	assert.Contains(t, msg, "apply_update")
	assert.Contains(t, msg, "document")
	assert.Contains(t, msg, "DECODING_FAILURE")
	assert.Contains(t, msg, "boom")
}

func TestKitErrorWithoutComponent(t *testing.T) {
	err := New(OpClose, stderrors.New("x"))
	assert.Contains(t, err.Error(), "close operation failed")
	assert.NotContains(t, err.Error(), "component")
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := NewPreconditionError(OpBeginTransaction, "document", cause)
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("outer: %w", err)
	var kitErr *KitError
	assert.True(t, stderrors.As(wrapped, &kitErr))
	assert.Equal(t, ErrCodePrecondition, kitErr.Code)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewStorageError(OpStore, stderrors.New("db down"))))
	assert.True(t, IsRetryable(NewNetworkError(OpTransport, stderrors.New("conn reset"))))
	assert.False(t, IsRetryable(NewDecodingError(OpApplyUpdate, "codec", stderrors.New("bad bytes"))))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestIsCode(t *testing.T) {
	err := NewSerializationError(OpSetState, "awareness", stderrors.New("chan int"))
	assert.True(t, IsCode(err, ErrCodeSerializationFailure))
	assert.False(t, IsCode(err, ErrCodeDecodingFailure))
	assert.False(t, IsCode(stderrors.New("plain"), ErrCodeSerializationFailure))

	wrapped := fmt.Errorf("ctx: %w", err)
	assert.True(t, IsCode(wrapped, ErrCodeSerializationFailure))
}
