package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	crdtkit "github.com/c0deZ3R0/go-crdt-kit"
	"github.com/c0deZ3R0/go-crdt-kit/codec"
	"github.com/c0deZ3R0/go-crdt-kit/errors"
	"github.com/c0deZ3R0/go-crdt-kit/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	if errors.Wrap(nil, errors.OpLoad, "store") != nil {
		t.Fatal("Wrap(nil) should return nil")
	}

	plain := stderrors.New("disk full")
	err := errors.Wrap(plain, errors.OpStore, "store")
	var kitErr *errors.KitError
	require.True(t, stderrors.As(err, &kitErr))
	assert.Equal(t, errors.OpStore, kitErr.Op)
	assert.Equal(t, "store", kitErr.Component)
	assert.ErrorIs(t, err, plain)
}

func TestWrapPreservesCodeAndRetryability(t *testing.T) {
	inner := errors.NewDecodingError(errors.OpApplyUpdate, "document", stderrors.New("bad bytes"))
	wrapped := errors.Wrap(fmt.Errorf("replay seq 3: %w", inner), errors.OpLoad, "store")

	assert.True(t, errors.IsCode(wrapped, errors.ErrCodeDecodingFailure))
	assert.False(t, errors.IsRetryable(wrapped))

	retryable := errors.NewStorageError(errors.OpStore, stderrors.New("db down"))
	assert.True(t, errors.IsRetryable(errors.Wrap(retryable, errors.OpLoad, "store")))
}

// Errors crossing package boundaries must keep their code so callers can
// branch on the taxonomy rather than on message text.
func TestDocumentApplyPropagation(t *testing.T) {
	doc := crdtkit.NewDocument()
	err := doc.ApplyUpdateV1([]byte{0xde, 0xad, 0xbe, 0xef}, "test")
	require.Error(t, err)

	var kitErr *errors.KitError
	require.True(t, stderrors.As(err, &kitErr))
	assert.Equal(t, errors.OpApplyUpdate, kitErr.Op)
	assert.Equal(t, "document", kitErr.Component)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDecodingFailure))
	assert.False(t, errors.IsRetryable(err))
}

func TestStorePropagation(t *testing.T) {
	store, err := sqlite.NewWithDataSource(":memory:")
	require.NoError(t, err)

	ctx := context.Background()
	doc := crdtkit.NewDocument()

	// A corrupt row surfaces as a decoding failure, not a retryable
	// storage failure.
	require.NoError(t, store.Append(ctx, doc.GUID(), codec.FormatV1, []byte{0xff, 0xff, 0xff}))
	applied, err := store.LoadInto(ctx, doc, "test")
	assert.Equal(t, 0, applied)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDecodingFailure))
	assert.False(t, errors.IsRetryable(err))

	// A closed store is a retryable storage failure.
	require.NoError(t, store.Close())
	err = store.Append(ctx, doc.GUID(), codec.FormatV1, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageFailure))
	assert.True(t, errors.IsRetryable(err))
	assert.ErrorIs(t, err, sqlite.ErrStoreClosed)
}
