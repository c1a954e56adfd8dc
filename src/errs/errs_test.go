package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapClassifiesAndUnwraps(t *testing.T) {
	base := errors.New("connection refused")
	err := Upstream("embed", base)

	require.Error(t, err)
	assert.True(t, IsUpstream(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "embed: connection refused", err.Error())
}

func TestWrapKeepsContextCancellation(t *testing.T) {
	err := Upstream("model", context.Canceled)
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, KindUnknown, KindOf(err))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindInvalidInput, "op", nil))
}

func TestSentinelsMatchThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("synthesize: %w", ErrPhotoRequired)
	assert.ErrorIs(t, wrapped, ErrPhotoRequired)
	assert.False(t, errors.Is(wrapped, ErrNoImageData))
	assert.Equal(t, "photo required", UserMessage(wrapped))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "synthesis_rejected", KindSynthesisRejected.String())
}

func TestInvalidFormatsMessage(t *testing.T) {
	err := Invalid("search", "limit %q is not a number", "ten")
	assert.True(t, IsInvalid(err))
	assert.Equal(t, `limit "ten" is not a number`, UserMessage(err))
}
