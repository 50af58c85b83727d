package apperr

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	err := errors.Wrap(Conflict(CodeIdempotencyKeyConflict, "key reused"), "create order")

	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, HasCode(err, CodeIdempotencyKeyConflict))
	assert.False(t, HasCode(err, CodeNotFound))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "key reused", appErr.Message)
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, HasCode(nil, CodeNotFound))
}

func TestIsMatchesByCode(t *testing.T) {
	err := errors.Wrap(NotFound("Order", "ORD_1"), "load")
	assert.True(t, errors.Is(err, NotFound("Slot", "SLT_2")))
	assert.False(t, errors.Is(err, Forbidden("nope")))
}

func TestInternalUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Internal(cause, "save order")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "internal", err.Kind.String())
}
