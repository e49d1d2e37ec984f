package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("connection reset")
	err := NewError(ErrExternalService, "chat completion failed").
		WithCause(root).
		WithNode("llm_1").
		WithHTTPStatus(502).
		WithRetryable(true)

	assert.Equal(t, ErrExternalService, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "node llm_1")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("run failed: %w", Errorf(ErrStructural, "no start node"))

	assert.ErrorIs(t, err, &Error{Code: ErrStructural})
	assert.NotErrorIs(t, err, &Error{Code: ErrRecursionLimit})
}

func TestError_IsRespectsNodeWhenGiven(t *testing.T) {
	t.Parallel()

	err := NewError(ErrUnresolvedReference, "missing output").WithNode("end")

	assert.ErrorIs(t, err, &Error{Code: ErrUnresolvedReference, NodeID: "end"})
	assert.NotErrorIs(t, err, &Error{Code: ErrUnresolvedReference, NodeID: "llm"})
}

func TestIsErrorCode_WalksNestedCauses(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrTypeMismatch, "not a number")
	outer := NewError(ErrExternalService, "wrapped").WithCause(inner)

	assert.True(t, IsErrorCode(outer, ErrExternalService))
	assert.True(t, IsErrorCode(outer, ErrTypeMismatch))
	assert.False(t, IsErrorCode(outer, ErrStructural))
	assert.False(t, IsErrorCode(errors.New("plain"), ErrStructural))
}

func TestGetErrorCode_PlainError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
