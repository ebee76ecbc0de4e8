package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "missing id", Validation("missing id").Error())

	wrapped := Wrap(errors.New("eof"), ErrCodeValidation, "invalid json")
	assert.Equal(t, "invalid json: eof", wrapped.Error())
}

func TestWrap(t *testing.T) {
	cause := errors.New("boom")

	err := Wrapf(cause, ErrCodeInternal, "update %s", "job-1")
	require.NotNil(t, err)
	assert.Equal(t, "update job-1", err.Message)
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, Wrap(nil, ErrCodeInternal, "ignored"))
}

func TestCodePredicates(t *testing.T) {
	nested := fmt.Errorf("outer: %w", NotFound("job record not found"))

	assert.True(t, IsNotFound(nested))
	assert.False(t, IsConflict(nested))
	assert.True(t, IsValidation(ValidationField("id", "required")))
	assert.True(t, IsTimeout(Wrap(errors.New("slow"), ErrCodeTimeout, "timed out")))
	assert.True(t, IsConflict(&AppError{Code: ErrCodeConflict}))
	assert.Equal(t, ErrCodeInternal, GetCode(Internal("x")))
}

func TestGetCodeAndField(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
	assert.Equal(t, "", GetField(errors.New("plain")))

	err := fmt.Errorf("wrap: %w", ValidationField("webhook_url", "must be absolute"))
	assert.Equal(t, ErrCodeValidation, GetCode(err))
	assert.Equal(t, "webhook_url", GetField(err))
}
