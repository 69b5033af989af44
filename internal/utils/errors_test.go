package contextutils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		expected string
	}{
		{
			name: "error with details",
			appError: &AppError{
				Code:     ErrorCodeInvalidInput,
				Severity: SeverityError,
				Message:  "Invalid input",
				Details:  "questionIndex out of range",
			},
			expected: "INVALID_INPUT: Invalid input - questionIndex out of range",
		},
		{
			name: "error without details",
			appError: &AppError{
				Code:     ErrorCodeRecordNotFound,
				Severity: SeverityInfo,
				Message:  "Record not found",
			},
			expected: "RECORD_NOT_FOUND: Record not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appError.Error())
		})
	}
}

func TestAppError_Is(t *testing.T) {
	err1 := &AppError{Code: ErrorCodeSessionExpired}
	err2 := &AppError{Code: ErrorCodeSessionExpired}
	err3 := &AppError{Code: ErrorCodeRecordNotFound}

	assert.True(t, err1.Is(err2))
	assert.False(t, err1.Is(err3))
	assert.False(t, err1.Is(errors.New("regular error")))
}

func TestNewAppErrorWithCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewAppErrorWithCause(ErrorCodeDatabaseConnection, SeverityError, "DB connection failed", "ping", cause)

	assert.Equal(t, ErrorCodeDatabaseConnection, err.Code)
	assert.Equal(t, SeverityError, err.Severity)
	assert.Equal(t, cause, err.Unwrap())
}

func TestWrapError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, WrapError(nil, "context"))
	})

	t.Run("app error keeps its code", func(t *testing.T) {
		wrapped := WrapError(ErrQuestionAlreadyAnswered, "submit answer")
		assert.Equal(t, ErrorCodeQuestionAlreadyAnswered, GetErrorCode(wrapped))
		assert.True(t, errors.Is(wrapped, ErrQuestionAlreadyAnswered))
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		wrapped := WrapError(errors.New("boom"), "load level")
		assert.Equal(t, ErrorCodeInternalError, GetErrorCode(wrapped))
		assert.Contains(t, wrapped.Error(), "boom")
	})
}

func TestWrapErrorf(t *testing.T) {
	cause := errors.New("socket closed")
	wrapped := WrapErrorf(ErrDatabaseQuery, "failed to save session %s: %w", "abc", cause)

	assert.Equal(t, ErrorCodeDatabaseQuery, GetErrorCode(wrapped))
	assert.True(t, errors.Is(wrapped, cause))
	assert.True(t, errors.Is(wrapped, ErrDatabaseQuery))
	assert.Contains(t, wrapped.Error(), "failed to save session abc")

	plain := WrapErrorf(ErrInvalidInput, "index %d out of range", 7)
	assert.Equal(t, ErrorCodeInvalidInput, GetErrorCode(plain))
	assert.Contains(t, plain.Error(), "index 7 out of range")
}

func TestIsError_SeesThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", WrapError(ErrSessionExpired, "submit"))

	assert.True(t, IsError(err, ErrSessionExpired))
	assert.False(t, IsError(err, ErrInvalidState))
	assert.False(t, IsError(errors.New("plain"), ErrSessionExpired))

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrorCodeSessionExpired, appErr.Code)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"conflict", ErrConflict, true},
		{"timeout", ErrTimeout, true},
		{"connection", ErrDatabaseConnection, true},
		{"fatal connection", NewAppError(ErrorCodeDatabaseConnection, SeverityFatal, "down", ""), false},
		{"not found", ErrRecordNotFound, false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestGetErrorSeverity(t *testing.T) {
	assert.Equal(t, SeverityInfo, GetErrorSeverity(ErrInvalidState))
	assert.Equal(t, SeverityError, GetErrorSeverity(errors.New("x")))
}

func TestAppError_ToJSON(t *testing.T) {
	err := NewAppErrorWithCause(ErrorCodeInternalError, SeverityError, "Aggregation failed", "course c1", errors.New("boom"))
	out := err.ToJSON()

	assert.Equal(t, "INTERNAL_SERVER_ERROR", out["code"])
	assert.Equal(t, "Aggregation failed", out["message"])
	assert.Equal(t, "course c1", out["details"])
	assert.Equal(t, "boom", out["cause"])
	assert.Equal(t, false, out["retryable"])

	info := ErrRecordNotFound.ToJSON()
	assert.NotContains(t, info, "cause")
	assert.NotContains(t, info, "details")
}

func TestUserIDContext(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-1")
	assert.Equal(t, "user-1", GetUserIDFromContext(ctx))
	assert.Equal(t, "", GetUserIDFromContext(context.Background()))
}
