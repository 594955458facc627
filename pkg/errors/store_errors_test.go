package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientStoreError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			expected: true,
		},
		{
			name:     "cancelled context is not transient",
			err:      context.Canceled,
			expected: false,
		},
		{
			name:     "net.OpError dial refused",
			err:      &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			expected: true,
		},
		{
			name:     "EOF from dropped connection",
			err:      io.EOF,
			expected: true,
		},
		{
			name:     "wrapped EOF",
			err:      fmt.Errorf("failed to pop update: %w", io.EOF),
			expected: true,
		},
		{
			name:     "connection reset keyword",
			err:      errors.New("read tcp 127.0.0.1:6379: connection reset by peer"),
			expected: true,
		},
		{
			name:     "redis loading dataset",
			err:      errors.New("LOADING Redis is loading the dataset in memory"),
			expected: true,
		},
		{
			name:     "wrong type reply is a data error",
			err:      errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"),
			expected: false,
		},
		{
			name:     "application error",
			err:      errors.New("ERR value is not an integer or out of range"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransientStoreError(tt.err))
		})
	}
}

func TestClassifyStoreError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyStoreError("get", nil))
}

func TestClassifyStoreError_Transient(t *testing.T) {
	cause := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	storeErr := ClassifyStoreError("pop_right", cause)

	assert.NotNil(t, storeErr)
	assert.Equal(t, StoreErrorTransient, storeErr.Type)
	assert.Equal(t, "pop_right", storeErr.Op)
	assert.True(t, errors.Is(storeErr, cause))
}

func TestClassifyStoreError_DataAccess(t *testing.T) {
	cause := errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	storeErr := ClassifyStoreError("pop_right", cause)

	assert.NotNil(t, storeErr)
	assert.Equal(t, StoreErrorDataAccess, storeErr.Type)
	assert.True(t, IsDataAccessStoreError(storeErr))
}

func TestClassifyStoreError_PassesThroughStoreError(t *testing.T) {
	inner := NewCircuitOpenError("set")
	wrapped := fmt.Errorf("store call failed: %w", inner)

	storeErr := ClassifyStoreError("set", wrapped)
	assert.Equal(t, inner, storeErr)
}

func TestStoreError_Error(t *testing.T) {
	t.Run("with attempts", func(t *testing.T) {
		err := NewStoreUnavailableError("pop_right", 3, errors.New("dial tcp: connection refused"))
		msg := err.Error()

		assert.Contains(t, msg, "pop_right")
		assert.Contains(t, msg, "after 3 attempts")
		assert.Contains(t, msg, "connection refused")
	})

	t.Run("without attempts", func(t *testing.T) {
		err := NewCircuitOpenError("get")
		msg := err.Error()

		assert.Contains(t, msg, "get")
		assert.Contains(t, msg, "circuit breaker open")
		assert.NotContains(t, msg, "attempts")
	})
}

func TestStoreError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewStoreUnavailableError("set", 3, cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, err.Unwrap())
}

func TestIsCircuitOpenError(t *testing.T) {
	assert.True(t, IsCircuitOpenError(NewCircuitOpenError("get")))
	assert.True(t, IsCircuitOpenError(fmt.Errorf("wrapped: %w", NewCircuitOpenError("get"))))
	assert.False(t, IsCircuitOpenError(errors.New("other error")))
	assert.False(t, IsCircuitOpenError(nil))
}

func TestIsStoreUnavailableError(t *testing.T) {
	assert.True(t, IsStoreUnavailableError(NewStoreUnavailableError("get", 3, io.EOF)))
	assert.True(t, IsStoreUnavailableError(NewCircuitOpenError("get")))
	assert.False(t, IsStoreUnavailableError(NewDataAccessError("get", errors.New("WRONGTYPE"))))
	assert.False(t, IsStoreUnavailableError(errors.New("other error")))
	assert.False(t, IsStoreUnavailableError(nil))
}

func TestIsDataAccessStoreError(t *testing.T) {
	assert.True(t, IsDataAccessStoreError(NewDataAccessError("pop_right", errors.New("WRONGTYPE"))))
	assert.False(t, IsDataAccessStoreError(NewCircuitOpenError("pop_right")))
	assert.False(t, IsDataAccessStoreError(nil))
}
