package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{CodeTransientIO, CategoryIO, SeverityStep, true},
		{CodeInvalidInput, CategoryInput, SeverityStep, false},
		{CodeUnsupportedFormat, CategoryFormat, SeverityStep, false},
		{CodeEmbedder, CategoryModel, SeverityStep, false},
		{CodeSubprocess, CategorySubprocess, SeverityWorkflow, false},
		{CodeModelAgent, CategoryModel, SeverityStep, false},
		{CodeTimeout, CategoryInternal, SeverityWorkflow, false},
		{CodeNoSegments, CategoryInternal, SeverityWorkflow, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestFlowError_UnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := TransientIO("queue publish failed", cause)

	require.ErrorIs(t, err, cause)
	assert.True(t, stderrors.Is(err, &FlowError{Code: CodeTransientIO}))
	assert.False(t, stderrors.Is(err, &FlowError{Code: CodeEmbedder}))
}

func TestFlowError_ThroughWrapLayers(t *testing.T) {
	inner := Subprocess("soffice conversion failed", "exit 1", nil)
	outer := fmt.Errorf("format parser: %w", inner)

	assert.True(t, FailsWorkflow(outer))
	assert.Equal(t, CodeSubprocess, CodeOf(outer))
	assert.False(t, IsRetryable(outer))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeTransientIO, nil))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAndWrapsLastError(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	last := fmt.Errorf("still broken")
	err := Retry(context.Background(), cfg, func() error { return last })

	require.Error(t, err)
	assert.ErrorIs(t, err, last)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	cause := fmt.Errorf("missing object")
	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return Permanent(cause)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error { return fmt.Errorf("never retried") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	attempts := 0
	v, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, fmt.Errorf("not yet")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
