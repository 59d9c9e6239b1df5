package clienterr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Strategy:     "fixed",
	}
}

func TestErrorClassification(t *testing.T) {
	classifier := NewClassifier(DefaultRetryPolicy(), testLogger())

	tests := []struct {
		name          string
		err           error
		wantType      ErrorType
		wantRetryable bool
		wantSeverity  Severity
	}{
		{
			name:          "network connection refused",
			err:           fmt.Errorf("connection refused"),
			wantType:      ErrorTypeNetwork,
			wantRetryable: true,
			wantSeverity:  SeverityLow,
		},
		{
			name:          "timeout",
			err:           fmt.Errorf("context deadline exceeded"),
			wantType:      ErrorTypeTimeout,
			wantRetryable: true,
			wantSeverity:  SeverityLow,
		},
		{
			name:          "websocket closed",
			err:           fmt.Errorf("websocket: close 1006 (abnormal closure)"),
			wantType:      ErrorTypeConnection,
			wantRetryable: true,
			wantSeverity:  SeverityMedium,
		},
		{
			name:          "send while disconnected",
			err:           fmt.Errorf("session not connected"),
			wantType:      ErrorTypeConnection,
			wantRetryable: true,
			wantSeverity:  SeverityMedium,
		},
		{
			name:          "authentication",
			err:           fmt.Errorf("unauthorized: invalid credentials"),
			wantType:      ErrorTypeAuthentication,
			wantRetryable: false,
			wantSeverity:  SeverityHigh,
		},
		{
			name:          "symbol error",
			err:           fmt.Errorf("symbol resolution failed"),
			wantType:      ErrorTypeSymbol,
			wantRetryable: false,
			wantSeverity:  SeverityMedium,
		},
		{
			name:          "critical service error",
			err:           fmt.Errorf("critical session failure"),
			wantType:      ErrorTypeHard,
			wantRetryable: false,
			wantSeverity:  SeverityCritical,
		},
		{
			name:          "validation",
			err:           fmt.Errorf("validation failed: malformed frame"),
			wantType:      ErrorTypeValidation,
			wantRetryable: false,
			wantSeverity:  SeverityMedium,
		},
		{
			name:          "storage",
			err:           fmt.Errorf("database is locked"),
			wantType:      ErrorTypeStorage,
			wantRetryable: false,
			wantSeverity:  SeverityHigh,
		},
		{
			name:          "unknown",
			err:           fmt.Errorf("something went wrong"),
			wantType:      ErrorTypeUnknown,
			wantRetryable: true,
			wantSeverity:  SeverityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifier.Classify(tt.err, "test_component", "test_operation")

			assert.Equal(t, tt.wantType, classified.Type, "error type mismatch")
			assert.Equal(t, tt.wantRetryable, classified.Retryable, "retryable mismatch")
			assert.Equal(t, tt.wantSeverity, classified.Severity, "severity mismatch")
			assert.Equal(t, "test_component", classified.Component)
			assert.Equal(t, "test_operation", classified.Operation)
			assert.NotZero(t, classified.Timestamp)
		})
	}
}

func TestClassifyPreservesClassifiedErrors(t *testing.T) {
	classifier := NewClassifier(DefaultRetryPolicy(), testLogger())
	original := NewTimeoutError("series", "fetch", fmt.Errorf("no terminal event within 120s"))

	classified := classifier.Classify(fmt.Errorf("wrapped: %w", original), "other", "op")
	assert.Same(t, original, classified)
}

func TestClassifiedErrorBehavior(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	ce := NewConnectionError("session", "send", cause).With("session_id", "cs_abc")

	assert.ErrorIs(t, ce, cause)
	assert.Equal(t, cause, ce.Unwrap())
	assert.Contains(t, ce.Error(), "session")
	assert.Contains(t, ce.Error(), "connection")
	assert.Equal(t, "cs_abc", ce.Context["session_id"])

	// Is matches other classified errors by type.
	assert.ErrorIs(t, ce, NewConnectionError("x", "y", errors.New("other")))
	assert.NotErrorIs(t, ce, NewTimeoutError("x", "y", errors.New("other")))
}

func TestTypeHelpers(t *testing.T) {
	timeout := NewTimeoutError("series", "fetch", errors.New("deadline"))
	conn := NewConnectionError("session", "send", errors.New("closed"))

	assert.True(t, IsTimeout(timeout))
	assert.False(t, IsTimeout(conn))
	assert.True(t, IsConnection(conn))
	assert.True(t, IsConnection(fmt.Errorf("wrapped: %w", conn)))
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(timeout))
	assert.Equal(t, ErrorTypeUnknown, GetErrorType(errors.New("plain")))
	assert.True(t, IsRetryable(timeout))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	classifier := NewClassifier(fastPolicy(5), testLogger())

	calls := 0
	err := classifier.Retry(context.Background(), "test", "op", func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	classifier := NewClassifier(fastPolicy(5), testLogger())

	calls := 0
	err := classifier.Retry(context.Background(), "test", "op", func() error {
		calls++
		return fmt.Errorf("validation failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ErrorTypeValidation, GetErrorType(err))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	classifier := NewClassifier(fastPolicy(3), testLogger())

	calls := 0
	err := classifier.Retry(context.Background(), "test", "op", func() error {
		calls++
		return fmt.Errorf("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	classifier := NewClassifier(RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     time.Second,
		Strategy:     "fixed",
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := classifier.Retry(ctx, "test", "op", func() error {
		return fmt.Errorf("connection refused")
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Hour,
		HalfOpenRequests: 1,
	})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// Calls are rejected without invoking the function.
	invoked := false
	err := cb.Call(func() error { invoked = true; return nil })
	require.Error(t, err)
	assert.False(t, invoked)
	assert.Equal(t, ErrorTypeCircuit, GetErrorType(err))
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		HalfOpenRequests: 2,
	})

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(15 * time.Millisecond)

	// Two successful probes close the circuit again.
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		HalfOpenRequests: 2,
	})

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	time.Sleep(15 * time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("boom again") }))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestLinearBackoffProgression(t *testing.T) {
	lb := &LinearBackoff{Interval: 10 * time.Millisecond, Max: 25 * time.Millisecond}

	assert.Equal(t, 10*time.Millisecond, lb.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, lb.NextBackOff())
	assert.Equal(t, 25*time.Millisecond, lb.NextBackOff())
	assert.Equal(t, 25*time.Millisecond, lb.NextBackOff())

	lb.Reset()
	assert.Equal(t, 10*time.Millisecond, lb.NextBackOff())
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "c", "o", "m"))

	cause := errors.New("cause")
	wrapped := WrapError(cause, "session", "connect", "dial failed")
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "session.connect")
}

func TestClassifierStats(t *testing.T) {
	classifier := NewClassifier(DefaultRetryPolicy(), testLogger())

	classifier.Classify(errors.New("connection refused"), "c", "o")
	classifier.Classify(errors.New("connection reset"), "c", "o")
	classifier.Classify(errors.New("validation failed"), "c", "o")

	stats := classifier.Stats()
	assert.Equal(t, int64(2), stats[ErrorTypeNetwork].Count)
	assert.Equal(t, int64(1), stats[ErrorTypeValidation].Count)
	assert.False(t, stats[ErrorTypeNetwork].FirstSeen.IsZero())
}
