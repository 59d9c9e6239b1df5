// Package clienterr provides error classification with retry policies and
// circuit breaking for the streaming client. The taxonomy mirrors the failure
// model of the protocol: transport failures and malformed frames are absorbed
// and logged, operation-level failures (timeout, connection, hard service
// errors) surface to the caller classified, and the caller decides whether to
// retry.
package clienterr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrorType represents the classification of an error.
type ErrorType string

const (
	// Retryable error types
	ErrorTypeNetwork    ErrorType = "network"     // Network connectivity issues
	ErrorTypeTimeout    ErrorType = "timeout"     // Operation exceeded its ceiling
	ErrorTypeConnection ErrorType = "connection"  // Transport closed or cannot deliver
	ErrorTypeTemporary  ErrorType = "temporary"   // Temporary failures
	ErrorTypeCircuit    ErrorType = "circuit_open" // Circuit breaker is open

	// Non-retryable error types
	ErrorTypeHard           ErrorType = "hard_error"     // Critical/protocol error from the service
	ErrorTypeSymbol         ErrorType = "symbol"         // Symbol-level data error
	ErrorTypeAuthentication ErrorType = "authentication" // Authentication failures
	ErrorTypeValidation     ErrorType = "validation"     // Data validation errors
	ErrorTypeConfiguration  ErrorType = "configuration"  // Configuration errors
	ErrorTypeStorage        ErrorType = "storage"        // Storage backend failures
	ErrorTypeInternal       ErrorType = "internal"       // Internal application errors

	// ErrorTypeUnknown marks unclassified errors.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifiedError represents an error with metadata for handling decisions.
type ClassifiedError struct {
	Err       error          `json:"error"`
	Type      ErrorType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Retryable bool           `json:"retryable"`
	Component string         `json:"component"`
	Operation string         `json:"operation"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Attempts  int            `json:"attempts"`
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is matches either another ClassifiedError of the same type or anything the
// underlying error matches.
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

// With attaches a context key/value pair and returns the error for chaining.
func (ce *ClassifiedError) With(key string, value any) *ClassifiedError {
	if ce.Context == nil {
		ce.Context = make(map[string]any)
	}
	ce.Context[key] = value
	return ce
}

// New builds a ClassifiedError with explicit type and derived severity and
// retryability.
func New(errType ErrorType, component, operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Type:      errType,
		Severity:  severityFor(errType),
		Retryable: retryableFor(errType),
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

// NewTimeoutError marks an operation that exceeded its ceiling.
func NewTimeoutError(component, operation string, err error) *ClassifiedError {
	return New(ErrorTypeTimeout, component, operation, err)
}

// NewConnectionError marks an operation the transport could not deliver.
func NewConnectionError(component, operation string, err error) *ClassifiedError {
	return New(ErrorTypeConnection, component, operation, err)
}

// NewHardError marks a critical or protocol-level failure from the service.
func NewHardError(component, operation string, err error) *ClassifiedError {
	return New(ErrorTypeHard, component, operation, err)
}

// NewSymbolError marks a symbol-level data error.
func NewSymbolError(component, operation string, err error) *ClassifiedError {
	return New(ErrorTypeSymbol, component, operation, err)
}

// RetryPolicy configures the Retry helper.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     string // "fixed", "linear" or "exponential"
	Jitter       bool
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Strategy:     "exponential",
	}
}

// ErrorStats tracks error statistics for monitoring.
type ErrorStats struct {
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Classifier handles error classification and retry execution.
type Classifier struct {
	policy RetryPolicy
	logger *slog.Logger

	mu        sync.RWMutex
	stats     map[ErrorType]ErrorStats
	successes int64
}

// NewClassifier creates a classifier with the given retry policy.
func NewClassifier(policy RetryPolicy, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Classifier{
		policy: policy,
		logger: logger,
		stats:  make(map[ErrorType]ErrorStats),
	}
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata.
func (c *Classifier) Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errType := classifyType(err)
	classified := &ClassifiedError{
		Err:       err,
		Type:      errType,
		Severity:  severityFor(errType),
		Retryable: retryableFor(errType),
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}

	c.recordError(errType)

	c.logger.Debug("error classified",
		"type", errType,
		"severity", classified.Severity.String(),
		"retryable", classified.Retryable,
		"component", component,
		"operation", operation,
		"error", err.Error())

	return classified
}

// Retry executes fn with retries according to the classifier's policy.
// Non-retryable errors and context cancellation stop immediately.
func (c *Classifier) Retry(ctx context.Context, component, operation string, fn func() error) error {
	strategy := c.newBackoff()

	var lastErr *ClassifiedError
	attempts := 0
	for {
		attempts++

		err := fn()
		if err == nil {
			c.recordSuccess()
			return nil
		}

		classified := c.Classify(err, component, operation)
		classified.Attempts = attempts
		lastErr = classified

		c.logger.Warn("operation failed",
			"component", component,
			"operation", operation,
			"attempt", attempts,
			"max_attempts", c.policy.MaxAttempts,
			"error_type", classified.Type,
			"retryable", classified.Retryable,
			"error", err.Error())

		if !classified.Retryable || attempts >= c.policy.MaxAttempts {
			break
		}

		wait := strategy.NextBackOff()
		if wait == backoff.Stop {
			break
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// Stats returns a copy of the per-type error counters.
func (c *Classifier) Stats() map[ErrorType]ErrorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make(map[ErrorType]ErrorStats, len(c.stats))
	for k, v := range c.stats {
		stats[k] = v
	}
	return stats
}

func (c *Classifier) recordError(errType ErrorType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats[errType]
	stats.Count++
	stats.LastSeen = time.Now()
	if stats.FirstSeen.IsZero() {
		stats.FirstSeen = stats.LastSeen
	}
	c.stats[errType] = stats
}

func (c *Classifier) recordSuccess() {
	c.mu.Lock()
	c.successes++
	c.mu.Unlock()
}

// newBackoff builds the wait strategy for one Retry run.
func (c *Classifier) newBackoff() backoff.BackOff {
	var strategy backoff.BackOff

	switch c.policy.Strategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(c.policy.InitialDelay)
	case "linear":
		strategy = &LinearBackoff{Interval: c.policy.InitialDelay, Max: c.policy.MaxDelay}
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = c.policy.InitialDelay
		exponential.MaxInterval = c.policy.MaxDelay
		exponential.MaxElapsedTime = 0
		strategy = exponential
	}

	if c.policy.Jitter {
		strategy = &JitteredBackoff{BackOff: strategy}
	}

	return strategy
}

// classifyType determines the error type from the error content.
func classifyType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}

	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "websocket") && strings.Contains(errStr, "close"),
		strings.Contains(errStr, "not connected"),
		strings.Contains(errStr, "connection closed"),
		strings.Contains(errStr, "use of closed network connection"):
		return ErrorTypeConnection
	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "forbidden"),
		strings.Contains(errStr, "invalid credentials"):
		return ErrorTypeAuthentication
	case strings.Contains(errStr, "symbol"):
		return ErrorTypeSymbol
	case strings.Contains(errStr, "critical"),
		strings.Contains(errStr, "protocol error"):
		return ErrorTypeHard
	case strings.Contains(errStr, "validation"),
		strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "malformed"),
		strings.Contains(errStr, "parse"):
		return ErrorTypeValidation
	case strings.Contains(errStr, "config"),
		strings.Contains(errStr, "missing required"):
		return ErrorTypeConfiguration
	case strings.Contains(errStr, "storage"),
		strings.Contains(errStr, "database"),
		strings.Contains(errStr, "sql"):
		return ErrorTypeStorage
	}

	return ErrorTypeUnknown
}

// isNetworkError checks if the error is network-related.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"connection aborted",
		"no route to host",
		"host unreachable",
		"network unreachable",
		"dns",
		"resolve",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// isTimeoutError checks if the error is timeout-related.
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// severityFor assigns a severity level per error type.
func severityFor(errType ErrorType) Severity {
	switch errType {
	case ErrorTypeHard, ErrorTypeInternal:
		return SeverityCritical
	case ErrorTypeAuthentication, ErrorTypeConfiguration, ErrorTypeStorage:
		return SeverityHigh
	case ErrorTypeValidation, ErrorTypeSymbol, ErrorTypeConnection:
		return SeverityMedium
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeTemporary:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// retryableFor determines whether an error type should be retried.
func retryableFor(errType ErrorType) bool {
	switch errType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeConnection,
		ErrorTypeTemporary, ErrorTypeCircuit:
		return true
	case ErrorTypeHard, ErrorTypeSymbol, ErrorTypeAuthentication,
		ErrorTypeValidation, ErrorTypeConfiguration, ErrorTypeStorage,
		ErrorTypeInternal:
		return false
	default:
		// Unknown errors are retried with caution.
		return true
	}
}

// Utility functions

// WrapError wraps an error with component and operation context.
func WrapError(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s in %s.%s: %w", message, component, operation, err)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetErrorType extracts the error type from a classified error.
func GetErrorType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeUnknown
}

// IsTimeout reports whether the error is a timeout classification.
func IsTimeout(err error) bool {
	return GetErrorType(err) == ErrorTypeTimeout
}

// IsConnection reports whether the error is a connection classification.
func IsConnection(err error) bool {
	return GetErrorType(err) == ErrorTypeConnection
}
