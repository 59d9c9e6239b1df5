// Package logger provides structured logging with context propagation for the
// streaming client. It builds on the standard library's slog package with
// support for trace propagation, component-specific loggers, rotating file
// output, and configurable formats.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/TavaresBugs/ScrapperTV/internal/config"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ComponentKey is the context key for component name
	ComponentKey ContextKey = "component"
	// OperationKey is the context key for operation name
	OperationKey ContextKey = "operation"
	// SessionIDKey is the context key for the logical chart session id
	SessionIDKey ContextKey = "session_id"
	// SymbolKey is the context key for the market symbol
	SymbolKey ContextKey = "symbol"
	// TimeframeKey is the context key for the bar timeframe
	TimeframeKey ContextKey = "timeframe"
)

// Manager manages structured logging for the application
type Manager struct {
	baseLogger *slog.Logger
	config     config.LoggingConfig
	writer     io.WriteCloser

	mu             sync.Mutex
	componentCache map[string]*slog.Logger
}

// ComponentLogger represents a logger bound to a specific component
type ComponentLogger struct {
	*slog.Logger
	component string
}

// NewManager creates a new logger manager with the specified configuration
func NewManager(cfg config.LoggingConfig) (*Manager, error) {
	writer, err := createWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.Level),
		AddSource: cfg.Level == "debug",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	return &Manager{
		baseLogger:     slog.New(handler),
		config:         cfg,
		writer:         writer,
		componentCache: make(map[string]*slog.Logger),
	}, nil
}

// createWriter creates the appropriate writer based on configuration
func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stdout", "":
		return nopWriteCloser{os.Stdout}, nil
	case "stderr":
		return nopWriteCloser{os.Stderr}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}

		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}, nil
	default:
		return nopWriteCloser{os.Stdout}, nil
	}
}

// nopWriteCloser wraps an io.Writer to provide a Close method
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetLogger returns the base logger instance
func (m *Manager) GetLogger() *slog.Logger {
	return m.baseLogger
}

// GetComponentLogger returns a logger for the specified component
func (m *Manager) GetComponentLogger(component string) *ComponentLogger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, exists := m.componentCache[component]; exists {
		return &ComponentLogger{Logger: cached, component: component}
	}

	componentLogger := m.baseLogger.With(slog.String("component", component))
	m.componentCache[component] = componentLogger

	return &ComponentLogger{Logger: componentLogger, component: component}
}

// WithContext creates a logger that includes context values
func (m *Manager) WithContext(ctx context.Context) *slog.Logger {
	attrs := extractContextAttributes(ctx)
	if len(attrs) == 0 {
		return m.baseLogger
	}
	return m.baseLogger.With(attrs...)
}

// extractContextAttributes extracts logging attributes from context
func extractContextAttributes(ctx context.Context) []any {
	var attrs []any

	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if operation, ok := ctx.Value(OperationKey).(string); ok && operation != "" {
		attrs = append(attrs, slog.String("operation", operation))
	}
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		attrs = append(attrs, slog.String("session_id", sessionID))
	}
	if symbol, ok := ctx.Value(SymbolKey).(string); ok && symbol != "" {
		attrs = append(attrs, slog.String("symbol", symbol))
	}
	if timeframe, ok := ctx.Value(TimeframeKey).(string); ok && timeframe != "" {
		attrs = append(attrs, slog.String("timeframe", timeframe))
	}

	return attrs
}

// Close closes the logger and any associated resources
func (m *Manager) Close() error {
	if m.writer != nil {
		return m.writer.Close()
	}
	return nil
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithOperation adds an operation name to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

// WithSessionID adds a chart session id to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithSymbol adds a market symbol to the context
func WithSymbol(ctx context.Context, symbol string) context.Context {
	return context.WithValue(ctx, SymbolKey, symbol)
}

// WithTimeframe adds a bar timeframe to the context
func WithTimeframe(ctx context.Context, timeframe string) context.Context {
	return context.WithValue(ctx, TimeframeKey, timeframe)
}

// GetTraceID extracts the trace ID from context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// NewTraceContext returns a component logger and a context carrying a fresh
// trace ID, for operations that start at the CLI or scheduler boundary.
func NewTraceContext(m *Manager, component string) (*ComponentLogger, context.Context) {
	ctx := WithTraceID(context.Background(), NewTraceID())
	componentLogger := m.GetComponentLogger(component)
	return &ComponentLogger{
		Logger:    componentLogger.With(slog.String("trace_id", GetTraceID(ctx))),
		component: component,
	}, ctx
}

// ComponentLogger helpers

// WithOperation returns a logger with an operation attribute
func (cl *ComponentLogger) WithOperation(operation string) *slog.Logger {
	return cl.With(slog.String("operation", operation))
}

// WithSymbol returns a logger with a symbol attribute
func (cl *ComponentLogger) WithSymbol(symbol string) *slog.Logger {
	return cl.With(slog.String("symbol", symbol))
}

// LogOperation logs the start and end of an operation with timing
func (cl *ComponentLogger) LogOperation(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	cl.InfoContext(ctx, "operation started", slog.String("operation", operation))

	err := fn()
	duration := time.Since(start)

	if err != nil {
		cl.ErrorContext(ctx, "operation failed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return err
	}

	cl.InfoContext(ctx, "operation completed",
		slog.String("operation", operation),
		slog.Duration("duration", duration))

	return nil
}

// LogError logs an error with structured context
func LogError(logger *slog.Logger, err error, msg string, attrs ...any) {
	allAttrs := append([]any{slog.Any("error", err)}, attrs...)
	logger.Error(msg, allAttrs...)
}
