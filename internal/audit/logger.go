// Package audit records gateway mount/unmount/reload decisions as
// structured events, each correlated by a generated uuid.
package audit

import (
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Operation identifies the kind of auditable gateway action.
type Operation string

const (
	OpRouteMount     Operation = "route.mount"
	OpRouteUnmount   Operation = "route.unmount"
	OpReloadApply    Operation = "reload.apply"
	OpReloadRollback Operation = "reload.rollback"
)

// Event is one auditable gateway action.
type Event struct {
	Operation     Operation
	Server        string
	CorrelationID string
	Success       bool
	Error         string
}

// Logger writes audit events as structured slog records.
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the process-wide audit logger, enabled by default.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true)
	})
	return defaultLogger
}

// New creates an audit logger; disabled loggers drop every event.
func New(enabled bool) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{logger: slog.New(handler), enabled: enabled}
}

// SetEnabled toggles whether Log records events.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// NewCorrelationID generates a fresh correlation id for a single reload or
// mount/unmount decision so its constituent events can be joined later.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Log records event, a no-op if the logger is disabled.
func (l *Logger) Log(event Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()
	if !enabled {
		return
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.String("correlation_id", event.CorrelationID),
		slog.Bool("success", event.Success),
	}
	if event.Server != "" {
		attrs = append(attrs, slog.String("server", event.Server))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	l.logger.Info("AUDIT", attrs...)
}

// Log records event on the default logger.
func Log(event Event) { Default().Log(event) }
