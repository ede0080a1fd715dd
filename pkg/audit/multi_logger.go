package audit

import (
	"context"
	"errors"
	"fmt"
)

// MultiLogger logs to multiple audit loggers
type MultiLogger struct {
	eventLogger
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{loggers: loggers}
	m.eventLogger = eventLogger{log: m.Log}
	return m
}

// Log writes event to every logger. A failing destination does not stop
// the others; the first error is returned.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
