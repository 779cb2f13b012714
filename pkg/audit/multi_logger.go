package audit

import (
	"context"
	"errors"
	"fmt"
)

// MultiLogger fans each event out to several audit loggers. Every logger is
// attempted even when an earlier one fails.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log logs an audit event to all configured loggers
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogAuthorization logs an authorization event
func (m *MultiLogger) LogAuthorization(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, status EventStatus, message string, details map[string]interface{}) error {
	return m.Log(ctx, buildAuthorizationEvent(ctx, eventType, resourceType, resourceID, status, message, details))
}

// LogDataMutation logs a data mutation event
func (m *MultiLogger) LogDataMutation(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, message string, details map[string]interface{}) error {
	return m.Log(ctx, buildMutationEvent(ctx, eventType, resourceType, resourceID, message, details))
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
