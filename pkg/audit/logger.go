package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log writes a fully built event
	Log(ctx context.Context, event *AuditEvent) error

	// LogAuthorization records a guard decision or a permission/menu assignment
	LogAuthorization(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, status EventStatus, message string, details map[string]interface{}) error

	// LogDataMutation records a successful create, update or delete
	LogDataMutation(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, message string, details map[string]interface{}) error

	// Close flushes and releases the logger
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoOpLogger{}
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

func (NoOpLogger) LogAuthorization(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, status EventStatus, message string, details map[string]interface{}) error {
	return nil
}

func (NoOpLogger) LogDataMutation(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, message string, details map[string]interface{}) error {
	return nil
}

func (NoOpLogger) Close() error { return nil }

// requestInfo is captured by the middleware so events logged deeper in the
// stack still carry the request they belong to
type requestInfo struct {
	method    string
	path      string
	ipAddress string
	userAgent string
}

type requestInfoKey struct{}

func withRequestInfo(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, requestInfo{
		method:    r.Method,
		path:      r.URL.Path,
		ipAddress: clientIP(r),
		userAgent: r.UserAgent(),
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// buildBaseEvent fills actor and request fields from the context
func buildBaseEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
	}

	if principal, ok := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal); ok && principal != nil {
		userID := principal.UserID
		event.UserID = &userID
		if principal.TenantID != nil {
			tenantID := *principal.TenantID
			event.TenantID = &tenantID
		}
	}
	if tenantID, ok := contextkeys.GetTenantID(ctx); ok {
		event.TenantID = &tenantID
	}

	if info, ok := ctx.Value(requestInfoKey{}).(requestInfo); ok {
		event.Method = info.method
		event.Path = info.path
		event.IPAddress = info.ipAddress
		event.UserAgent = info.userAgent
	}

	return event
}

func buildAuthorizationEvent(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, status EventStatus, message string, details map[string]interface{}) *AuditEvent {
	event := buildBaseEvent(ctx, eventType, status)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	event.Details = details
	return event
}

func buildMutationEvent(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, message string, details map[string]interface{}) *AuditEvent {
	return buildAuthorizationEvent(ctx, eventType, resourceType, resourceID, EventStatusSuccess, message, details)
}
