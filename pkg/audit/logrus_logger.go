package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as structured log lines
type LogrusLogger struct {
	logger logrus.FieldLogger
}

// NewLogrusLogger creates a stream audit logger on top of a logrus logger
func NewLogrusLogger(logger logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{logger: logger}
}

// Log writes the event at Info, or Warn for denials and failures
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.TenantID != nil {
		fields["tenant_id"] = *event.TenantID
	}
	if event.UserID != nil {
		fields["user_id"] = *event.UserID
	}
	if event.ResourceType != "" {
		fields["resource_type"] = string(event.ResourceType)
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Method != "" {
		fields["method"] = event.Method
		fields["path"] = event.Path
	}
	if event.StatusCode != 0 {
		fields["status_code"] = event.StatusCode
	}
	if len(event.Details) > 0 {
		fields["details"] = event.Details
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

func (l *LogrusLogger) LogAuthorization(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, status EventStatus, message string, details map[string]interface{}) error {
	return l.Log(ctx, buildAuthorizationEvent(ctx, eventType, resourceType, resourceID, status, message, details))
}

func (l *LogrusLogger) LogDataMutation(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, message string, details map[string]interface{}) error {
	return l.Log(ctx, buildMutationEvent(ctx, eventType, resourceType, resourceID, message, details))
}

func (l *LogrusLogger) Close() error {
	return nil
}
