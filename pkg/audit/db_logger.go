package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/loanadmin/pkg/observability"
)

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewDBLogger creates a new database-based audit logger. metrics may be nil.
func NewDBLogger(ctx context.Context, db *sql.DB, metrics *observability.Metrics) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db:      db,
		metrics: metrics,
	}

	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		tenant_id BIGINT,
		user_id BIGINT,
		resource_type VARCHAR(50) NOT NULL DEFAULT '',
		resource_id VARCHAR(255) NOT NULL DEFAULT '',
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		request_id VARCHAR(100) NOT NULL DEFAULT '',
		method VARCHAR(10) NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		details JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_id ON audit_logs(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
	`

	_, err := l.db.ExecContext(ctx, query)
	return err
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var detailsJSON []byte
	if event.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			tenant_id, user_id,
			resource_type, resource_id,
			ip_address, user_agent, request_id,
			method, path, status_code,
			message, details
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7,
			$8, $9, $10,
			$11, $12, $13,
			$14, $15
		) RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.TenantID, event.UserID,
		string(event.ResourceType), event.ResourceID,
		event.IPAddress, event.UserAgent, event.RequestID,
		event.Method, event.Path, event.StatusCode,
		event.Message, detailsJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	l.metrics.RecordAuditEvent(string(event.EventType), string(event.Status))
	return nil
}

// LogAuthorization logs an authorization event
func (l *DBLogger) LogAuthorization(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, status EventStatus, message string, details map[string]interface{}) error {
	return l.Log(ctx, buildAuthorizationEvent(ctx, eventType, resourceType, resourceID, status, message, details))
}

// LogDataMutation logs a data mutation event
func (l *DBLogger) LogDataMutation(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, message string, details map[string]interface{}) error {
	return l.Log(ctx, buildMutationEvent(ctx, eventType, resourceType, resourceID, message, details))
}

// EventsBefore returns up to limit events older than cutoff, oldest first
func (l *DBLogger) EventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*AuditEvent, error) {
	query := `
		SELECT
			id, timestamp, event_type, status,
			tenant_id, user_id,
			resource_type, resource_id,
			ip_address, user_agent, request_id,
			method, path, status_code,
			message, details
		FROM audit_logs
		WHERE timestamp < $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := l.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		var (
			event       AuditEvent
			tenantID    sql.NullInt64
			userID      sql.NullInt64
			detailsJSON []byte
		)

		err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status,
			&tenantID, &userID,
			&event.ResourceType, &event.ResourceID,
			&event.IPAddress, &event.UserAgent, &event.RequestID,
			&event.Method, &event.Path, &event.StatusCode,
			&event.Message, &detailsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if tenantID.Valid {
			event.TenantID = &tenantID.Int64
		}
		if userID.Valid {
			event.UserID = &userID.Int64
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// DeleteThrough removes events older than cutoff whose id is at most maxID
func (l *DBLogger) DeleteThrough(ctx context.Context, cutoff time.Time, maxID int64) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		"DELETE FROM audit_logs WHERE timestamp < $1 AND id <= $2",
		cutoff, maxID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted audit logs: %w", err)
	}
	return deleted, nil
}

// Close is a no-op; the database connection is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
