package audit

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func newTestDBLogger(t *testing.T, metrics *observability.Metrics) (*DBLogger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))

	logger, err := NewDBLogger(context.Background(), db, metrics)
	require.NoError(t, err)
	return logger, mock
}

func TestNewDBLogger_RequiresDB(t *testing.T) {
	_, err := NewDBLogger(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestNewDBLogger_TableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnError(errors.New("permission denied"))

	_, err = NewDBLogger(context.Background(), db, nil)
	assert.Error(t, err)
}

func TestDBLogger_LogDataMutation(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger, mock := newTestDBLogger(t, metrics)

	tenantID := int64(7)
	ctx := contextkeys.WithPrincipal(context.Background(), &auth.Principal{
		UserID:    3,
		TenantID:  &tenantID,
		RoleID:    9,
		RoleScope: auth.ScopeTenant,
	})
	ctx = contextkeys.WithRequestID(ctx, "req-1")

	args := anyArgs(15)
	args[1] = string(EventTypeDataRoleCreate)
	args[2] = string(EventStatusSuccess)
	args[3] = tenantID
	args[4] = int64(3)
	args[5] = string(ResourceTypeRole)
	args[6] = "12"
	args[9] = "req-1"
	args[14] = []byte(`{"name":"Loan Officer"}`)

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))

	err := logger.LogDataMutation(ctx, EventTypeDataRoleCreate, ResourceTypeRole, "12", "role created",
		map[string]interface{}{"name": "Loan Officer"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.AuditEventsTotal.WithLabelValues(string(EventTypeDataRoleCreate), string(EventStatusSuccess))))
}

func TestDBLogger_LogWithoutPrincipal(t *testing.T) {
	logger, mock := newTestDBLogger(t, nil)

	args := anyArgs(15)
	args[3] = nil
	args[4] = nil

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	event := buildBaseEvent(context.Background(), EventTypeAdminCatalogSeed, EventStatusSuccess)
	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(1), event.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_LogInsertError(t *testing.T) {
	logger, mock := newTestDBLogger(t, nil)

	mock.ExpectQuery("INSERT INTO audit_logs").WillReturnError(errors.New("disk full"))

	err := logger.LogAuthorization(context.Background(), EventTypeAuthzAccessDenied, ResourceTypePermission,
		"manage_roles", EventStatusDenied, "access denied", nil)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_EventsBefore(t *testing.T) {
	logger, mock := newTestDBLogger(t, nil)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := cutoff.Add(-48 * time.Hour)

	columns := []string{
		"id", "timestamp", "event_type", "status",
		"tenant_id", "user_id",
		"resource_type", "resource_id",
		"ip_address", "user_agent", "request_id",
		"method", "path", "status_code",
		"message", "details",
	}
	rows := sqlmock.NewRows(columns).
		AddRow(1, ts, "data.role_create", "success", int64(7), int64(3), "role", "12",
			"10.0.0.1", "curl", "req-1", "POST", "/roles", 201, "role created", []byte(`{"name":"Auditor"}`)).
		AddRow(2, ts, "admin.catalog_seed", "success", nil, nil, "catalog", "",
			"", "", "", "", "", 0, "seeded", nil)

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE timestamp < \\$1").
		WithArgs(cutoff, 100).
		WillReturnRows(rows)

	events, err := logger.EventsBefore(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventTypeDataRoleCreate, events[0].EventType)
	require.NotNil(t, events[0].TenantID)
	assert.Equal(t, int64(7), *events[0].TenantID)
	assert.Equal(t, "Auditor", events[0].Details["name"])

	assert.Nil(t, events[1].TenantID)
	assert.Nil(t, events[1].UserID)
	assert.Nil(t, events[1].Details)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_DeleteThrough(t *testing.T) {
	logger, mock := newTestDBLogger(t, nil)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM audit_logs WHERE timestamp < \\$1 AND id <= \\$2").
		WithArgs(cutoff, int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 50))

	deleted, err := logger.DeleteThrough(context.Background(), cutoff, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
