package audit

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger keeps every event it receives
type recordingLogger struct {
	events []*AuditEvent
	err    error
	closed bool
}

func (r *recordingLogger) Log(ctx context.Context, event *AuditEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingLogger) LogAuthorization(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, status EventStatus, message string, details map[string]interface{}) error {
	return r.Log(ctx, buildAuthorizationEvent(ctx, eventType, resourceType, resourceID, status, message, details))
}

func (r *recordingLogger) LogDataMutation(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, message string, details map[string]interface{}) error {
	return r.Log(ctx, buildMutationEvent(ctx, eventType, resourceType, resourceID, message, details))
}

func (r *recordingLogger) Close() error {
	r.closed = true
	return r.err
}

func TestFromContext_DefaultsToNoOp(t *testing.T) {
	logger := FromContext(context.Background())
	assert.IsType(t, NoOpLogger{}, logger)
	assert.NoError(t, logger.LogDataMutation(context.Background(), EventTypeDataRoleDelete, ResourceTypeRole, "1", "", nil))
}

func TestFromContext_ReturnsInjected(t *testing.T) {
	rec := &recordingLogger{}
	ctx := WithLogger(context.Background(), rec)
	assert.Same(t, rec, FromContext(ctx))
}

func TestBuildBaseEvent_TenantContextOverridesPrincipal(t *testing.T) {
	principalTenant := int64(1)
	ctx := contextkeys.WithPrincipal(context.Background(), &auth.Principal{UserID: 5, TenantID: &principalTenant})
	ctx = contextkeys.WithTenantID(ctx, 2)

	event := buildBaseEvent(ctx, EventTypeDataMenuUpdate, EventStatusSuccess)
	require.NotNil(t, event.UserID)
	assert.Equal(t, int64(5), *event.UserID)
	require.NotNil(t, event.TenantID)
	assert.Equal(t, int64(2), *event.TenantID)
}

func TestBuildBaseEvent_RequestInfo(t *testing.T) {
	r := httptest.NewRequest("PUT", "/menus/4", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.Header.Set("User-Agent", "loanadmin-ui")

	event := buildBaseEvent(withRequestInfo(context.Background(), r), EventTypeDataMenuUpdate, EventStatusSuccess)
	assert.Equal(t, "PUT", event.Method)
	assert.Equal(t, "/menus/4", event.Path)
	assert.Equal(t, "203.0.113.9", event.IPAddress)
	assert.Equal(t, "loanadmin-ui", event.UserAgent)
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "192.0.2.10", clientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(r))
}

func TestLogrusLogger_Levels(t *testing.T) {
	base, hook := test.NewNullLogger()
	logger := NewLogrusLogger(base)

	require.NoError(t, logger.LogDataMutation(context.Background(), EventTypeDataRoleUpdate, ResourceTypeRole, "3", "role updated",
		map[string]interface{}{"name": "Auditor"}))
	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "role updated", entry.Message)
	assert.Equal(t, "data.role_update", entry.Data["event_type"])
	assert.Equal(t, "3", entry.Data["resource_id"])

	require.NoError(t, logger.LogAuthorization(context.Background(), EventTypeAuthzAccessDenied, ResourceTypePermission,
		"manage_roles", EventStatusDenied, "access denied", nil))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	_, hasDetails := hook.LastEntry().Data["details"]
	assert.False(t, hasDetails)
}

func TestMultiLogger_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingLogger{}
	failing := &recordingLogger{err: errors.New("unavailable")}
	multi := NewMultiLogger(failing, ok)

	err := multi.LogDataMutation(context.Background(), EventTypeDataMenuReorder, ResourceTypeMenu, "", "reordered", nil)
	assert.Error(t, err)
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)
	assert.Same(t, ok.events[0], failing.events[0])

	assert.Error(t, multi.Close())
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
}

func TestMultiLogger_Empty(t *testing.T) {
	multi := NewMultiLogger()
	assert.NoError(t, multi.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, multi.Close())
}
