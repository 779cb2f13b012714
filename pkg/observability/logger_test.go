package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("role_id", 7).Info("Role updated")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Role updated", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, float64(7), line["role_id"])
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("hidden")
	logger.Infof("hidden %d", 1)
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLogLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("nonsense"))
	assert.Equal(t, "WARN", WarnLevel.String())
}

func TestLogger_WithError(t *testing.T) {
	base, hook := test.NewNullLogger()
	logger := NewLoggerFromLogrus(base)

	assert.Same(t, logger, logger.WithError(nil))

	logger.WithError(errors.New("db down")).Error("Failed")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.EqualError(t, hook.LastEntry().Data[logrus.ErrorKey].(error), "db down")
}

func TestFromContext(t *testing.T) {
	base, hook := test.NewNullLogger()
	logger := NewLoggerFromLogrus(base)

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUserID(ctx, "42")
	ctx = contextkeys.WithTenantID(ctx, 9)

	FromContext(ctx).Info("hello")

	require.Len(t, hook.Entries, 1)
	data := hook.LastEntry().Data
	assert.Equal(t, "req-1", data["request_id"])
	assert.Equal(t, "42", data["user_id"])
	assert.Equal(t, int64(9), data["tenant_id"])
}

func TestGetLogger_Default(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
}

func TestRecoverPanic(t *testing.T) {
	base, hook := test.NewNullLogger()
	logger := NewLoggerFromLogrus(base)

	func() {
		defer RecoverPanic(logger, "retention job")
		panic("boom")
	}()

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "retention job", hook.LastEntry().Data["context"])
}
