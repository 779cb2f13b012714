package audit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWithAudit(t *testing.T, rec *recordingLogger, method string, status int) *httptest.ResponseRecorder {
	t.Helper()
	var sawLogger Logger
	handler := NewMiddleware(rec, observability.NewLogger(observability.ErrorLevel, io.Discard)).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawLogger = FromContext(r.Context())
			w.WriteHeader(status)
		}),
	)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(method, "/roles/5", nil))
	assert.Same(t, rec, sawLogger)
	return w
}

func TestMiddleware_LogsFailedMutation(t *testing.T) {
	rec := &recordingLogger{}
	w := serveWithAudit(t, rec, http.MethodDelete, http.StatusConflict)
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Len(t, rec.events, 1)
	event := rec.events[0]
	assert.Equal(t, EventTypeHTTPMutationFailed, event.EventType)
	assert.Equal(t, EventStatusFailure, event.Status)
	assert.Equal(t, http.StatusConflict, event.StatusCode)
	assert.Equal(t, "DELETE", event.Method)
	assert.Equal(t, "/roles/5", event.Path)
	assert.Nil(t, event.Details)
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	rec := &recordingLogger{}
	handler := NewMiddleware(rec, observability.NewLogger(observability.ErrorLevel, io.Discard)).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/roles", nil)
	start := time.Now().Add(-250 * time.Millisecond)
	req = req.WithContext(contextkeys.WithRequestStartTime(req.Context(), start))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, rec.events, 1)
	duration, ok := rec.events[0].Details["duration_ms"].(int64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, duration, int64(250))
}

func TestMiddleware_SkipsSuccessReadsAndDenials(t *testing.T) {
	cases := []struct {
		method string
		status int
	}{
		{http.MethodPost, http.StatusCreated},
		{http.MethodGet, http.StatusNotFound},
		{http.MethodPut, http.StatusForbidden},
	}

	for _, tc := range cases {
		rec := &recordingLogger{}
		serveWithAudit(t, rec, tc.method, tc.status)
		assert.Empty(t, rec.events, "%s %d", tc.method, tc.status)
	}
}
