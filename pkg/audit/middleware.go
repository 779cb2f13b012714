package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
	"github.com/platinummonkey/loanadmin/pkg/observability"
)

// Middleware injects the audit logger into each request and records
// mutating requests that fail. Denials are recorded by the guard, so 403s
// are not logged again here.
type Middleware struct {
	logger Logger
	log    *observability.Logger
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(logger Logger, log *observability.Logger) *Middleware {
	return &Middleware{
		logger: logger,
		log:    log,
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler wraps an HTTP handler with audit logging
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithLogger(r.Context(), m.logger)
		ctx = withRequestInfo(ctx, r)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		if !shouldLogRequest(r, wrapped.statusCode) {
			return
		}

		event := buildBaseEvent(ctx, EventTypeHTTPMutationFailed, EventStatusFailure)
		event.ResourceType = ResourceTypeRequest
		event.StatusCode = wrapped.statusCode
		event.Message = r.Method + " " + r.URL.Path + " returned " + strconv.Itoa(wrapped.statusCode)
		if start, ok := contextkeys.GetRequestStartTime(ctx); ok {
			event.Details = map[string]interface{}{"duration_ms": time.Since(start).Milliseconds()}
		}

		if err := m.logger.Log(ctx, event); err != nil {
			m.log.WithError(err).WithField("path", r.URL.Path).Error("failed to record audit event")
		}
	})
}

// shouldLogRequest selects failed mutations other than guard denials
func shouldLogRequest(r *http.Request, statusCode int) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return statusCode >= 400 && statusCode != http.StatusForbidden
}
