package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/loanadmin/pkg/apperrors"
	"github.com/stretchr/testify/assert"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"success"}`, w.Body.String())
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusNotFound, "role not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"role not found"}`, w.Body.String())
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"not found", apperrors.NotFound("role not found: %d", 7), http.StatusNotFound, `{"error":"role not found: 7"}`},
		{"conflict", apperrors.Conflict("role already exists"), http.StatusConflict, `{"error":"role already exists"}`},
		{"access denied", apperrors.AccessDenied(), http.StatusForbidden, `{"error":"access denied"}`},
		{"bad request", apperrors.BadRequest("name is required"), http.StatusBadRequest, `{"error":"name is required"}`},
		{"internal hides cause", apperrors.Internal(errors.New("pq: relation missing"), "failed to list roles"), http.StatusInternalServerError, `{"error":"internal server error"}`},
		{"foreign error", errors.New("boom"), http.StatusInternalServerError, `{"error":"internal server error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAppError(w, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestWriteStatusHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	assert.NoError(t, WriteCreated(w, map[string]int{"id": 1}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = httptest.NewRecorder()
	WriteForbidden(w, "access denied")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	WriteServiceUnavailable(w, "not ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
