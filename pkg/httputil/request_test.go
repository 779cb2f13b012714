package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/roles", strings.NewReader(`{"name":"Loan Officer"}`))
		var p payload
		require.NoError(t, ParseJSON(req, &p))
		assert.Equal(t, "Loan Officer", p.Name)
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/roles", strings.NewReader(`{"nmae":"x"}`))
		var p payload
		assert.Error(t, ParseJSON(req, &p))
	})

	t.Run("malformed writes 400", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/roles", strings.NewReader(`{`))
		w := httptest.NewRecorder()
		var p payload
		assert.False(t, ParseJSONOrError(w, req, &p))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestParsePathInt64(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		want    int64
		wantErr bool
	}{
		{"valid", map[string]string{"id": "42"}, 42, false},
		{"missing", map[string]string{}, 0, true},
		{"not a number", map[string]string{"id": "abc"}, 0, true},
		{"zero", map[string]string{"id": "0"}, 0, true},
		{"negative", map[string]string{"id": "-3"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mux.SetURLVars(httptest.NewRequest("GET", "/roles/x", nil), tt.vars)
			got, err := ParsePathInt64(req, "id")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePathInt64OrError(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest("GET", "/roles/x", nil), map[string]string{"id": "x"})
	w := httptest.NewRecorder()

	_, ok := ParsePathInt64OrError(w, req, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/menus?parent_id=5&include_inactive=true&scope=tenant", nil)

	parentID, present, err := ParseQueryInt64(req, "parent_id")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, int64(5), parentID)

	_, present, err = ParseQueryInt64(req, "tenant_id")
	require.NoError(t, err)
	assert.False(t, present)

	inactive, err := ParseQueryBool(req, "include_inactive", false)
	require.NoError(t, err)
	assert.True(t, inactive)

	assert.Equal(t, "tenant", ParseQueryString(req, "scope", "platform"))
	assert.Equal(t, "x", ParseQueryString(req, "missing", "x"))

	bad := httptest.NewRequest("GET", "/menus?parent_id=abc&include_inactive=maybe", nil)
	_, _, err = ParseQueryInt64(bad, "parent_id")
	assert.Error(t, err)
	_, err = ParseQueryBool(bad, "include_inactive", false)
	assert.Error(t, err)
}
