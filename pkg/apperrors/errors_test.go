package apperrors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected int
	}{
		{"not found", NotFound("role %d not found", 1), http.StatusNotFound},
		{"conflict", Conflict("duplicate"), http.StatusConflict},
		{"forbidden", Forbidden("nope"), http.StatusForbidden},
		{"bad request", BadRequest("bad"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("who"), http.StatusUnauthorized},
		{"internal", Internal(errors.New("boom"), "failed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.HTTPStatus())
		})
	}
}

func TestError_PublicMessage(t *testing.T) {
	assert.Equal(t, "role 7 not found", NotFound("role %d not found", 7).PublicMessage())
	assert.Equal(t, "internal server error", Internal(errors.New("pq: relation missing"), "failed to list").PublicMessage())
	assert.Equal(t, "access denied", AccessDenied().PublicMessage())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause, "failed to load role")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", Conflict("dup"))

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.True(t, Is(wrapped, KindConflict))
	assert.False(t, Is(nil, KindConflict))
}

func TestFromDB(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, FromDB(nil, "dup"))
	})

	t.Run("no rows", func(t *testing.T) {
		err := FromDB(sql.ErrNoRows, "dup")
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("unique violation", func(t *testing.T) {
		err := FromDB(&pq.Error{Code: "23505"}, "role already exists")
		require.Equal(t, KindConflict, KindOf(err))
		assert.Equal(t, "role already exists", err.(*Error).PublicMessage())
	})

	t.Run("wrapped unique violation", func(t *testing.T) {
		err := FromDB(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), "dup")
		assert.Equal(t, KindConflict, KindOf(err))
	})

	t.Run("foreign key violation", func(t *testing.T) {
		err := FromDB(&pq.Error{Code: "23503"}, "dup")
		assert.Equal(t, KindBadRequest, KindOf(err))
	})

	t.Run("already classified", func(t *testing.T) {
		original := Forbidden("protected")
		assert.Same(t, original, FromDB(original, "dup"))
	})

	t.Run("other", func(t *testing.T) {
		err := FromDB(errors.New("timeout"), "dup")
		assert.Equal(t, KindInternal, KindOf(err))
	})
}

func TestViolationHelpers(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.True(t, IsForeignKeyViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsForeignKeyViolation(errors.New("x")))
}
