package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/loanadmin/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenGenerator_GenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, tokenHash, tokenPrefix, err := tg.GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, tokenHash, 64)
	assert.Equal(t, TokenPrefix+token[len(TokenPrefix):len(TokenPrefix)+8], tokenPrefix)
	assert.Equal(t, tg.HashToken(token), tokenHash)
	assert.NoError(t, tg.ValidateTokenFormat(token))
}

func TestTokenGenerator_Uniqueness(t *testing.T) {
	tg := NewTokenGenerator()
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		token, _, _, err := tg.GenerateToken()
		require.NoError(t, err)
		assert.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}
}

func TestTokenGenerator_ValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", "la_YWJjZGVmZ2hpams", false},
		{"wrong prefix", "gh_YWJj", true},
		{"empty body", "la_", true},
		{"bad encoding", "la_!!!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateTokenFormat(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTokenGenerator_ExtractPrefix(t *testing.T) {
	tg := NewTokenGenerator()

	assert.Equal(t, "la_abcdefgh", tg.ExtractPrefix("la_abcdefghijkl"))
	assert.Equal(t, "la_abc", tg.ExtractPrefix("la_abc"))
	assert.Equal(t, "", tg.ExtractPrefix("other_abcdefghijkl"))
}

func newMockTokenStore(t *testing.T) (*TokenStore, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewTokenStore(db), mock, db
}

var resolveColumns = []string{"id", "id", "email", "tenant_id", "is_active", "id", "scope", "status"}

func TestTokenStore_Resolve(t *testing.T) {
	ctx := context.Background()
	tg := NewTokenGenerator()
	token, tokenHash, _, err := tg.GenerateToken()
	require.NoError(t, err)

	t.Run("platform user", func(t *testing.T) {
		store, mock, db := newMockTokenStore(t)
		defer db.Close()

		mock.ExpectQuery(`FROM api_tokens t`).
			WithArgs(tokenHash).
			WillReturnRows(sqlmock.NewRows(resolveColumns).
				AddRow(5, 10, "ops@example.com", nil, true, 1, "platform", nil))
		mock.ExpectExec(`UPDATE api_tokens SET last_used_at`).
			WithArgs(int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		principal, err := store.Resolve(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, int64(10), principal.UserID)
		assert.Equal(t, int64(1), principal.RoleID)
		assert.Equal(t, ScopePlatform, principal.RoleScope)
		assert.Nil(t, principal.TenantID)
		assert.True(t, principal.IsPlatform())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tenant user on trial tenant", func(t *testing.T) {
		store, mock, db := newMockTokenStore(t)
		defer db.Close()

		mock.ExpectQuery(`FROM api_tokens t`).
			WithArgs(tokenHash).
			WillReturnRows(sqlmock.NewRows(resolveColumns).
				AddRow(6, 11, "officer@acme.test", 3, true, 4, "tenant", "trial"))
		mock.ExpectExec(`UPDATE api_tokens SET last_used_at`).
			WithArgs(int64(6)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		principal, err := store.Resolve(ctx, token)
		require.NoError(t, err)
		require.NotNil(t, principal.TenantID)
		assert.Equal(t, int64(3), *principal.TenantID)
		assert.Equal(t, ScopeTenant, principal.RoleScope)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("suspended tenant", func(t *testing.T) {
		store, mock, db := newMockTokenStore(t)
		defer db.Close()

		mock.ExpectQuery(`FROM api_tokens t`).
			WithArgs(tokenHash).
			WillReturnRows(sqlmock.NewRows(resolveColumns).
				AddRow(6, 11, "officer@acme.test", 3, true, 4, "tenant", "suspended"))

		_, err := store.Resolve(ctx, token)
		assert.True(t, apperrors.Is(err, apperrors.KindUnauthorized))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive user", func(t *testing.T) {
		store, mock, db := newMockTokenStore(t)
		defer db.Close()

		mock.ExpectQuery(`FROM api_tokens t`).
			WithArgs(tokenHash).
			WillReturnRows(sqlmock.NewRows(resolveColumns).
				AddRow(6, 11, "gone@acme.test", nil, false, 1, "platform", nil))

		_, err := store.Resolve(ctx, token)
		assert.True(t, apperrors.Is(err, apperrors.KindUnauthorized))
	})

	t.Run("unknown token", func(t *testing.T) {
		store, mock, db := newMockTokenStore(t)
		defer db.Close()

		mock.ExpectQuery(`FROM api_tokens t`).
			WithArgs(tokenHash).
			WillReturnError(sql.ErrNoRows)

		_, err := store.Resolve(ctx, token)
		assert.True(t, apperrors.Is(err, apperrors.KindUnauthorized))
	})

	t.Run("malformed token skips database", func(t *testing.T) {
		store, mock, db := newMockTokenStore(t)
		defer db.Close()

		_, err := store.Resolve(ctx, "Bearer nonsense")
		assert.True(t, apperrors.Is(err, apperrors.KindUnauthorized))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		store, mock, db := newMockTokenStore(t)
		defer db.Close()

		mock.ExpectQuery(`FROM api_tokens t`).
			WithArgs(tokenHash).
			WillReturnError(errors.New("connection refused"))

		_, err := store.Resolve(ctx, token)
		assert.True(t, apperrors.Is(err, apperrors.KindInternal))
	})
}

func TestTokenStore_Issue(t *testing.T) {
	store, mock, db := newMockTokenStore(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO api_tokens`).
		WithArgs(int64(10), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(99, now))

	token, record, err := store.Issue(context.Background(), 10, time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Equal(t, int64(99), record.ID)
	assert.Equal(t, NewTokenGenerator().HashToken(token), record.TokenHash)
	require.NotNil(t, record.ExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenStore_Revoke(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, mock, db := newMockTokenStore(t)
		defer db.Close()

		mock.ExpectExec(`UPDATE api_tokens SET revoked_at`).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Revoke(context.Background(), 3))
	})

	t.Run("not found", func(t *testing.T) {
		store, mock, db := newMockTokenStore(t)
		defer db.Close()

		mock.ExpectExec(`UPDATE api_tokens SET revoked_at`).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Revoke(context.Background(), 3)
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	})
}
