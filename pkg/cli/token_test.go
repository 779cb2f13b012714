package cli

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/loanadmin/pkg/audit"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userColumns = []string{"id", "email", "full_name", "tenant_id", "role_id", "name", "is_active", "created_at"}

func TestIssueToken(t *testing.T) {
	env, mock, out, recorder := newTestEnv(t)
	env.Out, env.Audit = out, recorder
	now := time.Now().UTC()

	mock.ExpectQuery("FROM users u").
		WithArgs("ada@example.com", int64(3)).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(21, "ada@example.com", "Ada", 3, 5, "Loan Officer", true, now))
	mock.ExpectQuery("INSERT INTO api_tokens").
		WithArgs(int64(21), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(77, now))

	cmd := newIssueTokenCommand(env)
	require.NoError(t, cmd.Run(context.Background(), []string{"-email", "ada@example.com", "-tenant", "3", "-ttl", "1h"}))

	token := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(token, auth.TokenPrefix), token)
	assert.Equal(t, []audit.EventType{audit.EventTypeAdminTokenIssue}, recorder.events)
	assert.Equal(t, []string{"token:77"}, recorder.resources)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueToken_PlatformUser(t *testing.T) {
	env, mock, out, _ := newTestEnv(t)
	env.Out = out
	now := time.Now().UTC()

	mock.ExpectQuery("FROM users u").
		WithArgs("root@example.com", nil).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(1, "root@example.com", "Root", nil, 1, "Super Admin", true, now))
	mock.ExpectQuery("INSERT INTO api_tokens").
		WithArgs(int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(78, now))

	cmd := newIssueTokenCommand(env)
	require.NoError(t, cmd.Run(context.Background(), []string{"-email", "root@example.com", "-ttl", "0"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueToken_Rejects(t *testing.T) {
	t.Run("missing email", func(t *testing.T) {
		env, _, out, _ := newTestEnv(t)
		env.Out = out
		err := newIssueTokenCommand(env).Run(context.Background(), nil)
		assert.EqualError(t, err, "email is required")
	})

	t.Run("negative ttl", func(t *testing.T) {
		env, _, out, _ := newTestEnv(t)
		env.Out = out
		err := newIssueTokenCommand(env).Run(context.Background(), []string{"-email", "a@example.com", "-ttl", "-1h"})
		assert.EqualError(t, err, "ttl cannot be negative")
	})

	t.Run("inactive user", func(t *testing.T) {
		env, mock, out, recorder := newTestEnv(t)
		env.Out, env.Audit = out, recorder
		mock.ExpectQuery("FROM users u").
			WillReturnRows(sqlmock.NewRows(userColumns).AddRow(9, "gone@example.com", "Gone", 3, 5, "Loan Officer", false, time.Now()))

		err := newIssueTokenCommand(env).Run(context.Background(), []string{"-email", "gone@example.com", "-tenant", "3"})
		assert.EqualError(t, err, "user gone@example.com is inactive")
		assert.Empty(t, recorder.events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
