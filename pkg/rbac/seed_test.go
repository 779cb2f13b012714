package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reportsCatalog = `
protected_roles: [Owner]
resources:
  - name: reports
    scope: tenant
    actions: [view, export]
roles:
  - name: Owner
    scope: tenant
  - name: Analyst
    scope: tenant
    permissions: [view_reports]
`

func TestSeed(t *testing.T) {
	catalog, err := ParseCatalog([]byte(reportsCatalog))
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	for i, name := range []string{"manage_reports", "view_reports", "export_reports"} {
		mock.ExpectQuery("INSERT INTO permissions").
			WithArgs(name, "reports", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(i + 1))
	}
	mock.ExpectExec("DELETE FROM permission_hierarchy").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO permission_hierarchy").WithArgs(int64(1), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO permission_hierarchy").WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// an existing role held view_reports without manage_reports
	mock.ExpectExec("WITH RECURSIVE ancestors").WillReturnResult(sqlmock.NewResult(0, 1))

	// Owner already exists
	mock.ExpectQuery("INSERT INTO roles").WithArgs("Owner", "tenant", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM roles WHERE name").WithArgs("Owner", "tenant").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))

	// Analyst is new and receives its closed permission set
	mock.ExpectQuery("INSERT INTO roles").WithArgs("Analyst", "tenant", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	mock.ExpectExec("INSERT INTO role_permissions").WithArgs(int64(9), pq.Array([]int64{1, 2})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	result, err := Seed(context.Background(), db, catalog)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Permissions)
	assert.Equal(t, 2, result.HierarchyEdges)
	assert.Equal(t, int64(1), result.ReclosedGrants)
	assert.Equal(t, map[string]int64{"tenant/Owner": 4, "tenant/Analyst": 9}, result.Roles)
	assert.Equal(t, map[string]bool{"tenant/Analyst": true}, result.CreatedRoles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_RecloseFailureRollsBack(t *testing.T) {
	catalog, err := ParseCatalog([]byte(reportsCatalog))
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	for i := range catalog.Permissions() {
		mock.ExpectQuery("INSERT INTO permissions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(i + 1))
	}
	mock.ExpectExec("DELETE FROM permission_hierarchy").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO permission_hierarchy").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO permission_hierarchy").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("WITH RECURSIVE ancestors").WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err = Seed(context.Background(), db, catalog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close role permissions")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_RollsBackOnError(t *testing.T) {
	catalog, err := ParseCatalog([]byte(reportsCatalog))
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO permissions").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = Seed(context.Background(), db, catalog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manage_reports")
	assert.NoError(t, mock.ExpectationsWereMet())
}
