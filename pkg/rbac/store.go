package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/platinummonkey/loanadmin/pkg/apperrors"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/platinummonkey/loanadmin/pkg/storage/postgres"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CacheInvalidator drops cached capabilities after a role changes
type CacheInvalidator interface {
	Invalidate(ctx context.Context, roleID int64) error
}

// Store handles role and permission persistence
type Store struct {
	db          *sql.DB
	catalog     *Catalog
	metrics     *observability.Metrics
	invalidator CacheInvalidator
}

// NewStore creates a new RBAC store. The catalog supplies protected role
// names and the per-scope resource allow-lists. metrics may be nil.
func NewStore(db *sql.DB, catalog *Catalog, metrics *observability.Metrics) *Store {
	return &Store{
		db:      db,
		catalog: catalog,
		metrics: metrics,
	}
}

// SetInvalidator registers the cache to notify after role mutations
func (s *Store) SetInvalidator(invalidator CacheInvalidator) {
	s.invalidator = invalidator
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Catalog returns the catalog the store was built with
func (s *Store) Catalog() *Catalog {
	return s.catalog
}

// IsProtected reports whether the role is a protected system role
func (s *Store) IsProtected(role *Role) bool {
	return s.catalog.IsProtected(role.Scope, role.Name)
}

// checkReservedName rejects protected role names outside their own scope
func (s *Store) checkReservedName(name string, scope auth.Scope) error {
	if reserved, ok := s.catalog.ReservedScope(name); ok && reserved != scope {
		return apperrors.Forbidden("role name %q is reserved for the %s scope", name, reserved)
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context, roleID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, roleID); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("role_id", roleID).Warn("failed to invalidate capability cache")
	}
}

func (s *Store) observe(operation string, start time.Time, err *error) {
	s.metrics.RecordStoreOperation(operation, start, *err)
}

const selectRole = `SELECT id, name, scope, description, created_at, updated_at FROM roles WHERE id = $1`

func scanRole(row interface{ Scan(...interface{}) error }) (*Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Scope, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *Store) getRole(ctx context.Context, q querier, roleID int64, forUpdate bool) (*Role, error) {
	query := selectRole
	if forUpdate {
		query += " FOR UPDATE"
	}

	role, err := scanRole(q.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("role not found: %d", roleID)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "failed to get role")
	}
	return role, nil
}

// GetRoleRecord returns the bare role row
func (s *Store) GetRoleRecord(ctx context.Context, roleID int64) (*Role, error) {
	return s.getRole(ctx, s.db, roleID, false)
}

// CreateRole creates a new role
func (s *Store) CreateRole(ctx context.Context, name, scope, description string) (role *Role, err error) {
	defer s.observe("create_role", time.Now(), &err)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.BadRequest("name is required")
	}
	parsed, err := auth.ParseScope(scope)
	if err != nil {
		return nil, apperrors.BadRequest("%s", err.Error())
	}
	if err := s.checkReservedName(name, parsed); err != nil {
		return nil, err
	}

	role = &Role{Name: name, Scope: parsed, Description: description}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO roles (name, scope, description) VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`,
		name, string(parsed), description,
	).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, apperrors.FromDB(err, fmt.Sprintf("role %q already exists in scope %s", name, parsed))
	}

	return role, nil
}

// UpdateRole applies a partial update. Protected roles keep their name and
// scope; their description and permissions may still change.
func (s *Store) UpdateRole(ctx context.Context, roleID int64, update RoleUpdate) (role *Role, err error) {
	defer s.observe("update_role", time.Now(), &err)

	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, apperrors.BadRequest("name cannot be empty")
	}
	var scope *string
	if update.Scope != nil {
		parsed, err := auth.ParseScope(*update.Scope)
		if err != nil {
			return nil, apperrors.BadRequest("%s", err.Error())
		}
		value := string(parsed)
		scope = &value
	}

	err = postgres.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		current, err := s.getRole(ctx, tx, roleID, true)
		if err != nil {
			return err
		}

		if s.IsProtected(current) {
			renamed := update.Name != nil && *update.Name != current.Name
			rescoped := scope != nil && *scope != string(current.Scope)
			if renamed || rescoped {
				return apperrors.Forbidden("cannot rename or change the scope of a protected role")
			}
		}

		next := *current
		if update.Name != nil {
			next.Name = strings.TrimSpace(*update.Name)
		}
		if scope != nil {
			next.Scope = auth.Scope(*scope)
		}
		if err := s.checkReservedName(next.Name, next.Scope); err != nil {
			return err
		}

		role, err = scanRole(tx.QueryRowContext(ctx, `
			UPDATE roles
			SET name = COALESCE($2, name),
			    scope = COALESCE($3, scope),
			    description = COALESCE($4, description),
			    updated_at = NOW()
			WHERE id = $1
			RETURNING id, name, scope, description, created_at, updated_at`,
			roleID, update.Name, scope, update.Description,
		))
		if err != nil {
			return apperrors.FromDB(err, "a role with that name already exists in this scope")
		}

		if update.PermissionIDs != nil {
			if _, err := s.replacePermissions(ctx, tx, role, *update.PermissionIDs); err != nil {
				return err
			}
		} else if role.Scope != current.Scope {
			stray, err := s.permissionsOutsideScope(ctx, tx, roleID, role.Scope)
			if err != nil {
				return err
			}
			if len(stray) > 0 {
				return apperrors.BadRequest("role holds permissions not available to %s roles: %s", role.Scope, strings.Join(stray, ", "))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, roleID)
	return role, nil
}

// DeleteRole removes a role and its permission and menu assignments
func (s *Store) DeleteRole(ctx context.Context, roleID int64) (err error) {
	defer s.observe("delete_role", time.Now(), &err)

	err = postgres.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		role, err := s.getRole(ctx, tx, roleID, true)
		if err != nil {
			return err
		}
		if s.IsProtected(role) {
			return apperrors.Forbidden("cannot delete protected role")
		}

		var inUse bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE role_id = $1)`, roleID).Scan(&inUse); err != nil {
			return apperrors.Internal(err, "failed to check role usage")
		}
		if inUse {
			return apperrors.Conflict("role is assigned to users")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return apperrors.Internal(err, "failed to delete role permissions")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_menus WHERE role_id = $1`, roleID); err != nil {
			return apperrors.Internal(err, "failed to delete role menus")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
			if apperrors.IsForeignKeyViolation(err) {
				return apperrors.Conflict("role is still referenced")
			}
			return apperrors.Internal(err, "failed to delete role")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, roleID)
	return nil
}

// AssignPermissions replaces the role's permission set with permissionIDs
// closed over the hierarchy, and returns the resulting permission names.
// Only the difference against the stored rows is written.
func (s *Store) AssignPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (names []string, err error) {
	ctx, span := observability.Tracer().Start(ctx, "rbac.AssignPermissions",
		trace.WithAttributes(
			attribute.Int64("role.id", roleID),
			attribute.Int("permissions.requested", len(permissionIDs)),
		),
	)
	defer span.End()
	defer s.observe("assign_permissions", time.Now(), &err)

	err = postgres.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		role, err := s.getRole(ctx, tx, roleID, true)
		if err != nil {
			return err
		}
		names, err = s.replacePermissions(ctx, tx, role, permissionIDs)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.invalidate(ctx, roleID)
	return names, nil
}

// replacePermissions must run inside a transaction that holds the role lock.
// Every requested permission must belong to a resource of the role's scope.
func (s *Store) replacePermissions(ctx context.Context, tx *sql.Tx, role *Role, permissionIDs []int64) ([]string, error) {
	roleID := role.ID
	ids := uniqueIDs(permissionIDs)

	allowed := make(map[string]bool)
	for _, resource := range s.catalog.ScopeResources(role.Scope) {
		allowed[resource] = true
	}

	target := make(map[int64]string, len(ids))
	if len(ids) > 0 {
		found, err := s.permissionsByID(ctx, tx, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			p, ok := found[id]
			if !ok {
				return nil, apperrors.BadRequest("unknown permission id: %d", id)
			}
			if !allowed[p.Resource] {
				return nil, apperrors.BadRequest("permission %s is not available to %s roles", p.Name, role.Scope)
			}
			target[id] = p.Name
		}
	}

	hierarchy, err := s.loadHierarchy(ctx, tx)
	if err != nil {
		return nil, err
	}

	requested := make(PermissionSet, len(target))
	for _, name := range target {
		requested[name] = struct{}{}
	}
	closed := hierarchy.Close(requested)

	if len(closed) > len(requested) {
		var missing []string
		for name := range closed {
			if !requested.Has(name) {
				missing = append(missing, name)
			}
		}
		sort.Strings(missing)
		parents, err := s.permissionIDsByName(ctx, tx, missing)
		if err != nil {
			return nil, err
		}
		for name, id := range parents {
			target[id] = name
		}
	}

	current, err := s.rolePermissionIDs(ctx, tx, roleID)
	if err != nil {
		return nil, err
	}

	var toDelete, toInsert []int64
	for id := range current {
		if _, keep := target[id]; !keep {
			toDelete = append(toDelete, id)
		}
	}
	for id := range target {
		if !current[id] {
			toInsert = append(toInsert, id)
		}
	}
	sortIDs(toDelete)
	sortIDs(toInsert)

	if len(toDelete) > 0 {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = ANY($2)`,
			roleID, pq.Array(toDelete),
		)
		if err != nil {
			return nil, apperrors.Internal(err, "failed to remove role permissions")
		}
	}
	if len(toInsert) > 0 {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`,
			roleID, pq.Array(toInsert),
		)
		if err != nil {
			return nil, apperrors.FromDB(err, "permission already assigned")
		}
	}

	return closed.Names(), nil
}

func (s *Store) permissionsByID(ctx context.Context, q querier, ids []int64) (map[int64]Permission, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, resource FROM permissions WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load permissions")
	}
	defer rows.Close()

	found := make(map[int64]Permission, len(ids))
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource); err != nil {
			return nil, apperrors.Internal(err, "failed to scan permission")
		}
		found[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(err, "failed to load permissions")
	}
	return found, nil
}

func (s *Store) permissionsOutsideScope(ctx context.Context, q querier, roleID int64, scope auth.Scope) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1 AND NOT (p.resource = ANY($2))
		ORDER BY p.name`, roleID, pq.Array(s.catalog.ScopeResources(scope)))
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load role permissions")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.Internal(err, "failed to scan permission name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(err, "failed to load role permissions")
	}
	return names, nil
}

func (s *Store) permissionIDsByName(ctx context.Context, q querier, names []string) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name FROM permissions WHERE name = ANY($1)`, pq.Array(names))
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load permissions")
	}
	defer rows.Close()

	found := make(map[string]int64, len(names))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, apperrors.Internal(err, "failed to scan permission")
		}
		found[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(err, "failed to load permissions")
	}
	return found, nil
}

func (s *Store) rolePermissionIDs(ctx context.Context, q querier, roleID int64) (map[int64]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load role permissions")
	}
	defer rows.Close()

	current := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Internal(err, "failed to scan role permission")
		}
		current[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(err, "failed to load role permissions")
	}
	return current, nil
}

const selectHierarchy = `
	SELECT p.name, c.name
	FROM permission_hierarchy h
	JOIN permissions p ON p.id = h.parent_id
	JOIN permissions c ON c.id = h.child_id
	ORDER BY p.name, c.name`

func (s *Store) loadHierarchy(ctx context.Context, q querier) (*Hierarchy, error) {
	rows, err := q.QueryContext(ctx, selectHierarchy)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load permission hierarchy")
	}
	defer rows.Close()

	relation := make(map[string][]string)
	for rows.Next() {
		var parent, child string
		if err := rows.Scan(&parent, &child); err != nil {
			return nil, apperrors.Internal(err, "failed to scan permission hierarchy")
		}
		relation[parent] = append(relation[parent], child)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(err, "failed to load permission hierarchy")
	}
	return NewHierarchy(relation), nil
}

// GetHierarchy loads the stored permission hierarchy
func (s *Store) GetHierarchy(ctx context.Context) (*Hierarchy, error) {
	return s.loadHierarchy(ctx, s.db)
}

// ListPermissions lists permissions, restricted to the scope's resource
// allow-list when scope is not empty
func (s *Store) ListPermissions(ctx context.Context, scope string) ([]Permission, error) {
	query := `SELECT id, name, resource, action, description FROM permissions`
	var args []interface{}

	if scope != "" {
		parsed, err := auth.ParseScope(scope)
		if err != nil {
			return nil, apperrors.BadRequest("%s", err.Error())
		}
		query += ` WHERE resource = ANY($1)`
		args = append(args, pq.Array(s.catalog.ScopeResources(parsed)))
	}
	query += ` ORDER BY resource, name`

	return s.queryPermissions(ctx, query, args...)
}

// PermissionsByName returns the permissions with the given names
func (s *Store) PermissionsByName(ctx context.Context, names []string) ([]Permission, error) {
	return s.queryPermissions(ctx,
		`SELECT id, name, resource, action, description FROM permissions WHERE name = ANY($1) ORDER BY name`,
		pq.Array(names),
	)
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...interface{}) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list permissions")
	}
	defer rows.Close()

	permissions := make([]Permission, 0)
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, apperrors.Internal(err, "failed to scan permission")
		}
		permissions = append(permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(err, "failed to list permissions")
	}
	return permissions, nil
}

// ListRoles lists every role with its aggregated permission names
func (s *Store) ListRoles(ctx context.Context) ([]RoleSummary, error) {
	query := `
		SELECT r.id, r.name, r.scope, r.description, r.created_at, r.updated_at,
		       COALESCE(array_agg(p.name ORDER BY p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		GROUP BY r.id
		ORDER BY r.scope, r.name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list roles")
	}
	defer rows.Close()

	roles := make([]RoleSummary, 0)
	for rows.Next() {
		var summary RoleSummary
		var names []string
		err := rows.Scan(
			&summary.ID, &summary.Name, &summary.Scope, &summary.Description,
			&summary.CreatedAt, &summary.UpdatedAt, pq.Array(&names),
		)
		if err != nil {
			return nil, apperrors.Internal(err, "failed to scan role")
		}
		if names == nil {
			names = []string{}
		}
		summary.Permissions = names
		roles = append(roles, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(err, "failed to list roles")
	}
	return roles, nil
}

// GetRole returns a role with its permission objects
func (s *Store) GetRole(ctx context.Context, roleID int64) (*RoleDetail, error) {
	role, err := s.getRole(ctx, s.db, roleID, false)
	if err != nil {
		return nil, err
	}

	permissions, err := s.queryPermissions(ctx, `
		SELECT p.id, p.name, p.resource, p.action, p.description
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}

	return &RoleDetail{
		Role:        *role,
		Permissions: permissions,
		IsProtected: s.IsProtected(role),
	}, nil
}

// RolePermissionNames returns the names explicitly assigned to a role
func (s *Store) RolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	return s.queryNames(ctx, `
		SELECT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
}

// AllPermissionNames returns every permission name
func (s *Store) AllPermissionNames(ctx context.Context) ([]string, error) {
	return s.queryNames(ctx, `SELECT name FROM permissions ORDER BY name`)
}

func (s *Store) queryNames(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load permission names")
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.Internal(err, "failed to scan permission name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(err, "failed to load permission names")
	}
	return names, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
