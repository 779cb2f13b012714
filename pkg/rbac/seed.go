package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/storage/postgres"
)

// SeedResult describes what a catalog seed wrote
type SeedResult struct {
	Permissions    int
	HierarchyEdges int

	// ReclosedGrants counts parent grants added to existing roles so their
	// permission sets stay closed under the seeded hierarchy
	ReclosedGrants int64

	// Roles maps RoleKey(scope, name) to the role id for every catalog role
	Roles map[string]int64

	// CreatedRoles holds the keys of roles inserted by this run. Only new
	// roles receive the catalog's default permissions and menus, so later
	// edits made through the API survive a re-seed.
	CreatedRoles map[string]bool
}

// RoleKey identifies a role by scope and name
func RoleKey(scope auth.Scope, name string) string {
	return string(scope) + "/" + name
}

// Seed upserts the catalog's permissions, hierarchy and roles in one
// transaction. Re-running it is safe.
func Seed(ctx context.Context, db *sql.DB, catalog *Catalog) (*SeedResult, error) {
	result := &SeedResult{
		Roles:        make(map[string]int64),
		CreatedRoles: make(map[string]bool),
	}

	err := postgres.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
		ids, err := seedPermissions(ctx, tx, catalog)
		if err != nil {
			return err
		}
		result.Permissions = len(ids)

		edges, err := seedHierarchy(ctx, tx, catalog, ids)
		if err != nil {
			return err
		}
		result.HierarchyEdges = edges

		result.ReclosedGrants, err = recloseRolePermissions(ctx, tx)
		if err != nil {
			return err
		}

		hierarchy := catalog.Hierarchy()
		for _, role := range catalog.Roles {
			key := RoleKey(role.Scope, role.Name)
			roleID, created, err := upsertRole(ctx, tx, role)
			if err != nil {
				return err
			}
			result.Roles[key] = roleID
			if !created {
				continue
			}
			result.CreatedRoles[key] = true

			closed := hierarchy.Close(NewPermissionSet(role.Permissions...))
			if len(closed) == 0 {
				continue
			}
			permissionIDs := make([]int64, 0, len(closed))
			for _, name := range closed.Names() {
				permissionIDs = append(permissionIDs, ids[name])
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`,
				roleID, pq.Array(permissionIDs),
			)
			if err != nil {
				return fmt.Errorf("failed to seed permissions for role %q: %w", role.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func seedPermissions(ctx context.Context, tx *sql.Tx, catalog *Catalog) (map[string]int64, error) {
	ids := make(map[string]int64)
	for _, p := range catalog.Permissions() {
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO permissions (name, resource, action, description)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE
			SET resource = EXCLUDED.resource, action = EXCLUDED.action, description = EXCLUDED.description
			RETURNING id`,
			p.Name, p.Resource, p.Action, p.Description,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to seed permission %q: %w", p.Name, err)
		}
		ids[p.Name] = id
	}
	return ids, nil
}

// seedHierarchy replaces the stored relation with the catalog's
func seedHierarchy(ctx context.Context, tx *sql.Tx, catalog *Catalog, ids map[string]int64) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM permission_hierarchy`); err != nil {
		return 0, fmt.Errorf("failed to clear permission hierarchy: %w", err)
	}

	relation := catalog.HierarchyMap()
	parents := make([]string, 0, len(relation))
	for parent := range relation {
		parents = append(parents, parent)
	}
	sort.Strings(parents)

	edges := 0
	for _, parent := range parents {
		children := relation[parent]
		sort.Strings(children)
		for _, child := range children {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO permission_hierarchy (parent_id, child_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				ids[parent], ids[child],
			)
			if err != nil {
				return 0, fmt.Errorf("failed to seed hierarchy %s -> %s: %w", parent, child, err)
			}
			edges++
		}
	}
	return edges, nil
}

// recloseRolePermissions grants every stored role the missing ancestors of
// the permissions it holds
func recloseRolePermissions(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		WITH RECURSIVE ancestors(role_id, permission_id) AS (
			SELECT role_id, permission_id FROM role_permissions
			UNION
			SELECT a.role_id, h.parent_id
			FROM ancestors a
			JOIN permission_hierarchy h ON h.child_id = a.permission_id
		)
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT role_id, permission_id FROM ancestors
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to close role permissions over the hierarchy: %w", err)
	}
	added, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to close role permissions over the hierarchy: %w", err)
	}
	return added, nil
}

func upsertRole(ctx context.Context, tx *sql.Tx, role CatalogRole) (int64, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO roles (name, scope, description) VALUES ($1, $2, $3) ON CONFLICT (name, scope) DO NOTHING RETURNING id`,
		role.Name, string(role.Scope), role.Description,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to seed role %q: %w", role.Name, err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT id FROM roles WHERE name = $1 AND scope = $2`,
		role.Name, string(role.Scope),
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load role %q: %w", role.Name, err)
	}
	return id, false, nil
}
