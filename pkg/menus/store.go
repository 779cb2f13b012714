package menus

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
	"github.com/platinummonkey/loanadmin/pkg/rbac"
	"github.com/platinummonkey/loanadmin/pkg/storage/postgres"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const menuColumns = `id, name, slug, icon, route, scope, parent_menu_id, order_index, is_active, tenant_id, created_at, updated_at`

// Store handles menu persistence and role-menu assignment
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewStore creates a new menu store. metrics may be nil.
func NewStore(db *sql.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

func (s *Store) observe(operation string, start time.Time, err *error) {
	s.metrics.RecordStoreOperation(operation, start, *err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMenu(row rowScanner) (*Menu, error) {
	var (
		m        Menu
		parentID sql.NullInt64
		tenantID sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.Name, &m.Slug, &m.Icon, &m.Route, &m.Scope,
		&parentID, &m.OrderIndex, &m.IsActive, &tenantID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		m.ParentMenuID = &parentID.Int64
	}
	if tenantID.Valid {
		m.TenantID = &tenantID.Int64
	}
	return &m, nil
}

func (s *Store) queryMenus(ctx context.Context, query string, args ...interface{}) ([]Menu, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list menus")
	}
	defer rows.Close()

	menus := make([]Menu, 0)
	for rows.Next() {
		m, err := scanMenu(rows)
		if err != nil {
			return nil, apperrors.Internal(err, "failed to scan menu")
		}
		menus = append(menus, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(err, "failed to list menus")
	}
	return menus, nil
}

// ListMenus returns the menus matching filter ordered by order_index, name
func (s *Store) ListMenus(ctx context.Context, filter MenuFilter) ([]Menu, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Scope != "" {
		if !filter.Scope.Valid() {
			return nil, apperrors.BadRequest("invalid scope: %s", filter.Scope)
		}
		args = append(args, string(filter.Scope))
		conditions = append(conditions, fmt.Sprintf("scope = $%d", len(args)))
	}
	if !filter.IncludeInactive {
		conditions = append(conditions, "is_active = TRUE")
	}
	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		conditions = append(conditions, fmt.Sprintf("(tenant_id IS NULL OR tenant_id = $%d)", len(args)))
	}

	query := "SELECT " + menuColumns + " FROM menus"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY order_index, name"

	return s.queryMenus(ctx, query, args...)
}

// GetMenuTree returns the filtered menus as a tree
func (s *Store) GetMenuTree(ctx context.Context, filter MenuFilter) ([]*MenuNode, error) {
	menus, err := s.ListMenus(ctx, filter)
	if err != nil {
		return nil, err
	}
	return BuildTree(menus), nil
}

// GetMenu returns one menu
func (s *Store) GetMenu(ctx context.Context, id int64) (*Menu, error) {
	m, err := scanMenu(s.db.QueryRowContext(ctx, "SELECT "+menuColumns+" FROM menus WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("menu not found: %d", id)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "failed to get menu")
	}
	return m, nil
}

// CreateMenu inserts a menu. A duplicate slug is a Conflict and an unknown
// parent a BadRequest.
func (s *Store) CreateMenu(ctx context.Context, menu Menu) (created *Menu, err error) {
	defer s.observe("create_menu", time.Now(), &err)

	if strings.TrimSpace(menu.Name) == "" || strings.TrimSpace(menu.Slug) == "" {
		return nil, apperrors.BadRequest("name and slug are required")
	}
	if !menu.Scope.Valid() {
		return nil, apperrors.BadRequest("invalid scope: %s", menu.Scope)
	}

	created, err = scanMenu(s.db.QueryRowContext(ctx, `
		INSERT INTO menus (name, slug, icon, route, scope, parent_menu_id, order_index, is_active, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+menuColumns,
		menu.Name, menu.Slug, menu.Icon, menu.Route, string(menu.Scope),
		menu.ParentMenuID, menu.OrderIndex, menu.IsActive, menu.TenantID,
	))
	if err != nil {
		return nil, apperrors.FromDB(err, fmt.Sprintf("menu slug %q already exists", menu.Slug))
	}
	return created, nil
}

const descendantsQuery = `
	WITH RECURSIVE descendants AS (
		SELECT id FROM menus WHERE parent_menu_id = $1
		UNION
		SELECT m.id FROM menus m JOIN descendants d ON m.parent_menu_id = d.id
	)
	SELECT EXISTS(SELECT 1 FROM descendants WHERE id = $2)`

// UpdateMenu applies a partial edit. Moving a menu under itself or one of
// its descendants is rejected.
func (s *Store) UpdateMenu(ctx context.Context, id int64, update MenuUpdate) (updated *Menu, err error) {
	defer s.observe("update_menu", time.Now(), &err)

	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, apperrors.BadRequest("name cannot be empty")
	}
	if update.OrderIndex != nil && *update.OrderIndex < 0 {
		return nil, apperrors.BadRequest("orderIndex cannot be negative")
	}

	err = postgres.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		current, err := scanMenu(tx.QueryRowContext(ctx, "SELECT "+menuColumns+" FROM menus WHERE id = $1 FOR UPDATE", id))
		if err == sql.ErrNoRows {
			return apperrors.NotFound("menu not found: %d", id)
		}
		if err != nil {
			return apperrors.Internal(err, "failed to load menu")
		}

		if update.ParentMenuID.Set && update.ParentMenuID.Value != nil {
			if err := checkParent(ctx, tx, current, *update.ParentMenuID.Value); err != nil {
				return err
			}
		}

		updated, err = scanMenu(tx.QueryRowContext(ctx, `
			UPDATE menus
			SET name = COALESCE($2, name),
			    icon = COALESCE($3, icon),
			    route = COALESCE($4, route),
			    parent_menu_id = CASE WHEN $5::boolean THEN $6::bigint ELSE parent_menu_id END,
			    order_index = COALESCE($7, order_index),
			    is_active = COALESCE($8, is_active),
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+menuColumns,
			id, update.Name, update.Icon, update.Route,
			update.ParentMenuID.Set, update.ParentMenuID.Value,
			update.OrderIndex, update.IsActive,
		))
		if err != nil {
			return apperrors.FromDB(err, "menu update conflicts with an existing menu")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func checkParent(ctx context.Context, tx *sql.Tx, menu *Menu, parentID int64) error {
	if parentID == menu.ID {
		return apperrors.BadRequest("a menu cannot be its own parent")
	}

	var parentScope auth.Scope
	err := tx.QueryRowContext(ctx, "SELECT scope FROM menus WHERE id = $1", parentID).Scan(&parentScope)
	if err == sql.ErrNoRows {
		return apperrors.BadRequest("parent menu does not exist: %d", parentID)
	}
	if err != nil {
		return apperrors.Internal(err, "failed to load parent menu")
	}
	if parentScope != menu.Scope {
		return apperrors.BadRequest("parent menu belongs to scope %s", parentScope)
	}

	var descendant bool
	if err := tx.QueryRowContext(ctx, descendantsQuery, menu.ID, parentID).Scan(&descendant); err != nil {
		return apperrors.Internal(err, "failed to check menu ancestry")
	}
	if descendant {
		return apperrors.BadRequest("a menu cannot be moved under its own descendant")
	}
	return nil
}

const subtreeQuery = `
	WITH RECURSIVE subtree AS (
		SELECT id FROM menus WHERE id = $1
		UNION
		SELECT m.id FROM menus m JOIN subtree s ON m.parent_menu_id = s.id
	)
	SELECT id FROM subtree ORDER BY id`

// DeleteMenu removes a menu with all of its descendants and their role
// assignments. It returns the ids removed.
func (s *Store) DeleteMenu(ctx context.Context, id int64) (deleted []int64, err error) {
	defer s.observe("delete_menu", time.Now(), &err)

	err = postgres.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		ids, err := queryIDs(ctx, tx, subtreeQuery, id)
		if err != nil {
			return apperrors.Internal(err, "failed to resolve menu subtree")
		}
		if len(ids) == 0 {
			return apperrors.NotFound("menu not found: %d", id)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM role_menus WHERE menu_id = ANY($1)", pq.Array(ids)); err != nil {
			return apperrors.Internal(err, "failed to delete role menus")
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM menus WHERE id = ANY($1)", pq.Array(ids)); err != nil {
			return apperrors.Internal(err, "failed to delete menus")
		}
		deleted = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// ReorderMenus sets each menu's order_index to its 0-based position in ids
func (s *Store) ReorderMenus(ctx context.Context, ids []int64) (err error) {
	defer s.observe("reorder_menus", time.Now(), &err)

	if len(ids) == 0 {
		return apperrors.BadRequest("menus is required")
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return apperrors.BadRequest("duplicate menu id: %d", id)
		}
		seen[id] = true
	}

	return postgres.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		found, err := queryIDs(ctx, tx, "SELECT id FROM menus WHERE id = ANY($1) ORDER BY id FOR UPDATE", pq.Array(ids))
		if err != nil {
			return apperrors.Internal(err, "failed to lock menus")
		}
		if len(found) != len(ids) {
			return apperrors.NotFound("menu not found: %d", firstMissing(ids, found))
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE menus m
			SET order_index = o.position - 1, updated_at = NOW()
			FROM unnest($1::bigint[]) WITH ORDINALITY AS o(id, position)
			WHERE m.id = o.id`,
			pq.Array(ids),
		)
		if err != nil {
			return apperrors.Internal(err, "failed to reorder menus")
		}
		return nil
	})
}

// AssignMenusToRole replaces a role's menus with menuIDs and returns the
// resulting ids. Only the difference against the stored rows is written.
func (s *Store) AssignMenusToRole(ctx context.Context, roleID int64, menuIDs []int64) (assigned []int64, err error) {
	ctx, span := observability.Tracer().Start(ctx, "menus.AssignMenusToRole",
		trace.WithAttributes(
			attribute.Int64("role.id", roleID),
			attribute.Int("menus.requested", len(menuIDs)),
		),
	)
	defer span.End()
	defer s.observe("assign_menus", time.Now(), &err)

	ids := uniqueIDs(menuIDs)

	err = postgres.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if err := lockRole(ctx, tx, roleID); err != nil {
			return err
		}

		if len(ids) > 0 {
			found, err := queryIDs(ctx, tx, "SELECT id FROM menus WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
			if err != nil {
				return apperrors.Internal(err, "failed to load menus")
			}
			if len(found) != len(ids) {
				return apperrors.BadRequest("unknown menu id: %d", firstMissing(ids, found))
			}
		}

		current, err := queryIDs(ctx, tx, "SELECT menu_id FROM role_menus WHERE role_id = $1 ORDER BY menu_id", roleID)
		if err != nil {
			return apperrors.Internal(err, "failed to load role menus")
		}

		toDelete, toInsert := diffIDs(current, ids)
		if len(toDelete) > 0 {
			_, err := tx.ExecContext(ctx,
				"DELETE FROM role_menus WHERE role_id = $1 AND menu_id = ANY($2)",
				roleID, pq.Array(toDelete),
			)
			if err != nil {
				return apperrors.Internal(err, "failed to remove role menus")
			}
		}
		if len(toInsert) > 0 {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO role_menus (role_id, menu_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING",
				roleID, pq.Array(toInsert),
			)
			if err != nil {
				return apperrors.FromDB(err, "menu already assigned")
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ids, nil
}

// RemoveMenuFromRole deletes a single role-menu row
func (s *Store) RemoveMenuFromRole(ctx context.Context, roleID, menuID int64) (err error) {
	defer s.observe("remove_role_menu", time.Now(), &err)

	result, err := s.db.ExecContext(ctx, "DELETE FROM role_menus WHERE role_id = $1 AND menu_id = $2", roleID, menuID)
	if err != nil {
		return apperrors.Internal(err, "failed to remove role menu")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Internal(err, "failed to remove role menu")
	}
	if affected == 0 {
		return apperrors.NotFound("menu %d is not assigned to role %d", menuID, roleID)
	}
	return nil
}

// ListRoleMenus returns the menus explicitly assigned to a role
func (s *Store) ListRoleMenus(ctx context.Context, roleID int64) ([]Menu, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM roles WHERE id = $1)", roleID).Scan(&exists); err != nil {
		return nil, apperrors.Internal(err, "failed to load role")
	}
	if !exists {
		return nil, apperrors.NotFound("role not found: %d", roleID)
	}

	return s.queryMenus(ctx, `
		SELECT m.id, m.name, m.slug, m.icon, m.route, m.scope, m.parent_menu_id, m.order_index,
		       m.is_active, m.tenant_id, m.created_at, m.updated_at
		FROM menus m
		JOIN role_menus rm ON rm.menu_id = m.id
		WHERE rm.role_id = $1
		ORDER BY m.order_index, m.name`, roleID)
}

// GetEffectiveMenusForRole returns the active menus a role can see. Protected
// roles see every active menu of their scope regardless of assignments.
// A non-nil tenantID hides other tenants' custom menus.
func (s *Store) GetEffectiveMenusForRole(ctx context.Context, caps *rbac.RoleCapabilities, tenantID *int64) ([]Menu, error) {
	var (
		query string
		args  []interface{}
	)
	if caps.IsProtected() {
		query = "SELECT " + menuColumns + " FROM menus m WHERE m.scope = $1 AND m.is_active = TRUE"
		args = append(args, string(caps.Scope()))
	} else {
		query = `
			SELECT m.id, m.name, m.slug, m.icon, m.route, m.scope, m.parent_menu_id, m.order_index,
			       m.is_active, m.tenant_id, m.created_at, m.updated_at
			FROM menus m
			JOIN role_menus rm ON rm.menu_id = m.id
			WHERE rm.role_id = $1 AND m.is_active = TRUE`
		args = append(args, caps.RoleID())
	}
	if tenantID != nil {
		args = append(args, *tenantID)
		query += fmt.Sprintf(" AND (m.tenant_id IS NULL OR m.tenant_id = $%d)", len(args))
	}
	query += " ORDER BY m.order_index, m.name"

	return s.queryMenus(ctx, query, args...)
}

func lockRole(ctx context.Context, tx *sql.Tx, roleID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM roles WHERE id = $1 FOR UPDATE", roleID).Scan(&id)
	if err == sql.ErrNoRows {
		return apperrors.NotFound("role not found: %d", roleID)
	}
	if err != nil {
		return apperrors.Internal(err, "failed to lock role")
	}
	return nil
}

func queryIDs(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
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
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// diffIDs returns the ids in current but not target, and in target but not
// current, both sorted
func diffIDs(current, target []int64) (toDelete, toInsert []int64) {
	inCurrent := make(map[int64]bool, len(current))
	for _, id := range current {
		inCurrent[id] = true
	}
	inTarget := make(map[int64]bool, len(target))
	for _, id := range target {
		inTarget[id] = true
		if !inCurrent[id] {
			toInsert = append(toInsert, id)
		}
	}
	for _, id := range current {
		if !inTarget[id] {
			toDelete = append(toDelete, id)
		}
	}
	sort.Slice(toDelete, func(i, j int) bool { return toDelete[i] < toDelete[j] })
	sort.Slice(toInsert, func(i, j int) bool { return toInsert[i] < toInsert[j] })
	return toDelete, toInsert
}

func firstMissing(want, found []int64) int64 {
	present := make(map[int64]bool, len(found))
	for _, id := range found {
		present[id] = true
	}
	for _, id := range want {
		if !present[id] {
			return id
		}
	}
	return 0
}
