package menus

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/platinummonkey/loanadmin/pkg/apperrors"
	"github.com/platinummonkey/loanadmin/pkg/rbac"
	"github.com/platinummonkey/loanadmin/pkg/storage/postgres"
)

// SeedResult describes what a menu seed wrote
type SeedResult struct {
	Menus        int
	CreatedMenus int
	RoleMenus    int
}

// SeedCatalog creates the catalog's global menus that do not exist yet and
// assigns default menus to the roles created by roles. Existing menus are
// left untouched so edits made through the API survive a re-seed.
func SeedCatalog(ctx context.Context, db *sql.DB, catalog *rbac.Catalog, roles *rbac.SeedResult) (*SeedResult, error) {
	result := &SeedResult{}

	err := postgres.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
		ids := make(map[string]int64, len(catalog.Menus))
		for _, menu := range catalog.OrderedMenus() {
			var parentID *int64
			if menu.Parent != "" {
				id, ok := ids[menu.Parent]
				if !ok {
					return fmt.Errorf("menu %q references unseeded parent %q", menu.Slug, menu.Parent)
				}
				parentID = &id
			}

			id, created, err := upsertMenu(ctx, tx, menu, parentID)
			if err != nil {
				return err
			}
			ids[menu.Slug] = id
			result.Menus++
			if created {
				result.CreatedMenus++
			}
		}

		if roles == nil {
			return nil
		}
		for _, role := range catalog.Roles {
			key := rbac.RoleKey(role.Scope, role.Name)
			if !roles.CreatedRoles[key] || len(role.Menus) == 0 {
				continue
			}
			menuIDs := make([]int64, 0, len(role.Menus))
			for _, slug := range role.Menus {
				menuIDs = append(menuIDs, ids[slug])
			}
			sort.Slice(menuIDs, func(i, j int) bool { return menuIDs[i] < menuIDs[j] })

			_, err := tx.ExecContext(ctx,
				"INSERT INTO role_menus (role_id, menu_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING",
				roles.Roles[key], pq.Array(menuIDs),
			)
			if err != nil {
				return fmt.Errorf("failed to seed menus for role %q: %w", role.Name, err)
			}
			result.RoleMenus += len(menuIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func upsertMenu(ctx context.Context, tx *sql.Tx, menu rbac.CatalogMenu, parentID *int64) (int64, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO menus (name, slug, icon, route, scope, parent_menu_id, order_index, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (slug) DO NOTHING
		RETURNING id`,
		menu.Name, menu.Slug, menu.Icon, menu.Route, string(menu.Scope), parentID, menu.Order,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to seed menu %q: %w", menu.Slug, err)
	}

	if err := tx.QueryRowContext(ctx, "SELECT id FROM menus WHERE slug = $1", menu.Slug).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("failed to load menu %q: %w", menu.Slug, err)
	}
	return id, false, nil
}

// PruneMenus deletes every global menu whose slug the catalog does not
// define, together with its subtree. It returns the ids removed.
func PruneMenus(ctx context.Context, store *Store, catalog *rbac.Catalog) ([]int64, error) {
	menus, err := store.ListMenus(ctx, MenuFilter{IncludeInactive: true})
	if err != nil {
		return nil, err
	}

	keep := catalog.MenuSlugs()
	var removed []int64
	for _, menu := range menus {
		if menu.TenantID != nil || keep[menu.Slug] {
			continue
		}
		ids, err := store.DeleteMenu(ctx, menu.ID)
		if apperrors.Is(err, apperrors.KindNotFound) {
			// already removed with an ancestor
			continue
		}
		if err != nil {
			return removed, err
		}
		removed = append(removed, ids...)
	}
	return removed, nil
}
