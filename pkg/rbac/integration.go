package rbac

import (
	"context"
	"database/sql"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/loanadmin/pkg/apperrors"
	"github.com/platinummonkey/loanadmin/pkg/config"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/platinummonkey/loanadmin/pkg/storage/postgres"
)

// Manager wires the store, capability checker, guard and handlers together
type Manager struct {
	store    *Store
	checker  *PermissionChecker
	guard    *Guard
	handlers *Handlers
}

// NewManager creates a new RBAC manager. redis and metrics may be nil.
func NewManager(db *sql.DB, catalog *Catalog, cacheCfg config.CacheConfig, redis *postgres.RedisClient, metrics *observability.Metrics, logger *observability.Logger) *Manager {
	store := NewStore(db, catalog, metrics)
	checker := NewPermissionChecker(store, cacheCfg, redis, metrics)
	store.SetInvalidator(checker)

	m := &Manager{
		store:   store,
		checker: checker,
		guard:   NewGuard(checker, metrics, logger),
	}
	m.handlers = NewHandlers(m, logger)
	return m
}

// Initialize applies the schema migrations
func (m *Manager) Initialize(ctx context.Context, logger *observability.Logger) error {
	return RunMigrations(ctx, m.store.db, logger)
}

// RegisterRoutes registers the role and permission routes
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// GetStore returns the RBAC store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetChecker returns the capability checker
func (m *Manager) GetChecker() *PermissionChecker {
	return m.checker
}

// GetGuard returns the guard middleware factory
func (m *Manager) GetGuard() *Guard {
	return m.guard
}

// ToggleRolePermission turns one permission on or off for a role, cascading
// through the hierarchy, and persists the result with a single assignment.
// It returns the role's resulting permission names.
func (m *Manager) ToggleRolePermission(ctx context.Context, roleID int64, name string, on bool) ([]string, error) {
	if name == "" {
		return nil, apperrors.BadRequest("permission is required")
	}
	if _, err := m.store.GetRoleRecord(ctx, roleID); err != nil {
		return nil, err
	}

	known, err := m.store.PermissionsByName(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	if len(known) == 0 {
		return nil, apperrors.BadRequest("unknown permission: %s", name)
	}

	current, err := m.store.RolePermissionNames(ctx, roleID)
	if err != nil {
		return nil, err
	}
	hierarchy, err := m.store.GetHierarchy(ctx)
	if err != nil {
		return nil, err
	}

	target := hierarchy.Toggle(NewPermissionSet(current...), name, on)

	ids := make([]int64, 0, len(target))
	if len(target) > 0 {
		permissions, err := m.store.PermissionsByName(ctx, target.Names())
		if err != nil {
			return nil, err
		}
		for _, p := range permissions {
			ids = append(ids, p.ID)
		}
	}

	return m.store.AssignPermissions(ctx, roleID, ids)
}
