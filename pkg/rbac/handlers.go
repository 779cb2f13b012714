package rbac

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/loanadmin/pkg/audit"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/httputil"
	"github.com/platinummonkey/loanadmin/pkg/observability"
)

// Handlers provides HTTP handlers for role and permission operations
type Handlers struct {
	manager *Manager
	store   *Store
	guard   *Guard
	logger  *observability.Logger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(manager *Manager, logger *observability.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		store:   manager.store,
		guard:   manager.guard,
		logger:  logger,
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// role administration is a platform concern whatever a tenant role holds
	manage := []func(http.Handler) http.Handler{
		h.guard.RequireScope(auth.ScopePlatform),
		h.guard.RequirePermission(PermManagePlatformSettings),
	}

	// Roles
	h.handle(router, "/roles", http.MethodGet, h.ListRoles)
	h.handle(router, "/roles", http.MethodPost, h.CreateRole, manage...)
	h.handle(router, "/roles/{id}", http.MethodGet, h.GetRole)
	h.handle(router, "/roles/{id}", http.MethodPut, h.UpdateRole, manage...)
	h.handle(router, "/roles/{id}", http.MethodDelete, h.DeleteRole, manage...)

	// Role permissions
	h.handle(router, "/roles/{id}/permissions", http.MethodPost, h.AssignPermissions, manage...)
	h.handle(router, "/roles/{id}/permissions/toggle", http.MethodPost, h.TogglePermission, manage...)

	// Permission catalog
	h.handle(router, "/permissions", http.MethodGet, h.ListPermissions)
	h.handle(router, "/permissions/hierarchy", http.MethodGet, h.GetHierarchy)
}

// handle registers fn behind RequireAuthenticated and the given guards
func (h *Handlers) handle(router *mux.Router, path, method string, fn http.HandlerFunc, guards ...func(http.Handler) http.Handler) {
	chain := append([]func(http.Handler) http.Handler{h.guard.RequireAuthenticated()}, guards...)
	router.Handle(path, httputil.Chain(chain...)(fn)).Methods(method)
}

// ListRoles lists all roles with their permission names
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// GetRole returns a role with its permissions
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Scope       string `json:"scope"`
	Description string `json:"description"`
}

// CreateRole creates a new role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	role, err := h.store.CreateRole(ctx, req.Name, req.Scope, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.recordMutation(ctx, audit.EventTypeDataRoleCreate, role.ID, "role created", map[string]interface{}{
		"name":  role.Name,
		"scope": string(role.Scope),
	})
	httputil.WriteCreated(w, role)
}

// UpdateRole applies a partial update to a role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var update RoleUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}

	ctx := r.Context()
	role, err := h.store.UpdateRole(ctx, roleID, update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	details := map[string]interface{}{"name": role.Name}
	if update.PermissionIDs != nil {
		details["permission_ids"] = *update.PermissionIDs
	}
	h.recordMutation(ctx, audit.EventTypeDataRoleUpdate, roleID, "role updated", details)
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a non-protected role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.store.DeleteRole(ctx, roleID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.recordMutation(ctx, audit.EventTypeDataRoleDelete, roleID, "role deleted", nil)
	httputil.WriteNoContent(w)
}

type assignPermissionsRequest struct {
	PermissionIDs *[]int64 `json:"permissionIds"`
}

type rolePermissionsResponse struct {
	RoleID      int64    `json:"role_id"`
	Permissions []string `json:"permissions"`
}

// AssignPermissions replaces a role's permission set
func (h *Handlers) AssignPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req assignPermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PermissionIDs == nil {
		httputil.WriteBadRequest(w, "permissionIds is required")
		return
	}

	ctx := r.Context()
	names, err := h.store.AssignPermissions(ctx, roleID, *req.PermissionIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.recordAuthorization(ctx, audit.EventTypeAuthzPermissionAssign, roleID, "permissions assigned", map[string]interface{}{
		"permission_ids": *req.PermissionIDs,
		"permissions":    names,
	})
	httputil.WriteSuccess(w, rolePermissionsResponse{RoleID: roleID, Permissions: names})
}

type togglePermissionRequest struct {
	Permission string `json:"permission"`
	Enabled    *bool  `json:"enabled"`
}

// TogglePermission turns one permission on or off with hierarchy cascade
func (h *Handlers) TogglePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req togglePermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		httputil.WriteBadRequest(w, "enabled is required")
		return
	}

	ctx := r.Context()
	names, err := h.manager.ToggleRolePermission(ctx, roleID, req.Permission, *req.Enabled)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.recordAuthorization(ctx, audit.EventTypeAuthzPermissionToggle, roleID, "permission toggled", map[string]interface{}{
		"permission":  req.Permission,
		"enabled":     *req.Enabled,
		"permissions": names,
	})
	httputil.WriteSuccess(w, rolePermissionsResponse{RoleID: roleID, Permissions: names})
}

// ListPermissions lists permissions, optionally filtered by ?scope=
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	scope := httputil.ParseQueryString(r, "scope", "")
	permissions, err := h.store.ListPermissions(r.Context(), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

// GetHierarchy returns the parent -> children permission map
func (h *Handlers) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	hierarchy, err := h.store.GetHierarchy(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, hierarchy.Map())
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithError(err).WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Warn("rbac request failed")
	httputil.WriteAppError(w, err)
}

func (h *Handlers) recordMutation(ctx context.Context, eventType audit.EventType, roleID int64, message string, details map[string]interface{}) {
	err := audit.FromContext(ctx).LogDataMutation(ctx, eventType, audit.ResourceTypeRole, strconv.FormatInt(roleID, 10), message, details)
	if err != nil {
		h.logger.WithError(err).Warn("failed to record audit event")
	}
}

func (h *Handlers) recordAuthorization(ctx context.Context, eventType audit.EventType, roleID int64, message string, details map[string]interface{}) {
	err := audit.FromContext(ctx).LogAuthorization(ctx, eventType, audit.ResourceTypeRole, strconv.FormatInt(roleID, 10), audit.EventStatusSuccess, message, details)
	if err != nil {
		h.logger.WithError(err).Warn("failed to record audit event")
	}
}
