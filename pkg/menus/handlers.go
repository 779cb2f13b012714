package menus

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/loanadmin/pkg/audit"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/httputil"
	"github.com/platinummonkey/loanadmin/pkg/middleware"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/platinummonkey/loanadmin/pkg/rbac"
)

// Handlers provides HTTP handlers for menus and role-menu assignment
type Handlers struct {
	store  *Store
	guard  *rbac.Guard
	loader rbac.CapabilityLoader
	logger *observability.Logger
}

// NewHandlers creates menu handlers. loader resolves the caller's
// capabilities for /me/menus.
func NewHandlers(store *Store, guard *rbac.Guard, loader rbac.CapabilityLoader, logger *observability.Logger) *Handlers {
	return &Handlers{
		store:  store,
		guard:  guard,
		loader: loader,
		logger: logger,
	}
}

// RegisterRoutes registers all menu routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	view := h.guard.RequireAnyPermission(rbac.PermViewMenus, rbac.PermManageMenus, rbac.PermManagePlatformSettings)
	edit := h.guard.RequireAnyPermission(rbac.PermEditMenus, rbac.PermManageMenus, rbac.PermManagePlatformSettings)
	manage := []func(http.Handler) http.Handler{
		h.guard.RequireScope(auth.ScopePlatform),
		h.guard.RequirePermission(rbac.PermManagePlatformSettings),
	}

	h.handle(router, "/menus", http.MethodGet, h.ListMenus, view)
	h.handle(router, "/menus/tree", http.MethodGet, h.GetMenuTree, view)
	h.handle(router, "/menus/reorder", http.MethodPost, h.ReorderMenus, edit)
	h.handle(router, "/menus/{id}", http.MethodPut, h.UpdateMenu, edit)

	h.handle(router, "/roles/{id}/menus", http.MethodGet, h.ListRoleMenus)
	h.handle(router, "/roles/{id}/menus", http.MethodPost, h.AssignMenus, manage...)
	h.handle(router, "/roles/{roleId}/menus/{menuId}", http.MethodDelete, h.RemoveMenu, manage...)

	h.handle(router, "/me/menus", http.MethodGet, h.MyMenus)
}

func (h *Handlers) handle(router *mux.Router, path, method string, fn http.HandlerFunc, guards ...func(http.Handler) http.Handler) {
	chain := append([]func(http.Handler) http.Handler{h.guard.RequireAuthenticated()}, guards...)
	router.Handle(path, httputil.Chain(chain...)(fn)).Methods(method)
}

// filterFor applies the caller's visibility: platform principals see
// inactive menus, tenant principals see global menus plus their own.
func filterFor(r *http.Request) MenuFilter {
	principal := middleware.GetPrincipal(r)
	return MenuFilter{
		Scope:           auth.Scope(httputil.ParseQueryString(r, "scope", "")),
		IncludeInactive: principal.IsPlatform(),
		TenantID:        principal.TenantID,
	}
}

// ListMenus returns the visible menus as a flat list
func (h *Handlers) ListMenus(w http.ResponseWriter, r *http.Request) {
	menus, err := h.store.ListMenus(r.Context(), filterFor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, menus)
}

// GetMenuTree returns the visible menus as a tree
func (h *Handlers) GetMenuTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.store.GetMenuTree(r.Context(), filterFor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tree)
}

// UpdateMenu applies a partial edit to a menu
func (h *Handlers) UpdateMenu(w http.ResponseWriter, r *http.Request) {
	menuID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var update MenuUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}

	ctx := r.Context()
	menu, err := h.store.UpdateMenu(ctx, menuID, update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.recordMutation(ctx, audit.EventTypeDataMenuUpdate, strconv.FormatInt(menuID, 10), "menu updated", map[string]interface{}{
		"update": update,
	})
	httputil.WriteSuccess(w, menu)
}

type reorderRequest struct {
	Menus []struct {
		ID int64 `json:"id"`
	} `json:"menus"`
}

// ReorderMenus sets order_index from the position of each id in the body
func (h *Handlers) ReorderMenus(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ids := make([]int64, 0, len(req.Menus))
	for _, m := range req.Menus {
		ids = append(ids, m.ID)
	}

	ctx := r.Context()
	if err := h.store.ReorderMenus(ctx, ids); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.recordMutation(ctx, audit.EventTypeDataMenuReorder, "", "menus reordered", map[string]interface{}{
		"menu_ids": ids,
	})
	httputil.WriteSuccess(w, map[string]interface{}{"menu_ids": ids})
}

// ListRoleMenus returns the menus explicitly assigned to a role
func (h *Handlers) ListRoleMenus(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	menus, err := h.store.ListRoleMenus(r.Context(), roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, menus)
}

type assignMenusRequest struct {
	MenuIDs *[]int64 `json:"menuIds"`
}

type roleMenusResponse struct {
	RoleID  int64   `json:"role_id"`
	MenuIDs []int64 `json:"menu_ids"`
}

// AssignMenus replaces a role's menu set
func (h *Handlers) AssignMenus(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req assignMenusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.MenuIDs == nil {
		httputil.WriteBadRequest(w, "menuIds is required")
		return
	}

	ctx := r.Context()
	ids, err := h.store.AssignMenusToRole(ctx, roleID, *req.MenuIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.recordAuthorization(ctx, audit.EventTypeAuthzMenuAssign, roleID, "menus assigned", map[string]interface{}{
		"menu_ids": ids,
	})
	httputil.WriteSuccess(w, roleMenusResponse{RoleID: roleID, MenuIDs: ids})
}

// RemoveMenu removes one menu from a role
func (h *Handlers) RemoveMenu(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleId")
	if !ok {
		return
	}
	menuID, ok := httputil.ParsePathInt64OrError(w, r, "menuId")
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.store.RemoveMenuFromRole(ctx, roleID, menuID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.recordAuthorization(ctx, audit.EventTypeAuthzMenuUnassign, roleID, "menu removed", map[string]interface{}{
		"menu_id": menuID,
	})
	httputil.WriteNoContent(w)
}

// MyMenus returns the caller's effective menu tree
func (h *Handlers) MyMenus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipal(r)

	caps, ok := rbac.CapabilitiesFromContext(ctx)
	if !ok || caps.RoleID() != principal.RoleID {
		var err error
		caps, err = h.loader.Capabilities(ctx, principal.RoleID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	menus, err := h.store.GetEffectiveMenusForRole(ctx, caps, principal.TenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, BuildTree(menus))
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithError(err).WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Warn("menu request failed")
	httputil.WriteAppError(w, err)
}

func (h *Handlers) recordMutation(ctx context.Context, eventType audit.EventType, menuID, message string, details map[string]interface{}) {
	err := audit.FromContext(ctx).LogDataMutation(ctx, eventType, audit.ResourceTypeMenu, menuID, message, details)
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
