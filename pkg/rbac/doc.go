// Package rbac provides roles, permissions and the authorization guard for
// the loan-admin platform.
//
// # Overview
//
// Every user holds exactly one Role. A role has a scope, platform or
// tenant, and a set of named permissions such as view_loans or
// manage_platform_settings. Three role names are protected (Super Admin,
// Support Staff and Developer): they implicitly hold every permission and
// cannot be renamed, rescoped or deleted.
//
// # Permission hierarchy
//
// Each resource has a parent permission, manage_<resource>, whose children
// are the per-action permissions (view_loans, approve_loans, ...). The
// relation lives in the permission_hierarchy table and is seeded from the
// catalog. A stored permission set never holds a child without its parent:
//
//	h := catalog.Hierarchy()
//	set := h.Toggle(NewPermissionSet(), "view_customers", true)
//	// set = {manage_customers, view_customers}
//	set = h.Toggle(set, "manage_customers", false)
//	// set = {}
//
// Store.AssignPermissions closes the requested set over the hierarchy and
// writes only the rows that changed.
//
// # Guarding routes
//
// Guard methods return gorilla/mux compatible middleware:
//
//	guard := manager.GetGuard()
//	router.Handle("/roles", httputil.Chain(
//		guard.RequireAuthenticated(),
//		guard.RequirePermission(rbac.PermManagePlatformSettings),
//	)(handler)).Methods(http.MethodPost)
//
// Capabilities are loaded once per request and stored in the context, so
// stacked guards and handlers share them through CapabilitiesFromContext.
// Denials answer 403 "access denied" and emit an authz.access_denied audit
// event.
//
// # Caching
//
// PermissionChecker can cache capabilities in an in-process LRU backed by
// Redis. The cache is off unless LOANADMIN_CACHE_ENABLED is set; every role mutation
// invalidates the affected entry and seeding flushes all of them.
//
// # Catalog
//
// catalog.yaml, embedded in the binary, declares the resources, the
// hierarchy, the default roles and the default menus. Seed applies it
// idempotently; roles that already exist keep their current permissions.
package rbac
