// Package menus stores navigation menus and decides which of them a role
// can see.
//
// Menus form a tree through parent_menu_id. BuildTree turns a flat list into
// nested MenuNodes ordered by order_index, then name. Menus whose parent was
// filtered out surface as roots.
//
// Roles see the menus assigned to them through role_menus. Protected roles
// ignore those rows and see every active menu of their scope:
//
//	caps, _ := checker.Capabilities(ctx, roleID)
//	menus, err := store.GetEffectiveMenusForRole(ctx, caps, principal.TenantID)
//
// DeleteMenu removes the whole subtree. AssignMenusToRole writes only the
// rows that differ from what is stored.
package menus
