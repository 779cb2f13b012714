package rbac

import (
	"time"

	"github.com/platinummonkey/loanadmin/pkg/auth"
)

// Role is the unit of permission and menu assignment
type Role struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Scope       auth.Scope `json:"scope"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RoleSummary is a role with its permission names, as returned by ListRoles
type RoleSummary struct {
	Role
	Permissions []string `json:"permissions"`
}

// RoleDetail is a role with full permission objects, as returned by GetRole
type RoleDetail struct {
	Role
	Permissions []Permission `json:"permissions"`
	IsProtected bool         `json:"is_protected"`
}

// RoleUpdate is a partial role update. Nil fields keep their current value.
// A non-nil PermissionIDs replaces the role's permission set in the same
// transaction.
type RoleUpdate struct {
	Name          *string  `json:"name,omitempty"`
	Scope         *string  `json:"scope,omitempty"`
	Description   *string  `json:"description,omitempty"`
	PermissionIDs *[]int64 `json:"permissionIds,omitempty"`
}

// Permission is a named action on a resource
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// ManagePrefix is the name prefix of parent permissions
const ManagePrefix = "manage_"

// Permissions the HTTP guards check
const (
	PermManagePlatformSettings = "manage_platform_settings"
	PermViewMenus              = "view_menus"
	PermEditMenus              = "edit_menus"
	PermManageMenus            = "manage_menus"
	PermViewUsers              = "view_users"
	PermManageUsers            = "manage_users"
)

// HierarchyViolation is a child permission held without its parent
type HierarchyViolation struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}
