package rbac

import (
	"context"

	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
)

// RoleCapabilities is everything the guards need to know about a role,
// computed once per lookup. Protected roles hold every permission and see
// every active menu of their scope.
type RoleCapabilities struct {
	roleID      int64
	roleName    string
	scope       auth.Scope
	protected   bool
	permissions PermissionSet
}

// NewRoleCapabilities builds capabilities for role. For protected roles
// permissions should be the full permission catalog.
func NewRoleCapabilities(role Role, protected bool, permissions []string) *RoleCapabilities {
	return &RoleCapabilities{
		roleID:      role.ID,
		roleName:    role.Name,
		scope:       role.Scope,
		protected:   protected,
		permissions: NewPermissionSet(permissions...),
	}
}

func (c *RoleCapabilities) RoleID() int64     { return c.roleID }
func (c *RoleCapabilities) RoleName() string  { return c.roleName }
func (c *RoleCapabilities) Scope() auth.Scope { return c.scope }
func (c *RoleCapabilities) IsProtected() bool { return c.protected }

// Has reports whether the role holds name
func (c *RoleCapabilities) Has(name string) bool {
	if c.protected {
		return true
	}
	return c.permissions.Has(name)
}

// HasAny reports whether the role holds at least one of names
func (c *RoleCapabilities) HasAny(names ...string) bool {
	for _, name := range names {
		if c.Has(name) {
			return true
		}
	}
	return false
}

// EffectivePermissions returns the sorted permission names the role holds
func (c *RoleCapabilities) EffectivePermissions() []string {
	return c.permissions.Names()
}

// capabilitySnapshot is the cached form of RoleCapabilities
type capabilitySnapshot struct {
	RoleID      int64      `json:"role_id"`
	RoleName    string     `json:"role_name"`
	Scope       auth.Scope `json:"scope"`
	Protected   bool       `json:"protected"`
	Permissions []string   `json:"permissions"`
}

func (c *RoleCapabilities) snapshot() capabilitySnapshot {
	return capabilitySnapshot{
		RoleID:      c.roleID,
		RoleName:    c.roleName,
		Scope:       c.scope,
		Protected:   c.protected,
		Permissions: c.EffectivePermissions(),
	}
}

func (s capabilitySnapshot) capabilities() *RoleCapabilities {
	return NewRoleCapabilities(Role{ID: s.RoleID, Name: s.RoleName, Scope: s.Scope}, s.Protected, s.Permissions)
}

// CapabilitiesFromContext returns the capabilities a guard already loaded
// for this request
func CapabilitiesFromContext(ctx context.Context) (*RoleCapabilities, bool) {
	caps, ok := ctx.Value(contextkeys.CapabilitiesKey).(*RoleCapabilities)
	return caps, ok && caps != nil
}
