package auth

import (
	"fmt"
	"time"
)

// Scope separates platform operators from tenant staff.
// Roles, menus and principals all carry one.
type Scope string

const (
	ScopePlatform Scope = "platform"
	ScopeTenant   Scope = "tenant"
)

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	return s == ScopePlatform || s == ScopeTenant
}

// ParseScope parses a scope string, rejecting unknown values
func ParseScope(value string) (Scope, error) {
	scope := Scope(value)
	if !scope.Valid() {
		return "", fmt.Errorf("invalid scope %q (must be platform or tenant)", value)
	}
	return scope, nil
}

// TenantStatus is the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusTrial     TenantStatus = "trial"
	TenantStatusInactive  TenantStatus = "inactive"
	TenantStatusSuspended TenantStatus = "suspended"
)

// CanAuthenticate reports whether users of a tenant in this state may sign in
func (s TenantStatus) CanAuthenticate() bool {
	return s == TenantStatusActive || s == TenantStatusTrial
}

// Principal is the authenticated caller attached to a request.
// Authorization is derived entirely from RoleID; there are no per-user overrides.
type Principal struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	TenantID  *int64 `json:"tenant_id,omitempty"`
	RoleID    int64  `json:"role_id"`
	RoleScope Scope  `json:"role_scope"`
}

// IsPlatform reports whether the principal holds a platform-scope role
func (p *Principal) IsPlatform() bool {
	return p != nil && p.RoleScope == ScopePlatform
}

// HasTenant reports whether the principal belongs to a tenant
func (p *Principal) HasTenant() bool {
	return p != nil && p.TenantID != nil
}

// APIToken is an opaque bearer token record. The plaintext is never stored.
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}
