package menus

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/platinummonkey/loanadmin/pkg/auth"
)

// Menu is one navigation entry. Menus form a tree through ParentMenuID.
// TenantID is nil for global menus.
type Menu struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	Icon         string     `json:"icon"`
	Route        string     `json:"route"`
	Scope        auth.Scope `json:"scope"`
	ParentMenuID *int64     `json:"parent_menu_id"`
	OrderIndex   int        `json:"order_index"`
	IsActive     bool       `json:"is_active"`
	TenantID     *int64     `json:"tenant_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MenuNode is a menu with its ordered children
type MenuNode struct {
	Menu
	Children []*MenuNode `json:"children"`
}

// MenuFilter narrows ListMenus
type MenuFilter struct {
	// Scope limits results to one scope when set
	Scope auth.Scope

	// IncludeInactive returns menus with is_active = false as well
	IncludeInactive bool

	// TenantID limits results to global menus plus that tenant's own
	TenantID *int64
}

// MenuUpdate is a partial menu edit. Scope cannot be changed.
type MenuUpdate struct {
	Name         *string    `json:"name,omitempty"`
	Icon         *string    `json:"icon,omitempty"`
	Route        *string    `json:"route,omitempty"`
	ParentMenuID OptionalID `json:"parentMenuId"`
	OrderIndex   *int       `json:"orderIndex,omitempty"`
	IsActive     *bool      `json:"isActive,omitempty"`
}

// OptionalID distinguishes an absent JSON field from an explicit null.
// Set is true whenever the field was present; Value is nil for null.
type OptionalID struct {
	Set   bool
	Value *int64
}

// UnmarshalJSON records presence and decodes the id or null
func (o *OptionalID) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	o.Value = &id
	return nil
}

// MarshalJSON writes the id or null
func (o OptionalID) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// SetParent returns an OptionalID that moves a menu under parentID
func SetParent(parentID int64) OptionalID {
	return OptionalID{Set: true, Value: &parentID}
}

// MakeRoot returns an OptionalID that detaches a menu from its parent
func MakeRoot() OptionalID {
	return OptionalID{Set: true}
}
