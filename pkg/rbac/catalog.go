package rbac

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/platinummonkey/loanadmin/pkg/auth"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the declarative source of permissions, their hierarchy,
// the default roles and the default menus
type Catalog struct {
	Version        string            `yaml:"version"`
	ProtectedRoles []string          `yaml:"protected_roles"`
	Resources      []CatalogResource `yaml:"resources"`
	Roles          []CatalogRole     `yaml:"roles"`
	Menus          []CatalogMenu     `yaml:"menus"`

	// derived by build
	permissions []CatalogPermission
	hierarchy   map[string][]string
	scopes      map[auth.Scope][]string
	protected   map[string]auth.Scope
}

// CatalogResource expands into a parent permission and one child per action
type CatalogResource struct {
	Name    string     `yaml:"name"`
	Scope   auth.Scope `yaml:"scope"`
	Parent  string     `yaml:"parent"`
	Actions []string   `yaml:"actions"`
}

// ParentName is the resource's parent permission
func (r CatalogResource) ParentName() string {
	if r.Parent != "" {
		return r.Parent
	}
	return ManagePrefix + r.Name
}

// CatalogPermission is one permission row to seed
type CatalogPermission struct {
	Name        string
	Resource    string
	Action      string
	Description string
}

// CatalogRole is a default role
type CatalogRole struct {
	Name        string     `yaml:"name"`
	Scope       auth.Scope `yaml:"scope"`
	Description string     `yaml:"description"`
	Permissions []string   `yaml:"permissions"`
	Menus       []string   `yaml:"menus"`
}

// CatalogMenu is a default menu; Parent refers to another menu's slug
type CatalogMenu struct {
	Slug   string     `yaml:"slug"`
	Name   string     `yaml:"name"`
	Icon   string     `yaml:"icon"`
	Route  string     `yaml:"route"`
	Scope  auth.Scope `yaml:"scope"`
	Parent string     `yaml:"parent"`
	Order  int        `yaml:"order"`
}

// DefaultCatalog returns the embedded catalog
func DefaultCatalog() *Catalog {
	catalog, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return catalog
}

// LoadCatalog reads and validates a catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := catalog.build(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func (c *Catalog) build() error {
	c.hierarchy = make(map[string][]string)
	c.scopes = make(map[auth.Scope][]string)
	c.protected = make(map[string]auth.Scope, len(c.ProtectedRoles))
	c.permissions = nil

	known := make(map[string]bool)
	add := func(p CatalogPermission) error {
		if known[p.Name] {
			return fmt.Errorf("duplicate permission %q in catalog", p.Name)
		}
		known[p.Name] = true
		c.permissions = append(c.permissions, p)
		return nil
	}

	for _, res := range c.Resources {
		if res.Name == "" {
			return fmt.Errorf("catalog resource without a name")
		}
		if !res.Scope.Valid() {
			return fmt.Errorf("resource %q has invalid scope %q", res.Name, res.Scope)
		}
		c.scopes[res.Scope] = append(c.scopes[res.Scope], res.Name)

		parent := res.ParentName()
		if err := add(CatalogPermission{
			Name:        parent,
			Resource:    res.Name,
			Action:      "manage",
			Description: "Full access to " + res.Name,
		}); err != nil {
			return err
		}
		for _, action := range res.Actions {
			child := action + "_" + res.Name
			if err := add(CatalogPermission{
				Name:        child,
				Resource:    res.Name,
				Action:      action,
				Description: fmt.Sprintf("%s %s", action, res.Name),
			}); err != nil {
				return err
			}
			c.hierarchy[parent] = append(c.hierarchy[parent], child)
		}
	}

	roleKeys := make(map[string]bool)
	for _, role := range c.Roles {
		if !role.Scope.Valid() {
			return fmt.Errorf("role %q has invalid scope %q", role.Name, role.Scope)
		}
		key := string(role.Scope) + "/" + role.Name
		if roleKeys[key] {
			return fmt.Errorf("duplicate role %q in scope %s", role.Name, role.Scope)
		}
		roleKeys[key] = true
		for _, protected := range c.ProtectedRoles {
			if protected != role.Name {
				continue
			}
			if scope, dup := c.protected[role.Name]; dup && scope != role.Scope {
				return fmt.Errorf("protected role %q is declared in more than one scope", role.Name)
			}
			c.protected[role.Name] = role.Scope
		}
		for _, perm := range role.Permissions {
			if !known[perm] {
				return fmt.Errorf("role %q references unknown permission %q", role.Name, perm)
			}
		}
	}

	for _, name := range c.ProtectedRoles {
		if _, ok := c.protected[name]; !ok {
			return fmt.Errorf("protected role %q is not declared in roles", name)
		}
	}

	slugs := make(map[string]CatalogMenu, len(c.Menus))
	for _, menu := range c.Menus {
		if menu.Slug == "" || menu.Name == "" {
			return fmt.Errorf("catalog menu requires slug and name")
		}
		if !menu.Scope.Valid() {
			return fmt.Errorf("menu %q has invalid scope %q", menu.Slug, menu.Scope)
		}
		if _, dup := slugs[menu.Slug]; dup {
			return fmt.Errorf("duplicate menu slug %q", menu.Slug)
		}
		slugs[menu.Slug] = menu
	}
	for _, menu := range c.Menus {
		if menu.Parent == "" {
			continue
		}
		parent, ok := slugs[menu.Parent]
		if !ok {
			return fmt.Errorf("menu %q references unknown parent %q", menu.Slug, menu.Parent)
		}
		if parent.Parent != "" {
			return fmt.Errorf("menu %q nests under %q which is not a root", menu.Slug, menu.Parent)
		}
	}
	for _, role := range c.Roles {
		for _, slug := range role.Menus {
			if _, ok := slugs[slug]; !ok {
				return fmt.Errorf("role %q references unknown menu %q", role.Name, slug)
			}
		}
	}

	return nil
}

// Permissions returns every permission the catalog defines
func (c *Catalog) Permissions() []CatalogPermission {
	return append([]CatalogPermission(nil), c.permissions...)
}

// HierarchyMap returns the parent -> children relation
func (c *Catalog) HierarchyMap() map[string][]string {
	out := make(map[string][]string, len(c.hierarchy))
	for parent, children := range c.hierarchy {
		out[parent] = append([]string(nil), children...)
	}
	return out
}

// Hierarchy builds the engine for the catalog's relation
func (c *Catalog) Hierarchy() *Hierarchy {
	return NewHierarchy(c.hierarchy)
}

// ScopeResources returns the resource allow-list for scope, sorted
func (c *Catalog) ScopeResources(scope auth.Scope) []string {
	resources := append([]string(nil), c.scopes[scope]...)
	sort.Strings(resources)
	return resources
}

// IsProtected reports whether the role named roleName in scope is a
// protected system role. The same name in the other scope is an ordinary role.
func (c *Catalog) IsProtected(scope auth.Scope, roleName string) bool {
	reserved, ok := c.protected[roleName]
	return ok && reserved == scope
}

// ReservedScope returns the scope a protected role name belongs to
func (c *Catalog) ReservedScope(roleName string) (auth.Scope, bool) {
	scope, ok := c.protected[roleName]
	return scope, ok
}

// MenuSlugs returns the set of slugs the catalog defines
func (c *Catalog) MenuSlugs() map[string]bool {
	slugs := make(map[string]bool, len(c.Menus))
	for _, menu := range c.Menus {
		slugs[menu.Slug] = true
	}
	return slugs
}

// OrderedMenus returns the menus with every parent before its children
func (c *Catalog) OrderedMenus() []CatalogMenu {
	ordered := make([]CatalogMenu, 0, len(c.Menus))
	for _, menu := range c.Menus {
		if menu.Parent == "" {
			ordered = append(ordered, menu)
		}
	}
	for _, menu := range c.Menus {
		if menu.Parent != "" {
			ordered = append(ordered, menu)
		}
	}
	return ordered
}
