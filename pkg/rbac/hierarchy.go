package rbac

import (
	"sort"
)

// PermissionSet is a set of permission names
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Clone returns an independent copy
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for name := range s {
		out[name] = struct{}{}
	}
	return out
}

// Names returns the members in sorted order
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hierarchy is the parent/child relation between permissions. A child is
// only meaningful while its parent is held, so adding a child pulls in its
// ancestors and removing a parent drops its descendants.
//
// Hierarchy is immutable after construction and safe for concurrent use.
type Hierarchy struct {
	children map[string][]string
	parents  map[string][]string
}

// NewHierarchy builds a hierarchy from a parent -> children map
func NewHierarchy(parentToChildren map[string][]string) *Hierarchy {
	h := &Hierarchy{
		children: make(map[string][]string, len(parentToChildren)),
		parents:  make(map[string][]string),
	}
	for parent, children := range parentToChildren {
		for _, child := range children {
			if child == parent {
				continue
			}
			h.children[parent] = appendUnique(h.children[parent], child)
			h.parents[child] = appendUnique(h.parents[child], parent)
		}
	}
	for _, list := range h.children {
		sort.Strings(list)
	}
	for _, list := range h.parents {
		sort.Strings(list)
	}
	return h
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

// Parents returns the direct parents of name
func (h *Hierarchy) Parents(name string) []string {
	return append([]string(nil), h.parents[name]...)
}

// Children returns the direct children of name
func (h *Hierarchy) Children(name string) []string {
	return append([]string(nil), h.children[name]...)
}

// IsParent reports whether name has any children
func (h *Hierarchy) IsParent(name string) bool {
	return len(h.children[name]) > 0
}

// Map returns a copy of the parent -> children relation
func (h *Hierarchy) Map() map[string][]string {
	out := make(map[string][]string, len(h.children))
	for parent, children := range h.children {
		out[parent] = append([]string(nil), children...)
	}
	return out
}

// Toggle returns the set that results from turning name on or off.
// Turning on adds every ancestor; turning off removes every descendant.
// The input set is not modified.
func (h *Hierarchy) Toggle(set PermissionSet, name string, on bool) PermissionSet {
	out := set.Clone()
	if on {
		out[name] = struct{}{}
		h.walk(name, h.parents, func(ancestor string) { out[ancestor] = struct{}{} })
		return out
	}

	delete(out, name)
	h.walk(name, h.children, func(descendant string) { delete(out, descendant) })
	return out
}

// Close returns set plus every missing ancestor of its members
func (h *Hierarchy) Close(set PermissionSet) PermissionSet {
	out := set.Clone()
	for name := range set {
		h.walk(name, h.parents, func(ancestor string) { out[ancestor] = struct{}{} })
	}
	return out
}

// Violations lists members whose parent is absent, sorted by child then parent
func (h *Hierarchy) Violations(set PermissionSet) []HierarchyViolation {
	var violations []HierarchyViolation
	for _, child := range set.Names() {
		for _, parent := range h.parents[child] {
			if !set.Has(parent) {
				violations = append(violations, HierarchyViolation{Parent: parent, Child: child})
			}
		}
	}
	return violations
}

// walk visits every node reachable from start through edges, excluding start
func (h *Hierarchy) walk(start string, edges map[string][]string, visit func(string)) {
	seen := map[string]bool{start: true}
	queue := append([]string(nil), edges[start]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		visit(next)
		queue = append(queue, edges[next]...)
	}
}
