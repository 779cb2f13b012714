package menus

import "sort"

// BuildTree groups a flat menu list by parent. Menus whose parent is not in
// the list become roots. Every level is ordered by OrderIndex, then Name,
// and Children is never nil.
func BuildTree(menus []Menu) []*MenuNode {
	nodes := make(map[int64]*MenuNode, len(menus))
	for _, menu := range menus {
		nodes[menu.ID] = &MenuNode{Menu: menu, Children: []*MenuNode{}}
	}

	roots := make([]*MenuNode, 0)
	for _, menu := range menus {
		node := nodes[menu.ID]
		if menu.ParentMenuID != nil {
			if parent, ok := nodes[*menu.ParentMenuID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	sortNodes(roots)
	for _, node := range nodes {
		sortNodes(node.Children)
	}
	return roots
}

func sortNodes(nodes []*MenuNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].OrderIndex != nodes[j].OrderIndex {
			return nodes[i].OrderIndex < nodes[j].OrderIndex
		}
		return nodes[i].Name < nodes[j].Name
	})
}
