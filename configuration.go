package statechart

import (
	"slices"
	"strings"

	"github.com/stateforward/go-statechart/pkg/set"
)

// Configuration lists the dotted paths of the active states in document
// order. The root is always active and is not listed.
type Configuration []string

func configuration(active set.Set[*StateNode]) Configuration {
	nodes := make([]*StateNode, 0, len(active))
	for node := range active.Items() {
		if node.parent != nil {
			nodes = append(nodes, node)
		}
	}
	slices.SortFunc(nodes, byOrder)
	paths := make(Configuration, 0, len(nodes))
	for _, node := range nodes {
		paths = append(paths, node.path)
	}
	return paths
}

func byOrder(a, b *StateNode) int {
	return a.order - b.order
}

// Matches reports whether the state at path is active. A leading '#' is
// accepted and ignored.
func (c Configuration) Matches(path string) bool {
	path = strings.TrimPrefix(path, "#")
	if path == "" {
		return true
	}
	return slices.Contains(c, path)
}

// Leaves returns the innermost active states, one per active region.
func (c Configuration) Leaves() []string {
	var leaves []string
	for i, path := range c {
		if i+1 < len(c) && strings.HasPrefix(c[i+1], path+".") {
			continue
		}
		leaves = append(leaves, path)
	}
	return leaves
}

func (c Configuration) String() string {
	return strings.Join(c.Leaves(), ",")
}
