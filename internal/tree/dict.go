package tree

import "sort"

// Dict is the network-export shape of a Tree: child/parent links are by
// ID, never by embedding, per §4.1's to_dict contract.
type Dict struct {
	Concepts     []string        `json:"concepts"`
	Difficulties []string        `json:"difficulties"`
	Nodes        []ChallengeNode `json:"nodes"`
}

// ToDict returns a snapshot of the tree suitable for network export or
// persistence. Nodes are returned in a stable (ID-sorted) order so repeated
// calls against an unchanged tree are byte-identical once marshalled.
func (t *Tree) ToDict() Dict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d := Dict{
		Concepts:     append([]string(nil), t.concepts...),
		Difficulties: append([]string(nil), t.difficulties...),
		Nodes:        make([]ChallengeNode, 0, len(t.nodes)),
	}
	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d.Nodes = append(d.Nodes, *t.nodes[id])
	}
	return d
}
