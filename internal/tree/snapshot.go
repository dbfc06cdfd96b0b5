package tree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// snapshotDoc is the self-describing on-disk representation: every
// attribute of every node plus tree metadata, so Load(Snapshot(t)) can
// reconstruct a Tree whose ToDict() equals the original (§8 round-trip
// property).
type snapshotDoc struct {
	Concepts     []string        `json:"concepts"`
	Difficulties []string        `json:"difficulties"`
	Initialized  bool            `json:"initialized"`
	Nodes        []ChallengeNode `json:"nodes"`
}

// SnapshotPath builds the conventional snapshot file name for a phase and
// iteration, per §6.2: tree.<phase>.<iteration>.json.
func SnapshotPath(dir, phase string, iteration int) string {
	return filepath.Join(dir, fmt.Sprintf("tree.%s.%d.json", phase, iteration))
}

// Snapshot writes a self-describing representation of the tree to path,
// preserving every attribute of every node and the tree metadata.
func (t *Tree) Snapshot(path string) error {
	t.mu.RLock()
	doc := snapshotDoc{
		Concepts:     append([]string(nil), t.concepts...),
		Difficulties: append([]string(nil), t.difficulties...),
		Initialized:  t.initialized,
		Nodes:        make([]ChallengeNode, 0, len(t.nodes)),
	}
	for _, n := range t.nodes {
		doc.Nodes = append(doc.Nodes, *n)
	}
	t.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load reconstructs a Tree from a snapshot file written by Snapshot.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	t := New(nil)
	t.concepts = doc.Concepts
	t.difficulties = doc.Difficulties
	t.initialized = doc.Initialized
	for i := range doc.Nodes {
		n := doc.Nodes[i]
		t.nodes[n.ID] = &n
	}
	return t, nil
}
