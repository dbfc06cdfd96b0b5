// Package tree implements the Search Core's shared data model: the
// ChallengeNode graph, its invariants, and snapshot I/O. The Tree is the
// exclusive owner of every node by ID; parent/child links are ID
// back-references, never embedded pointers, per the "weak back-references"
// redesign note.
package tree

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prismbench/searchcore/internal/apierrors"
)

// Tree is a directed acyclic graph of ChallengeNodes rooted in a virtual
// level-0. All mutation goes through exported methods holding mu in
// exclusive mode; reads of derived state take shared mode.
type Tree struct {
	mu sync.RWMutex

	concepts      []string
	difficulties  []string
	nodes         map[string]*ChallengeNode
	initialized   bool

	logger *logrus.Logger
}

// New creates an empty Tree. It must be initialized with InitializeTree
// before any node-creating operation.
func New(logger *logrus.Logger) *Tree {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tree{
		nodes:  make(map[string]*ChallengeNode),
		logger: logger,
	}
}

// ErrAlreadyInitialized is returned by InitializeTree on a second call.
var ErrAlreadyInitialized = fmt.Errorf("tree already initialized: %w", apierrors.ErrConflict)

// InitializeTree seeds the initial frontier: one root node per concept at
// the easiest difficulty, then one child per unordered pair of distinct
// root concepts at the easiest difficulty, whose parents are those two
// roots. Fails with ErrAlreadyInitialized if called twice.
func (t *Tree) InitializeTree(concepts, difficulties []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return ErrAlreadyInitialized
	}
	if len(concepts) == 0 {
		return fmt.Errorf("concepts must be non-empty: %w", apierrors.ErrInvariantViolation)
	}
	if len(difficulties) == 0 {
		return fmt.Errorf("difficulties must be non-empty: %w", apierrors.ErrInvariantViolation)
	}

	t.concepts = append([]string(nil), concepts...)
	t.difficulties = append([]string(nil), difficulties...)
	easiest := difficulties[0]

	roots := make(map[string]*ChallengeNode, len(concepts))
	for _, c := range concepts {
		n := t.newNodeLocked([]string{c}, easiest, 1, "")
		roots[c] = n
	}

	for i := 0; i < len(concepts); i++ {
		for j := i + 1; j < len(concepts); j++ {
			a, b := roots[concepts[i]], roots[concepts[j]]
			child := t.newNodeLocked(unionConcepts(a.Concepts, b.Concepts), easiest, 1, "")
			child.ParentIDs = []string{a.ID, b.ID}
			child.Depth = 1
			a.ChildIDs = append(a.ChildIDs, child.ID)
			b.ChildIDs = append(b.ChildIDs, child.ID)
		}
	}

	t.initialized = true
	t.logger.WithFields(logrus.Fields{
		"concepts": len(concepts), "nodes": len(t.nodes),
	}).Info("tree initialized")
	return nil
}

// newNodeLocked allocates and registers a node. Caller must hold mu.
func (t *Tree) newNodeLocked(concepts []string, difficulty string, phase int, description string) *ChallengeNode {
	n := &ChallengeNode{
		ID:                   uuid.NewString(),
		Difficulty:           difficulty,
		Concepts:             concepts,
		ChallengeDescription: description,
		Phase:                phase,
		CreatedAt:            time.Now().UTC(),
	}
	t.nodes[n.ID] = n
	return n
}

// AddNode creates and registers a new node with the given parents. If
// concepts is nil, it is the deduplicated union of the parents' concepts.
// If difficulty is "", it is determined by the Difficulty Ascent Rule: if
// all parents share the same difficulty index i, the child's difficulty is
// difficulties[min(i+1, len-1)]; otherwise it is the difficulty of the
// highest-indexed parent. Depth is 1 + max(parent.depth). Fails with
// ErrInvariantViolation (leaving the tree unchanged) if the result would
// violate (I1)-(I4).
func (t *Tree) AddNode(parentIDs []string, concepts []string, difficulty string, phase int, description string) (*ChallengeNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(parentIDs) == 0 {
		return nil, fmt.Errorf("add_node requires at least one parent: %w", apierrors.ErrInvariantViolation)
	}

	parents := make([]*ChallengeNode, 0, len(parentIDs))
	for _, pid := range parentIDs {
		p, ok := t.nodes[pid]
		if !ok {
			return nil, fmt.Errorf("parent %s not found: %w", pid, apierrors.ErrInvariantViolation)
		}
		parents = append(parents, p)
	}

	if concepts == nil {
		var parentConcepts [][]string
		for _, p := range parents {
			parentConcepts = append(parentConcepts, p.Concepts)
		}
		concepts = unionConcepts(parentConcepts...)
	}
	if len(concepts) == 0 {
		return nil, fmt.Errorf("resulting concepts is empty: %w", apierrors.ErrInvariantViolation)
	}

	if difficulty == "" {
		difficulty = t.ascendDifficultyLocked(parents)
	}
	if !t.isValidDifficultyLocked(difficulty) {
		return nil, fmt.Errorf("difficulty %q not in tree difficulties: %w", difficulty, apierrors.ErrInvariantViolation)
	}

	maxDepth := -1
	for _, p := range parents {
		if p.Depth > maxDepth {
			maxDepth = p.Depth
		}
	}

	child := t.newNodeLocked(concepts, difficulty, phase, description)
	child.ParentIDs = make([]string, len(parentIDs))
	copy(child.ParentIDs, parentIDs)
	child.Depth = maxDepth + 1

	for _, p := range parents {
		p.ChildIDs = append(p.ChildIDs, child.ID)
	}

	if err := t.checkInvariantsLocked(); err != nil {
		// Roll back: remove the child and its parent-side link.
		delete(t.nodes, child.ID)
		for _, p := range parents {
			p.ChildIDs = removeString(p.ChildIDs, child.ID)
		}
		return nil, err
	}

	return child, nil
}

// ascendDifficultyLocked implements the Difficulty Ascent Rule.
func (t *Tree) ascendDifficultyLocked(parents []*ChallengeNode) string {
	idx := t.difficultyIndexLocked(parents[0].Difficulty)
	same := true
	maxIdx := idx
	maxParentIdx := 0
	for i, p := range parents {
		pi := t.difficultyIndexLocked(p.Difficulty)
		if pi != idx {
			same = false
		}
		if pi > maxIdx {
			maxIdx = pi
			maxParentIdx = i
		}
	}
	if same {
		next := idx + 1
		if next > len(t.difficulties)-1 {
			next = len(t.difficulties) - 1
		}
		return t.difficulties[next]
	}
	return parents[maxParentIdx].Difficulty
}

func (t *Tree) difficultyIndexLocked(d string) int {
	for i, v := range t.difficulties {
		if v == d {
			return i
		}
	}
	return -1
}

func (t *Tree) isValidDifficultyLocked(d string) bool {
	return t.difficultyIndexLocked(d) >= 0
}

// DifficultyIndex returns d's position in the tree's configured difficulty
// progression, or -1 if d is not a member. Used to key difficulty-dependent
// scoring (§4.3.3's per-difficulty multiplier family) to the evaluated
// node's actual difficulty.
func (t *Tree) DifficultyIndex(d string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.difficultyIndexLocked(d)
}

// checkInvariantsLocked verifies (I1)-(I4) over the whole graph. Caller
// must hold mu in exclusive mode. O(nodes + edges); fine at the scale this
// search core operates at (thousands of nodes per session, not millions).
func (t *Tree) checkInvariantsLocked() error {
	// I3: every referenced ID resolves.
	for id, n := range t.nodes {
		for _, pid := range n.ParentIDs {
			if _, ok := t.nodes[pid]; !ok {
				return fmt.Errorf("node %s references missing parent %s: %w", id, pid, apierrors.ErrInvariantViolation)
			}
		}
		for _, cid := range n.ChildIDs {
			if _, ok := t.nodes[cid]; !ok {
				return fmt.Errorf("node %s references missing child %s: %w", id, cid, apierrors.ErrInvariantViolation)
			}
		}
	}

	// I4: concepts non-empty, difficulty is a member.
	for id, n := range t.nodes {
		if len(n.Concepts) == 0 {
			return fmt.Errorf("node %s has empty concepts: %w", id, apierrors.ErrInvariantViolation)
		}
		if !t.isValidDifficultyLocked(n.Difficulty) {
			return fmt.Errorf("node %s has unknown difficulty %q: %w", id, n.Difficulty, apierrors.ErrInvariantViolation)
		}
	}

	// I1: no cycles — a DAG has no node reachable from itself via children.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(t.nodes))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case grey:
			return fmt.Errorf("cycle detected at node %s: %w", id, apierrors.ErrInvariantViolation)
		}
		color[id] = grey
		for _, cid := range t.nodes[id].ChildIDs {
			if err := visit(cid); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for id := range t.nodes {
		if err := visit(id); err != nil {
			return err
		}
	}

	// I2: depth agrees with longest path from any root.
	for id, n := range t.nodes {
		expected := -1
		for _, pid := range n.ParentIDs {
			if d := t.nodes[pid].Depth; d > expected {
				expected = d
			}
		}
		expected++
		if expected != n.Depth {
			return fmt.Errorf("node %s has depth %d, expected %d: %w", id, n.Depth, expected, apierrors.ErrInvariantViolation)
		}
	}

	return nil
}

// Get returns a copy of the node with the given ID, or false if not found.
func (t *Tree) Get(id string) (ChallengeNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return ChallengeNode{}, false
	}
	return *n, true
}

// Size returns the current number of nodes.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Concepts returns the tree's configured concept list (display order).
func (t *Tree) Concepts() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.concepts...)
}

// Difficulties returns the tree's configured difficulty progression.
func (t *Tree) Difficulties() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.difficulties...)
}

// AllNodeIDs returns every node ID currently in the tree, sorted
// lexicographically. Useful for selection strategies that need to
// enumerate candidates.
func (t *Tree) AllNodeIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ancestors returns the set of ancestor IDs of the given node (not
// including the node itself), walking every parent chain.
func (t *Tree) Ancestors(id string) map[string]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ancestorsLocked(id)
}

func (t *Tree) ancestorsLocked(id string) map[string]struct{} {
	out := make(map[string]struct{})
	var walk func(string)
	walk = func(cur string) {
		n, ok := t.nodes[cur]
		if !ok {
			return
		}
		for _, pid := range n.ParentIDs {
			if _, seen := out[pid]; seen {
				continue
			}
			out[pid] = struct{}{}
			walk(pid)
		}
	}
	walk(id)
	return out
}

// AncestorDisjoint reports whether candidate's ancestor chain is disjoint
// from every node already in selected, and vice versa — the
// Ancestor-Disjoint Constraint used by batch selection (§4.3.2 step 1).
func (t *Tree) AncestorDisjoint(candidate string, selected []string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	candAnc := t.ancestorsLocked(candidate)
	candAnc[candidate] = struct{}{}

	for _, s := range selected {
		if s == candidate {
			return false
		}
		sAnc := t.ancestorsLocked(s)
		sAnc[s] = struct{}{}
		if _, ok := sAnc[candidate]; ok {
			return false
		}
		if _, ok := candAnc[s]; ok {
			return false
		}
	}
	return true
}

// RecordRunResult appends a run result to a node and bumps visits. This is
// the non-suspending critical section that backs backpropagation's
// "append raw result then backpropagate" step (§4.3.2 step 3).
func (t *Tree) RecordRunResult(id string, result RunResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("node %s not found: %w", id, apierrors.ErrNotFound)
	}
	n.RunResults = append(n.RunResults, result)
	n.Visits++
	if result.Success {
		n.Successes++
	} else {
		n.Failures++
	}
	return nil
}

// ApplyAncestorValue applies the backpropagation update for one ancestor:
// node.Value += learningRate * (discountedReward - node.Value). Visits is
// bumped here rather than in RecordRunResult for ancestors that were not
// themselves evaluated this iteration.
func (t *Tree) ApplyAncestorValue(id string, discountedReward, learningRate float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("node %s not found: %w", id, apierrors.ErrNotFound)
	}
	n.Value += learningRate * (discountedReward - n.Value)
	n.Visits++
	return nil
}

// ApplyNodeValue applies the same update rule as ApplyAncestorValue to the
// evaluated node itself, at path-distance 0, without bumping Visits —
// RecordRunResult already counted this visit.
func (t *Tree) ApplyNodeValue(id string, reward, learningRate float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("node %s not found: %w", id, apierrors.ErrNotFound)
	}
	n.Value += learningRate * (reward - n.Value)
	return nil
}

// SetScore sets a node's raw (pre-smoothing) score, stored for analysis
// separately from Value (§9 Open Question: score vs value).
func (t *Tree) SetScore(id string, score float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("node %s not found: %w", id, apierrors.ErrNotFound)
	}
	n.Score = score
	return nil
}

// MaxValueDelta returns, for the given set of nodes, the maximum absolute
// difference between their current Value and the value recorded in prev
// (nodes absent from prev are treated as having had value 0). Used by the
// convergence check (§4.3.2 step 5).
func (t *Tree) MaxValueDelta(prev map[string]float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var maxDelta float64
	for id, n := range t.nodes {
		old := prev[id]
		delta := n.Value - old
		if delta < 0 {
			delta = -delta
		}
		if delta > maxDelta {
			maxDelta = delta
		}
	}
	return maxDelta
}

// ValueSnapshot returns a copy of every node's current Value, for use as
// the "previous iteration" baseline in the next convergence check.
func (t *Tree) ValueSnapshot() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.nodes))
	for id, n := range t.nodes {
		out[id] = n.Value
	}
	return out
}

// removeString returns ss with the first occurrence of s removed.
func removeString(ss []string, s string) []string {
	for i, v := range ss {
		if v == s {
			return append(ss[:i], ss[i+1:]...)
		}
	}
	return ss
}

