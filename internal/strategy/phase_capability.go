package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/tree"
)

func init() {
	Register(PhaseCapabilityMapping, StrategySet{
		SelectNode:             capabilitySelectNode,
		EvaluateNode:           standardEvaluateNode,
		CalculateNodeValue:     capabilityCalculateNodeValue,
		BackpropagateNodeValue: defaultBackpropagate,
		ExpandNode:             capabilityExpandNode,
	})
}

// eligibleCandidates returns node IDs with depth < maxDepth that are
// Ancestor-Disjoint from every node in alreadySelected, in a stable
// (ID-sorted) order.
func eligibleCandidates(t *tree.Tree, maxDepth int, alreadySelected []string, filter func(tree.ChallengeNode) bool) []string {
	ids := t.AllNodeIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		n, ok := t.Get(id)
		if !ok || n.Depth >= maxDepth {
			continue
		}
		if filter != nil && !filter(n) {
			continue
		}
		if !t.AncestorDisjoint(id, alreadySelected) {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// selectByValue implements the select_node pattern shared by Phase 1 and
// Phase 2: with probability exploration_probability draw uniformly,
// otherwise weight by softmax of value. Per §8's boundary requirement, a
// probability of exactly 0 must be deterministic given fixed values
// (modulo ID-lexicographic tie-break), so the non-exploring branch picks
// the candidate with the highest softmax weight rather than sampling from
// the distribution; any probability > 0 retains genuine randomness.
func selectByValue(sctx *Context, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	if sctx.Rand.Float64() < sctx.Params.ExplorationProbability {
		return candidates[int(sctx.Rand.Float64()*float64(len(candidates)))], true
	}

	values := make([]float64, len(candidates))
	for i, id := range candidates {
		n, _ := sctx.Tree.Get(id)
		values[i] = n.Value
	}
	weights := softmaxWeights(values)

	best := 0
	for i := 1; i < len(weights); i++ {
		if weights[i] > weights[best] ||
			(weights[i] == weights[best] && candidates[i] < candidates[best]) {
			best = i
		}
	}
	return candidates[best], true
}

func capabilitySelectNode(_ context.Context, sctx *Context, alreadySelected []string) (string, bool, error) {
	candidates := eligibleCandidates(sctx.Tree, sctx.Params.MaxDepth, alreadySelected, nil)
	id, ok := selectByValue(sctx, candidates)
	return id, ok, nil
}

// standardEvaluateNode makes one Evaluator call in standard mode, passing
// max_attempts in the request so the evaluator service runs up to that many
// attempts, then returns the full trail. It does not retry on its own.
// Shared by Phase 1 and (with a different environment) Phase 2.
func standardEvaluateNode(ctx context.Context, sctx *Context, nodeID string) (tree.RunResult, error) {
	n, ok := sctx.Tree.Get(nodeID)
	if !ok {
		return tree.RunResult{}, fmt.Errorf("node %s: %w", nodeID, apierrors.ErrNotFound)
	}
	req := RunChallengeRequest{
		Environment: sctx.Params.EnvironmentName,
		Concepts:    n.Concepts,
		Difficulty:  n.Difficulty,
		MaxAttempts: sctx.Params.MaxAttempts,
	}
	return sctx.Evaluator.RunChallenge(ctx, req)
}

// capabilityCalculateNodeValue applies the Scoring Rule, keying the
// difficulty multiplier to the evaluated node's own difficulty index so
// harder nodes score higher at the same pass ratio (§4.3.3).
func capabilityCalculateNodeValue(sctx *Context, nodeID string, result tree.RunResult) float64 {
	n, _ := sctx.Tree.Get(nodeID)
	idx := sctx.Tree.DifficultyIndex(n.Difficulty)
	return tree.CalculatePerformanceScore(result, sctx.Params.Scoring, idx)
}

// defaultBackpropagate walks from the evaluated node (path-distance 0, full
// undiscounted reward — its own value must reflect its own evaluation for
// future selection to weigh it correctly) up through every ancestor,
// applying the discounted value update at each path-distance. Shared by all
// three phases (§4.3.3: "Selection and backprop identical to Phase 1").
func defaultBackpropagate(sctx *Context, nodeID string, reward float64) error {
	if err := sctx.Tree.ApplyNodeValue(nodeID, reward, sctx.Params.LearningRate); err != nil {
		return err
	}
	distances := ancestorDistances(sctx.Tree, nodeID)
	for id, d := range distances {
		discounted := reward * math.Pow(sctx.Params.DiscountFactor, float64(d))
		if err := sctx.Tree.ApplyAncestorValue(id, discounted, sctx.Params.LearningRate); err != nil {
			return err
		}
	}
	return nil
}

// ancestorDistances returns, for every ancestor of id, its path-distance
// from id (1 = immediate parent). A node reachable via multiple parent
// chains keeps its shortest distance, matching "walk ancestors ... to every
// root" as a breadth-first walk rather than re-visiting at every path
// length.
func ancestorDistances(t *tree.Tree, id string) map[string]int {
	dist := make(map[string]int)
	frontier := []string{id}
	d := 0
	seen := map[string]bool{id: true}
	for len(frontier) > 0 {
		d++
		var next []string
		for _, cur := range frontier {
			n, ok := t.Get(cur)
			if !ok {
				continue
			}
			for _, pid := range n.ParentIDs {
				if seen[pid] {
					continue
				}
				seen[pid] = true
				dist[pid] = d
				next = append(next, pid)
			}
		}
		frontier = next
	}
	return dist
}

// capabilityExpandNode creates one child by concept combination (preferred,
// when another same-depth candidate exists) or difficulty ascent,
// whichever applies, once the node clears performance_threshold and has
// depth budget left.
func capabilityExpandNode(_ context.Context, sctx *Context, nodeID string) ([]string, error) {
	n, ok := sctx.Tree.Get(nodeID)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, apierrors.ErrNotFound)
	}
	if n.Value < sctx.Params.PerformanceThreshold || n.Depth >= sctx.Params.MaxDepth {
		return nil, nil
	}

	if partner, ok := pickCombinationPartner(sctx, n); ok {
		child, err := sctx.Tree.AddNode([]string{n.ID, partner.ID}, nil, "", 1, "")
		if err != nil {
			sctx.Logger.WithError(err).Warn("capability expand: combination rejected")
			return nil, nil
		}
		return []string{child.ID}, nil
	}

	child, err := sctx.Tree.AddNode([]string{n.ID}, n.Concepts, "", 1, "")
	if err != nil {
		sctx.Logger.WithError(err).Warn("capability expand: ascent rejected")
		return nil, nil
	}
	return []string{child.ID}, nil
}

// pickCombinationPartner finds another same-depth node (not an ancestor or
// descendant of n) to combine concepts with, weighted by value.
func pickCombinationPartner(sctx *Context, n tree.ChallengeNode) (tree.ChallengeNode, bool) {
	var candidates []tree.ChallengeNode
	for _, id := range sctx.Tree.AllNodeIDs() {
		if id == n.ID {
			continue
		}
		cand, ok := sctx.Tree.Get(id)
		if !ok || cand.Depth != n.Depth {
			continue
		}
		if !sctx.Tree.AncestorDisjoint(n.ID, []string{cand.ID}) {
			continue
		}
		candidates = append(candidates, cand)
	}
	if len(candidates) == 0 {
		return tree.ChallengeNode{}, false
	}
	values := make([]float64, len(candidates))
	for i, c := range candidates {
		values[i] = c.Value
	}
	idx := pickBySoftmaxValue(values, sctx.Rand)
	return candidates[idx], true
}
