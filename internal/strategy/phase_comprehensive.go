package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/tree"
)

func init() {
	Register(PhaseComprehensiveEvaluation, StrategySet{
		SelectNode:             comprehensiveSelectNode,
		EvaluateNode:           comprehensiveEvaluateNode,
		CalculateNodeValue:     discoveryCalculateNodeValue, // inherits Phase 2's inverse rule
		BackpropagateNodeValue: defaultBackpropagate,
		ExpandNode:             comprehensiveExpandNode,
	})
}

// comprehensiveSelectNode restricts candidates to Phase-2 nodes clearing
// node_selection_threshold.
func comprehensiveSelectNode(_ context.Context, sctx *Context, alreadySelected []string) (string, bool, error) {
	candidates := eligibleCandidates(sctx.Tree, sctx.Params.MaxDepth, alreadySelected, func(n tree.ChallengeNode) bool {
		return n.Phase == 2 && n.Value >= sctx.Params.NodeSelectionThreshold
	})
	id, ok := selectByValue(sctx, candidates)
	return id, ok, nil
}

// comprehensiveEvaluateNode calls the Evaluator in enhanced mode, requesting
// variations_per_concept distinct problem variations in one call. Per-
// variation sub-results travel back in the aggregate RunResult's DataTrail
// under "variations" for comprehensiveExpandNode to fan out into sibling
// children.
func comprehensiveEvaluateNode(ctx context.Context, sctx *Context, nodeID string) (tree.RunResult, error) {
	n, ok := sctx.Tree.Get(nodeID)
	if !ok {
		return tree.RunResult{}, fmt.Errorf("node %s: %w", nodeID, apierrors.ErrNotFound)
	}
	req := RunChallengeRequest{
		Environment:          sctx.Params.EnvironmentName,
		Concepts:             n.Concepts,
		Difficulty:           n.Difficulty,
		MaxAttempts:          sctx.Params.MaxAttempts,
		Enhanced:             true,
		VariationsPerConcept: sctx.Params.VariationsPerConcept,
	}
	return sctx.Evaluator.RunChallenge(ctx, req)
}

// comprehensiveExpandNode creates variations_per_concept Phase-3 sibling
// children whose concepts and difficulty match the parent; each child
// records the one variation result the enhanced evaluation surfaced for it.
func comprehensiveExpandNode(_ context.Context, sctx *Context, nodeID string) ([]string, error) {
	n, ok := sctx.Tree.Get(nodeID)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, apierrors.ErrNotFound)
	}

	var variations []tree.RunResult
	if len(n.RunResults) > 0 {
		last := n.RunResults[len(n.RunResults)-1]
		switch v := last.DataTrail["variations"].(type) {
		case []tree.RunResult:
			variations = v
		case []interface{}:
			// A result decoded from the evaluator's JSON carries the
			// variations as generic values; re-decode them as RunResults.
			if raw, err := json.Marshal(v); err == nil {
				_ = json.Unmarshal(raw, &variations)
			}
		}
	}

	want := sctx.Params.VariationsPerConcept
	if want <= 0 {
		want = 1
	}

	childIDs := make([]string, 0, want)
	for i := 0; i < want; i++ {
		child, err := sctx.Tree.AddNode([]string{n.ID}, n.Concepts, n.Difficulty, 3,
			fmt.Sprintf("variation %d", i))
		if err != nil {
			sctx.Logger.WithError(err).Warn("comprehensive expand: variation rejected")
			continue
		}
		if i < len(variations) {
			if err := sctx.Tree.RecordRunResult(child.ID, variations[i]); err != nil {
				sctx.Logger.WithError(err).Warn("comprehensive expand: recording variation result failed")
			}
		}
		childIDs = append(childIDs, child.ID)
	}
	return childIDs, nil
}
