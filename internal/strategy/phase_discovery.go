package strategy

import (
	"context"
	"fmt"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/tree"
)

func init() {
	Register(PhaseChallengeDiscovery, StrategySet{
		SelectNode:             capabilitySelectNode, // identical to Phase 1 (§4.3.3)
		EvaluateNode:           standardEvaluateNode,
		CalculateNodeValue:     discoveryCalculateNodeValue,
		BackpropagateNodeValue: defaultBackpropagate, // identical to Phase 1
		ExpandNode:             discoveryExpandNode,
	})
}

// discoveryCalculateNodeValue is the Inverse Scoring Rule: reward is larger
// when the model struggles. §4.3.3 doesn't key this rule to difficulty, so
// nodeID is unused here; it's still part of CalculateNodeValueFunc's
// signature so Phase 1's difficulty-keyed scoring can share the slot type.
func discoveryCalculateNodeValue(sctx *Context, _ string, result tree.RunResult) float64 {
	return tree.CalculateInversePerformanceScore(result, sctx.Params.InverseWeights)
}

// discoveryExpandNode prefers difficulty ascent once a node clears
// challenge_threshold; otherwise it combines with a new concept.
func discoveryExpandNode(_ context.Context, sctx *Context, nodeID string) ([]string, error) {
	n, ok := sctx.Tree.Get(nodeID)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, apierrors.ErrNotFound)
	}
	if n.Depth >= sctx.Params.MaxDepth {
		return nil, nil
	}

	if n.Value >= sctx.Params.ChallengeThreshold {
		child, err := sctx.Tree.AddNode([]string{n.ID}, n.Concepts, "", 2, "")
		if err != nil {
			sctx.Logger.WithError(err).Warn("discovery expand: ascent rejected")
			return nil, nil
		}
		return []string{child.ID}, nil
	}

	partner, ok := pickCombinationPartner(sctx, n)
	if !ok {
		return nil, nil
	}
	child, err := sctx.Tree.AddNode([]string{n.ID, partner.ID}, nil, "", 2, "")
	if err != nil {
		sctx.Logger.WithError(err).Warn("discovery expand: combination rejected")
		return nil, nil
	}
	return []string{child.ID}, nil
}
