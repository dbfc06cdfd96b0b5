package strategy

import (
	"context"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/tree"
)

type fakeEvaluator struct {
	result tree.RunResult
	err    error
}

func (f *fakeEvaluator) RunChallenge(context.Context, RunChallengeRequest) (tree.RunResult, error) {
	return f.result, f.err
}

func newTestContext(t *testing.T, phase int) (*tree.Tree, *Context) {
	t.Helper()
	tr := tree.New(nil)
	require.NoError(t, tr.InitializeTree([]string{"A", "B"}, []string{"easy", "medium", "hard"}))
	sctx := &Context{
		Tree:   tr,
		Rand:   rand.New(rand.NewSource(1)),
		Logger: logrus.New(),
		Phase:  phase,
		Params: Params{
			MaxDepth:               5,
			PerformanceThreshold:   0.5,
			ExplorationProbability: 0,
			DiscountFactor:         0.9,
			LearningRate:           0.5,
		},
	}
	return tr, sctx
}

func TestRegistry_ResolveMissingPhase(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrStrategyUnresolved)
}

func TestRegistry_ResolveMissingMandatorySlot(t *testing.T) {
	r := NewRegistry()
	r.Register("partial", StrategySet{SelectNode: capabilitySelectNode})
	_, err := r.Resolve("partial")
	assert.ErrorIs(t, err, apierrors.ErrStrategyUnresolved)
}

func TestDefaultRegistry_HasAllThreePhases(t *testing.T) {
	for _, name := range []string{PhaseCapabilityMapping, PhaseChallengeDiscovery, PhaseComprehensiveEvaluation} {
		set, err := Resolve(name)
		require.NoErrorf(t, err, "phase %s", name)
		assert.NotNil(t, set.SelectNode)
		assert.NotNil(t, set.EvaluateNode)
		assert.NotNil(t, set.CalculateNodeValue)
		assert.NotNil(t, set.BackpropagateNodeValue)
		assert.NotNil(t, set.ExpandNode)
	}
}

func TestSoftmaxWeights_SumToOne(t *testing.T) {
	w := softmaxWeights([]float64{1, 2, 3})
	var sum float64
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	// Monotonic: higher value -> higher weight.
	assert.Less(t, w[0], w[1])
	assert.Less(t, w[1], w[2])
}

func TestSelectByValue_ZeroExplorationIsDeterministic(t *testing.T) {
	_, sctx := newTestContext(t, 1)
	sctx.Params.ExplorationProbability = 0
	candidates := sctx.Tree.AllNodeIDs()

	first, ok1 := selectByValue(sctx, candidates)
	second, ok2 := selectByValue(sctx, candidates)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, first, second, "exploration_probability=0 must be deterministic given fixed values")
}

func TestCapabilitySelectNode_RespectsMaxDepth(t *testing.T) {
	tr, sctx := newTestContext(t, 1)
	sctx.Params.MaxDepth = 0 // nothing has depth < 0

	id, ok, err := capabilitySelectNode(context.Background(), sctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
	_ = tr
}

func TestCapabilitySelectNode_ExcludesAlreadySelected(t *testing.T) {
	_, sctx := newTestContext(t, 1)
	ids := sctx.Tree.AllNodeIDs()

	// combo node (depth 1) is a descendant of both roots; selecting a root
	// should make the combo ineligible via the Ancestor-Disjoint Constraint.
	var root string
	for _, id := range ids {
		n, _ := sctx.Tree.Get(id)
		if len(n.Concepts) == 1 {
			root = id
			break
		}
	}
	require.NotEmpty(t, root)

	candidates := eligibleCandidates(sctx.Tree, sctx.Params.MaxDepth, []string{root}, nil)
	for _, c := range candidates {
		assert.True(t, sctx.Tree.AncestorDisjoint(c, []string{root}))
	}
}

func TestStandardEvaluateNode_UsesNodeConceptsAndDifficulty(t *testing.T) {
	tr, sctx := newTestContext(t, 1)
	id := tr.AllNodeIDs()[0]
	n, _ := tr.Get(id)

	var captured RunChallengeRequest
	sctx.Evaluator = evaluatorFunc(func(_ context.Context, req RunChallengeRequest) (tree.RunResult, error) {
		captured = req
		return tree.RunResult{Success: true}, nil
	})
	sctx.Params.EnvironmentName = "standard"
	sctx.Params.MaxAttempts = 3

	result, err := standardEvaluateNode(context.Background(), sctx, id)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, n.Concepts, captured.Concepts)
	assert.Equal(t, n.Difficulty, captured.Difficulty)
	assert.Equal(t, 3, captured.MaxAttempts)
}

type evaluatorFunc func(ctx context.Context, req RunChallengeRequest) (tree.RunResult, error)

func (f evaluatorFunc) RunChallenge(ctx context.Context, req RunChallengeRequest) (tree.RunResult, error) {
	return f(ctx, req)
}

func TestCapabilityExpandNode_SkipsBelowThreshold(t *testing.T) {
	tr, sctx := newTestContext(t, 1)
	id := tr.AllNodeIDs()[0]
	sctx.Params.PerformanceThreshold = 1.0 // node value starts at 0

	children, err := capabilityExpandNode(context.Background(), sctx, id)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestCapabilityExpandNode_AscendsWhenNoCombinationPartner(t *testing.T) {
	tr := tree.New(nil)
	require.NoError(t, tr.InitializeTree([]string{"A"}, []string{"easy", "hard"}))
	sctx := &Context{
		Tree:   tr,
		Rand:   rand.New(rand.NewSource(1)),
		Logger: logrus.New(),
		Params: Params{MaxDepth: 5, PerformanceThreshold: 0},
	}
	id := tr.AllNodeIDs()[0]
	require.NoError(t, tr.ApplyAncestorValue(id, 1.0, 1.0)) // push value to 1.0

	children, err := capabilityExpandNode(context.Background(), sctx, id)
	require.NoError(t, err)
	require.Len(t, children, 1)
	child, _ := tr.Get(children[0])
	assert.Equal(t, "hard", child.Difficulty)
	assert.Equal(t, []string{"A"}, child.Concepts)
}

func TestDiscoveryExpandNode_AscendsAboveChallengeThreshold(t *testing.T) {
	tr, sctx := newTestContext(t, 2)
	id := tr.AllNodeIDs()[0]
	sctx.Params.ChallengeThreshold = 0.5
	require.NoError(t, tr.ApplyAncestorValue(id, 1.0, 1.0))

	children, err := discoveryExpandNode(context.Background(), sctx, id)
	require.NoError(t, err)
	require.Len(t, children, 1)
	child, _ := tr.Get(children[0])
	assert.Equal(t, 2, child.Phase)
}

func TestComprehensiveSelectNode_OnlyPhase2AboveThreshold(t *testing.T) {
	tr, sctx := newTestContext(t, 3)
	sctx.Params.NodeSelectionThreshold = 0.5

	phase2Node, err := tr.AddNode([]string{tr.AllNodeIDs()[0]}, nil, "", 2, "")
	require.NoError(t, err)
	require.NoError(t, tr.ApplyAncestorValue(phase2Node.ID, 1.0, 1.0))

	id, ok, err := comprehensiveSelectNode(context.Background(), sctx, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, phase2Node.ID, id)
}

func TestComprehensiveExpandNode_CreatesRequestedVariationCount(t *testing.T) {
	tr, sctx := newTestContext(t, 3)
	sctx.Params.VariationsPerConcept = 3
	id := tr.AllNodeIDs()[0]

	children, err := comprehensiveExpandNode(context.Background(), sctx, id)
	require.NoError(t, err)
	assert.Len(t, children, 3)
	for _, cid := range children {
		c, _ := tr.Get(cid)
		assert.Equal(t, 3, c.Phase)
	}
}

func TestDefaultBackpropagate_DiscountsByPathDistance(t *testing.T) {
	tr, sctx := newTestContext(t, 1)
	root := tr.AllNodeIDs()[0]
	child, err := tr.AddNode([]string{root}, nil, "", 1, "")
	require.NoError(t, err)

	sctx.Params.DiscountFactor = 0.5
	sctx.Params.LearningRate = 1.0
	require.NoError(t, defaultBackpropagate(sctx, child.ID, 10.0))

	parent, _ := tr.Get(root)
	// distance 1 from child: reward * 0.5^1 = 5.
	assert.InDelta(t, 5.0, parent.Value, 1e-9)
}
