package mctsengine

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/strategy"
	"github.com/prismbench/searchcore/internal/tree"
)

type fakeEvaluator struct {
	passed int
	failed int
}

func (f *fakeEvaluator) RunChallenge(context.Context, strategy.RunChallengeRequest) (tree.RunResult, error) {
	return tree.RunResult{TestsPassed: f.passed, TestsFailed: f.failed, Success: f.failed == 0}, nil
}

func newParams() strategy.Params {
	return strategy.Params{
		MaxDepth:               4,
		MaxIterations:          5,
		PerformanceThreshold:   0.9, // high, so expand rarely fires in this small test tree
		ValueDeltaThreshold:    0.0001,
		ConvergenceChecks:      2,
		ExplorationProbability: 0,
		NumNodesPerIteration:   2,
		MaxAttempts:            1,
		DiscountFactor:         0.9,
		LearningRate:           0.5,
		Scoring: tree.ScoringParams{
			DifficultyMultipliers: []float64{1.0, 1.0},
			MaxNumPassed:          1.0,
		},
		EnvironmentName: "standard",
	}
}

func TestRunPhase_CapabilityMapping_RunsToConvergenceOrCap(t *testing.T) {
	tr := tree.New(nil)
	require.NoError(t, tr.InitializeTree([]string{"A", "B"}, []string{"easy", "hard"}))

	eng := New(tr, &fakeEvaluator{passed: 10, failed: 0}, logrus.New(), rand.New(rand.NewSource(1)), nil)

	result, err := eng.RunPhase(context.Background(), PhaseConfig{
		PhaseName: strategy.PhaseCapabilityMapping,
		Params:    newParams(),
	}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, result.Iterations, 5)
	assert.False(t, result.Cancelled)
}

func TestRunPhase_UnknownPhaseFailsConstruction(t *testing.T) {
	tr := tree.New(nil)
	require.NoError(t, tr.InitializeTree([]string{"A"}, []string{"easy"}))
	eng := New(tr, &fakeEvaluator{}, nil, nil, nil)

	_, err := eng.RunPhase(context.Background(), PhaseConfig{PhaseName: "not_a_real_phase", Params: newParams()}, nil)
	require.Error(t, err)
}

func TestRunPhase_StopsWhenCancelledFlagSet(t *testing.T) {
	tr := tree.New(nil)
	require.NoError(t, tr.InitializeTree([]string{"A", "B"}, []string{"easy", "hard"}))
	eng := New(tr, &fakeEvaluator{passed: 10}, nil, rand.New(rand.NewSource(2)), nil)

	var cancelled atomic.Bool
	cancelled.Store(true)

	result, err := eng.RunPhase(context.Background(), PhaseConfig{
		PhaseName: strategy.PhaseCapabilityMapping,
		Params:    newParams(),
	}, &cancelled)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 0, result.Iterations)
}

func TestRunPhase_SnapshotsEachIteration(t *testing.T) {
	tr := tree.New(nil)
	require.NoError(t, tr.InitializeTree([]string{"A"}, []string{"easy", "hard"}))
	eng := New(tr, &fakeEvaluator{passed: 1, failed: 9}, nil, rand.New(rand.NewSource(3)), nil)

	dir := t.TempDir()
	params := newParams()
	params.MaxIterations = 1
	params.NumNodesPerIteration = 1

	result, err := eng.RunPhase(context.Background(), PhaseConfig{
		PhaseName:   strategy.PhaseCapabilityMapping,
		Params:      params,
		SnapshotDir: dir,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Iterations)

	path := tree.SnapshotPath(dir, strategy.PhaseCapabilityMapping, 0)
	_, err = tree.Load(path)
	require.NoError(t, err)
}

func TestRunPhase_ContextCancelStopsLoop(t *testing.T) {
	tr := tree.New(nil)
	require.NoError(t, tr.InitializeTree([]string{"A", "B"}, []string{"easy", "hard"}))
	eng := New(tr, &fakeEvaluator{passed: 10}, nil, rand.New(rand.NewSource(4)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := eng.RunPhase(ctx, PhaseConfig{
		PhaseName: strategy.PhaseCapabilityMapping,
		Params:    newParams(),
	}, nil)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	_ = time.Millisecond
}

func TestRunPhase_DeadlineExceededIsTimeoutNotCancelled(t *testing.T) {
	tr := tree.New(nil)
	require.NoError(t, tr.InitializeTree([]string{"A", "B"}, []string{"easy", "hard"}))
	eng := New(tr, &fakeEvaluator{passed: 10}, nil, rand.New(rand.NewSource(5)), nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Minute))
	defer cancel()

	result, err := eng.RunPhase(ctx, PhaseConfig{
		PhaseName: strategy.PhaseCapabilityMapping,
		Params:    newParams(),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrTimeout)
	assert.True(t, result.TimedOut)
	assert.False(t, result.Cancelled)
}
