package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/strategy"
	"github.com/prismbench/searchcore/internal/tree"
)

type fakeEvaluator struct{}

func (fakeEvaluator) RunChallenge(context.Context, strategy.RunChallengeRequest) (tree.RunResult, error) {
	return tree.RunResult{TestsPassed: 5, TestsFailed: 5, Success: true}, nil
}

func testExperiment() ExperimentConfig {
	return ExperimentConfig{
		Name:           "test",
		PhaseSequences: []string{strategy.PhaseCapabilityMapping, strategy.PhaseChallengeDiscovery},
		Phases: map[string]PhaseDefinition{
			strategy.PhaseCapabilityMapping: {
				Params: strategy.Params{
					MaxDepth: 3, MaxIterations: 1, NumNodesPerIteration: 1, MaxAttempts: 1,
					PerformanceThreshold: 1.1, ValueDeltaThreshold: 0.0001, ConvergenceChecks: 1,
					DiscountFactor: 0.9, LearningRate: 0.5,
					Scoring: tree.ScoringParams{DifficultyMultipliers: []float64{1.0}, MaxNumPassed: 1.0},
				},
			},
			strategy.PhaseChallengeDiscovery: {
				Params: strategy.Params{
					MaxDepth: 3, MaxIterations: 1, NumNodesPerIteration: 1, MaxAttempts: 1,
					ChallengeThreshold: 1.1, ValueDeltaThreshold: 0.0001, ConvergenceChecks: 1,
					DiscountFactor: 0.9, LearningRate: 0.5,
					InverseWeights: tree.InverseScoringWeights{AttemptWeight: 1.0, FixerWeight: 1.0},
				},
			},
		},
		Concepts:     []string{"A", "B"},
		Difficulties: []string{"easy", "hard"},
	}
}

func TestInitialize_DuplicateSessionConflicts(t *testing.T) {
	m := NewManager(testExperiment(), fakeEvaluator{}, nil, "")
	_, err := m.Initialize("s1", testExperiment())
	require.NoError(t, err)

	_, err = m.Initialize("s1", testExperiment())
	require.ErrorIs(t, err, apierrors.ErrConflict)
}

func TestGetSession_MissingIsNotFound(t *testing.T) {
	m := NewManager(testExperiment(), fakeEvaluator{}, nil, "")
	_, err := m.GetSession("nope")
	require.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestRun_AutoInitializesWhenSessionIDEmpty(t *testing.T) {
	m := NewManager(testExperiment(), fakeEvaluator{}, nil, "")
	task, err := m.Run("")
	require.NoError(t, err)
	assert.NotEmpty(t, task.SessionID)

	_, err = m.GetSession(task.SessionID)
	require.NoError(t, err)
}

// blockingEvaluator never returns until release is closed, keeping a task's
// first phase stuck mid-evaluation so its active-ness is deterministic
// rather than a race against how many iterations a fake evaluator can churn
// through before the test asserts.
type blockingEvaluator struct {
	release chan struct{}
}

func (b blockingEvaluator) RunChallenge(ctx context.Context, _ strategy.RunChallengeRequest) (tree.RunResult, error) {
	select {
	case <-b.release:
		return tree.RunResult{TestsPassed: 1, Success: true}, nil
	case <-ctx.Done():
		return tree.RunResult{}, ctx.Err()
	}
}

func TestRun_SecondActiveTaskConflicts(t *testing.T) {
	exp := testExperiment()
	release := make(chan struct{})
	m := NewManager(exp, blockingEvaluator{release: release}, nil, "")
	defer close(release)

	_, err := m.Initialize("s1", exp)
	require.NoError(t, err)

	task, err := m.Run("s1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return task.Phases()[strategy.PhaseCapabilityMapping].Status == PhaseRunning
	}, time.Second, 5*time.Millisecond)

	_, err = m.Run("s1")
	require.ErrorIs(t, err, apierrors.ErrConflict)
}

func TestRun_PhaseTimeoutIsFailedNotCancelled(t *testing.T) {
	exp := testExperiment()
	def := exp.Phases[strategy.PhaseCapabilityMapping]
	def.Timeout = 10 * time.Millisecond
	exp.Phases[strategy.PhaseCapabilityMapping] = def

	release := make(chan struct{})
	m := NewManager(exp, blockingEvaluator{release: release}, nil, "")
	defer close(release)

	_, err := m.Initialize("s1", exp)
	require.NoError(t, err)
	task, err := m.Run("s1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return task.Phases()[strategy.PhaseCapabilityMapping].Status == PhaseFailed
	}, 2*time.Second, 5*time.Millisecond)

	phase := task.Phases()[strategy.PhaseCapabilityMapping]
	assert.Equal(t, "timeout", phase.Error)
}

func TestRun_AdvancesThroughPhasesToCompletion(t *testing.T) {
	m := NewManager(testExperiment(), fakeEvaluator{}, nil, "")
	_, err := m.Initialize("s1", testExperiment())
	require.NoError(t, err)

	task, err := m.Run("s1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return task.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)

	phases := task.Phases()
	assert.Equal(t, PhaseCompleted, phases[strategy.PhaseCapabilityMapping].Status)
}

func TestStop_TerminalTaskIsInvalidState(t *testing.T) {
	m := NewManager(testExperiment(), fakeEvaluator{}, nil, "")
	_, err := m.Initialize("s1", testExperiment())
	require.NoError(t, err)
	task, err := m.Run("s1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return task.IsTerminal() }, 2*time.Second, 5*time.Millisecond)

	_, err = m.Stop(task.ID)
	require.ErrorIs(t, err, apierrors.ErrInvalidState)
}

func TestStop_UnknownTaskIsNotFound(t *testing.T) {
	m := NewManager(testExperiment(), fakeEvaluator{}, nil, "")
	_, err := m.Stop("nope")
	require.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestStatus_AllTasks(t *testing.T) {
	m := NewManager(testExperiment(), fakeEvaluator{}, nil, "")
	_, err := m.Initialize("s1", testExperiment())
	require.NoError(t, err)
	task, err := m.Run("s1")
	require.NoError(t, err)

	_, all, err := m.Status("")
	require.NoError(t, err)
	assert.Contains(t, all, task.ID)
}

func TestGetTree_ReturnsSeededSize(t *testing.T) {
	m := NewManager(testExperiment(), fakeEvaluator{}, nil, "")
	_, err := m.Initialize("s1", testExperiment())
	require.NoError(t, err)

	d, err := m.GetTree("s1")
	require.NoError(t, err)
	assert.Len(t, d.Nodes, 3) // C + C*(C-1)/2 for C=2 concepts
}
