package strategy

import (
	"context"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/prismbench/searchcore/internal/tree"
)

// RunChallengeRequest is what a phase asks the Evaluator to run. It mirrors
// §4.5's evaluator contract: environment name plus the node's concepts and
// difficulty, with room for the enhanced-mode fields Phase 3 needs.
type RunChallengeRequest struct {
	Environment           string
	Concepts              []string
	Difficulty            string
	MaxAttempts           int
	Enhanced              bool
	VariationsPerConcept  int
	ExtraParams           map[string]interface{}
}

// Evaluator is the subset of internal/evaluator.Client a strategy needs.
// Strategies depend on this interface, not the concrete HTTP client, so
// tests can substitute a fake.
type Evaluator interface {
	RunChallenge(ctx context.Context, req RunChallengeRequest) (tree.RunResult, error)
}

// Params are the per-phase knobs of §4.3.1.
type Params struct {
	MaxDepth                int
	MaxIterations           int
	PerformanceThreshold    float64
	ValueDeltaThreshold     float64
	ConvergenceChecks       int
	ExplorationProbability  float64
	NumNodesPerIteration    int

	MaxAttempts    int
	DiscountFactor float64
	LearningRate   float64

	Scoring        tree.ScoringParams
	InverseWeights tree.InverseScoringWeights

	EnvironmentName string

	// ChallengeThreshold gates Phase 2's difficulty-ascent-vs-combine
	// expansion choice.
	ChallengeThreshold float64
	// NodeSelectionThreshold gates Phase 3's select_node restriction to
	// Phase 2 nodes.
	NodeSelectionThreshold float64
	// VariationsPerConcept is how many distinct problem variations Phase 3
	// requests per evaluation and expands into sibling children.
	VariationsPerConcept int
}

// Context bundles everything a strategy function needs to do its job: the
// shared tree, the evaluator client, this phase's parameters, a source of
// randomness, and a logger.
type Context struct {
	Tree      *tree.Tree
	Evaluator Evaluator
	Params    Params
	Rand      *rand.Rand
	Logger    *logrus.Logger
	Phase     int
}
