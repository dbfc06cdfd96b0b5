// Package strategy resolves, for a given phase name, the concrete
// select_node/evaluate_node/calculate_node_value/backpropagate_node_value/
// expand_node behaviour a phase engine must call. Strategy sets register
// themselves from a package-level init() in each phase_*.go file, mirroring
// the teacher's registry.Register(sc) pattern in
// internal/challenges/orchestrator.go.
package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/tree"
)

// SelectNodeFunc picks the next node to evaluate, given the nodes already
// chosen this iteration (for the Ancestor-Disjoint Constraint). ok is false
// when no eligible candidate remains.
type SelectNodeFunc func(ctx context.Context, sctx *Context, alreadySelected []string) (nodeID string, ok bool, err error)

// EvaluateNodeFunc produces a raw evaluator result record for a node.
type EvaluateNodeFunc func(ctx context.Context, sctx *Context, nodeID string) (tree.RunResult, error)

// CalculateNodeValueFunc maps a result record to a reward. Pure. nodeID
// identifies the evaluated node so a strategy can key difficulty-dependent
// scoring to its actual difficulty.
type CalculateNodeValueFunc func(sctx *Context, nodeID string, result tree.RunResult) float64

// BackpropagateNodeValueFunc propagates a reward up a node's ancestors. Pure
// (non-suspending): it only touches the tree's in-memory state.
type BackpropagateNodeValueFunc func(sctx *Context, nodeID string, reward float64) error

// ExpandNodeFunc creates zero or more children of an evaluated node and
// returns their IDs.
type ExpandNodeFunc func(ctx context.Context, sctx *Context, nodeID string) ([]string, error)

// InitializePhaseFunc runs optional per-phase warm-up before the main loop
// starts.
type InitializePhaseFunc func(ctx context.Context, sctx *Context) error

// StrategySet is the table of slots a phase must populate. The first five
// are mandatory; InitializePhase is optional.
type StrategySet struct {
	SelectNode              SelectNodeFunc
	EvaluateNode            EvaluateNodeFunc
	CalculateNodeValue      CalculateNodeValueFunc
	BackpropagateNodeValue  BackpropagateNodeValueFunc
	ExpandNode              ExpandNodeFunc
	InitializePhase         InitializePhaseFunc // optional
}

func (s StrategySet) validate() error {
	switch {
	case s.SelectNode == nil:
		return fmt.Errorf("select_node: %w", apierrors.ErrStrategyUnresolved)
	case s.EvaluateNode == nil:
		return fmt.Errorf("evaluate_node: %w", apierrors.ErrStrategyUnresolved)
	case s.CalculateNodeValue == nil:
		return fmt.Errorf("calculate_node_value: %w", apierrors.ErrStrategyUnresolved)
	case s.BackpropagateNodeValue == nil:
		return fmt.Errorf("backpropagate_node_value: %w", apierrors.ErrStrategyUnresolved)
	case s.ExpandNode == nil:
		return fmt.Errorf("expand_node: %w", apierrors.ErrStrategyUnresolved)
	}
	return nil
}

// Registry holds one StrategySet per registered phase name.
type Registry struct {
	mu   sync.RWMutex
	sets map[string]StrategySet
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[string]StrategySet)}
}

// Register installs a StrategySet under name, overwriting any previous
// registration. It does not validate — validation happens at Resolve time,
// since a phase_*.go file may register in stages (not used today, but kept
// symmetric with the teacher's reg.Register(sc) which doesn't validate
// either).
func (r *Registry) Register(name string, set StrategySet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[name] = set
}

// Resolve returns the StrategySet registered under name, failing with
// ErrStrategyUnresolved if nothing was registered or a mandatory slot is
// missing.
func (r *Registry) Resolve(name string) (StrategySet, error) {
	r.mu.RLock()
	set, ok := r.sets[name]
	r.mu.RUnlock()
	if !ok {
		return StrategySet{}, fmt.Errorf("phase %q: %w", name, apierrors.ErrStrategyUnresolved)
	}
	if err := set.validate(); err != nil {
		return StrategySet{}, fmt.Errorf("phase %q: %w", name, err)
	}
	return set, nil
}

// Names returns every registered phase name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sets))
	for name := range r.sets {
		out = append(out, name)
	}
	return out
}

// DefaultRegistry is populated by each phase_*.go file's init(), mirroring
// module discovery of files named phase_* (§4.2).
var DefaultRegistry = NewRegistry()

// Register installs set under name in DefaultRegistry.
func Register(name string, set StrategySet) {
	DefaultRegistry.Register(name, set)
}

// Resolve resolves name against DefaultRegistry.
func Resolve(name string) (StrategySet, error) {
	return DefaultRegistry.Resolve(name)
}

const (
	// PhaseCapabilityMapping is Phase 1: map which concepts the model
	// already handles well.
	PhaseCapabilityMapping = "capability_mapping"
	// PhaseChallengeDiscovery is Phase 2: find where the model struggles.
	PhaseChallengeDiscovery = "challenge_discovery"
	// PhaseComprehensiveEvaluation is Phase 3: exhaustively probe the
	// struggle points Phase 2 surfaced.
	PhaseComprehensiveEvaluation = "comprehensive_evaluation"
)
