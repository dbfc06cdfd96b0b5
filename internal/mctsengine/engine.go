// Package mctsengine runs one phase's Monte Carlo Tree Search loop to
// convergence or iteration cap: batch selection under the Ancestor-Disjoint
// Constraint, concurrent evaluation, score and backpropagation, expansion,
// a convergence check, and a per-iteration snapshot.
package mctsengine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/concurrency"
	"github.com/prismbench/searchcore/internal/metrics"
	"github.com/prismbench/searchcore/internal/strategy"
	"github.com/prismbench/searchcore/internal/tree"
)

// PhaseConfig is everything RunPhase needs beyond the tree and evaluator
// already held by the Engine.
type PhaseConfig struct {
	PhaseName string
	Params    strategy.Params

	// SnapshotDir, if non-empty, receives one tree.<phase>.<iteration>.json
	// snapshot per iteration.
	SnapshotDir string

	// MaxConcurrentEvaluations caps evaluator calls in flight within one
	// iteration's batch. Zero means no additional cap beyond the batch
	// size itself (num_nodes_per_iteration).
	MaxConcurrentEvaluations int
}

// PhaseResult summarizes how a phase run ended.
type PhaseResult struct {
	PhaseName  string
	Iterations int
	Converged  bool
	Cancelled  bool
	// TimedOut is true when the phase budget (ctx's deadline) elapsed, as
	// distinct from cooperative cancellation. §5 and §7 require a
	// deadline-expired phase to be marked failed with error "timeout",
	// not cancelled.
	TimedOut bool
}

// Engine runs phases against a shared tree and evaluator.
type Engine struct {
	Tree      *tree.Tree
	Evaluator strategy.Evaluator
	Logger    *logrus.Logger
	Rand      *rand.Rand
	Metrics   *metrics.Metrics
}

// New returns an Engine. logger and rnd may be nil to get sane defaults.
// m may be nil; metrics observation calls are then no-ops.
func New(t *tree.Tree, ev strategy.Evaluator, logger *logrus.Logger, rnd *rand.Rand, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{Tree: t, Evaluator: ev, Logger: logger, Rand: rnd, Metrics: m}
}

// RunPhase resolves cfg.PhaseName's strategy set and runs the main loop of
// §4.3.2 until convergence, the iteration cap, ctx cancellation, or
// cancelled reporting true. A registry resolution failure is fatal and
// halts phase construction, per §4.3.4.
func (e *Engine) RunPhase(ctx context.Context, cfg PhaseConfig, cancelled *atomic.Bool) (*PhaseResult, error) {
	set, err := strategy.Resolve(cfg.PhaseName)
	if err != nil {
		return nil, fmt.Errorf("construct phase %s: %w", cfg.PhaseName, err)
	}

	sctx := &strategy.Context{
		Tree:      e.Tree,
		Evaluator: e.Evaluator,
		Params:    cfg.Params,
		Rand:      e.Rand,
		Logger:    e.Logger,
		Phase:     phaseNumber(cfg.PhaseName),
	}

	if set.InitializePhase != nil {
		if err := set.InitializePhase(ctx, sctx); err != nil {
			return nil, fmt.Errorf("initialize phase %s: %w", cfg.PhaseName, err)
		}
	}

	result := &PhaseResult{PhaseName: cfg.PhaseName}
	defer func() { e.Metrics.ObservePhaseOutcome(cfg.PhaseName, outcomeLabel(result)) }()

	stability := 0
	prevValues := e.Tree.ValueSnapshot()

	for result.Iterations < cfg.Params.MaxIterations {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			return result, fmt.Errorf("phase %s budget exceeded: %w", cfg.PhaseName, apierrors.ErrTimeout)
		}
		if ctx.Err() != nil {
			result.Cancelled = true
			return result, nil
		}
		if cancelled != nil && cancelled.Load() {
			result.Cancelled = true
			return result, nil
		}

		batch := e.selectBatch(ctx, set, sctx)
		if len(batch) == 0 {
			e.Logger.WithField("phase", cfg.PhaseName).Info("no eligible candidates, ending phase")
			break
		}

		outcomes := e.evaluateBatch(ctx, set, sctx, batch, cfg.MaxConcurrentEvaluations)
		for _, o := range outcomes {
			reward := set.CalculateNodeValue(sctx, o.nodeID, o.result)
			if err := e.Tree.RecordRunResult(o.nodeID, o.result); err != nil {
				e.Logger.WithError(err).WithField("node_id", o.nodeID).Warn("record run result failed")
				continue
			}
			if err := e.Tree.SetScore(o.nodeID, reward); err != nil {
				e.Logger.WithError(err).WithField("node_id", o.nodeID).Warn("set score failed")
			}
			if err := set.BackpropagateNodeValue(sctx, o.nodeID, reward); err != nil {
				e.Logger.WithError(err).WithField("node_id", o.nodeID).Warn("backpropagate failed")
			}
			if _, err := set.ExpandNode(ctx, sctx, o.nodeID); err != nil {
				e.Logger.WithError(err).WithField("node_id", o.nodeID).Warn("expand_node failed")
			}
		}

		delta := e.Tree.MaxValueDelta(prevValues)
		prevValues = e.Tree.ValueSnapshot()
		if delta <= cfg.Params.ValueDeltaThreshold {
			stability++
		} else {
			stability = 0
		}

		if cfg.SnapshotDir != "" {
			path := tree.SnapshotPath(cfg.SnapshotDir, cfg.PhaseName, result.Iterations)
			if err := e.Tree.Snapshot(path); err != nil {
				e.Logger.WithError(err).Warn("snapshot failed")
			}
		}

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			return result, fmt.Errorf("phase %s budget exceeded: %w", cfg.PhaseName, apierrors.ErrTimeout)
		}

		result.Iterations++
		e.Metrics.ObservePhaseIteration(cfg.PhaseName)

		if stability >= cfg.Params.ConvergenceChecks {
			result.Converged = true
			break
		}
	}

	return result, nil
}

func outcomeLabel(r *PhaseResult) string {
	switch {
	case r.TimedOut:
		return "timeout"
	case r.Cancelled:
		return "cancelled"
	case r.Converged:
		return "converged"
	default:
		return "exhausted"
	}
}

// selectBatch calls select_node repeatedly until num_nodes_per_iteration
// distinct nodes are chosen or the selector returns no candidate.
func (e *Engine) selectBatch(ctx context.Context, set strategy.StrategySet, sctx *strategy.Context) []string {
	batch := make([]string, 0, sctx.Params.NumNodesPerIteration)
	for len(batch) < sctx.Params.NumNodesPerIteration {
		id, ok, err := set.SelectNode(ctx, sctx, batch)
		if err != nil {
			e.Logger.WithError(err).Warn("select_node error, ending batch selection early")
			break
		}
		if !ok {
			break
		}
		batch = append(batch, id)
	}
	return batch
}

type evalOutcome struct {
	nodeID string
	result tree.RunResult
}

// evaluateBatch spawns one concurrent unit per selected node. A unit's own
// evaluator failure is caught and turned into a zero-success result rather
// than propagated to the group, so one bad evaluation never halts the
// iteration (§4.3.4).
func (e *Engine) evaluateBatch(ctx context.Context, set strategy.StrategySet, sctx *strategy.Context, batch []string, maxConcurrent int) []evalOutcome {
	outcomes := make([]evalOutcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)

	var limiter *concurrency.Semaphore
	if maxConcurrent > 0 {
		limiter = concurrency.NewSemaphore(maxConcurrent)
	} else {
		g.SetLimit(len(batch))
	}

	for i, nodeID := range batch {
		i, nodeID := i, nodeID
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Acquire(gctx); err != nil {
					outcomes[i] = evalOutcome{nodeID: nodeID, result: zeroResultFor(err)}
					return nil
				}
				defer limiter.Release()
			}

			result, err := set.EvaluateNode(gctx, sctx, nodeID)
			if err != nil {
				e.Logger.WithError(err).WithField("node_id", nodeID).Warn("evaluate_node failed, recording zero-success result")
				result = zeroResultFor(err)
			}
			outcomes[i] = evalOutcome{nodeID: nodeID, result: result}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func zeroResultFor(err error) tree.RunResult {
	return tree.RunResult{
		Success:    false,
		RecordedAt: time.Now(),
		DataTrail:  map[string]interface{}{"error": err.Error()},
	}
}

func phaseNumber(name string) int {
	switch name {
	case strategy.PhaseCapabilityMapping:
		return 1
	case strategy.PhaseChallengeDiscovery:
		return 2
	case strategy.PhaseComprehensiveEvaluation:
		return 3
	default:
		return 0
	}
}
