package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/mctsengine"
	"github.com/prismbench/searchcore/internal/metrics"
	"github.com/prismbench/searchcore/internal/strategy"
	"github.com/prismbench/searchcore/internal/tree"
)

// Session is one evaluation experiment: its tree, the experiment config it
// was initialised from, and the ID of the most recent task bound to it
// (kept after that task reaches a terminal state).
type Session struct {
	ID         string
	Tree       *tree.Tree
	Experiment ExperimentConfig
	CreatedAt  time.Time

	mu           sync.Mutex
	activeTaskID string
}

// Manager owns sessions and tasks process-wide. Exactly one explicit
// instance is constructed at startup and injected into HTTP handlers; there
// is no package-level singleton.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	tasks    map[string]*Task

	evaluator         strategy.Evaluator
	logger            *logrus.Logger
	snapshotBaseDir   string
	defaultExperiment ExperimentConfig
	metrics           *metrics.Metrics
}

// SetMetrics wires Prometheus instrumentation into every phase engine this
// Manager spawns from Run onward. Optional: a Manager with no metrics set
// runs identically, since metrics.Metrics's observation methods are
// nil-receiver safe.
func (m *Manager) SetMetrics(metrics *metrics.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

// NewManager returns a Manager. defaultExperiment is used to auto-initialise
// a session when Run is called with an empty session ID.
func NewManager(defaultExperiment ExperimentConfig, evaluator strategy.Evaluator, logger *logrus.Logger, snapshotBaseDir string) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		tasks:             make(map[string]*Task),
		evaluator:         evaluator,
		logger:            logger,
		snapshotBaseDir:   snapshotBaseDir,
		defaultExperiment: defaultExperiment,
	}
}

// DefaultExperiment returns the experiment configuration POST /initialize
// and session-less POST /run auto-initialise sessions from.
func (m *Manager) DefaultExperiment() ExperimentConfig {
	return m.defaultExperiment
}

// Initialize creates a session with a fresh tree seeded from exp's concept
// and difficulty set. Fails with ErrConflict if sessionID already exists.
func (m *Manager) Initialize(sessionID string, exp ExperimentConfig) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return nil, fmt.Errorf("session %s already exists: %w", sessionID, apierrors.ErrConflict)
	}

	t := tree.New(m.logger)
	if err := t.InitializeTree(exp.Concepts, exp.Difficulties); err != nil {
		return nil, fmt.Errorf("initialize tree for session %s: %w", sessionID, err)
	}

	s := &Session{ID: sessionID, Tree: t, Experiment: exp, CreatedAt: time.Now().UTC()}
	m.sessions[sessionID] = s
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(len(m.sessions)))
	}
	return s, nil
}

// GetSession returns the session's tree size and metadata.
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found: %w", sessionID, apierrors.ErrNotFound)
	}
	return s, nil
}

// Run creates a task with one pending phase entry per phase in the
// session's experiment's declared sequence and starts an asynchronous unit
// advancing them in order. If sessionID is empty one is generated and
// auto-initialised from the Manager's default experiment; a non-empty
// sessionID that does not exist fails with ErrNotFound. At most one
// active (non-terminal) task per session is allowed.
func (m *Manager) Run(sessionID string) (*Task, error) {
	m.mu.Lock()
	generated := false
	if sessionID == "" {
		sessionID = uuid.NewString()
		generated = true
	}
	s, exists := m.sessions[sessionID]
	if !exists {
		if !generated {
			m.mu.Unlock()
			return nil, fmt.Errorf("session %s not found: %w", sessionID, apierrors.ErrNotFound)
		}
		t := tree.New(m.logger)
		if err := t.InitializeTree(m.defaultExperiment.Concepts, m.defaultExperiment.Difficulties); err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("auto-initialize session %s: %w", sessionID, err)
		}
		s = &Session{ID: sessionID, Tree: t, Experiment: m.defaultExperiment, CreatedAt: time.Now().UTC()}
		m.sessions[sessionID] = s
	}

	s.mu.Lock()
	if active, ok := m.tasks[s.activeTaskID]; ok && !active.IsTerminal() {
		s.mu.Unlock()
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s already has an active task: %w", sessionID, apierrors.ErrConflict)
	}

	taskID := uuid.NewString()
	now := time.Now().UTC()
	task := newTask(taskID, sessionID, s.Experiment.PhaseSequences, func() PhaseEntry {
		return PhaseEntry{Status: PhasePending, CreatedAt: now}
	})
	s.activeTaskID = taskID
	s.mu.Unlock()

	m.tasks[taskID] = task
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(len(m.sessions)))
		m.metrics.TasksActive.Set(float64(m.countActiveTasksLocked()))
	}
	m.mu.Unlock()

	go m.advance(task, s)

	return task, nil
}

// countActiveTasksLocked returns the number of non-terminal tasks. Caller
// must hold mu.
func (m *Manager) countActiveTasksLocked() int {
	n := 0
	for _, t := range m.tasks {
		if !t.IsTerminal() {
			n++
		}
	}
	return n
}

// advance walks the task's declared phase sequence, running each phase's
// MCTS loop to completion, cancellation, timeout, or fatal error before
// moving to the next.
func (m *Manager) advance(task *Task, s *Session) {
	for _, phaseName := range task.PhaseOrder {
		if task.Cancelled() {
			task.mutatePhase(phaseName, func(p *PhaseEntry) {
				if p.Status == PhasePending {
					p.Status = PhaseCancelled
					now := time.Now().UTC()
					p.CancelledAt = &now
				}
			})
			continue
		}

		def, ok := s.Experiment.Phases[phaseName]
		if !ok {
			task.mutatePhase(phaseName, func(p *PhaseEntry) {
				p.Status = PhaseFailed
				p.Error = fmt.Sprintf("no phase definition for %s", phaseName)
				now := time.Now().UTC()
				p.CompletedAt = &now
			})
			continue
		}

		startedAt := time.Now().UTC()
		workerID := "engine-" + uuid.NewString()
		task.mutatePhase(phaseName, func(p *PhaseEntry) {
			p.Status = PhaseRunning
			p.StartedAt = &startedAt
			p.WorkerID = &workerID
		})

		ctx := context.Background()
		var cancel context.CancelFunc
		if def.Timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		}

		eng := mctsengine.New(s.Tree, m.evaluator, m.logger, rand.New(rand.NewSource(time.Now().UnixNano())), m.metrics)
		snapshotDir := ""
		if m.snapshotBaseDir != "" {
			snapshotDir = m.snapshotBaseDir
		}
		result, err := eng.RunPhase(ctx, mctsengine.PhaseConfig{
			PhaseName:                phaseName,
			Params:                   def.Params,
			SnapshotDir:              snapshotDir,
			MaxConcurrentEvaluations: def.MaxConcurrentEvaluations,
		}, task.CancelledFlag())
		if cancel != nil {
			cancel()
		}

		completedAt := time.Now().UTC()
		switch {
		case err != nil:
			task.mutatePhase(phaseName, func(p *PhaseEntry) {
				p.Status = PhaseFailed
				if errors.Is(err, apierrors.ErrTimeout) {
					p.Error = "timeout"
				} else {
					p.Error = err.Error()
				}
				p.CompletedAt = &completedAt
			})
			task.RequestCancel()
		case result.Cancelled:
			task.mutatePhase(phaseName, func(p *PhaseEntry) {
				p.Status = PhaseCancelled
				p.CancelledAt = &completedAt
			})
		default:
			path := ""
			if snapshotDir != "" && result.Iterations > 0 {
				path = tree.SnapshotPath(snapshotDir, phaseName, result.Iterations-1)
			}
			task.mutatePhase(phaseName, func(p *PhaseEntry) {
				p.Status = PhaseCompleted
				p.CompletedAt = &completedAt
				p.Path = path
			})
		}
	}

	task.cancelPending()

	if m.metrics != nil {
		m.mu.Lock()
		m.metrics.TasksActive.Set(float64(m.countActiveTasksLocked()))
		m.mu.Unlock()
	}
}

// Stop marks a cancellation request on the task. Fails with ErrInvalidState
// if the task is already terminal.
func (m *Manager) Stop(taskID string) (*Task, error) {
	m.mu.RLock()
	task, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %s not found: %w", taskID, apierrors.ErrNotFound)
	}
	if task.IsTerminal() {
		return nil, fmt.Errorf("task %s is already terminal: %w", taskID, apierrors.ErrInvalidState)
	}
	task.RequestCancel()
	task.cancelPending()
	return task, nil
}

// Status returns a specific task's phase map, or taskID may be empty to
// return every known task.
func (m *Manager) Status(taskID string) (*Task, map[string]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if taskID == "" {
		all := make(map[string]*Task, len(m.tasks))
		for id, t := range m.tasks {
			all[id] = t
		}
		return nil, all, nil
	}
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, nil, fmt.Errorf("task %s not found: %w", taskID, apierrors.ErrNotFound)
	}
	return task, nil, nil
}

// GetTree returns the session's tree in its to_dict() export shape.
func (m *Manager) GetTree(sessionID string) (tree.Dict, error) {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return tree.Dict{}, err
	}
	return s.Tree.ToDict(), nil
}
