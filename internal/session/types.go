// Package session owns sessions and tasks process-wide: it creates and
// initialises session trees, runs a task's configured phase sequence as an
// asynchronous unit, and exposes cooperative cancellation and status, per
// the Session & Task Manager responsibility.
package session

import (
	"time"

	"github.com/prismbench/searchcore/internal/strategy"
)

// PhaseStatus is one of the five states a phase entry moves through.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseCancelled PhaseStatus = "cancelled"
)

// PhaseEntry is the network/status shape of one phase's lifecycle within a
// task: created_at always set, started_at/completed_at/cancelled_at set as
// the phase reaches those points, error carries the last failure message.
// WorkerID names the engine instance that ran the phase, purely for
// operational observability — mirroring the teacher's
// BackgroundTask.WorkerID/TaskEvent.WorkerID idiom — and never affects
// phase semantics or status derivation.
type PhaseEntry struct {
	Status      PhaseStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	CancelledAt *time.Time  `json:"cancelled_at,omitempty"`
	Error       string      `json:"error,omitempty"`
	Path        string      `json:"path,omitempty"`
	WorkerID    *string     `json:"worker_id,omitempty"`
}

func (p PhaseEntry) isTerminal() bool {
	switch p.Status {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// PhaseDefinition is one phase's configured knobs: the strategy parameters
// handed to the MCTS engine, its wall-clock budget, and its concurrency cap.
type PhaseDefinition struct {
	Params                   strategy.Params
	Timeout                  time.Duration
	MaxConcurrentEvaluations int
}

// ExperimentConfig is the typed document a session's tree and phase
// sequence are built from, per §6.3.
type ExperimentConfig struct {
	Name           string
	Description    string
	PhaseSequences []string
	Phases         map[string]PhaseDefinition
	Concepts       []string
	Difficulties   []string
}
