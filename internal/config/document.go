// Package config loads the typed YAML document that wires an Experiment,
// its per-phase parameters, and the tree's concept/difficulty set into the
// session.ExperimentConfig the rest of the process runs against, following
// the teacher's substitute/default/validate loader pipeline.
package config

import (
	"fmt"
	"time"
)

// Document is the on-disk shape of §6.3's configuration: the experiment
// name and phase sequence, one entry per phase, and the tree's seed set.
type Document struct {
	Experiment ExperimentDocument        `yaml:"experiment"`
	Phases     map[string]PhaseDocument  `yaml:"phases"`
	Tree       TreeDocument              `yaml:"tree"`
	Evaluator  EvaluatorDocument         `yaml:"evaluator"`
	Server     ServerDocument            `yaml:"server"`
	Snapshots  SnapshotsDocument         `yaml:"snapshots"`
}

// ExperimentDocument names the experiment and its ordered phase sequence.
type ExperimentDocument struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	PhaseSequences []string `yaml:"phase_sequences"`
}

// PhaseDocument is one phase's configured knobs, mirroring §4.3.1.
type PhaseDocument struct {
	PhaseParams   PhaseParamsDocument   `yaml:"phase_params"`
	SearchParams  SearchParamsDocument  `yaml:"search_params"`
	ScoringParams ScoringParamsDocument `yaml:"scoring_params"`
	Environment   EnvironmentDocument   `yaml:"environment"`
	TimeoutMS     int64                 `yaml:"timeout_ms"`
	MaxConcurrent int                   `yaml:"max_concurrent_evaluations"`
}

// PhaseParamsDocument controls tree-growth limits and convergence.
type PhaseParamsDocument struct {
	MaxDepth            int     `yaml:"max_depth"`
	MaxIterations       int     `yaml:"max_iterations"`
	ValueDeltaThreshold float64 `yaml:"value_delta_threshold"`
	ConvergenceChecks   int     `yaml:"convergence_checks"`
}

// SearchParamsDocument controls selection and expansion thresholds.
type SearchParamsDocument struct {
	ExplorationProbability float64 `yaml:"exploration_probability"`
	NumNodesPerIteration    int     `yaml:"num_nodes_per_iteration"`
	MaxAttempts             int     `yaml:"max_attempts"`
	DiscountFactor          float64 `yaml:"discount_factor"`
	LearningRate            float64 `yaml:"learning_rate"`
	PerformanceThreshold    float64 `yaml:"performance_threshold"`
	ChallengeThreshold      float64 `yaml:"challenge_threshold"`
	NodeSelectionThreshold  float64 `yaml:"node_selection_threshold"`
	VariationsPerConcept    int     `yaml:"variations_per_concept"`
}

// ScoringParamsDocument configures the standard and inverse scoring rules.
type ScoringParamsDocument struct {
	PenaltyPerFailure          float64   `yaml:"penalty_per_failure"`
	PenaltyPerError            float64   `yaml:"penalty_per_error"`
	PenaltyPerAttempt          float64   `yaml:"penalty_per_attempt"`
	FixedByProblemFixerPenalty float64   `yaml:"fixed_by_problem_fixer_penalty"`
	MaxNumPassed               float64   `yaml:"max_num_passed"`
	// DifficultyMultipliers is indexed by the tree's difficulty progression
	// index (§4.3.3). An entry missing or out of range defaults to 1.0 via
	// tree.ScoringParams.DifficultyMultiplierAt.
	DifficultyMultipliers []float64 `yaml:"difficulty_multipliers"`
	AttemptWeight              float64   `yaml:"attempt_weight"`
	FixerWeight                float64   `yaml:"fixer_weight"`
}

// EnvironmentDocument names the evaluator environment a phase runs against.
type EnvironmentDocument struct {
	Name string `yaml:"name"`
}

// TreeDocument seeds the tree's concept and difficulty sets. Both must be
// non-empty.
type TreeDocument struct {
	Concepts     []string `yaml:"concepts"`
	Difficulties []string `yaml:"difficulties"`
}

// EvaluatorDocument configures the HTTP client issuing evaluation requests.
type EvaluatorDocument struct {
	BaseURL           string `yaml:"base_url"`
	SubmitRetries     int    `yaml:"submit_retries"`
	RetryBaseDelayMS  int64  `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMS   int64  `yaml:"retry_max_delay_ms"`
	PollIntervalMS    int64  `yaml:"poll_interval_ms"`
	PollMaxIntervalMS int64  `yaml:"poll_max_interval_ms"`
	PollBackoffFactor float64 `yaml:"poll_backoff_factor"`
}

// ServerDocument configures the HTTP API surface.
type ServerDocument struct {
	ListenAddr string `yaml:"listen_addr"`
}

// SnapshotsDocument configures where per-iteration tree snapshots land.
type SnapshotsDocument struct {
	Directory string `yaml:"directory"`
}

func (d *Document) applyDefaults() {
	if d.Evaluator.SubmitRetries == 0 {
		d.Evaluator.SubmitRetries = 3
	}
	if d.Evaluator.RetryBaseDelayMS == 0 {
		d.Evaluator.RetryBaseDelayMS = 200
	}
	if d.Evaluator.RetryMaxDelayMS == 0 {
		d.Evaluator.RetryMaxDelayMS = 5000
	}
	if d.Evaluator.PollIntervalMS == 0 {
		d.Evaluator.PollIntervalMS = 500
	}
	if d.Evaluator.PollMaxIntervalMS == 0 {
		d.Evaluator.PollMaxIntervalMS = 2000
	}
	if d.Evaluator.PollBackoffFactor == 0 {
		d.Evaluator.PollBackoffFactor = 1.5
	}
	if d.Server.ListenAddr == "" {
		d.Server.ListenAddr = ":8080"
	}

	for name, phase := range d.Phases {
		if phase.PhaseParams.ConvergenceChecks == 0 {
			phase.PhaseParams.ConvergenceChecks = 3
		}
		if phase.PhaseParams.ValueDeltaThreshold == 0 {
			phase.PhaseParams.ValueDeltaThreshold = 0.01
		}
		if phase.SearchParams.NumNodesPerIteration == 0 {
			phase.SearchParams.NumNodesPerIteration = 1
		}
		if phase.SearchParams.MaxAttempts == 0 {
			phase.SearchParams.MaxAttempts = 3
		}
		if phase.SearchParams.DiscountFactor == 0 {
			phase.SearchParams.DiscountFactor = 0.9
		}
		if phase.SearchParams.LearningRate == 0 {
			phase.SearchParams.LearningRate = 0.5
		}
		if phase.ScoringParams.MaxNumPassed == 0 {
			phase.ScoringParams.MaxNumPassed = 1.0
		}
		d.Phases[name] = phase
	}
}

func (d *Document) validate() error {
	if d.Experiment.Name == "" {
		return fmt.Errorf("experiment.name is required")
	}
	if len(d.Experiment.PhaseSequences) == 0 {
		return fmt.Errorf("experiment.phase_sequences must be non-empty")
	}
	if len(d.Tree.Concepts) == 0 {
		return fmt.Errorf("tree.concepts must be non-empty")
	}
	if len(d.Tree.Difficulties) == 0 {
		return fmt.Errorf("tree.difficulties must be non-empty")
	}
	for _, name := range d.Experiment.PhaseSequences {
		if _, ok := d.Phases[name]; !ok {
			return fmt.Errorf("phase %q listed in phase_sequences has no phases entry", name)
		}
	}
	if d.Evaluator.BaseURL == "" {
		return fmt.Errorf("evaluator.base_url is required")
	}
	return nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
