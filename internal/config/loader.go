package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/prismbench/searchcore/internal/evaluator"
	"github.com/prismbench/searchcore/internal/session"
	"github.com/prismbench/searchcore/internal/strategy"
	"github.com/prismbench/searchcore/internal/tree"
)

// Loader reads, substitutes, defaults, and validates the configuration
// document at a fixed path.
type Loader struct {
	path string
}

// NewLoader returns a Loader reading from path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load reads the document, substitutes ${VAR} environment references,
// applies defaults, and validates the result.
func (l *Loader) Load() (*Document, error) {
	if l.path == "" {
		return nil, fmt.Errorf("configuration path is required")
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read configuration file: %w", err)
	}
	return l.LoadFromString(string(data))
}

// LoadFromString parses a YAML document directly, useful for tests and for
// configuration embedded at build time.
func (l *Loader) LoadFromString(content string) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("parse YAML configuration: %w", err)
	}

	substituteEnvVars(&doc)
	doc.applyDefaults()

	if err := doc.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &doc, nil
}

// substituteEnvVars expands ${VAR} references in string fields that
// plausibly carry secrets or deployment-specific endpoints.
func substituteEnvVars(doc *Document) {
	doc.Evaluator.BaseURL = os.ExpandEnv(doc.Evaluator.BaseURL)
	doc.Server.ListenAddr = os.ExpandEnv(doc.Server.ListenAddr)
	doc.Snapshots.Directory = os.ExpandEnv(doc.Snapshots.Directory)
}

// ToExperimentConfig converts the validated document into the
// session.ExperimentConfig the Manager runs against.
func (d *Document) ToExperimentConfig() session.ExperimentConfig {
	phases := make(map[string]session.PhaseDefinition, len(d.Phases))
	for name, p := range d.Phases {
		phases[name] = session.PhaseDefinition{
			Params:                   p.toStrategyParams(),
			Timeout:                  msToDuration(p.TimeoutMS),
			MaxConcurrentEvaluations: p.MaxConcurrent,
		}
	}
	return session.ExperimentConfig{
		Name:           d.Experiment.Name,
		Description:    d.Experiment.Description,
		PhaseSequences: append([]string(nil), d.Experiment.PhaseSequences...),
		Phases:         phases,
		Concepts:       append([]string(nil), d.Tree.Concepts...),
		Difficulties:   append([]string(nil), d.Tree.Difficulties...),
	}
}

func (p PhaseDocument) toStrategyParams() strategy.Params {
	return strategy.Params{
		MaxDepth:               p.PhaseParams.MaxDepth,
		MaxIterations:          p.PhaseParams.MaxIterations,
		ValueDeltaThreshold:    p.PhaseParams.ValueDeltaThreshold,
		ConvergenceChecks:      p.PhaseParams.ConvergenceChecks,
		ExplorationProbability: p.SearchParams.ExplorationProbability,
		NumNodesPerIteration:   p.SearchParams.NumNodesPerIteration,
		MaxAttempts:            p.SearchParams.MaxAttempts,
		DiscountFactor:         p.SearchParams.DiscountFactor,
		LearningRate:           p.SearchParams.LearningRate,
		PerformanceThreshold:   p.SearchParams.PerformanceThreshold,
		ChallengeThreshold:     p.SearchParams.ChallengeThreshold,
		NodeSelectionThreshold: p.SearchParams.NodeSelectionThreshold,
		VariationsPerConcept:   p.SearchParams.VariationsPerConcept,
		EnvironmentName:        p.Environment.Name,
		Scoring: tree.ScoringParams{
			DifficultyMultipliers:      p.ScoringParams.DifficultyMultipliers,
			MaxNumPassed:               p.ScoringParams.MaxNumPassed,
			PenaltyPerFailure:          p.ScoringParams.PenaltyPerFailure,
			PenaltyPerError:            p.ScoringParams.PenaltyPerError,
			PenaltyPerAttempt:          p.ScoringParams.PenaltyPerAttempt,
			FixedByProblemFixerPenalty: p.ScoringParams.FixedByProblemFixerPenalty,
		},
		InverseWeights: tree.InverseScoringWeights{
			AttemptWeight: p.ScoringParams.AttemptWeight,
			FixerWeight:   p.ScoringParams.FixerWeight,
		},
	}
}

// ToEvaluatorConfig converts the document's evaluator section into an
// evaluator.Config.
func (d *Document) ToEvaluatorConfig() evaluator.Config {
	return evaluator.Config{
		BaseURL:           d.Evaluator.BaseURL,
		SubmitRetries:     d.Evaluator.SubmitRetries,
		RetryBaseDelay:    msToDuration(d.Evaluator.RetryBaseDelayMS),
		RetryMaxDelay:     msToDuration(d.Evaluator.RetryMaxDelayMS),
		PollInterval:      msToDuration(d.Evaluator.PollIntervalMS),
		PollMaxInterval:   msToDuration(d.Evaluator.PollMaxIntervalMS),
		PollBackoffFactor: d.Evaluator.PollBackoffFactor,
	}
}
