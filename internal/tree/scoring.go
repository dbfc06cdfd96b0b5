package tree

// ScoringParams are the per-phase penalty and cap parameters of §4.3.1.
type ScoringParams struct {
	PenaltyPerFailure        float64
	PenaltyPerError          float64
	PenaltyPerAttempt        float64
	FixedByProblemFixerPenalty float64
	MaxNumPassed              float64
	// DifficultyMultipliers is indexed by the tree's difficulty progression
	// index — §4.3.3: "Difficulty multipliers rise monotonically with
	// difficulty index." A very-easy pass and a very-hard pass at the same
	// pass ratio must not score the same, so the multiplier is keyed to the
	// evaluated node's difficulty rather than a single per-phase scalar.
	DifficultyMultipliers []float64
}

// DifficultyMultiplierAt returns the configured multiplier for
// difficultyIndex, defaulting to 1.0 when the index falls outside the
// configured family (including an unconfigured, empty family) so a missing
// entry never zeroes out a reward.
func (p ScoringParams) DifficultyMultiplierAt(difficultyIndex int) float64 {
	if difficultyIndex < 0 || difficultyIndex >= len(p.DifficultyMultipliers) {
		return 1.0
	}
	return p.DifficultyMultipliers[difficultyIndex]
}

// CalculatePerformanceScore is the Scoring Rule of §4.3.3: a pure function
// from a raw evaluator result and the evaluated node's difficulty index to a
// real-valued score. It does not touch the tree; callers store the result
// on the node themselves (§9: score and value are distinct — this returns
// the raw score, not the smoothed value).
func CalculatePerformanceScore(r RunResult, p ScoringParams, difficultyIndex int) float64 {
	total := r.TestsPassed + r.TestsFailed + r.TestsErrored
	if total < 1 {
		total = 1
	}
	ratio := float64(r.TestsPassed) / float64(total)
	base := p.DifficultyMultiplierAt(difficultyIndex) * ratio
	if p.MaxNumPassed > 0 && base > p.MaxNumPassed {
		base = p.MaxNumPassed
	}

	score := base
	score -= p.PenaltyPerFailure * float64(r.TestsFailed)
	score -= p.PenaltyPerError * float64(r.TestsErrored)
	if r.Attempts > 1 {
		score -= p.PenaltyPerAttempt * float64(r.Attempts-1)
	}
	if r.FixerUsed {
		score -= p.FixedByProblemFixerPenalty
	}
	return score
}

// InverseScoringWeights are the weights for the Inverse Scoring Rule used
// by Phase 2 and Phase 3 (§4.3.3): reward is larger when the model
// struggles.
type InverseScoringWeights struct {
	AttemptWeight float64 // w1
	FixerWeight   float64 // w2
}

// CalculateInversePerformanceScore implements the Inverse Scoring Rule:
// reward proportional to (1 - success_ratio), plus extra attempts and
// fixer-use contributing positively (struggle signals), rather than the
// penalties of the standard rule.
func CalculateInversePerformanceScore(r RunResult, w InverseScoringWeights) float64 {
	total := r.TestsPassed + r.TestsFailed + r.TestsErrored
	if total < 1 {
		total = 1
	}
	successRatio := float64(r.TestsPassed) / float64(total)
	reward := 1 - successRatio

	if r.Attempts > 1 {
		reward += w.AttemptWeight * float64(r.Attempts-1)
	}
	if r.FixerUsed {
		reward += w.FixerWeight
	}
	return reward
}
