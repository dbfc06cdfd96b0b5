package tree

import (
	"sort"
	"time"
)

// RunResult is one evaluator result recorded against a node. The fields
// consumed by scoring are named explicitly; TestsPassed/TestsFailed/
// TestsErrored/Attempts/FixerUsed/Success are read by the phase strategies'
// calculate_node_value slot. DataTrail carries the evaluator's full trail
// verbatim and is opaque to the tree and the phase engine alike.
type RunResult struct {
	TestsPassed  int                    `json:"tests_passed"`
	TestsFailed  int                    `json:"tests_failed"`
	TestsErrored int                    `json:"tests_errored"`
	Attempts     int                    `json:"attempts"`
	FixerUsed    bool                   `json:"fixed_by_problem_fixer"`
	Success      bool                   `json:"success"`
	DataTrail    map[string]interface{} `json:"data_trail,omitempty"`
	RecordedAt   time.Time              `json:"recorded_at"`
}

// ChallengeNode is a point in the (concepts, difficulty) search space. The
// Tree is the sole owner of nodes: ParentIDs/ChildIDs are references into
// the Tree's node map, never embedded pointers, so the graph can never hold
// a reference cycle in memory even if IDs formed one — invariant (I1) is
// enforced separately at mutation time.
type ChallengeNode struct {
	ID                   string      `json:"id"`
	Difficulty           string      `json:"difficulty"`
	Concepts             []string    `json:"concepts"`
	ChallengeDescription string      `json:"challenge_description,omitempty"`
	ParentIDs            []string    `json:"parents"`
	ChildIDs             []string    `json:"children"`
	Depth                int         `json:"depth"`
	Phase                int         `json:"phase"`
	Visits               int         `json:"visits"`
	Successes            int         `json:"successes"`
	Failures             int         `json:"failures"`
	Score                float64     `json:"score"`
	Value                float64     `json:"value"`
	RunResults           []RunResult `json:"run_results"`
	CreatedAt            time.Time   `json:"created_at"`
}

// CanonicalConcepts returns the node's concepts in sorted order, used for
// display and de-duplication hints. It never mutates Concepts itself —
// identity is order-independent, only display order is canonical.
func (n *ChallengeNode) CanonicalConcepts() []string {
	out := make([]string, len(n.Concepts))
	copy(out, n.Concepts)
	sort.Strings(out)
	return out
}

func unionConcepts(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range sets {
		for _, c := range set {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
