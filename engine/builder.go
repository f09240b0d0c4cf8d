// Copyright 2026 AgentFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"fmt"
	"sort"
)

// RetryPolicy is applied by the Scheduler around each non-conditional
// step's Executor call, per spec.md §4.7.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay float64 // seconds
	MaxDelay     float64 // seconds
	BackoffFactor float64
}

// DefaultRetryPolicy matches spec.md §4.7: "max 2 attempts, initial 1s,
// max 5s, backoff factor 2".
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, InitialDelay: 1, MaxDelay: 5, BackoffFactor: 2}
}

// nonRetryableSubstrings mirrors spec.md §4.7: an error whose message
// contains any of these is never retried regardless of attempts remaining.
var nonRetryableSubstrings = []string{
	"validation failed", "invalid configuration", "unauthorized", "forbidden",
}

// IsRetryable reports whether errMsg should be retried under the default
// policy.
func IsRetryable(errMsg string) bool {
	for _, substr := range nonRetryableSubstrings {
		if containsFold(errMsg, substr) {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return len(needle) <= len(haystack) && indexOfFold(haystack, needle) >= 0
}

func indexOfFold(haystack, needle string) int {
	h, n := []rune(toLowerASCII(haystack)), []rune(toLowerASCII(needle))
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			if h[i+j] != n[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// CompiledWorkflow is the Builder's output: a validated DAG plus the
// auxiliary lookups the Scheduler needs to drive it. Conditional steps
// (spec.md §4.7: "the conditional node itself is not materialized in the
// graph") are excluded from Steps/ByID/Dependents entirely — they never
// run through an Executor — and instead surface as ConditionalEdges,
// keyed by each dep they watch.
type CompiledWorkflow struct {
	Steps       []WorkflowStep          // executable (non-conditional) steps only
	ByID        map[string]WorkflowStep // executable steps only
	Dependents  map[string][]string     // stepID -> executable steps that depend on it
	RetryPolicy RetryPolicy

	// ConditionalEdges maps a dep step id to every conditional step that
	// watches it, so the Scheduler can re-evaluate routing as soon as
	// that dep settles (spec.md §4.8 step 3).
	ConditionalEdges map[string][]WorkflowStep

	// GatedTargets is the set of step ids reachable only as some
	// conditional's trueBranch/falseBranch. They are withheld from the
	// initial `start` frontier and from ordinary dependency-based
	// readiness even if they declare no deps of their own — the worked
	// example in spec.md §8 ("structured condition true branch") has
	// `ok`/`bad` carry no deps at all, reachable solely via routing, so a
	// gated target only enters the frontier when its conditional routes
	// to it.
	GatedTargets map[string]bool

	// ParallelChildren is the set of step ids that appear in some
	// Parallel step's ParallelSteps list. Spec.md §4.4 has the Parallel
	// executor, not the Scheduler's normal frontier, run these ("schedules
	// the referenced parallelSteps concurrently via the Orchestrator"), so
	// they are withheld from the ordinary frontier the same way gated
	// conditional targets are, and only run via StepContext.RunStep.
	ParallelChildren map[string]bool
}

// Build translates a step list into a CompiledWorkflow DAG. It assigns
// missing step ids, rejects cyclic dependency closures with
// ValidationError (named InvalidWorkflow by spec.md §4.7 — represented
// here as a ValidationError since the error taxonomy in spec.md §7 has no
// separate InvalidWorkflow kind), and requires every dep and every
// trueBranch/falseBranch reference to name a step that exists.
func Build(steps []WorkflowStep) (*CompiledWorkflow, error) {
	steps = assignMissingIDs(steps)

	// fullByID includes conditional steps, for validating deps/branch
	// targets against the complete step list.
	fullByID := make(map[string]WorkflowStep, len(steps))
	for _, s := range steps {
		fullByID[s.ID] = s
	}

	var executable []WorkflowStep
	var conditionals []WorkflowStep
	for _, s := range steps {
		if s.Kind == KindConditional {
			conditionals = append(conditionals, s)
		} else {
			executable = append(executable, s)
		}
	}

	for _, s := range steps {
		for _, dep := range s.Deps {
			if _, ok := fullByID[dep]; !ok {
				return nil, &ValidationError{Message: fmt.Sprintf("step %s depends on unknown step %s", s.ID, dep)}
			}
		}
	}
	for _, c := range conditionals {
		if c.TrueBranch == "" && c.FalseBranch == "" {
			return nil, &ValidationError{Message: fmt.Sprintf("conditional step %s has neither trueBranch nor falseBranch", c.ID)}
		}
		if c.TrueBranch != "" && c.TrueBranch != "end" {
			if _, ok := fullByID[c.TrueBranch]; !ok {
				return nil, &ValidationError{Message: fmt.Sprintf("conditional step %s trueBranch %s does not exist", c.ID, c.TrueBranch)}
			}
		}
		if c.FalseBranch != "" && c.FalseBranch != "end" {
			if _, ok := fullByID[c.FalseBranch]; !ok {
				return nil, &ValidationError{Message: fmt.Sprintf("conditional step %s falseBranch %s does not exist", c.ID, c.FalseBranch)}
			}
		}
	}

	if cyclePath, ok := findCycle(steps, fullByID); ok {
		return nil, &ValidationError{Message: "cyclic dependency: " + fmt.Sprint(cyclePath)}
	}

	byID := make(map[string]WorkflowStep, len(executable))
	for _, s := range executable {
		byID[s.ID] = s
	}

	dependents := make(map[string][]string)
	for _, s := range executable {
		for _, dep := range s.Deps {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}
	for dep := range dependents {
		sort.Strings(dependents[dep])
	}

	conditionalEdges := make(map[string][]WorkflowStep)
	gatedTargets := make(map[string]bool)
	for _, c := range conditionals {
		for _, dep := range c.Deps {
			conditionalEdges[dep] = append(conditionalEdges[dep], c)
		}
		if c.TrueBranch != "" && c.TrueBranch != "end" {
			gatedTargets[c.TrueBranch] = true
		}
		if c.FalseBranch != "" && c.FalseBranch != "end" {
			gatedTargets[c.FalseBranch] = true
		}
	}

	parallelChildren := make(map[string]bool)
	for _, s := range executable {
		if s.Kind == KindParallel {
			for _, childID := range s.ParallelSteps {
				parallelChildren[childID] = true
			}
		}
	}

	return &CompiledWorkflow{
		Steps:            executable,
		ByID:             byID,
		Dependents:       dependents,
		RetryPolicy:      DefaultRetryPolicy(),
		ConditionalEdges: conditionalEdges,
		GatedTargets:     gatedTargets,
		ParallelChildren: parallelChildren,
	}, nil
}

// assignMissingIDs gives every step lacking an id a stable "step-<index>"
// id, per spec.md §4.8 Invoke step 1.
func assignMissingIDs(steps []WorkflowStep) []WorkflowStep {
	out := make([]WorkflowStep, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", i)
		}
		out[i] = s
	}
	return out
}

// findCycle runs a standard three-color DFS over the Deps graph (steps
// lacking deps depend on nothing, never on positional siblings, per
// spec.md §4.7).
func findCycle(steps []WorkflowStep, byID map[string]WorkflowStep) ([]string, bool) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(steps))
	var path []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, dep := range byID[id].Deps {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if visit(s.ID) {
				return path, true
			}
		}
	}
	return nil, false
}

// Ready reports whether step's deps are all terminal-successful in state
// (spec.md §4.8 "all deps terminal-successful").
func (cw *CompiledWorkflow) Ready(step WorkflowStep, state *WorkflowState) bool {
	for _, dep := range step.Deps {
		result, ok := state.StepResults[dep]
		if !ok || result.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// InitialFrontier returns the steps reachable from `start`: those with no
// deps that are not exclusively reached through conditional routing
// (GatedTargets) or through a Parallel step's child list (ParallelChildren).
func (cw *CompiledWorkflow) InitialFrontier() []string {
	var out []string
	for _, s := range cw.Steps {
		if len(s.Deps) == 0 && !cw.GatedTargets[s.ID] && !cw.ParallelChildren[s.ID] {
			out = append(out, s.ID)
		}
	}
	sort.Strings(out)
	return out
}

// Gated reports whether stepID only becomes ready through conditional
// routing or parallel-child dispatch rather than ordinary dependency
// satisfaction.
func (cw *CompiledWorkflow) Gated(stepID string) bool {
	return cw.GatedTargets[stepID] || cw.ParallelChildren[stepID]
}
