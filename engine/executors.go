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
	"context"
	"fmt"
	"time"
)

// StepContext is everything an Executor needs to run one step: the step
// itself, a read/write view of run state, and the services the Scheduler
// owns (Status Operator, Approval Store, event emission, recursive step
// invocation for parallel). Executors report their outcome only through
// the returned StepResult; the Scheduler's mergeResult writes it into
// State.StepResults and State.StepOutputs.
type StepContext struct {
	Step  WorkflowStep
	State *WorkflowState

	AgentClient     AgentClient
	ConfigStore     ConfigStore
	StatusOperator  *StatusOperator
	ApprovalStore   ApprovalStore
	Events          EventPublisher

	// Monitor, when set, receives heartbeat touches around long-running
	// LLM calls (spec.md §4.10) so the periodic staleness sweep doesn't
	// mistake a slow-but-alive agent call for an abandoned thread.
	Monitor *Monitor

	// RunStep lets the composite parallel executor recursively
	// invoke the Scheduler's single-step execution path for a child step
	// id, so nested steps go through the same executor dispatch,
	// template resolution, and result bookkeeping as top-level ones.
	RunStep func(ctx context.Context, stepID string) StepResult

	// StepTimeout overrides the default per-step deadline (10 minutes);
	// zero means "use the executor's own default".
	StepTimeout time.Duration
}

// Executor runs one WorkflowStep and returns its StepResult. Executors
// never panic and never return a Go error from Execute — a failure is
// encoded in the returned StepResult's Status/Error fields, per spec.md §7
// ("Executors never throw across the Scheduler boundary").
type Executor interface {
	Execute(ctx context.Context, sc StepContext) StepResult
}

// ExecutorRegistry dispatches a WorkflowStep to the Executor registered
// for its Kind, the strategy-pattern registry spec.md §4 describes.
type ExecutorRegistry struct {
	byKind map[StepKind]Executor
}

// NewExecutorRegistry builds a registry with the seven executors that run
// as DAG nodes. Conditional steps are deliberately absent: spec.md §4.4
// and §4.7 are explicit that a conditional step "is not present as a DAG
// node; handled by conditional edges" — the Builder turns
// condition/trueBranch/falseBranch into edge predicates and the Scheduler
// evaluates them directly (see resolveConditionalBranch below and the
// conditional-routing step in scheduler.go), so KindConditional never
// reaches ExecutorRegistry.Pick in normal operation.
func NewExecutorRegistry() *ExecutorRegistry {
	r := &ExecutorRegistry{byKind: make(map[StepKind]Executor)}
	r.Register(KindAgent, &AgentExecutor{})
	r.Register(KindMock, &MockExecutor{})
	r.Register(KindLoop, &LoopExecutor{})
	r.Register(KindParallel, &ParallelExecutor{})
	r.Register(KindHuman, &HumanExecutor{})
	r.Register(KindJavaScript, &JavaScriptExecutor{})
	r.Register(KindWebhook, &WebhookExecutor{})
	return r
}

// Register binds kind to executor, overriding any previous binding. Tests
// use this to substitute fakes; production wiring uses NewExecutorRegistry.
func (r *ExecutorRegistry) Register(kind StepKind, executor Executor) {
	r.byKind[kind] = executor
}

// Pick returns the Executor registered for kind, or an error if none is.
func (r *ExecutorRegistry) Pick(kind StepKind) (Executor, error) {
	executor, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("no executor registered for step kind %q", kind)
	}
	return executor, nil
}

// CanHandle reports whether kind has a registered Executor.
func (r *ExecutorRegistry) CanHandle(kind StepKind) bool {
	_, ok := r.byKind[kind]
	return ok
}

// resolveConditionalBranch evaluates a conditional step's Condition
// against state and returns the branch id to route to next. It never
// produces a StepResult: conditional steps are edges, not nodes (spec.md
// §4.4, §4.7), so there is nothing to merge into State.StepResults. Any
// evaluation error still yields a branch (Evaluate is total) and is
// surfaced to the caller so it can be logged per spec.md §3's "this must
// be observable in logs" requirement.
func resolveConditionalBranch(step WorkflowStep, state *WorkflowState) (branch string, evalErr string) {
	result := Evaluate(step.Condition, NewConditionContext(state))
	if result.Result {
		branch = step.TrueBranch
	} else {
		branch = step.FalseBranch
	}
	return branch, result.Error
}
