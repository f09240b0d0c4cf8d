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
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler drives a CompiledWorkflow to completion or cancellation,
// implementing the seven-step protocol of spec.md §4.8. It owns the
// process-wide abort-controller map and the services every Executor
// needs, and is the one place StepContext values get constructed.
//
// Grounded on the teacher's workflow_engine.go orchestration loop
// (frontier-driven dependency scheduling with a concurrency-bounded
// worker pool), generalized to the seven-executor registry and the
// edges-only conditional model (builder.go).
type Scheduler struct {
	Executors      *ExecutorRegistry
	Checkpointer   Checkpointer
	Events         EventPublisher
	Registry       Registry
	AgentClient    AgentClient
	ConfigStore    ConfigStore
	StatusOperator *StatusOperator
	ApprovalStore  ApprovalStore
	Monitor        *Monitor

	// ConcurrencyCap bounds how many top-level steps run at once per
	// workflow; zero means unbounded (spec.md §5 default).
	ConcurrencyCap int

	mu     sync.Mutex
	aborts map[string]context.CancelFunc

	// stateMu guards WorkflowState mutation and the running map below.
	// Top-level frontier steps merge sequentially in drive(), but
	// Parallel children reach mergeResult concurrently via
	// runChildStep's goroutines, so mergeResult's writes to
	// state.StepResults/StepOutputs/SessionRefs go through this lock.
	// propagateBlocked writes StepResults without it, between rounds,
	// when no step of the thread is in flight.
	stateMu sync.Mutex

	// running tracks, per thread, every step's current status including
	// in-flight ones — unlike state.StepResults, which only ever holds
	// settled steps. registrySnapshot reads this so the Registry can
	// tell an orphaned-mid-step thread (spec.md §8 scenario 6) apart
	// from one that never reached that step.
	running map[string]map[string]StepStatus
}

// NewScheduler wires a Scheduler from its collaborators.
func NewScheduler(executors *ExecutorRegistry, checkpointer Checkpointer, events EventPublisher, registry Registry,
	agentClient AgentClient, configStore ConfigStore, statusOperator *StatusOperator, approvalStore ApprovalStore) *Scheduler {
	return &Scheduler{
		Executors:      executors,
		Checkpointer:   checkpointer,
		Events:         events,
		Registry:       registry,
		AgentClient:    agentClient,
		ConfigStore:    configStore,
		StatusOperator: statusOperator,
		ApprovalStore:  approvalStore,
		aborts:         make(map[string]context.CancelFunc),
		running:        make(map[string]map[string]StepStatus),
	}
}

// InvokeRequest is the normalized input to Invoke/InvokeAsync.
type InvokeRequest struct {
	ThreadID             string
	ProjectID            string
	Steps                []WorkflowStep
	StartNewConversation bool
}

// Invoke runs req to completion or cancellation and returns the final
// state. Step 1 (Invoke) and step 2 (Drive) of spec.md §4.8.
func (s *Scheduler) Invoke(ctx context.Context, req InvokeRequest) (*WorkflowState, error) {
	compiled, state, runCtx, err := s.start(ctx, req)
	if err != nil {
		return nil, err
	}
	s.drive(runCtx, compiled, state)
	return state, nil
}

// InvokeAsync starts req in the background and returns immediately with
// {threadId, status: "started"} per spec.md §4.8 step 7. Recovery on
// process restart is the Monitor's job, not the Scheduler's.
func (s *Scheduler) InvokeAsync(ctx context.Context, req InvokeRequest) (threadID string, status string, err error) {
	compiled, state, runCtx, err := s.start(ctx, req)
	if err != nil {
		return "", "", err
	}
	go s.drive(runCtx, compiled, state)
	return state.ThreadID, "started", nil
}

func (s *Scheduler) start(ctx context.Context, req InvokeRequest) (*CompiledWorkflow, *WorkflowState, context.Context, error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	compiled, err := Build(req.Steps)
	if err != nil {
		return nil, nil, nil, err
	}

	state := NewWorkflowState(threadID, req.ProjectID, req.Steps, req.StartNewConversation)

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.aborts[threadID] = cancel
	s.mu.Unlock()

	if s.Checkpointer != nil {
		if err := s.Checkpointer.Save(ctx, state); err != nil {
			cancel()
			return nil, nil, nil, err
		}
	}
	threadStatus := make(map[string]StepStatus, len(req.Steps))
	for _, st := range req.Steps {
		threadStatus[st.ID] = StatusNotExecuted
	}
	s.stateMu.Lock()
	s.running[threadID] = threadStatus
	s.stateMu.Unlock()

	if s.Registry != nil {
		_ = s.Registry.Create(ctx, WorkflowRegistryEntry{
			ThreadID: threadID, Status: WorkflowRunning, Steps: s.registrySnapshot(threadID), ProjectID: req.ProjectID,
		})
	}
	s.publish(Event{Type: EventWorkflowCreated, ThreadID: threadID, Data: map[string]any{"stepCount": len(req.Steps)}})

	return compiled, state, runCtx, nil
}

// Abort signals threadID's controller and publishes workflow_abort.
// Idempotent: aborting an unknown or already-finished thread is a no-op
// error rather than a panic.
func (s *Scheduler) Abort(threadID string) error {
	s.mu.Lock()
	cancel, ok := s.aborts[threadID]
	s.mu.Unlock()
	if !ok {
		return &NotFoundError{Message: "thread " + threadID}
	}
	cancel()
	s.publish(Event{Type: EventWorkflowAbort, ThreadID: threadID})
	return nil
}

func (s *Scheduler) publish(event Event) {
	if s.Events != nil {
		s.Events.Publish(event)
	}
}

// drive runs the frontier loop (spec.md §4.8 steps 2-5) until no more
// steps can become ready, then computes and persists the final status.
func (s *Scheduler) drive(ctx context.Context, cw *CompiledWorkflow, state *WorkflowState) {
	done := make(map[string]bool)
	gatedReady := make(map[string]bool) // gated targets unlocked by conditional routing
	routedConditionals := make(map[string]bool)

	frontier := cw.InitialFrontier()

	for len(frontier) > 0 {
		sort.Strings(frontier)
		results := s.runRound(ctx, cw, state, frontier)

		for _, r := range results {
			done[r.ID] = true
			s.mergeResult(state, r)
			s.persist(ctx, state)
			s.routeConditionals(cw, state, r, gatedReady, routedConditionals)
		}

		s.propagateBlocked(cw, state, done)
		frontier = s.nextFrontier(cw, state, done, gatedReady)
	}

	s.finish(ctx, state)
}

// runRound launches every step in frontier concurrently (bounded by
// ConcurrencyCap when set) and waits for all of them to settle.
func (s *Scheduler) runRound(ctx context.Context, cw *CompiledWorkflow, state *WorkflowState, frontier []string) []StepResult {
	var sem chan struct{}
	if s.ConcurrencyCap > 0 {
		sem = make(chan struct{}, s.ConcurrencyCap)
	}

	results := make([]StepResult, len(frontier))
	var wg sync.WaitGroup
	for i, stepID := range frontier {
		wg.Add(1)
		go func(i int, stepID string) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results[i] = s.runOne(ctx, cw, state, cw.ByID[stepID])
		}(i, stepID)
	}
	wg.Wait()
	return results
}

// runOne executes a single step with its retry policy applied, emitting
// step_start before and step_complete/step_failed after (spec.md §4.8
// step 2, items b/c/f).
func (s *Scheduler) runOne(ctx context.Context, cw *CompiledWorkflow, state *WorkflowState, step WorkflowStep) StepResult {
	if ctx.Err() != nil {
		return StepResult{ID: step.ID, Status: StatusAborted, Error: "aborted before start"}
	}

	s.setStepStatus(state.ThreadID, step.ID, StatusRunning)
	s.publish(Event{Type: EventStepStart, ThreadID: state.ThreadID, StepID: step.ID, Data: map[string]any{"kind": string(step.Kind)}})

	result := s.executeWithRetry(ctx, cw, state, step)

	eventType := EventStepComplete
	if result.Status != StatusSuccess {
		eventType = EventStepFailed
	}
	s.publish(Event{Type: eventType, ThreadID: state.ThreadID, StepID: step.ID,
		Data: map[string]any{"status": string(result.Status)}})
	recordStep(step.Kind, result.Status, result.DurationMs)

	if s.Registry != nil {
		_, _ = s.Registry.Update(ctx, state.ThreadID, RegistryPatch{Steps: s.registrySnapshot(state.ThreadID)})
	}
	return result
}

// setStepStatus records stepID's current status for threadID in the
// running bookkeeping map, guarded by stateMu since Parallel
// children update it concurrently.
func (s *Scheduler) setStepStatus(threadID, stepID string, status StepStatus) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.running[threadID] == nil {
		s.running[threadID] = make(map[string]StepStatus)
	}
	s.running[threadID][stepID] = status
}

// registrySnapshot builds the Registry's per-step status list from the
// running bookkeeping map, so in-flight steps are distinguishable from
// not-yet-started and settled ones (spec.md §8 scenario 6).
func (s *Scheduler) registrySnapshot(threadID string) []StepStatusEntry {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	statuses := s.running[threadID]
	out := make([]StepStatusEntry, 0, len(statuses))
	for id, status := range statuses {
		out = append(out, StepStatusEntry{ID: id, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) executeWithRetry(ctx context.Context, cw *CompiledWorkflow, state *WorkflowState, step WorkflowStep) StepResult {
	policy := cw.RetryPolicy
	delay := policy.InitialDelay
	var result StepResult

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result = s.executeOnce(ctx, cw, state, step)
		result.Attempt = attempt
		if result.Status == StatusSuccess || result.Status == StatusAborted {
			return result
		}
		if attempt == policy.MaxAttempts || !IsRetryable(result.Error) {
			return result
		}

		select {
		case <-ctx.Done():
			return result
		case <-time.After(time.Duration(delay * float64(time.Second))):
		}
		delay *= policy.BackoffFactor
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return result
}

func (s *Scheduler) executeOnce(ctx context.Context, cw *CompiledWorkflow, state *WorkflowState, step WorkflowStep) StepResult {
	executor, err := s.Executors.Pick(step.Kind)
	if err != nil {
		return StepResult{ID: step.ID, Status: StatusFailed, Error: err.Error()}
	}

	sc := StepContext{
		Step:           step,
		State:          state,
		AgentClient:    s.AgentClient,
		ConfigStore:    s.ConfigStore,
		StatusOperator: s.StatusOperator,
		ApprovalStore:  s.ApprovalStore,
		Events:         s.Events,
		Monitor:        s.Monitor,
		RunStep: func(runCtx context.Context, stepID string) StepResult {
			return s.runChildStep(runCtx, cw, state, stepID)
		},
	}
	return executor.Execute(ctx, sc)
}

// runChildStep executes stepID on behalf of the composite Parallel
// executor, which recursively invokes the Scheduler's own dispatch path,
// per spec.md §4.4 ("schedules the referenced parallelSteps concurrently
// via the Orchestrator"). It runs outside the main frontier's bookkeeping
// (done/gatedReady) since ParallelChildren steps are excluded from the
// ordinary frontier by builder.go.
func (s *Scheduler) runChildStep(ctx context.Context, cw *CompiledWorkflow, state *WorkflowState, stepID string) StepResult {
	s.stateMu.Lock()
	existing, ok := state.StepResults[stepID]
	s.stateMu.Unlock()
	if ok {
		return existing
	}
	step, ok := cw.ByID[stepID]
	if !ok {
		return StepResult{ID: stepID, Status: StatusFailed, Error: "unknown step " + stepID}
	}

	result := s.runOne(ctx, cw, state, step)
	s.mergeResult(state, result)
	s.persist(ctx, state)
	return result
}

// mergeResult writes a completed step's result into state (spec.md §4.8
// step 2 item d): StepResults, StepOutputs, and SessionRefs if present.
// Guarded by stateMu: Parallel children reach this concurrently via
// runChildStep's goroutines within a single round.
func (s *Scheduler) mergeResult(state *WorkflowState, r StepResult) {
	s.stateMu.Lock()
	state.StepResults[r.ID] = r
	if r.Response != "" {
		state.StepOutputs[r.ID] = r.Response
	}
	if r.SessionRef != "" {
		state.SessionRefs[r.ID] = r.SessionRef
	}
	state.UpdatedAt = time.Now()
	if s.running[state.ThreadID] != nil {
		s.running[state.ThreadID][r.ID] = r.Status
	}
	s.stateMu.Unlock()
}

func (s *Scheduler) persist(ctx context.Context, state *WorkflowState) {
	if s.Checkpointer != nil {
		_ = s.Checkpointer.Save(ctx, state)
	}
}

// routeConditionals implements spec.md §4.8 step 3: any conditional edge
// whose source matches the just-completed step is evaluated and the
// target is unlocked in gatedReady. "A conditional step whose dep failed
// is treated as the false branch" without evaluating its condition at
// all. When a conditional step has more than one dep (spec.md §9 Open
// Question), this implementation evaluates on the first dep completion
// that triggers it and ignores later triggers for the same conditional —
// a concrete, documented resolution of an otherwise-unspecified ambiguity.
func (s *Scheduler) routeConditionals(cw *CompiledWorkflow, state *WorkflowState, completed StepResult,
	gatedReady map[string]bool, routed map[string]bool) {
	for _, cond := range cw.ConditionalEdges[completed.ID] {
		if routed[cond.ID] {
			continue
		}
		routed[cond.ID] = true

		var branch, evalErr string
		if completed.Status != StatusSuccess {
			branch = cond.FalseBranch
		} else {
			branch, evalErr = resolveConditionalBranch(cond, state)
		}
		if evalErr != "" {
			s.publish(Event{Type: EventStepFailed, ThreadID: state.ThreadID, StepID: cond.ID,
				Data: map[string]any{"conditionError": evalErr}})
		}
		if branch != "" && branch != "end" {
			gatedReady[branch] = true
		}
	}
}

// propagateBlocked implements spec.md §4.8 step 4: any step that settled
// without success (failed, blocked, or aborted) marks every (transitive)
// ordinary dependent not_executed without invocation. Aborted must cascade
// here too — a mid-flight abort otherwise leaves everything downstream of
// the interrupted step simply absent from StepResults instead of recorded
// not_executed (spec.md §8 scenario 4).
func (s *Scheduler) propagateBlocked(cw *CompiledWorkflow, state *WorkflowState, done map[string]bool) {
	var mark func(id string)
	mark = func(id string) {
		for _, dependent := range cw.Dependents[id] {
			if _, already := state.StepResults[dependent]; already {
				continue
			}
			state.StepResults[dependent] = StepResult{
				ID:     dependent,
				Status: StatusNotExecuted,
				Error:  fmt.Sprintf("Blocked: dependency %s did not complete successfully", id),
			}
			s.setStepStatus(state.ThreadID, dependent, StatusNotExecuted)
			done[dependent] = true
			mark(dependent)
		}
	}
	for id, result := range state.StepResults {
		if result.Status != StatusSuccess {
			mark(id)
		}
	}
}

// nextFrontier collects executable steps with no result yet whose deps
// are satisfied (ordinary readiness) or whose conditional/parallel gate
// has been unlocked.
func (s *Scheduler) nextFrontier(cw *CompiledWorkflow, state *WorkflowState, done map[string]bool, gatedReady map[string]bool) []string {
	var out []string
	for _, step := range cw.Steps {
		if done[step.ID] {
			continue
		}
		if _, has := state.StepResults[step.ID]; has {
			continue
		}
		if cw.Gated(step.ID) {
			if gatedReady[step.ID] && cw.Ready(step, state) {
				out = append(out, step.ID)
			}
			continue
		}
		if cw.Ready(step, state) {
			out = append(out, step.ID)
		}
	}
	sort.Strings(out)
	return out
}

// finish implements spec.md §4.8 step 5: compute the terminal workflow
// status once the frontier is empty, persist it, and emit the matching
// terminal event (workflow_complete or workflow_failed; always the last
// event for a thread per the ordering guarantee in §4.8).
func (s *Scheduler) finish(ctx context.Context, state *WorkflowState) {
	state.Status = computeFinalStatus(state)
	state.UpdatedAt = time.Now()
	recordWorkflow(state.Status)
	s.persist(ctx, state)
	if s.Checkpointer != nil {
		_ = s.Checkpointer.Tombstone(ctx, state.ThreadID)
	}
	if s.Registry != nil {
		_, _ = s.Registry.Update(ctx, state.ThreadID, RegistryPatch{Status: &state.Status, Steps: s.registrySnapshot(state.ThreadID), SessionRefs: state.SessionRefs})
	}

	eventType := EventWorkflowComplete
	if state.Status == WorkflowFailed {
		eventType = EventWorkflowFailed
	}
	s.publish(Event{Type: eventType, ThreadID: state.ThreadID, Data: map[string]any{"status": string(state.Status)}})

	s.stateMu.Lock()
	delete(s.running, state.ThreadID)
	s.stateMu.Unlock()
}

// computeFinalStatus applies spec.md §4.8 step 5's exact rule: completed
// iff every step succeeded, aborted iff any step aborted, partial if a mix
// of success and non-success, else failed.
func computeFinalStatus(state *WorkflowState) WorkflowStatus {
	var anySuccess, anyNonSuccess, anyAborted bool
	for _, r := range state.StepResults {
		switch r.Status {
		case StatusSuccess:
			anySuccess = true
		case StatusAborted:
			anyAborted = true
			anyNonSuccess = true
		default:
			anyNonSuccess = true
		}
	}
	switch {
	case anyAborted:
		return WorkflowAborted
	case anySuccess && !anyNonSuccess:
		return WorkflowCompleted
	case anySuccess && anyNonSuccess:
		return WorkflowPartial
	default:
		return WorkflowFailed
	}
}
