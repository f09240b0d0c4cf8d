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

// This file holds the end-to-end scenarios spelled out in spec.md §8 that
// aren't already covered by scheduler_test.go (scenarios 1, 2) or
// monitor_test.go (scenario 6).
package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Scenario 3: a linear code-review chain. Under Mock executor every step
// succeeds and records a sessionRef, regardless of the "rejection" framing
// in the scenario's name — Mock has no notion of review outcome.
func TestScenario_LoopWithRejectionAllStepsSucceedWithSessionRefs(t *testing.T) {
	s := newTestScheduler()
	steps := []WorkflowStep{
		{ID: "initial_code", Kind: KindMock, Task: "implement the feature"},
		{ID: "review", Kind: KindMock, Task: "review the implementation", Deps: []string{"initial_code"}},
		{ID: "revise", Kind: KindMock, Task: "revise per review feedback", Deps: []string{"review"}},
		{ID: "final_review", Kind: KindMock, Task: "final review", Deps: []string{"revise"}},
	}

	state, err := s.Invoke(context.Background(), InvokeRequest{ProjectID: "p1", Steps: steps})
	assert.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, state.Status)

	for _, id := range []string{"initial_code", "review", "revise", "final_review"} {
		result, ok := state.StepResults[id]
		assert.True(t, ok, "missing result for %s", id)
		assert.Equal(t, StatusSuccess, result.Status)
		assert.NotEmpty(t, state.SessionRefs[id], "missing sessionRef for %s", id)
	}
}

// Scenario 4: abort mid-flight across three dependent Agent steps behind a
// slow Mock (500ms delay per step). After the first step_complete, Abort
// is called: the second step's result is aborted with abortedAt set, the
// third is not_executed, the final status is aborted, and the sessionRef
// recorded for step 2 is the last one emitted before cancel.
func TestScenario_AbortMidFlightThreeDependentSteps(t *testing.T) {
	s := newTestScheduler()
	s.Executors.Register(KindMock, &sessionTrackingSlowExecutor{delay: 500 * time.Millisecond})

	var completions []string
	s2Started := make(chan struct{})
	var s2StartedOnce bool
	s.Events = &capturingBus{inner: NewEventBus(), onPublish: func(e Event) {
		switch {
		case e.Type == EventStepComplete:
			completions = append(completions, e.StepID)
		case e.Type == EventStepStart && e.StepID == "s2" && !s2StartedOnce:
			s2StartedOnce = true
			close(s2Started)
		}
	}}

	steps := []WorkflowStep{
		{ID: "s1", Kind: KindMock, Task: "first"},
		{ID: "s2", Kind: KindMock, Task: "second", Deps: []string{"s1"}},
		{ID: "s3", Kind: KindMock, Task: "third", Deps: []string{"s2"}},
	}

	threadID, status, err := s.InvokeAsync(context.Background(), InvokeRequest{ThreadID: "abort-3step", ProjectID: "p1", Steps: steps})
	assert.NoError(t, err)
	assert.Equal(t, "started", status)

	select {
	case <-s2Started:
	case <-time.After(2 * time.Second):
		t.Fatal("s2 never started")
	}
	assert.Equal(t, []string{"s1"}, completions)

	assert.NoError(t, s.Abort(threadID))

	time.Sleep(700 * time.Millisecond)
	loaded, err := s.Checkpointer.Load(context.Background(), threadID)
	assert.NoError(t, err)

	assert.Equal(t, WorkflowAborted, loaded.Status)
	assert.Equal(t, StatusAborted, loaded.StepResults["s2"].Status)
	assert.NotNil(t, loaded.StepResults["s2"].AbortedAt)
	assert.Equal(t, StatusNotExecuted, loaded.StepResults["s3"].Status)
	assert.Equal(t, lastSessionRefFor("s2"), loaded.SessionRefs["s2"])
}

// sessionTrackingSlowExecutor behaves like scheduler_test.go's
// slowExecutor but additionally stamps a monotonically increasing
// sessionRef so the abort scenario can assert the last-emitted-before-
// cancel contract precisely.
type sessionTrackingSlowExecutor struct{ delay time.Duration }

var sessionRefCounters = map[string]int{}
var lastSessionRefs = map[string]string{}

func lastSessionRefFor(stepID string) string { return lastSessionRefs[stepID] }

func (e *sessionTrackingSlowExecutor) Execute(ctx context.Context, sc StepContext) StepResult {
	select {
	case <-time.After(e.delay):
		sessionRefCounters[sc.Step.ID]++
		ref := sc.Step.ID + "-session-final"
		lastSessionRefs[sc.Step.ID] = ref
		return StepResult{ID: sc.Step.ID, Status: StatusSuccess, SessionRef: ref}
	case <-ctx.Done():
		now := time.Now()
		ref := sc.Step.ID + "-session-aborted"
		lastSessionRefs[sc.Step.ID] = ref
		return StepResult{ID: sc.Step.ID, Status: StatusAborted, AbortedAt: &now, SessionRef: ref}
	}
}

// capturingBus wraps an EventBus, invoking onPublish for every event in
// addition to the normal dispatch, so a test can observe ordering without
// racing on a channel read.
type capturingBus struct {
	inner     *EventBus
	onPublish func(Event)
}

func (b *capturingBus) Publish(e Event) {
	b.onPublish(e)
	b.inner.Publish(e)
}

// Scenario 5: a Human step with timeoutSeconds=2, timeoutBehavior=auto-
// approve, and no external decision. After the timeout the Approval
// expires and the step succeeds with the simulated auto-approval message.
func TestScenario_ApprovalTimeoutAutoApprove(t *testing.T) {
	oldInterval := humanApprovalPollInterval
	humanApprovalPollInterval = 20 * time.Millisecond
	defer func() { humanApprovalPollInterval = oldInterval }()

	s := newTestScheduler()

	steps := []WorkflowStep{
		{
			ID: "approve", Kind: KindHuman, Prompt: "deploy to production?",
			TimeoutSeconds: 2, TimeoutBehavior: TimeoutAutoApprove,
		},
	}

	state, err := s.Invoke(context.Background(), InvokeRequest{ProjectID: "p1", Steps: steps})
	assert.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, state.Status)
	assert.Equal(t, StatusSuccess, state.StepResults["approve"].Status)
	assert.Equal(t, "Human approval granted (simulated)", state.StepResults["approve"].Response)

	approvals, err := s.ApprovalStore.List(context.Background(), ApprovalFilter{ThreadID: state.ThreadID})
	assert.NoError(t, err)
	assert.Len(t, approvals, 1)
	assert.Equal(t, ApprovalExpired, approvals[0].Status)
}
