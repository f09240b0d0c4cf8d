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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestScheduler() *Scheduler {
	return NewScheduler(NewExecutorRegistry(), NewInMemoryCheckpointer(), NewEventBus(), NewInMemoryRegistry(),
		nil, NewStaticConfigStore(nil, nil), NewStatusOperator(nil), NewInMemoryApprovalStore(nil))
}

func TestScheduler_DiamondDependencyCompletesAllSteps(t *testing.T) {
	s := newTestScheduler()
	steps := []WorkflowStep{
		{ID: "req", Kind: KindMock, Task: "gather requirements"},
		{ID: "math", Kind: KindMock, Task: "implement math module", Deps: []string{"req"}},
		{ID: "ui", Kind: KindMock, Task: "implement ui module", Deps: []string{"req"}},
		{ID: "integrate", Kind: KindMock, Task: "integrate modules", Deps: []string{"math", "ui"}},
	}

	state, err := s.Invoke(context.Background(), InvokeRequest{ProjectID: "p1", Steps: steps})
	assert.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, state.Status)
	assert.Len(t, state.StepResults, 4)
	for _, id := range []string{"req", "math", "ui", "integrate"} {
		assert.Equal(t, StatusSuccess, state.StepResults[id].Status)
	}
}

func TestScheduler_ConditionalRoutingTakesFalseBranchUnderMock(t *testing.T) {
	s := newTestScheduler()
	steps := []WorkflowStep{
		{ID: "s1", Kind: KindMock, Task: `return "success"`},
		{
			ID: "c", Kind: KindConditional, Deps: []string{"s1"},
			Condition: &Condition{Version: "2.0", RootGroup: &Group{
				Combinator: CombinatorAnd,
				Rules: []Rule{{
					Left:     Operand{StepID: "s1", Field: "output"},
					Op:       "equals",
					Right:    Operand{Type: "string", Literal: "success"},
					DataType: "string",
				}},
			}},
			TrueBranch: "ok", FalseBranch: "bad",
		},
		{ID: "ok", Kind: KindMock, Task: "T"},
		{ID: "bad", Kind: KindMock, Task: "F"},
	}

	state, err := s.Invoke(context.Background(), InvokeRequest{ProjectID: "p1", Steps: steps})
	assert.NoError(t, err)
	assert.Equal(t, "Hello World", state.StepResults["s1"].Response)
	_, okPresent := state.StepResults["ok"]
	assert.False(t, okPresent)
	_, badPresent := state.StepResults["bad"]
	assert.True(t, badPresent)
	assert.Equal(t, WorkflowCompleted, state.Status)
}

func TestScheduler_FailedStepBlocksDependents(t *testing.T) {
	s := newTestScheduler()
	s.Executors.Register(KindMock, &failingExecutor{})

	steps := []WorkflowStep{
		{ID: "a", Kind: KindMock},
		{ID: "b", Kind: KindMock, Deps: []string{"a"}},
	}

	state, err := s.Invoke(context.Background(), InvokeRequest{ProjectID: "p1", Steps: steps})
	assert.NoError(t, err)
	assert.Equal(t, StatusFailed, state.StepResults["a"].Status)
	assert.Equal(t, StatusNotExecuted, state.StepResults["b"].Status)
	assert.Contains(t, state.StepResults["b"].Error, "Blocked: dependency a did not complete successfully")
	assert.Equal(t, WorkflowFailed, state.Status)
}

func TestScheduler_AbortMarksWorkflowAborted(t *testing.T) {
	s := newTestScheduler()
	s.Executors.Register(KindMock, &slowExecutor{delay: 200 * time.Millisecond})

	steps := []WorkflowStep{{ID: "a", Kind: KindMock}}

	threadID, status, err := s.InvokeAsync(context.Background(), InvokeRequest{ThreadID: "abort-thread", ProjectID: "p1", Steps: steps})
	assert.NoError(t, err)
	assert.Equal(t, "started", status)

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, s.Abort(threadID))

	time.Sleep(300 * time.Millisecond)
	loaded, err := s.Checkpointer.Load(context.Background(), threadID)
	assert.NoError(t, err)
	assert.Equal(t, WorkflowAborted, loaded.Status)
}

type failingExecutor struct{}

func (e *failingExecutor) Execute(_ context.Context, sc StepContext) StepResult {
	return StepResult{ID: sc.Step.ID, Status: StatusFailed, Error: "boom"}
}

type slowExecutor struct{ delay time.Duration }

func (e *slowExecutor) Execute(ctx context.Context, sc StepContext) StepResult {
	select {
	case <-time.After(e.delay):
		return StepResult{ID: sc.Step.ID, Status: StatusSuccess}
	case <-ctx.Done():
		now := time.Now()
		return StepResult{ID: sc.Step.ID, Status: StatusAborted, AbortedAt: &now}
	}
}
