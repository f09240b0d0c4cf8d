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

	"github.com/stretchr/testify/assert"
)

func TestLoopExecutor_IteratesAllItemsAndSucceeds(t *testing.T) {
	state := NewWorkflowState("t1", "p1", nil, false)
	step := WorkflowStep{ID: "l1", Kind: KindLoop, Task: "process {item}", Items: []string{"a", "b", "c"}, LoopVar: "item"}

	result := (&LoopExecutor{}).Execute(context.Background(), StepContext{Step: step, State: state})

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Contains(t, result.Response, "3 iterations")
	assert.Contains(t, result.Response, "a")
	assert.Contains(t, result.Response, "c")
}

func TestLoopExecutor_RespectsMaxIterationsCap(t *testing.T) {
	state := NewWorkflowState("t1", "p1", nil, false)
	step := WorkflowStep{ID: "l1", Kind: KindLoop, Task: "process {item}", Items: []string{"a", "b", "c"}, MaxIterations: 2}

	result := (&LoopExecutor{}).Execute(context.Background(), StepContext{Step: step, State: state})

	assert.Contains(t, result.Response, "2 iterations")
}

func TestLoopExecutor_DefaultLoopVarIsItem(t *testing.T) {
	state := NewWorkflowState("t1", "p1", nil, false)
	step := WorkflowStep{ID: "l1", Kind: KindLoop, Task: "value={item}", Items: []string{"x"}}

	result := (&LoopExecutor{}).Execute(context.Background(), StepContext{Step: step, State: state})
	assert.Contains(t, result.Response, "value=x")
}

func TestLoopExecutor_EmptyItemsYieldsBareCompletedMessage(t *testing.T) {
	state := NewWorkflowState("t1", "p1", nil, false)
	step := WorkflowStep{ID: "l1", Kind: KindLoop, Task: "process {item}", Items: []string{}, LoopVar: "item"}

	result := (&LoopExecutor{}).Execute(context.Background(), StepContext{Step: step, State: state})

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "Loop completed: ", result.Response)
}

func TestLoopExecutor_CancellationMidIterationYieldsAborted(t *testing.T) {
	state := NewWorkflowState("t1", "p1", nil, false)
	step := WorkflowStep{ID: "l1", Kind: KindLoop, Task: "x", Items: []string{"a", "b", "c"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := (&LoopExecutor{}).Execute(ctx, StepContext{Step: step, State: state})
	assert.Equal(t, StatusAborted, result.Status)
	assert.NotNil(t, result.AbortedAt)
}
