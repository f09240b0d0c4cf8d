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

func TestCheckpointer_SaveLoadRoundTrip(t *testing.T) {
	cp := NewInMemoryCheckpointer()
	state := NewWorkflowState("t1", "p1", nil, false)
	state.StepOutputs["s1"] = "out"

	assert.NoError(t, cp.Save(context.Background(), state))

	loaded, err := cp.Load(context.Background(), "t1")
	assert.NoError(t, err)
	assert.Equal(t, "out", loaded.StepOutputs["s1"])
}

func TestCheckpointer_LoadUnknownThreadReturnsNil(t *testing.T) {
	cp := NewInMemoryCheckpointer()
	loaded, err := cp.Load(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCheckpointer_LoadReturnsIndependentCopy(t *testing.T) {
	cp := NewInMemoryCheckpointer()
	state := NewWorkflowState("t1", "p1", nil, false)
	assert.NoError(t, cp.Save(context.Background(), state))

	loaded, _ := cp.Load(context.Background(), "t1")
	loaded.StepOutputs["mutated"] = "yes"

	reloaded, _ := cp.Load(context.Background(), "t1")
	_, ok := reloaded.StepOutputs["mutated"]
	assert.False(t, ok)
}

func TestCheckpointer_TombstoneRejectsFurtherWrites(t *testing.T) {
	cp := NewInMemoryCheckpointer()
	state := NewWorkflowState("t1", "p1", nil, false)
	assert.NoError(t, cp.Save(context.Background(), state))
	assert.NoError(t, cp.Tombstone(context.Background(), "t1"))

	err := cp.Save(context.Background(), state)
	assert.Error(t, err)
}

func TestCheckpointer_RunningThreadsReportsOnlyRunning(t *testing.T) {
	cp := NewInMemoryCheckpointer()
	running := NewWorkflowState("running-thread", "p1", nil, false)
	done := NewWorkflowState("done-thread", "p1", nil, false)
	done.Status = WorkflowCompleted

	cp.Save(context.Background(), running)
	cp.Save(context.Background(), done)

	assert.ElementsMatch(t, []string{"running-thread"}, cp.RunningThreads())
}
