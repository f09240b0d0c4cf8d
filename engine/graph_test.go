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
	"testing"

	"github.com/stretchr/testify/assert"
)

func diamondWorkflow() ([]WorkflowStep, *CompiledWorkflow, *WorkflowState) {
	steps := []WorkflowStep{
		{ID: "req", Kind: KindMock, Role: "Developer", Task: "gather"},
		{ID: "math", Kind: KindMock, Role: "Developer", Task: "math", Deps: []string{"req"}},
		{ID: "ui", Kind: KindMock, Role: "Reviewer", Task: "ui", Deps: []string{"req"}},
		{ID: "integrate", Kind: KindMock, Role: "Operator", Task: "integrate", Deps: []string{"math", "ui"}},
	}
	cw, err := Build(steps)
	if err != nil {
		panic(err)
	}
	state := NewWorkflowState("t1", "p1", steps, false)
	state.StepResults["req"] = StepResult{ID: "req", Status: StatusSuccess, Response: "ok"}
	state.StepResults["math"] = StepResult{ID: "math", Status: StatusSuccess, Response: "2"}
	state.StepResults["ui"] = StepResult{ID: "ui", Status: StatusSuccess, Response: "ok"}
	state.StepResults["integrate"] = StepResult{ID: "integrate", Status: StatusSuccess, Response: "done"}
	state.Status = WorkflowCompleted
	return steps, cw, state
}

func TestGenerateGraph_DetailedModeHasOneNodePerStep(t *testing.T) {
	_, cw, state := diamondWorkflow()
	graph := GenerateGraph(cw, state, false)

	assert.Len(t, graph.Nodes, 4)
	var ids []string
	for _, n := range graph.Nodes {
		ids = append(ids, n.ID)
		assert.Equal(t, "step", n.Type)
	}
	assert.ElementsMatch(t, []string{"req", "math", "ui", "integrate"}, ids)

	assert.Len(t, graph.Edges, 4)
	assert.ElementsMatch(t, graph.Execution.Path, []string{"integrate", "math", "req", "ui"})
}

func TestGenerateGraph_ConsolidatedModeGroupsByRoleCappedAtThree(t *testing.T) {
	_, cw, state := diamondWorkflow()
	graph := GenerateGraph(cw, state, true)

	assert.LessOrEqual(t, len(graph.Nodes), 3)
	var ids []string
	for _, n := range graph.Nodes {
		ids = append(ids, n.ID)
		assert.Equal(t, "operator", n.Type)
	}
	assert.ElementsMatch(t, []string{"Developer", "Reviewer", "Operator"}, ids)
}

func TestGenerateGraph_IsDeterministic(t *testing.T) {
	_, cw, state := diamondWorkflow()
	g1 := GenerateGraph(cw, state, false)
	g2 := GenerateGraph(cw, state, false)

	var ids1, ids2 []string
	for _, n := range g1.Nodes {
		ids1 = append(ids1, n.ID)
	}
	for _, n := range g2.Nodes {
		ids2 = append(ids2, n.ID)
	}
	assert.Equal(t, ids1, ids2)

	var eids1, eids2 []string
	for _, e := range g1.Edges {
		eids1 = append(eids1, e.ID)
	}
	for _, e := range g2.Edges {
		eids2 = append(eids2, e.ID)
	}
	assert.Equal(t, eids1, eids2)
}

func TestGenerateGraph_ConditionalStepSurfacesAsEdgesNotNode(t *testing.T) {
	steps := []WorkflowStep{
		{ID: "s1", Kind: KindMock, Task: "x"},
		{ID: "c", Kind: KindConditional, Deps: []string{"s1"}, TrueBranch: "ok", FalseBranch: "bad",
			Condition: &Condition{Expression: "output == success"}},
		{ID: "ok", Kind: KindMock, Task: "T"},
		{ID: "bad", Kind: KindMock, Task: "F"},
	}
	cw, err := Build(steps)
	assert.NoError(t, err)
	state := NewWorkflowState("t1", "p1", steps, false)
	state.StepResults["s1"] = StepResult{ID: "s1", Status: StatusSuccess}
	state.StepResults["bad"] = StepResult{ID: "bad", Status: StatusSuccess}

	graph := GenerateGraph(cw, state, false)

	var nodeIDs []string
	for _, n := range graph.Nodes {
		nodeIDs = append(nodeIDs, n.ID)
	}
	assert.NotContains(t, nodeIDs, "c")

	var conditionalEdges int
	for _, e := range graph.Edges {
		if e.Type == "conditional" {
			conditionalEdges++
		}
	}
	assert.Equal(t, 2, conditionalEdges)
}
