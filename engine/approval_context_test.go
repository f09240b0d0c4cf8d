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

func TestApprovalContextBuilder_UnknownRiskFallsBackToMedium(t *testing.T) {
	builder := &ApprovalContextBuilder{}
	state := NewWorkflowState("t1", "p1", nil, false)

	ctx := builder.Build(&ApprovalsBuildContext{
		State:    state,
		Approval: Approval{ID: "a1", RiskLevel: RiskLevel("unknown")},
	})

	assert.Equal(t, impactAssessments[RiskMedium], ctx.ImpactAssessment)
}

func TestApprovalContextBuilder_StepHistorySortedByID(t *testing.T) {
	builder := &ApprovalContextBuilder{}
	state := NewWorkflowState("t1", "p1", nil, false)
	state.StepResults["z1"] = StepResult{ID: "z1", Status: StatusSuccess}
	state.StepResults["a1"] = StepResult{ID: "a1", Status: StatusFailed}

	ctx := builder.Build(&ApprovalsBuildContext{State: state, Approval: Approval{ID: "approval1"}})

	assert.Len(t, ctx.StepHistory, 2)
	assert.Equal(t, "a1", ctx.StepHistory[0].ID)
	assert.Equal(t, "z1", ctx.StepHistory[1].ID)
}

func TestApprovalContextBuilder_FindSimilarByWorkflowNameRiskAndPrefix(t *testing.T) {
	builder := &ApprovalContextBuilder{}
	state := NewWorkflowState("t1", "p1", nil, false)

	target := Approval{ID: "target", WorkflowName: "deploy-flow", RiskLevel: RiskHigh, Prompt: "Deploy service X to production now"}
	candidates := []Approval{
		{ID: "same-workflow", WorkflowName: "deploy-flow", RiskLevel: RiskLow, Prompt: "unrelated"},
		{ID: "same-risk", WorkflowName: "other-flow", RiskLevel: RiskHigh, Prompt: "totally different prompt text"},
		{ID: "shared-prefix", WorkflowName: "other-flow", RiskLevel: RiskLow, Prompt: "Deploy service X to staging instead"},
		{ID: "no-match", WorkflowName: "other-flow", RiskLevel: RiskLow, Prompt: "nothing in common here at all"},
		{ID: "target", WorkflowName: "deploy-flow", RiskLevel: RiskHigh, Prompt: target.Prompt}, // self, excluded
	}

	result := builder.findSimilar(&ApprovalsBuildContext{State: state, Approval: target, Candidates: candidates})

	var ids []string
	for _, a := range result {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"same-workflow", "same-risk", "shared-prefix"}, ids)
}

func TestApprovalContextBuilder_FindSimilarCapsAtFive(t *testing.T) {
	builder := &ApprovalContextBuilder{}
	target := Approval{ID: "target", RiskLevel: RiskMedium}

	var candidates []Approval
	for i := 0; i < 10; i++ {
		candidates = append(candidates, Approval{ID: string(rune('a' + i)), RiskLevel: RiskMedium})
	}

	result := builder.findSimilar(&ApprovalsBuildContext{Approval: target, Candidates: candidates})
	assert.Len(t, result, 5)
}
