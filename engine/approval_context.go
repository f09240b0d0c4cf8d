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
	"sort"
	"strings"
)

// ApprovalContext is the assembled context a reviewer sees alongside an
// Approval's prompt: prior step outputs, a workflow-step history, similar
// past approvals, and a fixed impact assessment for the approval's risk
// level.
type ApprovalContext struct {
	PriorOutputs     map[string]string
	StepHistory      []StepStatusEntry
	SimilarApprovals []Approval
	ImpactAssessment ImpactAssessment
}

// ImpactAssessment is the fixed, risk-level-keyed pair of consequence
// bullet lists spec.md §4.5 requires ("critical/high/medium/low each have
// fixed if-approved and if-rejected sets"). The spec's own worked example
// for the concrete bullets is absent from the distillation (an Open
// Question this implementation resolves by fixing a concrete, literal set
// per risk level rather than leaving it configurable — see DESIGN.md).
type ImpactAssessment struct {
	RiskLevel  RiskLevel
	IfApproved []string
	IfRejected []string
}

var impactAssessments = map[RiskLevel]ImpactAssessment{
	RiskCritical: {
		RiskLevel: RiskCritical,
		IfApproved: []string{
			"Irreversible changes to production data or access controls take effect immediately.",
			"Downstream systems relying on this resource may be affected without further confirmation.",
			"No automatic rollback is performed; recovery requires a separate remediation step.",
		},
		IfRejected: []string{
			"The workflow halts this branch; the requesting step is recorded as failed.",
			"No production data, credentials, or access controls are touched.",
			"The task remains available for a future, re-reviewed invocation.",
		},
	},
	RiskHigh: {
		RiskLevel: RiskHigh,
		IfApproved: []string{
			"A deploy, publish, or deletion proceeds against a production-facing resource.",
			"The change is visible to external consumers once it completes.",
			"Reverting requires a separate follow-up action if the result is unwanted.",
		},
		IfRejected: []string{
			"The release or deletion does not happen; the current state is preserved.",
			"Dependent steps see this step as failed and are not executed.",
		},
	},
	RiskMedium: {
		RiskLevel: RiskMedium,
		IfApproved: []string{
			"The step proceeds with its normal side effects, scoped to the current project.",
			"Results are recorded in the workflow state for downstream steps to consume.",
		},
		IfRejected: []string{
			"The step is marked failed and dependent steps are skipped as not_executed.",
			"No side effects outside the workflow's own state are produced.",
		},
	},
	RiskLow: {
		RiskLevel: RiskLow,
		IfApproved: []string{
			"A read-only or informational action proceeds; no state is mutated.",
		},
		IfRejected: []string{
			"The read is skipped; downstream steps relying on it are not_executed.",
		},
	},
}

// ApprovalContextBuilder assembles an ApprovalContext from run state and
// approval history, per spec.md §4.5.
type ApprovalContextBuilder struct {
	Store ApprovalStore
}

// Build assembles the context for a pending approval against the workflow
// state that produced it.
func (b *ApprovalContextBuilder) Build(ctx *ApprovalsBuildContext) ApprovalContext {
	history := make([]StepStatusEntry, 0, len(ctx.State.StepResults))
	for id, result := range ctx.State.StepResults {
		history = append(history, StepStatusEntry{ID: id, Status: result.Status})
	}
	sort.Slice(history, func(i, j int) bool { return history[i].ID < history[j].ID })

	assessment, ok := impactAssessments[ctx.Approval.RiskLevel]
	if !ok {
		assessment = impactAssessments[RiskMedium]
	}

	return ApprovalContext{
		PriorOutputs:     ctx.State.StepOutputs,
		StepHistory:      history,
		SimilarApprovals: b.findSimilar(ctx),
		ImpactAssessment: assessment,
	}
}

// ApprovalsBuildContext is the input to ApprovalContextBuilder.Build.
type ApprovalsBuildContext struct {
	State    *WorkflowState
	Approval Approval
	// Candidates is the superset of past approvals to match "similar"
	// against — typically List(ApprovalFilter{ProjectID: ...}).
	Candidates []Approval
}

// findSimilar matches up to five past approvals by workflow name, risk
// level, or a shared prompt prefix, per spec.md §4.5.
func (b *ApprovalContextBuilder) findSimilar(ctx *ApprovalsBuildContext) []Approval {
	const maxSimilar = 5
	const prefixLen = 20

	var matches []Approval
	for _, candidate := range ctx.Candidates {
		if candidate.ID == ctx.Approval.ID {
			continue
		}
		sameWorkflow := ctx.Approval.WorkflowName != "" && candidate.WorkflowName == ctx.Approval.WorkflowName
		sameRisk := candidate.RiskLevel == ctx.Approval.RiskLevel
		sharedPrefix := len(ctx.Approval.Prompt) >= prefixLen && len(candidate.Prompt) >= prefixLen &&
			strings.EqualFold(candidate.Prompt[:prefixLen], ctx.Approval.Prompt[:prefixLen])

		if sameWorkflow || sameRisk || sharedPrefix {
			matches = append(matches, candidate)
		}
		if len(matches) == maxSimilar {
			break
		}
	}
	return matches
}
