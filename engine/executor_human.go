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
	"time"
)

// humanApprovalPollInterval is how often the Human executor polls the
// Approval Store for a terminal decision, per spec.md §4.4 ("interval
// ≈2 s"). Grounded on hitl_execution.go's ResumeExecution poll loop,
// generalized from a one-shot resume call into a suspendable wait whose
// only suspension points are the polling delay and ctx.Done().
var humanApprovalPollInterval = 2 * time.Second

// HumanExecutor creates an Approval for a "human" step and blocks
// (cooperatively, via polling) until it reaches a terminal state or its
// timeout fires.
type HumanExecutor struct{}

func (e *HumanExecutor) Execute(ctx context.Context, sc StepContext) StepResult {
	started := time.Now()
	step := sc.Step

	resolvedPrompt := ResolveTemplate(step.Prompt, sc.State)

	approval, err := sc.ApprovalStore.Create(ctx, CreateApprovalRequest{
		ThreadID:                sc.State.ThreadID,
		StepID:                  step.ID,
		ProjectID:               sc.State.ProjectID,
		Prompt:                  resolvedPrompt,
		Task:                    step.Task,
		RiskLevel:               step.RiskLevel,
		TimeoutSeconds:          step.TimeoutSeconds,
		AutoApproveAfterTimeout: step.TimeoutBehavior == TimeoutAutoApprove,
	})
	if err != nil {
		return failedResult(step.ID, started, err.Error())
	}

	if sc.Events != nil {
		sc.Events.Publish(Event{
			Type:     EventApprovalRequested,
			ThreadID: sc.State.ThreadID,
			StepID:   step.ID,
			Data:     map[string]any{"approvalId": approval.ID, "riskLevel": string(approval.RiskLevel)},
		})
	}

	ticker := time.NewTicker(humanApprovalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			now := time.Now()
			return StepResult{
				ID:         step.ID,
				Status:     StatusAborted,
				DurationMs: time.Since(started).Milliseconds(),
				AbortedAt:  &now,
			}
		case <-ticker.C:
			current, err := sc.ApprovalStore.Get(ctx, approval.ID)
			if err != nil {
				return failedResult(step.ID, started, err.Error())
			}
			if result, done := e.classifyApproval(ctx, sc, step, *current, started); done {
				return result
			}
		}
	}
}

// classifyApproval maps a terminal (or timeout-expired) Approval status to
// a StepResult, per spec.md §4.4's approved/rejected/expired/cancelled
// table. done is false while the approval is still pending and its
// timeoutBehavior is infinite or its deadline hasn't passed.
func (e *HumanExecutor) classifyApproval(ctx context.Context, sc StepContext, step WorkflowStep, approval Approval, started time.Time) (StepResult, bool) {
	switch approval.Status {
	case ApprovalApproved:
		return StepResult{ID: step.ID, Status: StatusSuccess, Response: "Human approval granted", DurationMs: time.Since(started).Milliseconds()}, true
	case ApprovalRejected:
		return failedResult(step.ID, started, "Human approval rejected: "+approval.Comment), true
	case ApprovalExpired, ApprovalCancelled:
		return e.handleTimeout(ctx, sc, step, started), true
	default:
		if time.Now().After(approval.ExpiresAt) && step.TimeoutBehavior != TimeoutInfinite {
			// The approval record itself always becomes expired once its
			// deadline passes unresolved (spec.md §8 scenario 5) — the
			// TimeoutBehavior below only decides the step's own result.
			if _, err := sc.ApprovalStore.Expire(ctx, approval.ID); err != nil {
				return failedResult(step.ID, started, err.Error()), true
			}
			return e.handleTimeout(ctx, sc, step, started), true
		}
		return StepResult{}, false
	}
}

func (e *HumanExecutor) handleTimeout(ctx context.Context, sc StepContext, step WorkflowStep, started time.Time) StepResult {
	switch step.TimeoutBehavior {
	case TimeoutAutoApprove:
		return StepResult{ID: step.ID, Status: StatusSuccess, Response: "Human approval granted (simulated)", DurationMs: time.Since(started).Milliseconds()}
	default: // TimeoutFail and the zero value both fail closed.
		return failedResult(step.ID, started, (&TimeoutError{StepID: step.ID, After: time.Duration(step.TimeoutSeconds) * time.Second}).Error())
	}
}
