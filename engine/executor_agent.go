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
	"errors"
	"time"
)

// DefaultAgentStepTimeout is the default per-step deadline for the Agent
// executor; configurable per step via StepContext.StepTimeout.
const DefaultAgentStepTimeout = 10 * time.Minute

// AgentExecutor dispatches a step to an LLM agent via AgentClient, then
// classifies the response through the Status Operator. Grounded on
// workflow_engine.go's LLMCallProcessor.ExecuteStep: config resolution,
// template substitution, and the session-ref carry-forward idiom.
type AgentExecutor struct{}

func (e *AgentExecutor) Execute(ctx context.Context, sc StepContext) StepResult {
	started := time.Now()
	step := sc.Step

	agentConfig, err := sc.ConfigStore.ResolveAgent(ctx, sc.State.ProjectID, step.AgentRef, step.Role)
	if err != nil {
		return failedResult(step.ID, started, err.Error())
	}

	resolvedTask := ResolveTemplate(step.Task, sc.State)

	if sc.Events != nil {
		sc.Events.Publish(Event{
			Type:     EventUserMessage,
			ThreadID: sc.State.ThreadID,
			StepID:   step.ID,
			Data:     map[string]any{"task": resolvedTask},
		})
	}

	timeout := sc.StepTimeout
	if timeout <= 0 {
		timeout = DefaultAgentStepTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if sc.Monitor != nil {
		sc.Monitor.UpdateHeartbeat(ctx, sc.State.ThreadID, step.ID)
	}

	sessionRef := step.SessionRef
	if existing, ok := sc.State.SessionRefs[step.ID]; ok && existing != "" {
		sessionRef = existing
	}

	resp, err := sc.AgentClient.Send(callCtx, resolvedTask, sc.State.ProjectID, sessionRef, *agentConfig)
	if err != nil {
		// Timeouts raise the same cancellation token as aborts (spec.md
		// §5), but they are not aborts: a deadline expiry is a failed
		// step, not an interrupted one, and must be checked first since
		// context.WithTimeout also satisfies context.Canceled semantics
		// on the parent chain.
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return failedResult(step.ID, started, (&TimeoutError{StepID: step.ID, After: timeout}).Error())
		}
		if errors.Is(callCtx.Err(), context.Canceled) {
			now := time.Now()
			return StepResult{
				ID:         step.ID,
				Status:     StatusAborted,
				SessionRef: sessionRef,
				DurationMs: time.Since(started).Milliseconds(),
				AbortedAt:  &now,
			}
		}
		return failedResult(step.ID, started, (&ExecutorError{StepID: step.ID, Message: err.Error()}).Error())
	}

	classification := sc.StatusOperator.Classify(ctx, resp.Content, ClassifyContext{
		Role:             step.Role,
		Task:             resolvedTask,
		RoleSystemPrompt: agentConfig.RoleSystemPrompt,
	})

	result := StepResult{
		ID:         step.ID,
		Status:     classification.Status,
		Response:   resp.Content,
		SessionRef: resp.SessionRef,
		DurationMs: time.Since(started).Milliseconds(),
		Error:      classification.Reason,
	}
	if classification.Status != StatusSuccess && resp.Content == "" {
		result.Error = classification.Reason
	}
	return result
}

func failedResult(stepID string, started time.Time, message string) StepResult {
	return StepResult{
		ID:         stepID,
		Status:     StatusFailed,
		DurationMs: time.Since(started).Milliseconds(),
		Error:      message,
	}
}
