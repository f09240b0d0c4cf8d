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
	"strings"
)

// statusOperatorSystemPrompt is the fixed instruction given to the
// classifier model. It is intentionally rigid: the operator must answer
// with exactly one status word, nothing else.
const statusOperatorSystemPrompt = `You are a step status classifier for an agent workflow engine.
You will be shown the output an agent produced for a task, along with the
agent's role and the task it was given. Classify the output as exactly one
of: success, blocked, failed.

- success: the agent completed the task.
- blocked: the agent could not proceed without more information, access, or
  a decision only a human or another step can supply.
- failed: the agent attempted the task and encountered an error, or the
  output does not address the task.

Respond with exactly one word: success, blocked, or failed. Do not explain
your answer.`

// StatusClassification is the Status Operator's verdict on one agent output.
type StatusClassification struct {
	Status StepStatus
	Reason string
}

// ClassifyContext carries the optional context the classifier prompt is
// built from. All fields are optional per spec.md §4.3.
type ClassifyContext struct {
	Role             string
	Task             string
	RoleSystemPrompt string
}

// StatusOperator classifies agent output as success/blocked/failed. It is
// itself an LLM call through AgentClient — the engine depends only on the
// interface, never a specific model (spec.md §4.3).
type StatusOperator struct {
	client AgentClient
}

// NewStatusOperator builds a StatusOperator backed by client.
func NewStatusOperator(client AgentClient) *StatusOperator {
	return &StatusOperator{client: client}
}

// Classify implements classify(agentOutput, {role, task, roleSystemPrompt})
// from spec.md §4.3. Empty output short-circuits to failed without
// invoking the model — grounded on workflow_engine.go's LLMCallProcessor
// empty-response check ("CRITICAL: Check for empty or insufficient
// response"). The classifier is never retried on a malformed response: a
// response other than exactly one of the three status words is coerced to
// failed with reason "invalid operator response", mirroring that same
// function's "do not retry, fail the step" handling of malformed
// synthesis output.
func (o *StatusOperator) Classify(ctx context.Context, agentOutput string, cctx ClassifyContext) StatusClassification {
	if strings.TrimSpace(agentOutput) == "" {
		return StatusClassification{Status: StatusFailed, Reason: "empty agent output"}
	}

	prompt := buildClassifierPrompt(agentOutput, cctx)
	resp, err := o.client.Send(ctx, prompt, "", "", AgentConfig{RoleSystemPrompt: statusOperatorSystemPrompt})
	if err != nil {
		return StatusClassification{Status: StatusFailed, Reason: fmt.Sprintf("status operator call failed: %v", err)}
	}

	status, valid := parseOperatorResponse(resp.Content)
	if !valid {
		return StatusClassification{Status: StatusFailed, Reason: "invalid operator response"}
	}
	return StatusClassification{Status: status}
}

func buildClassifierPrompt(agentOutput string, cctx ClassifyContext) string {
	var b strings.Builder
	if cctx.Role != "" {
		fmt.Fprintf(&b, "Agent role: %s\n", cctx.Role)
	}
	if cctx.Task != "" {
		fmt.Fprintf(&b, "Task given to the agent: %s\n", cctx.Task)
	}
	if cctx.RoleSystemPrompt != "" {
		fmt.Fprintf(&b, "Agent system prompt: %s\n", cctx.RoleSystemPrompt)
	}
	fmt.Fprintf(&b, "Agent output:\n%s", agentOutput)
	return b.String()
}

// parseOperatorResponse matches the classifier's reply against one of the
// three allowed status words, case-insensitively. valid is false for
// anything else, signalling the caller to coerce to failed with reason
// "invalid operator response".
func parseOperatorResponse(content string) (status StepStatus, valid bool) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "success":
		return StatusSuccess, true
	case "blocked":
		return StatusBlocked, true
	case "failed":
		return StatusFailed, true
	default:
		return StatusFailed, false
	}
}
