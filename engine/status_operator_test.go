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
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubAgentClient struct {
	response *AgentResponse
	err      error
	lastTask string
}

func (s *stubAgentClient) Send(_ context.Context, resolvedTask, _, _ string, _ AgentConfig) (*AgentResponse, error) {
	s.lastTask = resolvedTask
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func TestStatusOperator_EmptyOutputFailsWithoutInvokingModel(t *testing.T) {
	client := &stubAgentClient{response: &AgentResponse{Content: "success"}}
	op := NewStatusOperator(client)

	result := op.Classify(context.Background(), "   ", ClassifyContext{})

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "empty agent output", result.Reason)
	assert.Empty(t, client.lastTask, "model must not be invoked on empty output")
}

func TestStatusOperator_ParsesExactStatusWords(t *testing.T) {
	cases := map[string]StepStatus{
		"success": StatusSuccess,
		"Success": StatusSuccess,
		"BLOCKED": StatusBlocked,
		"blocked": StatusBlocked,
		"failed":  StatusFailed,
		"  success  ": StatusSuccess,
	}
	for response, want := range cases {
		client := &stubAgentClient{response: &AgentResponse{Content: response}}
		op := NewStatusOperator(client)
		result := op.Classify(context.Background(), "some output", ClassifyContext{})
		assert.Equal(t, want, result.Status, "response %q", response)
	}
}

func TestStatusOperator_MalformedResponseCoercedToFailedNoRetry(t *testing.T) {
	client := &stubAgentClient{response: &AgentResponse{Content: "I think this mostly succeeded"}}
	op := NewStatusOperator(client)

	result := op.Classify(context.Background(), "some output", ClassifyContext{})

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "invalid operator response", result.Reason)
}

func TestStatusOperator_ClientErrorFailsStep(t *testing.T) {
	client := &stubAgentClient{err: errors.New("connection reset")}
	op := NewStatusOperator(client)

	result := op.Classify(context.Background(), "some output", ClassifyContext{})

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "connection reset")
}

func TestStatusOperator_PromptIncludesRoleTaskAndOutput(t *testing.T) {
	client := &stubAgentClient{response: &AgentResponse{Content: "success"}}
	op := NewStatusOperator(client)

	op.Classify(context.Background(), "deployed to staging", ClassifyContext{
		Role:             "deployer",
		Task:             "deploy the service",
		RoleSystemPrompt: "You deploy services carefully.",
	})

	assert.Contains(t, client.lastTask, "deployer")
	assert.Contains(t, client.lastTask, "deploy the service")
	assert.Contains(t, client.lastTask, "deployed to staging")
}
