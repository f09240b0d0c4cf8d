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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MockAgentClient is the process-wide AgentClient used when USE_MOCK_AI is
// set or no CLAUDE_STUDIO_API is configured; it never leaves the process.
// The AgentExecutor still runs its full prompt-resolution and retry path —
// only the model call itself is replaced — so MockAgentClient intentionally
// shares none of MockExecutor's keyword table; it exists for the "agent"
// step kind, not the "mock" step kind.
type MockAgentClient struct{}

// NewMockAgentClient builds the fixed-response AgentClient.
func NewMockAgentClient() *MockAgentClient { return &MockAgentClient{} }

func (c *MockAgentClient) Send(_ context.Context, resolvedTask, _, sessionRef string, agentConfig AgentConfig) (*AgentResponse, error) {
	if sessionRef == "" {
		sessionRef = fmt.Sprintf("mock-session-%d", time.Now().UnixNano())
	}
	return &AgentResponse{
		Content:    fmt.Sprintf("[mock:%s] %s", agentConfig.Role, resolvedTask),
		SessionRef: sessionRef,
	}, nil
}

// claudeStudioTimeout bounds a single completion call; the AgentExecutor's
// per-step timeout (DefaultAgentStepTimeout) is the outer bound, this is the inner
// HTTP-transport bound, grounded on the teacher's anthropic.Provider
// DefaultTimeout.
const claudeStudioTimeout = 120 * time.Second

// ClaudeStudioClient calls an HTTP completion endpoint exposing the
// Claude Studio API surface, grounded on the teacher's
// platform/orchestrator/llm/anthropic Provider: a thin JSON-over-HTTP
// client with its own http.Client and bearer auth, instead of pulling in
// the full multi-provider llm package the teacher composes orchestrator
// behavior around.
type ClaudeStudioClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClaudeStudioClient builds a client against baseURL (CLAUDE_STUDIO_API).
// apiKey may be empty for an unauthenticated local/dev deployment.
func NewClaudeStudioClient(baseURL string) *ClaudeStudioClient {
	return &ClaudeStudioClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: claudeStudioTimeout},
	}
}

// WithAPIKey sets the bearer token used on every request.
func (c *ClaudeStudioClient) WithAPIKey(key string) *ClaudeStudioClient {
	c.apiKey = key
	return c
}

type claudeStudioRequest struct {
	Prompt     string `json:"prompt"`
	SessionRef string `json:"sessionRef,omitempty"`
	Model      string `json:"model,omitempty"`
	ProjectID  string `json:"projectId,omitempty"`
}

type claudeStudioResponse struct {
	Content    string `json:"content"`
	SessionRef string `json:"sessionRef"`
}

// Send posts resolvedTask to /v1/complete and returns the model's reply
// plus the session handle to resume with on the next call.
func (c *ClaudeStudioClient) Send(ctx context.Context, resolvedTask, projectID, sessionRef string, agentConfig AgentConfig) (*AgentResponse, error) {
	body, err := json.Marshal(claudeStudioRequest{
		Prompt: resolvedTask, SessionRef: sessionRef, Model: agentConfig.Model, ProjectID: projectID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/complete", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &InfrastructureError{Component: "claude-studio-api", Message: err.Error()}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &InfrastructureError{Component: "claude-studio-api", Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(payload))}
	}

	var out claudeStudioResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return &AgentResponse{Content: out.Content, SessionRef: out.SessionRef}, nil
}
