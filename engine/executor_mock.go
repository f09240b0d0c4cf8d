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
	"time"
)

// MockExecutor deterministically pattern-matches the resolved task text
// instead of calling a real LLM; used when a step's kind is literally
// "mock" (USE_MOCK_AI swaps the agent client, not this executor). Grounded on
// workflow_engine.go's mock-response branch inside LLMCallProcessor.
type MockExecutor struct{}

// mockPatterns is checked in order; the first keyword found in the
// lowercased resolved task wins. Order matters because some tasks mention
// more than one keyword (e.g. "review the security of the design").
var mockPatterns = []struct {
	keyword  string
	response string
}{
	{"security", "Security analysis: no critical vulnerabilities found."},
	{"design", "Architecture design: a layered service with clear module boundaries."},
	{"implement", "func Handler() { /* implementation */ }"},
	{"test", "Test specification: covers the happy path and two edge cases."},
	{"review", "Review: looks good, minor suggestions inline."},
	{"deploy", "Deployment status: rolled out successfully."},
	{"document", "Documentation: usage, configuration, and examples."},
}

func (e *MockExecutor) Execute(_ context.Context, sc StepContext) StepResult {
	started := time.Now()
	resolvedTask := ResolveTemplate(sc.Step.Task, sc.State)
	lower := strings.ToLower(resolvedTask)

	response := "Hello World"
	for _, p := range mockPatterns {
		if strings.Contains(lower, p.keyword) {
			response = p.response
			break
		}
	}
	if response == "Hello World" && len(sc.State.StepOutputs) > 0 {
		response = genericMockResponse(sc.Step.Deps, sc.State)
	}

	return StepResult{
		ID:         sc.Step.ID,
		Status:     StatusSuccess,
		Response:   response,
		SessionRef: fmt.Sprintf("mock-session-%s", sc.Step.ID),
		DurationMs: time.Since(started).Milliseconds(),
	}
}

func genericMockResponse(deps []string, state *WorkflowState) string {
	if len(deps) == 0 {
		return "Hello World"
	}
	var refs []string
	for _, dep := range deps {
		if out, ok := state.StepOutputs[dep]; ok {
			refs = append(refs, fmt.Sprintf("%s=%q", dep, out))
		}
	}
	if len(refs) == 0 {
		return "Hello World"
	}
	return "mock response referencing prior outputs: " + strings.Join(refs, ", ")
}
