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

func runJS(t *testing.T, task string, state *WorkflowState) StepResult {
	t.Helper()
	if state == nil {
		state = NewWorkflowState("t1", "p1", nil, false)
	}
	return (&JavaScriptExecutor{}).Execute(context.Background(), StepContext{
		Step: WorkflowStep{ID: "js1", Kind: KindJavaScript, Task: task}, State: state,
	})
}

func TestJavaScriptExecutor_Sum(t *testing.T) {
	result := runJS(t, "sum(1, 2, 3.5)", nil)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "6.5", result.Response)
}

func TestJavaScriptExecutor_Avg(t *testing.T) {
	result := runJS(t, "avg(2, 4, 6)", nil)
	assert.Equal(t, "4", result.Response)
}

func TestJavaScriptExecutor_ExtractNumbers(t *testing.T) {
	result := runJS(t, `extractNumbers("there are 12 apples and -3 oranges")`, nil)
	assert.Equal(t, "12,-3", result.Response)
}

func TestJavaScriptExecutor_ExtractEmails(t *testing.T) {
	result := runJS(t, `extractEmails("contact alice@example.com or bob@test.org")`, nil)
	assert.Equal(t, "alice@example.com,bob@test.org", result.Response)
}

func TestJavaScriptExecutor_WordCount(t *testing.T) {
	result := runJS(t, `wordCount("the quick brown fox")`, nil)
	assert.Equal(t, "4", result.Response)
}

func TestJavaScriptExecutor_ValidateEmail(t *testing.T) {
	assert.Equal(t, "true", runJS(t, `validate.email("a@b.com")`, nil).Response)
	assert.Equal(t, "false", runJS(t, `validate.email("not-an-email")`, nil).Response)
}

func TestJavaScriptExecutor_AnalyzeSentiment(t *testing.T) {
	assert.Equal(t, "positive", runJS(t, `analyze.sentiment("this is great and excellent")`, nil).Response)
	assert.Equal(t, "negative", runJS(t, `analyze.sentiment("this failed and broke everything")`, nil).Response)
	assert.Equal(t, "neutral", runJS(t, `analyze.sentiment("the sky is blue")`, nil).Response)
}

func TestJavaScriptExecutor_OutputsReference(t *testing.T) {
	state := NewWorkflowState("t1", "p1", nil, false)
	state.StepOutputs["s1"] = "prior output"
	result := runJS(t, "outputs.s1", state)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "prior output", result.Response)
}

func TestJavaScriptExecutor_UnsupportedExpressionFails(t *testing.T) {
	result := runJS(t, "require('fs').readFileSync('/etc/passwd')", nil)
	assert.Equal(t, StatusFailed, result.Status)
}
