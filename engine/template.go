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
	"fmt"
	"strings"
	"time"
)

// ResolveTemplate substitutes {stepId.output}, {stepId}, {timestamp},
// {threadId}, and {projectId} references in template against state.
// Undefined references are left as literal text — this resolver never
// raises, and the Condition Evaluator depends on that contract.
func ResolveTemplate(template string, state *WorkflowState) string {
	if state == nil {
		return template
	}

	result := template

	for stepID, output := range state.StepOutputs {
		result = strings.ReplaceAll(result, fmt.Sprintf("{%s.output}", stepID), output)
		result = strings.ReplaceAll(result, fmt.Sprintf("{%s}", stepID), output)
	}

	result = strings.ReplaceAll(result, "{timestamp}", time.Now().UTC().Format(time.RFC3339))
	result = strings.ReplaceAll(result, "{threadId}", state.ThreadID)
	result = strings.ReplaceAll(result, "{projectId}", state.ProjectID)

	return result
}
