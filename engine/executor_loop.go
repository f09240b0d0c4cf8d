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

// LoopExecutor iterates items[0..min(maxIterations, len(items))-1],
// binding loopVar for each iteration, and emits one success result
// summarizing all iterations. Per spec.md §9 Open Question #2, real
// per-iteration fan-out is left unimplemented here (the source this spec
// was distilled from contains only commented-out scaffolding for it) —
// TODO: fan out each iteration as its own child step once the Builder can
// express a dynamic (runtime-sized) set of dependency edges.
type LoopExecutor struct{}

func (e *LoopExecutor) Execute(ctx context.Context, sc StepContext) StepResult {
	started := time.Now()
	step := sc.Step

	// Empty items: no iteration events, and spec.md §8 Boundary Behaviors
	// requires the literal "Loop completed: " with no iteration count.
	if len(step.Items) == 0 {
		return StepResult{
			ID:         step.ID,
			Status:     StatusSuccess,
			Response:   "Loop completed: ",
			DurationMs: time.Since(started).Milliseconds(),
		}
	}

	loopVar := step.LoopVar
	if loopVar == "" {
		loopVar = "item"
	}

	limit := len(step.Items)
	if step.MaxIterations > 0 && step.MaxIterations < limit {
		limit = step.MaxIterations
	}

	var summaries []string
	for i := 0; i < limit; i++ {
		select {
		case <-ctx.Done():
			now := time.Now()
			return StepResult{
				ID:         step.ID,
				Status:     StatusAborted,
				DurationMs: time.Since(started).Milliseconds(),
				AbortedAt:  &now,
				Response:   fmt.Sprintf("Loop completed: %d/%d iterations before abort", i, limit),
			}
		default:
		}

		item := step.Items[i]
		iterationTask := strings.ReplaceAll(step.Task, "{"+loopVar+"}", item)
		iterationTask = ResolveTemplate(iterationTask, sc.State)
		summaries = append(summaries, fmt.Sprintf("iteration %d (%s=%q): %s", i+1, loopVar, item, iterationTask))
	}

	return StepResult{
		ID:         step.ID,
		Status:     StatusSuccess,
		Response:   fmt.Sprintf("Loop completed: %d iterations. %s", limit, strings.Join(summaries, "; ")),
		DurationMs: time.Since(started).Milliseconds(),
	}
}
