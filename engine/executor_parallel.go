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
	"strings"
	"sync"
	"time"
)

// ParallelConcurrencyCap bounds how many of a Parallel step's children run
// at once, per spec.md §5 ("capped at 5 by default for Parallel executor
// children").
const ParallelConcurrencyCap = 5

// ParallelExecutor fans the referenced parallelSteps out through the
// Scheduler's own per-step invocation path (StepContext.RunStep), waits
// for all of them, and reports aggregate success iff every child
// succeeded. Grounded on workflow_engine.go's executeStepsParallel, which
// fans out with a sync.WaitGroup and a bounded result slice; generalized
// here to recurse through the Scheduler rather than calling a processor
// directly, so nested steps get full executor dispatch.
type ParallelExecutor struct{}

func (e *ParallelExecutor) Execute(ctx context.Context, sc StepContext) StepResult {
	started := time.Now()
	step := sc.Step

	if len(step.ParallelSteps) == 0 {
		return failedResult(step.ID, started, "parallel step has no parallelSteps")
	}

	sem := make(chan struct{}, ParallelConcurrencyCap)
	results := make([]StepResult, len(step.ParallelSteps))

	var wg sync.WaitGroup
	for i, childID := range step.ParallelSteps {
		wg.Add(1)
		go func(i int, childID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = sc.RunStep(ctx, childID)
		}(i, childID)
	}
	wg.Wait()

	// "one child failure propagates as failed with the first error"
	// (spec.md §4.4) — scan in parallelSteps order, not completion order.
	for _, r := range results {
		if r.Status != StatusSuccess {
			return failedResult(step.ID, started, "child step "+r.ID+" failed: "+r.Error)
		}
	}

	var outputs []string
	for _, r := range results {
		outputs = append(outputs, r.Response)
	}
	return StepResult{
		ID:         step.ID,
		Status:     StatusSuccess,
		Response:   strings.Join(outputs, "\n"),
		DurationMs: time.Since(started).Milliseconds(),
	}
}
