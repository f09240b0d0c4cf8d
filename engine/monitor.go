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

// DefaultHeartbeatWindow is the default staleness window the periodic
// sweep uses to detect an abandoned thread (spec.md §4.10, §7).
const DefaultHeartbeatWindow = 5 * time.Minute

// DefaultMonitorInterval is how often the periodic sweep runs.
const DefaultMonitorInterval = 30 * time.Second

// runningThreadLister is the shape of PostgresCheckpointer.RunningThreads
// (InMemoryCheckpointer.RunningThreads takes no context and returns no
// error, so it does not satisfy it). Not part of the Checkpointer
// interface itself, and the Monitor does not call it: its sweeps read the
// Registry (spec.md §8 scenario 6 persists a Registry entry, not a
// checkpoint, across the simulated restart) and reconcile the full
// WorkflowState through Checkpointer.Load/Save.
type runningThreadLister interface {
	RunningThreads(ctx context.Context) ([]string, error)
}

// Monitor detects orphaned workflow threads: ones still marked `running`
// after a process restart, and ones that have gone quiet past a heartbeat
// window. Grounded on the teacher's periodic-reconciliation idiom in
// hitl_execution.go (a documented placeholder there, built out fully
// here), generalized to act on the Registry rather than a single table.
type Monitor struct {
	Registry     Registry
	Checkpointer Checkpointer
	Events       EventPublisher

	HeartbeatWindow time.Duration
}

// NewMonitor builds a Monitor with the default heartbeat window.
func NewMonitor(registry Registry, checkpointer Checkpointer, events EventPublisher) *Monitor {
	return &Monitor{Registry: registry, Checkpointer: checkpointer, Events: events, HeartbeatWindow: DefaultHeartbeatWindow}
}

// RunStartupSweep implements spec.md §4.10's on-start behavior: every
// Registry entry still `running` is treated as orphaned by definition (a
// running entry can only exist across a restart if the process that owned
// it never got to mark it terminal). Each such entry is marked `aborted`,
// every step still `running` within it is marked `failed` with
// `Aborted due to server restart`, and a `workflow_failed` event is
// emitted naming the last such step — matching spec.md §8 scenario 6
// exactly.
func (m *Monitor) RunStartupSweep(ctx context.Context) error {
	entries, err := m.Registry.List(ctx, RegistryFilter{Status: WorkflowRunning})
	if err != nil {
		return err
	}

	for _, entry := range entries {
		var lastStep string
		steps := make([]StepStatusEntry, len(entry.Steps))
		for i, step := range entry.Steps {
			steps[i] = step
			if stepIsRunning(step.Status) {
				steps[i].Status = StatusFailed
				lastStep = step.ID
			}
		}

		aborted := WorkflowAborted
		_, err := m.Registry.Update(ctx, entry.ThreadID, RegistryPatch{Status: &aborted, Steps: steps})
		if err != nil {
			continue
		}

		m.reconcileCheckpoint(ctx, entry.ThreadID, steps)

		if m.Events != nil {
			m.Events.Publish(Event{
				Type:     EventWorkflowFailed,
				ThreadID: entry.ThreadID,
				Data:     map[string]any{"status": string(WorkflowAborted), "lastStep": lastStep},
			})
		}
	}
	return nil
}

// stepIsRunning reports whether a step's status represents "still
// in-flight" rather than any terminal classification. The Scheduler's
// registrySnapshot records StatusRunning for a step between its
// step_start and step_complete/step_failed events; surviving in a
// Registry entry at StatusRunning is the orphan signal this checks for.
func stepIsRunning(status StepStatus) bool {
	return status == StatusRunning
}

// reconcileCheckpoint best-effort aligns the full WorkflowState with the
// Registry's orphan verdict, so a subsequent Load reflects the same
// terminal status rather than still reading `running`.
func (m *Monitor) reconcileCheckpoint(ctx context.Context, threadID string, steps []StepStatusEntry) {
	if m.Checkpointer == nil {
		return
	}
	state, err := m.Checkpointer.Load(ctx, threadID)
	if err != nil || state == nil {
		return
	}
	for _, step := range steps {
		if step.Status != StatusFailed {
			continue
		}
		if _, ok := state.StepResults[step.ID]; !ok {
			state.StepResults[step.ID] = StepResult{ID: step.ID, Status: StatusFailed, Error: "Aborted due to server restart"}
		}
	}
	state.Status = WorkflowAborted
	_ = m.Checkpointer.Save(ctx, state)
}

// UpdateHeartbeat is called by the Agent executor around each LLM call
// (spec.md §4.10) to record that threadID/stepID is still making
// progress. The Registry's LastUpdate timestamp doubles as the heartbeat
// clock — touching it here is what the periodic sweep below checks.
func (m *Monitor) UpdateHeartbeat(ctx context.Context, threadID, _ string) {
	_, _ = m.Registry.Update(ctx, threadID, RegistryPatch{})
}

// RunHeartbeatSweep implements the periodic half of spec.md §4.10: any
// running thread whose LastUpdate is older than HeartbeatWindow is marked
// aborted.
func (m *Monitor) RunHeartbeatSweep(ctx context.Context, now time.Time) error {
	window := m.HeartbeatWindow
	if window <= 0 {
		window = DefaultHeartbeatWindow
	}

	entries, err := m.Registry.List(ctx, RegistryFilter{Status: WorkflowRunning})
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if now.Sub(entry.LastUpdate) <= window {
			continue
		}
		aborted := WorkflowAborted
		_, _ = m.Registry.Update(ctx, entry.ThreadID, RegistryPatch{Status: &aborted})
		if m.Checkpointer != nil {
			if state, err := m.Checkpointer.Load(ctx, entry.ThreadID); err == nil && state != nil {
				state.Status = WorkflowAborted
				_ = m.Checkpointer.Save(ctx, state)
			}
		}
		if m.Events != nil {
			m.Events.Publish(Event{Type: EventWorkflowAbort, ThreadID: entry.ThreadID,
				Data: map[string]any{"reason": "no heartbeat within window"}})
		}
	}
	return nil
}

// StartPeriodic runs RunHeartbeatSweep every DefaultMonitorInterval until
// ctx is cancelled.
func (m *Monitor) StartPeriodic(ctx context.Context) {
	ticker := time.NewTicker(DefaultMonitorInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				_ = m.RunHeartbeatSweep(ctx, t)
			}
		}
	}()
}
