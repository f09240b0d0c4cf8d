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

/*
Package engine implements the workflow execution core: DAG construction,
dependency-ordered scheduling, template resolution, conditional branching,
checkpoint-based resume, abort propagation, progress fan-out, and the
human-approval sub-protocol.

# Architecture

A workflow is built, then driven to completion:

	steps → Builder.Build → CompiledWorkflow → Scheduler.Invoke → WorkflowState

The Scheduler advances the "frontier" — the set of steps whose dependencies
have all terminated successfully — calling one Executor per step kind
(agent, mock, loop, parallel, human, javascript, webhook). Every transition
is persisted by a Checkpointer and broadcast on an EventBus before the
Scheduler moves on.

# Step Executors

Executors are resolved from a registry keyed by step kind:

	registry := NewExecutorRegistry()
	registry.Register(KindAgent, &AgentExecutor{})
	registry.Register(KindMock, &MockExecutor{})

# Human Approval

A "human" step suspends the workflow: it creates an Approval, then polls
the ApprovalStore until a terminal status or its timeout fires. Timeout
behavior (fail / auto-approve / infinite) is configured per step.

# Event Bus

Progress fans out through one EventBus abstraction with two transports: an
in-process pub/sub for single-node deployments, and a Redis-backed adapter
for multi-process fan-out. SSE handlers re-emit selected events, per thread
or for all threads. The package has no WebSocket server and no
per-thread WebSocket rooms.

# Usage

	// Start the workflow engine HTTP service
	engine.Run()

	// The service reads configuration from environment variables:
	// PORT              - HTTP server port (default: 8090)
	// DATABASE_URL      - PostgreSQL connection string (checkpoints, approvals)
	// REDIS_URL         - cross-process event transport
	// USE_MOCK_AI       - force the mock agent client cluster-wide
	// CLAUDE_STUDIO_API - base URL for the AgentClient implementation

# Thread Safety

All exported types are safe for concurrent use. WorkflowState is
single-writer per thread (owned by the Scheduler driving that thread);
the Approval Store and EventBus are multi-writer and use explicit locking
or compare-and-set where the spec requires it.

# Metrics

Prometheus metrics are exposed at /metrics:

  - workflow_engine_steps_total - steps executed, by kind and status
  - workflow_engine_step_duration_ms - step latency
  - workflow_engine_workflows_total - workflows completed, by terminal status
  - workflow_engine_approvals_total - approvals created/resolved, by outcome
*/
package engine
