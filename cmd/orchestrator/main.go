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

// Package main is the entry point for the workflow engine service.
//
// The service executes DAG-structured agent workflows: it schedules
// dependency-ordered steps, resolves templates and conditions, suspends
// for human approval, checkpoints for resume, and fans out progress over
// SSE/WebSocket and Redis.
//
// Usage:
//
//	./orchestrator
//
// Environment Variables:
//
//	PORT              - HTTP server port (default: 8090)
//	DATABASE_URL      - PostgreSQL connection string (checkpoints, approvals)
//	REDIS_URL         - cross-process event transport
//	USE_MOCK_AI       - force the mock agent client cluster-wide
//	CLAUDE_STUDIO_API - base URL for the Claude Studio agent client
package main

import (
	"log"

	"github.com/agentflow/workflow-engine/engine"
)

func main() {
	if err := engine.Run(); err != nil {
		log.Fatalf("workflow-engine: %v", err)
	}
}
