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
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultPort matches the teacher's run.go default, kept as this engine's
// fallback when PORT is unset.
const defaultPort = "8090"

// approvalSweepInterval is how often ExpireDueApprovals runs; grounded on
// the teacher's run.go ticker-driven background loops.
const approvalSweepInterval = 5 * time.Second

// Run boots the workflow engine HTTP service, wiring every collaborator
// from environment variables per doc.go's documented contract:
//
//	PORT              - HTTP server port (default: 8090)
//	DATABASE_URL      - PostgreSQL connection string (checkpoints, approvals)
//	REDIS_URL         - cross-process event transport
//	USE_MOCK_AI       - force the mock agent client cluster-wide
//	CLAUDE_STUDIO_API - base URL for the AgentClient implementation
//
// Grounded on the teacher's run.go: env-driven service construction, a
// mux.Router wrapped in rs/cors, Prometheus registered at /metrics, and a
// blocking http.ListenAndServe call.
func Run() error {
	ctx := context.Background()

	events := NewEventBus()
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		transport, err := NewRedisTransport(ctx, redisURL)
		if err != nil {
			return err
		}
		if err := events.UseTransport(ctx, "workflow-engine-events", transport); err != nil {
			return err
		}
		log.Printf("workflow-engine: using Redis event transport at %s", redisURL)
	}

	var (
		checkpointer Checkpointer
		approvals    ApprovalStore
		registry     Registry
	)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return err
		}
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		checkpointer = NewPostgresCheckpointer(db)
		approvals = NewPostgresApprovalStore(db, events)
		log.Printf("workflow-engine: using Postgres persistence")
	} else {
		checkpointer = NewInMemoryCheckpointer()
		approvals = NewInMemoryApprovalStore(events)
		log.Printf("workflow-engine: using in-memory persistence (DATABASE_URL unset)")
	}
	registry = NewInMemoryRegistry()

	var agentClient AgentClient
	useMock := os.Getenv("USE_MOCK_AI") == "true"
	if studioAPI := os.Getenv("CLAUDE_STUDIO_API"); studioAPI != "" && !useMock {
		agentClient = NewClaudeStudioClient(studioAPI)
		log.Printf("workflow-engine: using Claude Studio agent client at %s", studioAPI)
	} else {
		agentClient = NewMockAgentClient()
		log.Printf("workflow-engine: using mock agent client (USE_MOCK_AI=%v)", useMock)
	}
	configStore := NewStaticConfigStore(nil, nil)

	executors := NewExecutorRegistry()
	executors.Register(KindAgent, &AgentExecutor{})
	executors.Register(KindMock, &MockExecutor{})
	executors.Register(KindHuman, &HumanExecutor{})
	executors.Register(KindJavaScript, &JavaScriptExecutor{})
	executors.Register(KindLoop, &LoopExecutor{})
	executors.Register(KindParallel, &ParallelExecutor{})
	executors.Register(KindWebhook, &WebhookExecutor{})

	statusOperator := NewStatusOperator(agentClient)
	scheduler := NewScheduler(executors, checkpointer, events, registry, agentClient, configStore, statusOperator, approvals)
	scheduler.Monitor = NewMonitor(registry, checkpointer, events)

	if err := scheduler.Monitor.RunStartupSweep(ctx); err != nil {
		log.Printf("workflow-engine: startup orphan sweep failed: %v", err)
	}
	scheduler.Monitor.StartPeriodic(ctx)

	go func() {
		ticker := time.NewTicker(approvalSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, err := approvals.ExpireDueApprovals(ctx, now); err != nil {
					log.Printf("workflow-engine: approval sweep failed: %v", err)
				}
			}
		}
	}()

	handler := Router(scheduler, checkpointer, registry, approvals, promhttp.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	addr := ":" + port
	log.Printf("workflow-engine: listening on %s", addr)
	return http.ListenAndServe(addr, handler)
}
