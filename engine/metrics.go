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

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics exposed at /metrics (doc.go's Metrics section).
// Grounded on the teacher's orchestrator/run.go metric set: counter
// vectors keyed by outcome, a duration histogram with the same bucket
// ladder, registered once via MustRegister in init.
var (
	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_engine_steps_total",
			Help: "Total number of workflow steps executed, by kind and status",
		},
		[]string{"kind", "status"},
	)
	stepDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_engine_step_duration_ms",
			Help:    "Step execution duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
		},
		[]string{"kind"},
	)
	workflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_engine_workflows_total",
			Help: "Total number of workflows completed, by terminal status",
		},
		[]string{"status"},
	)
	approvalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_engine_approvals_total",
			Help: "Total number of approvals created or resolved, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(stepsTotal, stepDurationMs, workflowsTotal, approvalsTotal)
}

// recordStep records one step's terminal status and latency.
func recordStep(kind StepKind, status StepStatus, durationMs int64) {
	stepsTotal.WithLabelValues(string(kind), string(status)).Inc()
	stepDurationMs.WithLabelValues(string(kind)).Observe(float64(durationMs))
}

// recordWorkflow records one workflow's terminal status.
func recordWorkflow(status WorkflowStatus) {
	workflowsTotal.WithLabelValues(string(status)).Inc()
}

// recordApproval records an approval reaching a given outcome
// ("created", "approved", "rejected", "expired").
func recordApproval(outcome string) {
	approvalsTotal.WithLabelValues(outcome).Inc()
}
