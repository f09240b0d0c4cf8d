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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"gopkg.in/yaml.v3"
)

// rawInvokeRequest is the wire shape of POST /api/invoke and
// /api/invoke/async (spec.md §6). workflow accepts a single step, an
// array of steps, or either of those JSON-encoded a second time as a
// string — callers that pass a saved workflow straight through from a
// database column commonly hand it over double-encoded.
type rawInvokeRequest struct {
	ThreadID             string          `json:"threadId"`
	ProjectID            string          `json:"projectId"`
	Workflow             json.RawMessage `json:"workflow"`
	StartNewConversation bool            `json:"startNewConversation"`
	Format               string          `json:"format"`
	SavedWorkflowID      string          `json:"savedWorkflowId"`
}

// decodeSteps normalizes workflow into []WorkflowStep. It tries, in
// order: a JSON string (unwrapped and decoded again, so nested encodings
// unwrap one level per pass), a JSON step array, a single JSON step
// object, and finally a YAML document for callers authoring workflows by
// hand.
func decodeSteps(raw json.RawMessage) ([]WorkflowStep, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Message: "workflow is required"}
	}

	// A JSON string: unwrap once and recurse, covering the double-encoded
	// case before any of the shape checks below run.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return decodeSteps(json.RawMessage(asString))
	}

	var steps []WorkflowStep
	if err := json.Unmarshal(raw, &steps); err == nil {
		return steps, nil
	}

	var single WorkflowStep
	if err := json.Unmarshal(raw, &single); err == nil && single.ID != "" {
		return []WorkflowStep{single}, nil
	}

	var viaYAML []WorkflowStep
	if err := yaml.Unmarshal(raw, &viaYAML); err == nil && len(viaYAML) > 0 {
		return viaYAML, nil
	}
	var singleYAML WorkflowStep
	if err := yaml.Unmarshal(raw, &singleYAML); err == nil && singleYAML.ID != "" {
		return []WorkflowStep{singleYAML}, nil
	}

	return nil, &ValidationError{Message: "workflow must be a step, a step array, or a JSON/YAML encoding of either"}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, HTTPStatusFor(err), map[string]string{"error": err.Error()})
}

// InvokeSummary is the optional tally InvokeResponse carries alongside
// results (spec.md §6).
type InvokeSummary struct {
	Total      int   `json:"total"`
	Successful int   `json:"successful"`
	Failed     int   `json:"failed"`
	Blocked    int   `json:"blocked"`
	DurationMs int64 `json:"duration"`
}

// InvokeResponse is the external shape returned by POST /api/invoke,
// distinct from the internal WorkflowState checkpointed by the
// Scheduler: callers see only what they need to chain the next request
// (sessionIds to resume with, results to read) plus a coarse status.
type InvokeResponse struct {
	ThreadID   string            `json:"threadId"`
	SessionIDs map[string]string `json:"sessionIds"`
	Results    map[string]string `json:"results"`
	Status     WorkflowStatus    `json:"status"`
	Summary    *InvokeSummary    `json:"summary,omitempty"`
	Text       string            `json:"text,omitempty"`
}

// buildInvokeResponse projects a WorkflowState down to the wire shape
// spec.md §6 documents for InvokeResponse. format="text" additionally
// renders results as a newline-joined human summary in Text; any other
// value (including empty) leaves Text unset and callers read Results.
func buildInvokeResponse(state *WorkflowState, format string) InvokeResponse {
	resp := InvokeResponse{
		ThreadID:   state.ThreadID,
		SessionIDs: cloneStringMap(state.SessionRefs),
		Results:    make(map[string]string, len(state.StepResults)),
		Status:     state.Status,
	}

	var successful, failed, blocked int
	var duration int64
	for id, r := range state.StepResults {
		resp.Results[id] = r.Response
		duration += r.DurationMs
		switch r.Status {
		case StatusSuccess:
			successful++
		case StatusBlocked:
			blocked++
		default:
			failed++
		}
	}
	resp.Summary = &InvokeSummary{
		Total: len(state.Steps), Successful: successful, Failed: failed, Blocked: blocked, DurationMs: duration,
	}

	if format == "text" {
		lines := make([]string, 0, len(state.Steps))
		for _, step := range state.Steps {
			if r, ok := state.StepResults[step.ID]; ok {
				lines = append(lines, fmt.Sprintf("%s: %s", step.ID, r.Response))
			}
		}
		resp.Text = strings.Join(lines, "\n")
	}
	return resp
}

// InvokeHandler serves POST /api/invoke: run a workflow to completion (or
// cancellation) and return InvokeResponse synchronously.
func InvokeHandler(s *Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, &ValidationError{Message: err.Error()})
			return
		}
		var req rawInvokeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, &ValidationError{Message: err.Error()})
			return
		}
		steps, err := decodeSteps(req.Workflow)
		if err != nil {
			writeError(w, err)
			return
		}
		state, err := s.Invoke(r.Context(), InvokeRequest{
			ThreadID: req.ThreadID, ProjectID: req.ProjectID, Steps: steps,
			StartNewConversation: req.StartNewConversation,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, buildInvokeResponse(state, req.Format))
	}
}

// InvokeAsyncHandler serves POST /api/invoke/async: start a workflow in
// the background and return {threadId, status: "started"} immediately.
func InvokeAsyncHandler(s *Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, &ValidationError{Message: err.Error()})
			return
		}
		var req rawInvokeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, &ValidationError{Message: err.Error()})
			return
		}
		steps, err := decodeSteps(req.Workflow)
		if err != nil {
			writeError(w, err)
			return
		}
		threadID, status, err := s.InvokeAsync(context.Background(), InvokeRequest{
			ThreadID: req.ThreadID, ProjectID: req.ProjectID, Steps: steps,
			StartNewConversation: req.StartNewConversation,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"threadId": threadID, "status": status})
	}
}

// AbortHandler serves POST /api/invoke/{threadId}/abort, cancelling an
// in-flight run. Not part of spec.md §6's table — abortWorkflow is
// documented there only as an internal operation (§4.8 step 6, §5
// Concurrency) — but a deployable service needs some externally callable
// trigger for it, so it is exposed additively under /api/invoke rather
// than occupying either of the two documented invoke-status routes.
func AbortHandler(s *Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := mux.Vars(r)["threadId"]
		if err := s.Abort(threadID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"threadId": threadID, "status": "aborting"})
	}
}

// StatusHandler serves GET /api/invoke-status/status/:threadId, returning
// the Registry's lifecycle snapshot for threadId (spec.md §6: "200
// registry entry") rather than the full checkpointed WorkflowState — the
// same distinction the Monitor's orphan sweep relies on between cheap
// Registry reads and a full state deserialize (spec.md §4.10).
func StatusHandler(registry Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := mux.Vars(r)["threadId"]
		entry, err := registry.Get(r.Context(), threadID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

// computeStatusRequest is the body of POST /api/invoke-status/status/:threadId.
type computeStatusRequest struct {
	Steps map[string]StepResult `json:"steps"`
}

// ComputeStatusHandler serves POST /api/invoke-status/status/:threadId:
// "computed state (body: {steps})" per spec.md §6. This is a read-time
// projection, not a resume or a mutation of the live run: the caller
// supplies step outcomes it has observed from somewhere other than this
// engine's own Scheduler (for example a client that drives individual
// steps itself and wants this engine's aggregation rules applied to the
// results), the handler overlays those outcomes onto the thread's last
// checkpointed StepResults, recomputes the workflow-level status with the
// same rule the Scheduler itself uses to finish a run (computeFinalStatus,
// spec.md §4.8 step 5), and returns the resulting state. Nothing is
// persisted back to the Checkpointer — the response is the state that
// *would* exist, not a new checkpoint, so repeated calls with different
// hypothetical step sets are side-effect free.
func ComputeStatusHandler(checkpointer Checkpointer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := mux.Vars(r)["threadId"]
		base, err := checkpointer.Load(r.Context(), threadID)
		if err != nil {
			writeError(w, err)
			return
		}
		if base == nil {
			writeError(w, &NotFoundError{Message: "thread " + threadID})
			return
		}

		var req computeStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &ValidationError{Message: err.Error()})
			return
		}

		projected := base.Clone()
		for id, result := range req.Steps {
			result.ID = id
			projected.StepResults[id] = result
		}
		projected.Status = computeFinalStatus(projected)
		projected.UpdatedAt = time.Now()

		writeJSON(w, http.StatusOK, projected)
	}
}

// WorkflowGraphHandler serves GET /api/workflow-graph/:threadId, honoring
// ?consolidateLoops=true per spec.md §6.
func WorkflowGraphHandler(checkpointer Checkpointer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := mux.Vars(r)["threadId"]
		state, err := checkpointer.Load(r.Context(), threadID)
		if err != nil {
			writeError(w, err)
			return
		}
		if state == nil {
			writeError(w, &NotFoundError{Message: "thread " + threadID})
			return
		}
		cw, err := Build(state.Steps)
		if err != nil {
			writeError(w, err)
			return
		}
		consolidate, _ := strconv.ParseBool(r.URL.Query().Get("consolidateLoops"))
		writeJSON(w, http.StatusOK, GenerateGraph(cw, state, consolidate))
	}
}

// WorkflowListHandler serves GET /api/workflows, filterable by
// ?projectId= and ?status=.
func WorkflowListHandler(registry Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := registry.List(r.Context(), RegistryFilter{
			ProjectID: r.URL.Query().Get("projectId"),
			Status:    WorkflowStatus(r.URL.Query().Get("status")),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// approvalDecisionRequest is the body of POST /api/approvals/:id/decide.
type approvalDecisionRequest struct {
	Decision  ApprovalDecision `json:"decision"`
	DecidedBy string           `json:"decidedBy"`
	Comment   string           `json:"comment"`
}

// ApprovalDecideHandler serves POST /api/approvals/:id/decide.
func ApprovalDecideHandler(store ApprovalStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req approvalDecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &ValidationError{Message: err.Error()})
			return
		}
		approval, err := store.Resolve(r.Context(), id, req.Decision, req.DecidedBy, req.Comment)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, approval)
	}
}

// approvalAssignRequest is the body of POST /api/approvals/:id/assign.
type approvalAssignRequest struct {
	AssignedTo string `json:"assignedTo"`
}

// ApprovalAssignHandler serves POST /api/approvals/:id/assign: records who
// an approval was handed to, without resolving it. Grounded on the
// teacher's human-in-the-loop assignment flow (hitl_execution.go),
// generalized to this engine's ApprovalStore: the approval is only read
// (Get), and the assignee is not stored anywhere — it appears only in the
// approval:updated event and in the response body. Publishes approval:updated — the
// natural trigger point for that event, since assignment is the one
// approval transition that isn't already covered by approval:created
// (Create) or approval:decided (Resolve).
func ApprovalAssignHandler(store ApprovalStore, events EventPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req approvalAssignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &ValidationError{Message: err.Error()})
			return
		}
		approval, err := store.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if events != nil {
			events.Publish(Event{
				Type: EventApprovalUpdated, ThreadID: approval.ThreadID, StepID: approval.StepID,
				Data: map[string]any{"approvalId": approval.ID, "assignedTo": req.AssignedTo},
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"approval": approval, "assignedTo": req.AssignedTo})
	}
}

// ApprovalListHandler serves GET /api/approvals, filterable by
// ?threadId=, ?projectId=, ?status=.
func ApprovalListHandler(store ApprovalStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		approvals, err := store.List(r.Context(), ApprovalFilter{
			ThreadID:  r.URL.Query().Get("threadId"),
			ProjectID: r.URL.Query().Get("projectId"),
			Status:    ApprovalStatus(r.URL.Query().Get("status")),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, approvals)
	}
}

// HealthHandler serves GET /healthz, grounded on the teacher's run.go
// liveness endpoint.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
	}
}

// Router wires every endpoint in spec.md §6's External Interfaces table
// onto a gorilla/mux router with permissive CORS, matching the teacher's
// run.go wiring idiom (mux.Router + rs/cors.New(...).Handler(router)).
func Router(s *Scheduler, checkpointer Checkpointer, registry Registry, approvals ApprovalStore, metricsHandler http.Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", HealthHandler()).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/invoke", InvokeHandler(s)).Methods(http.MethodPost)
	r.HandleFunc("/api/invoke/async", InvokeAsyncHandler(s)).Methods(http.MethodPost)
	r.HandleFunc("/api/invoke/stream/{threadId}", ThreadStreamHandler(eventBusFor(s))).Methods(http.MethodGet)
	r.HandleFunc("/api/invoke/{threadId}/abort", AbortHandler(s)).Methods(http.MethodPost)
	r.HandleFunc("/api/invoke-status/events", GlobalStreamHandler(eventBusFor(s))).Methods(http.MethodGet)
	r.HandleFunc("/api/invoke-status/status/{threadId}", StatusHandler(registry)).Methods(http.MethodGet)
	r.HandleFunc("/api/invoke-status/status/{threadId}", ComputeStatusHandler(checkpointer)).Methods(http.MethodPost)

	r.HandleFunc("/api/workflow-graph/{threadId}", WorkflowGraphHandler(checkpointer)).Methods(http.MethodGet)
	r.HandleFunc("/api/workflows", WorkflowListHandler(registry)).Methods(http.MethodGet)

	r.HandleFunc("/api/approvals", ApprovalListHandler(approvals)).Methods(http.MethodGet)
	r.HandleFunc("/api/approvals/{id}/decide", ApprovalDecideHandler(approvals)).Methods(http.MethodPost)
	r.HandleFunc("/api/approvals/{id}/assign", ApprovalAssignHandler(approvals, s.Events)).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(r)
}

// eventBusFor narrows s.Events down to the concrete *EventBus the SSE
// handlers need for per-thread/global subscription; the Scheduler is
// otherwise wired against the narrower EventPublisher interface.
func eventBusFor(s *Scheduler) *EventBus {
	if bus, ok := s.Events.(*EventBus); ok {
		return bus
	}
	return nil
}
