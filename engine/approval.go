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

	"github.com/google/uuid"
)

// CreateApprovalRequest is the input to ApprovalStore.Create.
type CreateApprovalRequest struct {
	ThreadID                string
	StepID                  string
	ProjectID               string
	WorkflowName            string
	Prompt                  string
	Task                    string // used only for risk-level inference when RiskLevel is empty
	RiskLevel               RiskLevel
	TimeoutSeconds          int
	AutoApproveAfterTimeout bool
	ContextData             map[string]any
}

// ApprovalDecision is the caller's resolution of a pending approval.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
)

// ApprovalStore holds human-approval records: create/resolve with timeout,
// risk, and context (spec.md §4.5).
type ApprovalStore interface {
	Create(ctx context.Context, req CreateApprovalRequest) (*Approval, error)
	Get(ctx context.Context, id string) (*Approval, error)
	Resolve(ctx context.Context, id string, decision ApprovalDecision, decidedBy, comment string) (*Approval, error)
	Cancel(ctx context.Context, id string) (*Approval, error)
	List(ctx context.Context, filter ApprovalFilter) ([]Approval, error)
	ExpireDueApprovals(ctx context.Context, now time.Time) ([]Approval, error)
	// Expire transitions a single pending approval straight to expired,
	// independent of the periodic ExpireDueApprovals sweep. The Human
	// executor calls this itself the moment its own wait loop observes
	// the deadline pass (spec.md §8 scenario 5: "after 2s the Approval
	// becomes expired"), rather than waiting on the next sweep tick —
	// which matters for the auto-approve timeout behavior, where the
	// step still succeeds but the approval record itself must still
	// read expired, not pending.
	Expire(ctx context.Context, id string) (*Approval, error)
}

// ApprovalFilter narrows List results; zero-valued fields are unfiltered.
type ApprovalFilter struct {
	ThreadID  string
	ProjectID string
	Status    ApprovalStatus
}

// InMemoryApprovalStore is the reference ApprovalStore, a single
// compare-and-set map guarded by a mutex. Grounded on the teacher's
// hitl_execution.go HITLWorkflowEngine, which keeps its executions map
// under the same kind of single mutex and resolves by id.
type InMemoryApprovalStore struct {
	mu         sync.Mutex
	approvals  map[string]Approval
	events     EventPublisher
}

// NewInMemoryApprovalStore builds an empty store. events may be nil.
func NewInMemoryApprovalStore(events EventPublisher) *InMemoryApprovalStore {
	return &InMemoryApprovalStore{
		approvals: make(map[string]Approval),
		events:    events,
	}
}

func (s *InMemoryApprovalStore) Create(_ context.Context, req CreateApprovalRequest) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	riskLevel := req.RiskLevel
	if riskLevel == "" {
		riskLevel = InferRiskLevel(req.Task, req.Prompt)
	}

	approval := Approval{
		ID:                      uuid.NewString(),
		ThreadID:                req.ThreadID,
		StepID:                  req.StepID,
		ProjectID:               req.ProjectID,
		WorkflowName:            req.WorkflowName,
		Prompt:                  req.Prompt,
		RiskLevel:               riskLevel,
		RequestedAt:             now,
		ExpiresAt:               now.Add(time.Duration(req.TimeoutSeconds) * time.Second),
		TimeoutSeconds:          req.TimeoutSeconds,
		AutoApproveAfterTimeout: req.AutoApproveAfterTimeout,
		Status:                  ApprovalPending,
		ContextData:             req.ContextData,
	}
	s.approvals[approval.ID] = approval
	recordApproval("created")

	if s.events != nil {
		s.events.Publish(Event{
			Type:     EventApprovalCreated,
			ThreadID: approval.ThreadID,
			StepID:   approval.StepID,
			Data:     map[string]any{"approvalId": approval.ID, "riskLevel": string(approval.RiskLevel)},
		})
	}
	return cloneApproval(approval), nil
}

func (s *InMemoryApprovalStore) Get(_ context.Context, id string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[id]
	if !ok {
		return nil, &NotFoundError{Message: "approval " + id}
	}
	return cloneApproval(approval), nil
}

// Resolve performs the compare-and-set state transition described in
// spec.md §4.5/§8: pending → {approved, rejected} exactly once; resolving
// an already-resolved approval to a DIFFERENT decision fails with
// InvalidTransition, but resolving to the SAME decision is idempotent.
func (s *InMemoryApprovalStore) Resolve(_ context.Context, id string, decision ApprovalDecision, decidedBy, comment string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	approval, ok := s.approvals[id]
	if !ok {
		return nil, &NotFoundError{Message: "approval " + id}
	}

	wantStatus := ApprovalApproved
	if decision == DecisionReject {
		wantStatus = ApprovalRejected
	}

	if approval.Status != ApprovalPending {
		if approval.Status == wantStatus {
			return cloneApproval(approval), nil
		}
		return nil, &InvalidTransition{Message: "approval " + id + " already resolved as " + string(approval.Status)}
	}

	now := time.Now()
	approval.Status = wantStatus
	approval.ResolvedAt = &now
	approval.ResolvedBy = decidedBy
	approval.Comment = comment
	s.approvals[id] = approval
	recordApproval(string(wantStatus))

	if s.events != nil {
		s.events.Publish(Event{
			Type:     EventApprovalDecided,
			ThreadID: approval.ThreadID,
			StepID:   approval.StepID,
			Data:     map[string]any{"approvalId": approval.ID, "status": string(approval.Status)},
		})
	}
	return cloneApproval(approval), nil
}

func (s *InMemoryApprovalStore) Cancel(_ context.Context, id string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	approval, ok := s.approvals[id]
	if !ok {
		return nil, &NotFoundError{Message: "approval " + id}
	}
	if approval.Status != ApprovalPending {
		return cloneApproval(approval), nil
	}
	now := time.Now()
	approval.Status = ApprovalCancelled
	approval.ResolvedAt = &now
	s.approvals[id] = approval

	if s.events != nil {
		s.events.Publish(Event{Type: EventApprovalDeleted, ThreadID: approval.ThreadID, StepID: approval.StepID,
			Data: map[string]any{"approvalId": approval.ID}})
	}
	return cloneApproval(approval), nil
}

func (s *InMemoryApprovalStore) List(_ context.Context, filter ApprovalFilter) ([]Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Approval
	for _, a := range s.approvals {
		if filter.ThreadID != "" && a.ThreadID != filter.ThreadID {
			continue
		}
		if filter.ProjectID != "" && a.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, *cloneApproval(a))
	}
	return out, nil
}

// ExpireDueApprovals is the periodic sweep spec.md §4.5 describes: any
// pending approval whose wall clock has passed expiresAt transitions to
// expired — including ones with AutoApproveAfterTimeout set. That flag
// governs what the Human executor's step result is (success, simulated),
// never what the Approval record's own status is: the record itself
// always becomes expired once its deadline passes unresolved (spec.md §8
// scenario 5). Expiry monotonicity (spec.md §8): an approval already
// resolved before expiry is never touched here.
func (s *InMemoryApprovalStore) ExpireDueApprovals(_ context.Context, now time.Time) ([]Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Approval
	for id, a := range s.approvals {
		if a.Status != ApprovalPending {
			continue
		}
		if now.After(a.ExpiresAt) {
			a.Status = ApprovalExpired
			resolvedAt := now
			a.ResolvedAt = &resolvedAt
			s.approvals[id] = a
			recordApproval("expired")
			expired = append(expired, *cloneApproval(a))
		}
	}
	return expired, nil
}

// Expire transitions id straight from pending to expired, independent of
// ExpireDueApprovals' wall-clock sweep; used by the Human executor the
// instant its own wait loop observes the deadline pass.
func (s *InMemoryApprovalStore) Expire(_ context.Context, id string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	approval, ok := s.approvals[id]
	if !ok {
		return nil, &NotFoundError{Message: "approval " + id}
	}
	if approval.Status != ApprovalPending {
		return cloneApproval(approval), nil
	}
	now := time.Now()
	approval.Status = ApprovalExpired
	approval.ResolvedAt = &now
	s.approvals[id] = approval
	recordApproval("expired")

	if s.events != nil {
		s.events.Publish(Event{Type: EventApprovalDecided, ThreadID: approval.ThreadID, StepID: approval.StepID,
			Data: map[string]any{"approvalId": approval.ID, "status": string(approval.Status)}})
	}
	return cloneApproval(approval), nil
}

func cloneApproval(a Approval) *Approval {
	clone := a
	if a.ContextData != nil {
		clone.ContextData = make(map[string]any, len(a.ContextData))
		for k, v := range a.ContextData {
			clone.ContextData[k] = v
		}
	}
	return &clone
}

// Risk keyword sets, spec.md §4.5: critical/high/low are keyword-matched
// in priority order over {task, prompt}; anything unmatched defaults to
// medium.
var riskKeywords = []struct {
	level    RiskLevel
	keywords []string
}{
	{RiskCritical, []string{"database", "payment", "security", "admin", "root"}},
	{RiskHigh, []string{"delete", "remove", "production", "deploy", "publish", "release"}},
	{RiskLow, []string{"read", "view", "list", "get"}},
}

// InferRiskLevel classifies a human step's risk from its task/prompt text
// when the step doesn't specify one explicitly.
func InferRiskLevel(task, prompt string) RiskLevel {
	haystack := strings.ToLower(task + " " + prompt)
	for _, bucket := range riskKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(haystack, kw) {
				return bucket.level
			}
		}
	}
	return RiskMedium
}
