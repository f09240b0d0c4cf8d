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
	"encoding/json"
	"time"
)

// StepKind identifies which Executor handles a WorkflowStep.
type StepKind string

const (
	KindAgent       StepKind = "agent"
	KindMock        StepKind = "mock"
	KindConditional StepKind = "conditional"
	KindLoop        StepKind = "loop"
	KindParallel    StepKind = "parallel"
	KindHuman       StepKind = "human"
	KindJavaScript  StepKind = "javascript"
	KindWebhook     StepKind = "webhook"
)

// InteractionType is the kind of human interaction a "human" step requests.
type InteractionType string

const (
	InteractionApproval     InteractionType = "approval"
	InteractionNotification InteractionType = "notification"
	InteractionInput        InteractionType = "input"
)

// TimeoutBehavior controls what happens when a human step's timeout fires
// with no external decision recorded.
type TimeoutBehavior string

const (
	TimeoutFail        TimeoutBehavior = "fail"
	TimeoutAutoApprove TimeoutBehavior = "auto-approve"
	TimeoutInfinite    TimeoutBehavior = "infinite"
)

// RiskLevel classifies the potential impact of an approval-gated action.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// StepStatus is the terminal (or in-flight) classification of a StepResult.
type StepStatus string

const (
	StatusSuccess     StepStatus = "success"
	StatusBlocked     StepStatus = "blocked"
	StatusFailed      StepStatus = "failed"
	StatusNotExecuted StepStatus = "not_executed"
	StatusSkipped     StepStatus = "skipped"
	StatusAborted     StepStatus = "aborted"
	// StatusRunning marks a step that has started but not yet settled.
	// It never appears on a StepResult (a StepResult only exists once a
	// step has settled) — it is the Registry's bookkeeping value for a
	// step that is currently in flight, so a process restart mid-step
	// can be told apart from one that restarted before the step started.
	StatusRunning StepStatus = "running"
)

// WorkflowStatus is the terminal (or running) classification of a WorkflowState.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowPartial   WorkflowStatus = "partial"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowAborted   WorkflowStatus = "aborted"
)

// ApprovalStatus is the lifecycle state of an Approval record.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalExpired   ApprovalStatus = "expired"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// CombinatorKind joins Rules and subgroups inside a structured condition Group.
type CombinatorKind string

const (
	CombinatorAnd CombinatorKind = "AND"
	CombinatorOr  CombinatorKind = "OR"
)

// Operand is either a reference to another step's field, or a literal value.
//
// Exactly one of (StepID set) or (Type/Literal set) is populated; which one
// is determined by presence of StepID, matching the tagged-union shape the
// spec describes for Condition operands.
type Operand struct {
	StepID string `json:"stepId,omitempty"`
	Field  string `json:"field,omitempty"` // output | status | response

	Type    string `json:"type,omitempty"` // string | number | boolean
	Literal any    `json:"value,omitempty"`
}

// Rule is a single comparison inside a structured condition Group.
type Rule struct {
	Left     Operand `json:"left"`
	Op       string  `json:"op"` // equals | notEquals | gt | gte | lt | lte | contains
	Right    Operand `json:"right"`
	DataType string  `json:"dataType"` // string | number | boolean
}

// Group is a node in the structured v2.0 condition tree.
type Group struct {
	Combinator CombinatorKind `json:"combinator"`
	Rules      []Rule         `json:"rules,omitempty"`
	Subgroups  []Group        `json:"subgroups,omitempty"`
}

// Condition is the tagged union described in spec.md §3: a structured v2.0
// tree, a legacy expression string, or a bare string (equivalent to legacy).
type Condition struct {
	Version    string `json:"version,omitempty"`
	RootGroup  *Group `json:"rootGroup,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// IsStructured reports whether this condition is a v2.0 structured tree.
func (c *Condition) IsStructured() bool {
	return c != nil && c.Version == "2.0" && c.RootGroup != nil
}

// UnmarshalJSON accepts either a bare string (legacy expression) or the
// structured {version, rootGroup} / {expression} object shape.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Expression = asString
		return nil
	}

	type alias Condition
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Condition(a)
	return nil
}

// MarshalJSON renders a bare-legacy condition back to a plain string, and a
// structured condition as the full object, to round-trip symmetrically with
// UnmarshalJSON.
func (c Condition) MarshalJSON() ([]byte, error) {
	if c.Version == "" && c.RootGroup == nil {
		return json.Marshal(c.Expression)
	}
	type alias Condition
	return json.Marshal(alias(c))
}

// WorkflowStep is one node in the DAG.
type WorkflowStep struct {
	ID         string   `json:"id,omitempty"`
	Kind       StepKind `json:"kind"`
	Task       string   `json:"task,omitempty"`
	Deps       []string `json:"deps,omitempty"`
	Role       string   `json:"role,omitempty"`
	AgentRef   string   `json:"agentRef,omitempty"`
	SessionRef string   `json:"sessionRef,omitempty"`

	// Conditional-step fields.
	Condition   *Condition `json:"condition,omitempty"`
	TrueBranch  string     `json:"trueBranch,omitempty"`
	FalseBranch string     `json:"falseBranch,omitempty"`

	// Loop-step fields.
	Items         []string `json:"items,omitempty"`
	LoopVar       string   `json:"loopVar,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`

	// Parallel-step fields.
	ParallelSteps []string `json:"parallelSteps,omitempty"`

	// Human-step fields.
	Prompt          string          `json:"prompt,omitempty"`
	InteractionType InteractionType `json:"interactionType,omitempty"`
	TimeoutSeconds  int             `json:"timeoutSeconds,omitempty"`
	TimeoutBehavior TimeoutBehavior `json:"timeoutBehavior,omitempty"`
	RiskLevel       RiskLevel       `json:"riskLevel,omitempty"`
}

// StepResult is the outcome of executing one step once.
type StepResult struct {
	ID          string     `json:"id"`
	Status      StepStatus `json:"status"`
	Response    string     `json:"response,omitempty"`
	SessionRef  string     `json:"sessionRef,omitempty"`
	DurationMs  int64      `json:"durationMs"`
	AbortedAt   *time.Time `json:"abortedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempt     int        `json:"attempt"`
}

// WorkflowState is the in-memory and checkpointed snapshot of one run.
type WorkflowState struct {
	ThreadID            string                 `json:"threadId"`
	ProjectID           string                 `json:"projectId,omitempty"`
	Steps               []WorkflowStep         `json:"steps"`
	StepResults         map[string]StepResult  `json:"stepResults"`
	StepOutputs         map[string]string      `json:"stepOutputs"`
	SessionRefs         map[string]string      `json:"sessionRefs"`
	CurrentStepIndex    int                    `json:"currentStepIndex"`
	Status              WorkflowStatus         `json:"status"`
	StartNewConversation bool                  `json:"startNewConversation"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
}

// NewWorkflowState builds an empty, running WorkflowState for threadID.
func NewWorkflowState(threadID, projectID string, steps []WorkflowStep, startNewConversation bool) *WorkflowState {
	now := time.Now()
	return &WorkflowState{
		ThreadID:             threadID,
		ProjectID:            projectID,
		Steps:                steps,
		StepResults:          make(map[string]StepResult),
		StepOutputs:          make(map[string]string),
		SessionRefs:          make(map[string]string),
		Status:               WorkflowRunning,
		StartNewConversation: startNewConversation,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Clone returns a deep-enough copy of the state safe to hand to readers
// while the owning Scheduler keeps mutating the original. Maps and the
// step slice are copied; StepResult values are copied by value already.
func (s *WorkflowState) Clone() *WorkflowState {
	clone := *s
	clone.Steps = append([]WorkflowStep(nil), s.Steps...)
	clone.StepResults = make(map[string]StepResult, len(s.StepResults))
	for k, v := range s.StepResults {
		clone.StepResults[k] = v
	}
	clone.StepOutputs = make(map[string]string, len(s.StepOutputs))
	for k, v := range s.StepOutputs {
		clone.StepOutputs[k] = v
	}
	clone.SessionRefs = make(map[string]string, len(s.SessionRefs))
	for k, v := range s.SessionRefs {
		clone.SessionRefs[k] = v
	}
	return &clone
}

// Approval is a single human-approval record.
type Approval struct {
	ID                      string         `json:"id"`
	ThreadID                string         `json:"threadId"`
	StepID                  string         `json:"stepId"`
	ProjectID               string         `json:"projectId,omitempty"`
	WorkflowName            string         `json:"workflowName,omitempty"`
	Prompt                  string         `json:"prompt"`
	RiskLevel               RiskLevel      `json:"riskLevel"`
	RequestedAt             time.Time      `json:"requestedAt"`
	ExpiresAt               time.Time      `json:"expiresAt"`
	TimeoutSeconds          int            `json:"timeoutSeconds"`
	AutoApproveAfterTimeout bool           `json:"autoApproveAfterTimeout"`
	Status                  ApprovalStatus `json:"status"`
	ResolvedAt              *time.Time     `json:"resolvedAt,omitempty"`
	ResolvedBy              string         `json:"resolvedBy,omitempty"`
	Comment                 string         `json:"comment,omitempty"`
	ContextData             map[string]any `json:"contextData,omitempty"`
}

// StepStatusEntry records one step's status for a WorkflowRegistryEntry.
type StepStatusEntry struct {
	ID     string     `json:"id"`
	Status StepStatus `json:"status"`
}

// WorkflowRegistryEntry is the lifecycle metadata the Registry tracks for
// each thread, independent of the full checkpointed WorkflowState.
type WorkflowRegistryEntry struct {
	ThreadID          string             `json:"threadId"`
	Status            WorkflowStatus     `json:"status"`
	Steps             []StepStatusEntry  `json:"steps"`
	SessionRefs       map[string]string  `json:"sessionRefs"`
	ProjectID         string             `json:"projectId,omitempty"`
	ProjectName       string             `json:"projectName,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	LastUpdate        time.Time          `json:"lastUpdate"`
	SavedWorkflowID   string             `json:"savedWorkflowId,omitempty"`
	InvocationSummary string             `json:"invocationSummary,omitempty"`
	StartedBy         string             `json:"startedBy,omitempty"`
}

// AgentConfig is the minimal shape the ConfigStore returns to resolve an
// agent reference or role to an invocable configuration. Persistence of
// this type is an external collaborator's concern (spec.md §1).
type AgentConfig struct {
	ID               string `json:"id"`
	Role             string `json:"role"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	RoleSystemPrompt string `json:"roleSystemPrompt"`
}
