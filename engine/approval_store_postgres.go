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
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"
)

// PostgresApprovalStore is the production ApprovalStore, backed by a
// single `approvals` table. Resolve performs its compare-and-set directly
// in SQL via an `UPDATE ... WHERE status = 'pending'` guard, so two
// concurrent decisions for the same approval can never both succeed —
// grounded on the teacher's hitl_execution.go compare-and-set-by-id
// pattern in ResumeExecution, generalized from an in-memory mutex to a
// row-level guard clause since this store is multi-writer across
// processes (spec.md §5).
type PostgresApprovalStore struct {
	db     *sql.DB
	events EventPublisher
}

// NewPostgresApprovalStore wraps an already-opened *sql.DB.
func NewPostgresApprovalStore(db *sql.DB, events EventPublisher) *PostgresApprovalStore {
	return &PostgresApprovalStore{db: db, events: events}
}

// EnsureSchema creates the approvals table if it doesn't already exist.
func (s *PostgresApprovalStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS approvals (
			id                          TEXT PRIMARY KEY,
			thread_id                   TEXT NOT NULL,
			step_id                     TEXT NOT NULL,
			project_id                  TEXT,
			workflow_name               TEXT,
			prompt                      TEXT NOT NULL,
			risk_level                  TEXT NOT NULL,
			requested_at                TIMESTAMPTZ NOT NULL,
			expires_at                  TIMESTAMPTZ NOT NULL,
			timeout_seconds             INTEGER NOT NULL,
			auto_approve_after_timeout  BOOLEAN NOT NULL,
			status                      TEXT NOT NULL,
			resolved_at                 TIMESTAMPTZ,
			resolved_by                 TEXT,
			comment                     TEXT,
			context_data                JSONB
		);
		CREATE INDEX IF NOT EXISTS approvals_thread_idx ON approvals (thread_id);
		CREATE INDEX IF NOT EXISTS approvals_status_idx ON approvals (status);
	`)
	if err != nil {
		return &InfrastructureError{Component: "postgres approval store", Message: err.Error()}
	}
	return nil
}

func (s *PostgresApprovalStore) Create(ctx context.Context, req CreateApprovalRequest) (*Approval, error) {
	now := time.Now()
	riskLevel := req.RiskLevel
	if riskLevel == "" {
		riskLevel = InferRiskLevel(req.Task, req.Prompt)
	}
	contextJSON, err := json.Marshal(req.ContextData)
	if err != nil {
		return nil, fmt.Errorf("marshal context data: %w", err)
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, thread_id, step_id, project_id, workflow_name, prompt, risk_level,
			requested_at, expires_at, timeout_seconds, auto_approve_after_timeout, status, context_data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, approval.ID, approval.ThreadID, approval.StepID, approval.ProjectID, approval.WorkflowName,
		approval.Prompt, string(approval.RiskLevel), approval.RequestedAt, approval.ExpiresAt,
		approval.TimeoutSeconds, approval.AutoApproveAfterTimeout, string(approval.Status), contextJSON)
	if err != nil {
		return nil, &InfrastructureError{Component: "postgres approval store", Message: err.Error()}
	}

	if s.events != nil {
		s.events.Publish(Event{Type: EventApprovalCreated, ThreadID: approval.ThreadID, StepID: approval.StepID,
			Data: map[string]any{"approvalId": approval.ID, "riskLevel": string(approval.RiskLevel)}})
	}
	return &approval, nil
}

func (s *PostgresApprovalStore) Get(ctx context.Context, id string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, step_id, project_id, workflow_name, prompt, risk_level,
			requested_at, expires_at, timeout_seconds, auto_approve_after_timeout, status,
			resolved_at, resolved_by, comment, context_data
		FROM approvals WHERE id = $1
	`, id)
	approval, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Message: "approval " + id}
	}
	if err != nil {
		return nil, &InfrastructureError{Component: "postgres approval store", Message: err.Error()}
	}
	return approval, nil
}

func (s *PostgresApprovalStore) Resolve(ctx context.Context, id string, decision ApprovalDecision, decidedBy, comment string) (*Approval, error) {
	wantStatus := ApprovalApproved
	if decision == DecisionReject {
		wantStatus = ApprovalRejected
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = $1, resolved_at = now(), resolved_by = $2, comment = $3
		WHERE id = $4 AND status = 'pending'
	`, string(wantStatus), decidedBy, comment, id)
	if err != nil {
		return nil, &InfrastructureError{Component: "postgres approval store", Message: err.Error()}
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status == wantStatus {
			return existing, nil
		}
		return nil, &InvalidTransition{Message: "approval " + id + " already resolved as " + string(existing.Status)}
	}

	approval, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.Publish(Event{Type: EventApprovalDecided, ThreadID: approval.ThreadID, StepID: approval.StepID,
			Data: map[string]any{"approvalId": approval.ID, "status": string(approval.Status)}})
	}
	return approval, nil
}

func (s *PostgresApprovalStore) Cancel(ctx context.Context, id string) (*Approval, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = 'cancelled', resolved_at = now() WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return nil, &InfrastructureError{Component: "postgres approval store", Message: err.Error()}
	}
	return s.Get(ctx, id)
}

func (s *PostgresApprovalStore) List(ctx context.Context, filter ApprovalFilter) ([]Approval, error) {
	query := `
		SELECT id, thread_id, step_id, project_id, workflow_name, prompt, risk_level,
			requested_at, expires_at, timeout_seconds, auto_approve_after_timeout, status,
			resolved_at, resolved_by, comment, context_data
		FROM approvals WHERE 1=1`
	var args []any
	if filter.ThreadID != "" {
		args = append(args, filter.ThreadID)
		query += fmt.Sprintf(" AND thread_id = $%d", len(args))
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &InfrastructureError{Component: "postgres approval store", Message: err.Error()}
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *approval)
	}
	return out, rows.Err()
}

// ExpireDueApprovals transitions every overdue pending approval to
// expired, including ones with auto_approve_after_timeout set: that
// column governs the Human executor's step result, never the Approval
// record's own status (spec.md §8 scenario 5).
func (s *PostgresApprovalStore) ExpireDueApprovals(ctx context.Context, now time.Time) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE approvals SET status = 'expired', resolved_at = $1
		WHERE status = 'pending' AND expires_at < $1
		RETURNING id, thread_id, step_id, project_id, workflow_name, prompt, risk_level,
			requested_at, expires_at, timeout_seconds, auto_approve_after_timeout, status,
			resolved_at, resolved_by, comment, context_data
	`, now)
	if err != nil {
		return nil, &InfrastructureError{Component: "postgres approval store", Message: err.Error()}
	}
	defer rows.Close()

	var expired []Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *approval)
	}
	return expired, rows.Err()
}

// Expire transitions id straight from pending to expired, independent of
// ExpireDueApprovals' wall-clock sweep; used by the Human executor the
// instant its own wait loop observes the deadline pass.
func (s *PostgresApprovalStore) Expire(ctx context.Context, id string) (*Approval, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = 'expired', resolved_at = now() WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return nil, &InfrastructureError{Component: "postgres approval store", Message: err.Error()}
	}
	approval, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.events != nil && approval.Status == ApprovalExpired {
		s.events.Publish(Event{Type: EventApprovalDecided, ThreadID: approval.ThreadID, StepID: approval.StepID,
			Data: map[string]any{"approvalId": approval.ID, "status": string(approval.Status)}})
	}
	return approval, nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*Approval, error) {
	var a Approval
	var projectID, workflowName, resolvedBy, comment sql.NullString
	var resolvedAt sql.NullTime
	var contextJSON []byte
	var riskLevel, status string

	err := row.Scan(&a.ID, &a.ThreadID, &a.StepID, &projectID, &workflowName, &a.Prompt, &riskLevel,
		&a.RequestedAt, &a.ExpiresAt, &a.TimeoutSeconds, &a.AutoApproveAfterTimeout, &status,
		&resolvedAt, &resolvedBy, &comment, &contextJSON)
	if err != nil {
		return nil, err
	}

	a.ProjectID = projectID.String
	a.WorkflowName = workflowName.String
	a.RiskLevel = RiskLevel(riskLevel)
	a.Status = ApprovalStatus(status)
	a.ResolvedBy = resolvedBy.String
	a.Comment = comment.String
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	if len(contextJSON) > 0 {
		_ = json.Unmarshal(contextJSON, &a.ContextData)
	}
	return &a, nil
}
