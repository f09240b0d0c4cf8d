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

	_ "github.com/lib/pq"
)

// PostgresCheckpointer is a Checkpointer backed by a single key-value
// table: (thread_id PRIMARY KEY, state JSONB, status TEXT, last_update
// TIMESTAMPTZ, tombstoned BOOLEAN). The (status, last_update) pair backs
// the Monitor's orphan scan (spec.md §4.6). Grounded on the teacher's use
// of lib/pq as its sole SQL driver throughout platform/orchestrator, and
// on itsneelabh-gomind's RedisCheckpointStore for the reference-store
// doc-comment idiom (this implementation uses Postgres, not Redis, since
// the spec requires atomic per-thread persistence with a queryable index,
// which a relational row update gives for free via a single UPDATE
// statement).
type PostgresCheckpointer struct {
	db *sql.DB
}

// NewPostgresCheckpointer wraps an already-opened *sql.DB. Callers own the
// connection pool's lifecycle.
func NewPostgresCheckpointer(db *sql.DB) *PostgresCheckpointer {
	return &PostgresCheckpointer{db: db}
}

// EnsureSchema creates the checkpoint table if it doesn't already exist.
func (c *PostgresCheckpointer) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			thread_id   TEXT PRIMARY KEY,
			state       JSONB NOT NULL,
			status      TEXT NOT NULL,
			last_update TIMESTAMPTZ NOT NULL DEFAULT now(),
			tombstoned  BOOLEAN NOT NULL DEFAULT false
		);
		CREATE INDEX IF NOT EXISTS workflow_checkpoints_status_idx
			ON workflow_checkpoints (status, last_update);
	`)
	if err != nil {
		return &InfrastructureError{Component: "postgres checkpointer", Message: err.Error()}
	}
	return nil
}

func (c *PostgresCheckpointer) Save(ctx context.Context, state *WorkflowState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal workflow state: %w", err)
	}

	result, err := c.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (thread_id, state, status, last_update)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (thread_id) DO UPDATE SET
			state = EXCLUDED.state,
			status = EXCLUDED.status,
			last_update = now()
		WHERE workflow_checkpoints.tombstoned = false
	`, state.ThreadID, payload, string(state.Status))
	if err != nil {
		return &InfrastructureError{Component: "postgres checkpointer", Message: err.Error()}
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		// Either the row is new (handled above) or tombstoned — an
		// affected-rows of zero here only happens on the tombstoned
		// branch of the WHERE clause, since INSERT always affects a row.
		var tombstoned bool
		if qerr := c.db.QueryRowContext(ctx,
			`SELECT tombstoned FROM workflow_checkpoints WHERE thread_id = $1`, state.ThreadID,
		).Scan(&tombstoned); qerr == nil && tombstoned {
			return &InvalidTransition{Message: "thread " + state.ThreadID + " is tombstoned"}
		}
	}
	return nil
}

func (c *PostgresCheckpointer) Load(ctx context.Context, threadID string) (*WorkflowState, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT state FROM workflow_checkpoints WHERE thread_id = $1`, threadID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &InfrastructureError{Component: "postgres checkpointer", Message: err.Error()}
	}

	var state WorkflowState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("unmarshal workflow state: %w", err)
	}
	return &state, nil
}

func (c *PostgresCheckpointer) Tombstone(ctx context.Context, threadID string) error {
	result, err := c.db.ExecContext(ctx,
		`UPDATE workflow_checkpoints SET tombstoned = true WHERE thread_id = $1`, threadID)
	if err != nil {
		return &InfrastructureError{Component: "postgres checkpointer", Message: err.Error()}
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &NotFoundError{Message: "thread " + threadID}
	}
	return nil
}

// RunningThreads returns every thread_id whose last-saved row has
// status='running'. The Monitor's start-up orphan sweep reads the
// Registry instead.
func (c *PostgresCheckpointer) RunningThreads(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT thread_id FROM workflow_checkpoints WHERE status = $1 AND tombstoned = false`, string(WorkflowRunning))
	if err != nil {
		return nil, &InfrastructureError{Component: "postgres checkpointer", Message: err.Error()}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
