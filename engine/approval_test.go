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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInferRiskLevel(t *testing.T) {
	assert.Equal(t, RiskCritical, InferRiskLevel("drop the database", ""))
	assert.Equal(t, RiskHigh, InferRiskLevel("deploy to production", ""))
	assert.Equal(t, RiskLow, InferRiskLevel("", "list the files"))
	assert.Equal(t, RiskMedium, InferRiskLevel("write a report", ""))
}

func TestApprovalStore_CreateComputesExpiry(t *testing.T) {
	store := NewInMemoryApprovalStore(nil)
	approval, err := store.Create(context.Background(), CreateApprovalRequest{
		ThreadID: "t1", StepID: "s1", TimeoutSeconds: 30,
	})
	assert.NoError(t, err)
	assert.WithinDuration(t, approval.RequestedAt.Add(30*time.Second), approval.ExpiresAt, time.Second)
	assert.Equal(t, ApprovalPending, approval.Status)
}

func TestApprovalStore_ResolveIsCompareAndSet(t *testing.T) {
	store := NewInMemoryApprovalStore(nil)
	approval, _ := store.Create(context.Background(), CreateApprovalRequest{ThreadID: "t1", StepID: "s1", TimeoutSeconds: 30})

	resolved, err := store.Resolve(context.Background(), approval.ID, DecisionApprove, "alice", "")
	assert.NoError(t, err)
	assert.Equal(t, ApprovalApproved, resolved.Status)

	// Same decision again is idempotent.
	again, err := store.Resolve(context.Background(), approval.ID, DecisionApprove, "bob", "")
	assert.NoError(t, err)
	assert.Equal(t, ApprovalApproved, again.Status)

	// A different decision fails with InvalidTransition.
	_, err = store.Resolve(context.Background(), approval.ID, DecisionReject, "carol", "")
	assert.Error(t, err)
	var invalidTransition *InvalidTransition
	assert.ErrorAs(t, err, &invalidTransition)
}

func TestApprovalStore_ExpireDueApprovals(t *testing.T) {
	store := NewInMemoryApprovalStore(nil)
	approval, _ := store.Create(context.Background(), CreateApprovalRequest{ThreadID: "t1", StepID: "s1", TimeoutSeconds: 1})

	expired, err := store.ExpireDueApprovals(context.Background(), approval.RequestedAt.Add(2*time.Second))
	assert.NoError(t, err)
	assert.Len(t, expired, 1)
	assert.Equal(t, ApprovalExpired, expired[0].Status)
}

func TestApprovalStore_ExpireDueApprovalsExpiresAutoApproveToo(t *testing.T) {
	store := NewInMemoryApprovalStore(nil)
	approval, _ := store.Create(context.Background(), CreateApprovalRequest{
		ThreadID: "t1", StepID: "s1", TimeoutSeconds: 1, AutoApproveAfterTimeout: true,
	})

	// AutoApproveAfterTimeout governs the Human executor's step result,
	// never the Approval record's own status: the record always becomes
	// expired once its deadline passes unresolved (spec.md §8 scenario 5).
	expired, err := store.ExpireDueApprovals(context.Background(), approval.RequestedAt.Add(2*time.Second))
	assert.NoError(t, err)
	assert.Len(t, expired, 1)
	assert.Equal(t, ApprovalExpired, expired[0].Status)
}

func TestApprovalStore_ExpireTransitionsPendingToExpired(t *testing.T) {
	store := NewInMemoryApprovalStore(nil)
	approval, _ := store.Create(context.Background(), CreateApprovalRequest{ThreadID: "t1", StepID: "s1", TimeoutSeconds: 60})

	expired, err := store.Expire(context.Background(), approval.ID)
	assert.NoError(t, err)
	assert.Equal(t, ApprovalExpired, expired.Status)
}

func TestApprovalStore_ExpireIsNoopOnceResolved(t *testing.T) {
	store := NewInMemoryApprovalStore(nil)
	approval, _ := store.Create(context.Background(), CreateApprovalRequest{ThreadID: "t1", StepID: "s1", TimeoutSeconds: 60})
	store.Resolve(context.Background(), approval.ID, DecisionApprove, "alice", "")

	result, err := store.Expire(context.Background(), approval.ID)
	assert.NoError(t, err)
	assert.Equal(t, ApprovalApproved, result.Status)
}

func TestApprovalStore_ExpireDueApprovalsIgnoresAlreadyResolved(t *testing.T) {
	store := NewInMemoryApprovalStore(nil)
	approval, _ := store.Create(context.Background(), CreateApprovalRequest{ThreadID: "t1", StepID: "s1", TimeoutSeconds: 1})
	store.Resolve(context.Background(), approval.ID, DecisionApprove, "alice", "")

	expired, err := store.ExpireDueApprovals(context.Background(), approval.RequestedAt.Add(2*time.Second))
	assert.NoError(t, err)
	assert.Empty(t, expired)

	current, _ := store.Get(context.Background(), approval.ID)
	assert.Equal(t, ApprovalApproved, current.Status)
}
