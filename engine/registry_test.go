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

	"github.com/stretchr/testify/assert"
)

func TestInMemoryRegistry_CreateGetRoundTrip(t *testing.T) {
	r := NewInMemoryRegistry()
	ctx := context.Background()

	err := r.Create(ctx, WorkflowRegistryEntry{
		ThreadID: "t1", Status: WorkflowRunning, ProjectID: "p1",
		Steps: []StepStatusEntry{{ID: "s1", Status: StatusRunning}},
	})
	assert.NoError(t, err)

	entry, err := r.Get(ctx, "t1")
	assert.NoError(t, err)
	assert.Equal(t, WorkflowRunning, entry.Status)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Equal(t, entry.CreatedAt, entry.LastUpdate)
}

func TestInMemoryRegistry_GetUnknownThreadReturnsNotFound(t *testing.T) {
	r := NewInMemoryRegistry()
	_, err := r.Get(context.Background(), "missing")
	assert.Error(t, err)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestInMemoryRegistry_UpdatePatchesOnlyGivenFields(t *testing.T) {
	r := NewInMemoryRegistry()
	ctx := context.Background()
	_ = r.Create(ctx, WorkflowRegistryEntry{ThreadID: "t1", Status: WorkflowRunning, ProjectID: "p1"})

	aborted := WorkflowAborted
	updated, err := r.Update(ctx, "t1", RegistryPatch{Status: &aborted})
	assert.NoError(t, err)
	assert.Equal(t, WorkflowAborted, updated.Status)
	assert.Equal(t, "p1", updated.ProjectID)

	_, err = r.Update(ctx, "missing", RegistryPatch{})
	assert.Error(t, err)
}

func TestInMemoryRegistry_UpdateBumpsLastUpdate(t *testing.T) {
	r := NewInMemoryRegistry()
	ctx := context.Background()
	_ = r.Create(ctx, WorkflowRegistryEntry{ThreadID: "t1", Status: WorkflowRunning})
	first, _ := r.Get(ctx, "t1")

	updated, err := r.Update(ctx, "t1", RegistryPatch{Steps: []StepStatusEntry{{ID: "s1", Status: StatusSuccess}}})
	assert.NoError(t, err)
	assert.True(t, !updated.LastUpdate.Before(first.LastUpdate))
	assert.Len(t, updated.Steps, 1)
}

func TestInMemoryRegistry_ListFiltersByProjectAndStatus(t *testing.T) {
	r := NewInMemoryRegistry()
	ctx := context.Background()
	_ = r.Create(ctx, WorkflowRegistryEntry{ThreadID: "t1", ProjectID: "p1", Status: WorkflowRunning})
	_ = r.Create(ctx, WorkflowRegistryEntry{ThreadID: "t2", ProjectID: "p1", Status: WorkflowCompleted})
	_ = r.Create(ctx, WorkflowRegistryEntry{ThreadID: "t3", ProjectID: "p2", Status: WorkflowRunning})

	byProject, err := r.List(ctx, RegistryFilter{ProjectID: "p1"})
	assert.NoError(t, err)
	assert.Len(t, byProject, 2)

	running, err := r.List(ctx, RegistryFilter{Status: WorkflowRunning})
	assert.NoError(t, err)
	assert.Len(t, running, 2)

	both, err := r.List(ctx, RegistryFilter{ProjectID: "p1", Status: WorkflowRunning})
	assert.NoError(t, err)
	assert.Len(t, both, 1)
	assert.Equal(t, "t1", both[0].ThreadID)
}

func TestInMemoryRegistry_GetReturnsIndependentCopy(t *testing.T) {
	r := NewInMemoryRegistry()
	ctx := context.Background()
	_ = r.Create(ctx, WorkflowRegistryEntry{ThreadID: "t1", Steps: []StepStatusEntry{{ID: "s1", Status: StatusRunning}}})

	entry, err := r.Get(ctx, "t1")
	assert.NoError(t, err)
	entry.Steps[0].Status = StatusFailed

	reloaded, err := r.Get(ctx, "t1")
	assert.NoError(t, err)
	assert.Equal(t, StatusRunning, reloaded.Steps[0].Status)
}
