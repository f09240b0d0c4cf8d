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
	"sort"
	"sync"
	"time"
)

// RegistryFilter narrows List results by the fields callers commonly
// filter on in the dashboard (spec.md §6 GET /api/workflows).
type RegistryFilter struct {
	ProjectID string
	Status    WorkflowStatus
}

// RegistryPatch updates a subset of a WorkflowRegistryEntry's fields.
// Nil/zero fields are left untouched.
type RegistryPatch struct {
	Status      *WorkflowStatus
	Steps       []StepStatusEntry
	SessionRefs map[string]string
}

// Registry tracks lifecycle metadata for every known thread, independent
// of the full checkpointed WorkflowState — the Monitor's orphan sweep and
// the dashboard's workflow list both read it without paying for a full
// state deserialize (spec.md §4.10).
type Registry interface {
	Create(ctx context.Context, entry WorkflowRegistryEntry) error
	Get(ctx context.Context, threadID string) (*WorkflowRegistryEntry, error)
	Update(ctx context.Context, threadID string, patch RegistryPatch) (*WorkflowRegistryEntry, error)
	List(ctx context.Context, filter RegistryFilter) ([]WorkflowRegistryEntry, error)
}

// InMemoryRegistry is the default Registry, grounded on the same
// mutex-guarded map idiom as InMemoryCheckpointer and InMemoryApprovalStore.
type InMemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]WorkflowRegistryEntry
}

// NewInMemoryRegistry builds an empty Registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{entries: make(map[string]WorkflowRegistryEntry)}
}

func (r *InMemoryRegistry) Create(_ context.Context, entry WorkflowRegistryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.LastUpdate = entry.CreatedAt
	r.entries[entry.ThreadID] = entry
	return nil
}

func (r *InMemoryRegistry) Get(_ context.Context, threadID string) (*WorkflowRegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[threadID]
	if !ok {
		return nil, &NotFoundError{Message: "workflow " + threadID}
	}
	clone := entry
	clone.SessionRefs = cloneStringMap(entry.SessionRefs)
	clone.Steps = append([]StepStatusEntry(nil), entry.Steps...)
	return &clone, nil
}

func (r *InMemoryRegistry) Update(_ context.Context, threadID string, patch RegistryPatch) (*WorkflowRegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[threadID]
	if !ok {
		return nil, &NotFoundError{Message: "workflow " + threadID}
	}
	if patch.Status != nil {
		entry.Status = *patch.Status
	}
	if patch.Steps != nil {
		entry.Steps = patch.Steps
	}
	if patch.SessionRefs != nil {
		entry.SessionRefs = patch.SessionRefs
	}
	entry.LastUpdate = time.Now()
	r.entries[threadID] = entry
	clone := entry
	return &clone, nil
}

func (r *InMemoryRegistry) List(_ context.Context, filter RegistryFilter) ([]WorkflowRegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WorkflowRegistryEntry
	for _, entry := range r.entries {
		if filter.ProjectID != "" && entry.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdate.After(out[j].LastUpdate) })
	return out, nil
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
