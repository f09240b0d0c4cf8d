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
	"sync"
)

// Checkpointer persists WorkflowState after every transition and is the
// sole authority for resume (spec.md §4.6). Implementations must make Save
// atomic per thread: readers observe either the pre- or post-transition
// state, never a partial merge.
type Checkpointer interface {
	Save(ctx context.Context, state *WorkflowState) error
	Load(ctx context.Context, threadID string) (*WorkflowState, error)
	// Tombstone marks threadID's snapshot immutable once the workflow
	// reaches a terminal status; the final snapshot is retained.
	Tombstone(ctx context.Context, threadID string) error
}

// InMemoryCheckpointer is the reference Checkpointer: a map guarded by a
// per-thread lock so concurrent Save calls for different threads don't
// contend, while Save for the same thread is always serialized.
type InMemoryCheckpointer struct {
	mu          sync.RWMutex
	states      map[string]*WorkflowState
	tombstoned  map[string]bool
	threadLocks map[string]*sync.Mutex
}

// NewInMemoryCheckpointer builds an empty store.
func NewInMemoryCheckpointer() *InMemoryCheckpointer {
	return &InMemoryCheckpointer{
		states:      make(map[string]*WorkflowState),
		tombstoned:  make(map[string]bool),
		threadLocks: make(map[string]*sync.Mutex),
	}
}

func (c *InMemoryCheckpointer) lockFor(threadID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.threadLocks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		c.threadLocks[threadID] = lock
	}
	return lock
}

// Save writes a deep clone of state, serialized per threadID. A
// tombstoned thread rejects further writes — its final snapshot is
// immutable.
func (c *InMemoryCheckpointer) Save(_ context.Context, state *WorkflowState) error {
	lock := c.lockFor(state.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	tombstoned := c.tombstoned[state.ThreadID]
	c.mu.RUnlock()
	if tombstoned {
		return &InvalidTransition{Message: "thread " + state.ThreadID + " is tombstoned"}
	}

	clone := state.Clone()
	c.mu.Lock()
	c.states[state.ThreadID] = clone
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCheckpointer) Load(_ context.Context, threadID string) (*WorkflowState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.states[threadID]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

func (c *InMemoryCheckpointer) Tombstone(_ context.Context, threadID string) error {
	lock := c.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.states[threadID]; !ok {
		return &NotFoundError{Message: "thread " + threadID}
	}
	c.tombstoned[threadID] = true
	return nil
}

// RunningThreads returns every threadID whose last-saved snapshot has
// status=running. The Monitor's orphan sweep reads the Registry instead.
func (c *InMemoryCheckpointer) RunningThreads() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, state := range c.states {
		if state.Status == WorkflowRunning {
			ids = append(ids, id)
		}
	}
	return ids
}
