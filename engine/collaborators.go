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

import "context"

// AgentResponse is what an AgentClient call returns: a plain text response
// plus the session handle the caller should pass back in to resume the
// same conversation.
type AgentResponse struct {
	Content    string
	SessionRef string
}

// AgentClient is the external collaborator that actually sends prompts and
// streams tokens to an LLM. The engine never constructs one directly — it
// only depends on this interface (spec.md §1, out of scope: LLM prompt
// engineering, provider selection).
type AgentClient interface {
	// Send dispatches resolvedTask to the model backing agentConfig,
	// optionally resuming sessionRef. projectID namespaces the call but
	// carries no authorization semantics.
	Send(ctx context.Context, resolvedTask, projectID, sessionRef string, agentConfig AgentConfig) (*AgentResponse, error)
}

// ConfigStore is the external collaborator holding persistent agent and
// project configuration. The engine resolves against it but never owns
// its storage (spec.md §1).
type ConfigStore interface {
	// ResolveAgent resolves a step's agent binding in precedence order:
	// project-local agent by short id, project agent by role, global
	// agent config by role. Returns ConfigurationError if nothing binds.
	ResolveAgent(ctx context.Context, projectID, agentRef, role string) (*AgentConfig, error)
}

// StaticConfigStore is a minimal in-memory ConfigStore, useful for tests
// and for single-tenant deployments that configure agents via environment
// variables rather than a database.
type StaticConfigStore struct {
	byAgentRef map[string]AgentConfig
	byRole     map[string]AgentConfig
}

// NewStaticConfigStore builds a ConfigStore from fixed agent/role tables.
func NewStaticConfigStore(byAgentRef, byRole map[string]AgentConfig) *StaticConfigStore {
	if byAgentRef == nil {
		byAgentRef = map[string]AgentConfig{}
	}
	if byRole == nil {
		byRole = map[string]AgentConfig{}
	}
	return &StaticConfigStore{byAgentRef: byAgentRef, byRole: byRole}
}

func (s *StaticConfigStore) ResolveAgent(_ context.Context, _, agentRef, role string) (*AgentConfig, error) {
	if agentRef != "" {
		if cfg, ok := s.byAgentRef[agentRef]; ok {
			return &cfg, nil
		}
	}
	if role != "" {
		if cfg, ok := s.byRole[role]; ok {
			return &cfg, nil
		}
	}
	return nil, &ConfigurationError{Message: "no agent binding for role=" + role + " agentRef=" + agentRef}
}
