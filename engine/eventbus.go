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
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// EventType names one of the wire events the bus carries. SSE event names
// and WebSocket event names share this single namespace — the SSE adapter
// in sse.go re-emits a subset of these under their spec.md §6 names.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventWorkflowCreated   EventType = "workflow_created"
	EventStepStart         EventType = "step_start"
	EventStepUpdate        EventType = "step_update"
	EventStepComplete      EventType = "step_complete"
	EventStepFailed        EventType = "step_failed"
	EventWorkflowStatus    EventType = "workflow_status"
	EventWorkflowComplete  EventType = "workflow_complete"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowAbort     EventType = "workflow_abort"
	EventGraphUpdate       EventType = "graph_update"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalDecided   EventType = "approval_decided"
	EventUserMessage       EventType = "message:new"

	EventApprovalCreated EventType = "approval:created"
	EventApprovalUpdated EventType = "approval:updated"
	EventApprovalDeleted EventType = "approval:deleted"
)

// Event is the single payload shape carried on every transport. ThreadID
// is empty for global lifecycle events delivered on /api/invoke-status/events.
type Event struct {
	Type     EventType      `json:"type"`
	ThreadID string         `json:"threadId,omitempty"`
	StepID   string         `json:"stepId,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// EventPublisher is the narrow interface Executors and the Scheduler use to
// emit progress; EventBus satisfies it.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler receives events delivered by an EventBus subscription.
// Handlers MUST be idempotent — cross-process replay may redeliver
// (spec.md §4.9).
type EventHandler func(Event)

// Transport is the pluggable delivery mechanism an EventBus layers local
// fan-out on top of. A nil Transport means local-only delivery.
type Transport interface {
	// Publish broadcasts event to every other process subscribed to channel.
	Publish(ctx context.Context, channel string, event Event) error
	// Subscribe delivers events published to channel to handler until ctx
	// is cancelled. Subscribe must not block the caller — it starts its own
	// goroutine and returns immediately.
	Subscribe(ctx context.Context, channel string, handler EventHandler) error
}

// EventBus is the pub/sub abstraction spec.md §4.9 describes: emit(event,
// data) / on(event, handler), with in-process fan-out always active and an
// optional cross-process Transport (Redis in production) layered on top.
type EventBus struct {
	mu        sync.RWMutex
	global    []EventHandler
	perThread map[string][]EventHandler

	transport   Transport
	channelName string
}

// NewEventBus builds a local-only EventBus. Call UseTransport to add
// cross-process delivery.
func NewEventBus() *EventBus {
	return &EventBus{perThread: make(map[string][]EventHandler)}
}

// UseTransport attaches a cross-process Transport (e.g. RedisTransport) and
// subscribes it back into this bus's local fan-out so events published by
// other processes reach local handlers too.
func (b *EventBus) UseTransport(ctx context.Context, channelName string, transport Transport) error {
	b.transport = transport
	b.channelName = channelName
	return transport.Subscribe(ctx, channelName, b.dispatchLocal)
}

// Publish fans event out to every handler registered for its ThreadID and
// every global handler, then forwards to the cross-process Transport if
// one is configured. Per-thread ordering within this process is preserved
// because dispatch happens synchronously on the publishing goroutine.
func (b *EventBus) Publish(event Event) {
	b.dispatchLocal(event)
	if b.transport != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Best-effort: a transport failure must not block local delivery
		// or fail the step that triggered the event (spec.md §7,
		// InfrastructureError fails open on the bus).
		_ = b.transport.Publish(ctx, b.channelName, event)
	}
}

func (b *EventBus) dispatchLocal(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.global {
		h(event)
	}
	if event.ThreadID != "" {
		for _, h := range b.perThread[event.ThreadID] {
			h(event)
		}
	}
}

// OnThread registers handler for every event carrying ThreadID threadID.
func (b *EventBus) OnThread(threadID string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.perThread[threadID] = append(b.perThread[threadID], handler)
}

// OnGlobal registers handler for every event regardless of ThreadID,
// matching the /api/invoke-status/events global stream.
func (b *EventBus) OnGlobal(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, handler)
}

// RemoveThread drops all handlers registered for threadID, used once a
// thread's SSE connection closes.
func (b *EventBus) RemoveThread(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.perThread, threadID)
}

// RedisTransport is the cross-process Transport backing production
// deployments, layered on go-redis/v8 Pub/Sub — grounded on the teacher's
// redis_rate_limit.go connection-pool idiom and, for the config-with-
// defaults shape, itsneelabh-gomind's RedisTaskQueue.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport parses redisURL and verifies connectivity.
func NewRedisTransport(ctx context.Context, redisURL string) (*RedisTransport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, &InfrastructureError{Component: "event bus redis transport", Message: err.Error()}
	}
	return &RedisTransport{client: client}, nil
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return t.client.Publish(ctx, channel, payload).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, handler EventHandler) error {
	pubsub := t.client.Subscribe(ctx, channel)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				handler(event)
			}
		}
	}()
	return nil
}
