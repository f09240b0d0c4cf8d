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
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// sseHeartbeatInterval matches spec.md §6's SSE framing: a comment frame
// every 30 seconds to keep intermediaries from closing idle connections.
const sseHeartbeatInterval = 30 * time.Second

// sseWriter frames one event onto w per spec.md §6: "event: <name>\ndata:
// <json>\n\n". Returns false if w isn't an http.Flusher (caller should
// abort the stream).
func sseWriter(w http.ResponseWriter) (func(eventType EventType, data any) bool, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	write := func(eventType EventType, data any) bool {
		payload, err := json.Marshal(data)
		if err != nil {
			return false
		}
		if _, err := w.Write([]byte("event: " + string(eventType) + "\ndata: " + string(payload) + "\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	return write, true
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// ThreadStreamHandler serves GET /api/invoke/stream/:threadId: an SSE
// stream of every event carrying threadID, framed per spec.md §6, with a
// `connected` opening frame and a `:heartbeat\n\n` comment every 30s.
func ThreadStreamHandler(events *EventBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := mux.Vars(r)["threadId"]
		if threadID == "" {
			http.Error(w, "threadId required", http.StatusBadRequest)
			return
		}
		sseHeaders(w)
		write, ok := sseWriter(w)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		write(EventConnected, map[string]any{})

		msgs := make(chan Event, 32)
		events.OnThread(threadID, func(e Event) {
			select {
			case msgs <- e:
			default: // slow consumer: drop rather than block publishers
			}
		})
		defer events.RemoveThread(threadID)

		ticker := time.NewTicker(sseHeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := w.Write([]byte(":heartbeat\n\n")); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			case e := <-msgs:
				if !write(sseEventName(e), sseEventPayload(e)) {
					return
				}
			}
		}
	}
}

// GlobalStreamHandler serves GET /api/invoke-status/events: the same
// framing as ThreadStreamHandler but fed from every published event
// regardless of threadId.
func GlobalStreamHandler(events *EventBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		write, ok := sseWriter(w)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		write(EventConnected, map[string]any{})

		msgs := make(chan Event, 128)
		events.OnGlobal(func(e Event) {
			select {
			case msgs <- e:
			default:
			}
		})

		ticker := time.NewTicker(sseHeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := w.Write([]byte(":heartbeat\n\n")); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			case e := <-msgs:
				if !write(sseEventName(e), sseEventPayload(e)) {
					return
				}
			}
		}
	}
}

// sseEventName maps the internal EventType namespace onto spec.md §6's SSE
// event names; most already match 1:1, step_start/step_complete/step_failed
// fold into the single "step_update" name the SSE contract uses.
func sseEventName(e Event) EventType {
	switch e.Type {
	case EventStepStart, EventStepComplete, EventStepFailed:
		return EventStepUpdate
	case EventWorkflowComplete, EventWorkflowFailed, EventWorkflowAbort:
		return EventWorkflowStatus
	default:
		return e.Type
	}
}

func sseEventPayload(e Event) map[string]any {
	payload := map[string]any{"type": string(e.Type), "threadId": e.ThreadID}
	if e.StepID != "" {
		payload["stepId"] = e.StepID
	}
	for k, v := range e.Data {
		payload[k] = v
	}
	return payload
}
