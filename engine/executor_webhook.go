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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// webhookMaxAttempts and webhookAttemptTimeout implement spec.md §4.4's
// Webhook executor policy: "Up to 3 attempts with exponential backoff (1s,
// 2s, 4s); 30s per-attempt timeout."
const (
	webhookMaxAttempts     = 3
	webhookAttemptTimeout  = 30 * time.Second
	webhookOutputTruncKiB  = 1024
)

var webhookBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// WebhookExecutor POSTs a JSON payload to a validated http(s) URL.
type WebhookExecutor struct {
	// HTTPClient is overridable for tests; if nil, Execute creates one
	// plain *http.Client and reuses it for all of its attempts.
	HTTPClient *http.Client
}

// webhookPayload is the wire shape spec.md §4.4 specifies:
// {metadata, step, outputs, summary}, with outputs truncated to 1 KiB per
// step.
type webhookPayload struct {
	Metadata map[string]any    `json:"metadata"`
	Step     WorkflowStep      `json:"step"`
	Outputs  map[string]string `json:"outputs"`
	Summary  string            `json:"summary"`
}

func (e *WebhookExecutor) Execute(ctx context.Context, sc StepContext) StepResult {
	started := time.Now()
	step := sc.Step

	resolvedURL := ResolveTemplate(step.Task, sc.State)
	if err := validateWebhookURL(resolvedURL); err != nil {
		return failedResult(step.ID, started, err.Error())
	}

	payload := webhookPayload{
		Metadata: map[string]any{"threadId": sc.State.ThreadID, "projectId": sc.State.ProjectID},
		Step:     step,
		Outputs:  truncateOutputs(sc.State.StepOutputs, webhookOutputTruncKiB),
		Summary:  fmt.Sprintf("workflow %s step %s", sc.State.ThreadID, step.ID),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failedResult(step.ID, started, "marshal webhook payload: "+err.Error())
	}

	client := e.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	var lastErr error
	for attempt := 0; attempt < webhookMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				now := time.Now()
				return StepResult{ID: step.ID, Status: StatusAborted, DurationMs: time.Since(started).Milliseconds(), AbortedAt: &now}
			case <-time.After(webhookBackoff[attempt-1]):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, webhookAttemptTimeout)
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, resolvedURL, bytes.NewReader(body))
		if err != nil {
			cancel()
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return StepResult{
				ID:         step.ID,
				Status:     StatusSuccess,
				Response:   fmt.Sprintf("webhook responded %d", resp.StatusCode),
				DurationMs: time.Since(started).Milliseconds(),
			}
		}
		lastErr = fmt.Errorf("webhook responded %d", resp.StatusCode)
	}

	return failedResult(step.ID, started, (&ExecutorError{StepID: step.ID, Message: lastErr.Error()}).Error())
}

func validateWebhookURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("webhook url must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("webhook url has no host")
	}
	return nil
}

func truncateOutputs(outputs map[string]string, maxBytesPerStep int) map[string]string {
	truncated := make(map[string]string, len(outputs))
	for id, out := range outputs {
		if len(out) > maxBytesPerStep {
			truncated[id] = out[:maxBytesPerStep]
		} else {
			truncated[id] = out
		}
	}
	return truncated
}
