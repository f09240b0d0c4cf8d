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
	"fmt"
	"net/http"
	"time"
)

// httpStatusError is implemented by every error kind below so HTTP
// handlers can pick a response code without string-matching messages.
type httpStatusError interface {
	error
	HTTPStatus() int
}

// ValidationError is a bad request shape: missing required fields, cyclic
// dependencies, malformed conditions.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string    { return "validation failed: " + e.Message }
func (e *ValidationError) HTTPStatus() int  { return http.StatusBadRequest }

// NotFoundError is an unknown threadId, role, or approval id.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string   { return "not found: " + e.Message }
func (e *NotFoundError) HTTPStatus() int { return http.StatusNotFound }

// ConfigurationError is a missing agent binding for a role or agentRef.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string   { return "invalid configuration: " + e.Message }
func (e *ConfigurationError) HTTPStatus() int { return http.StatusNotFound }

// InvalidTransition is raised when resolving a non-pending approval, or
// aborting an unknown thread.
type InvalidTransition struct {
	Message string
}

func (e *InvalidTransition) Error() string   { return "invalid transition: " + e.Message }
func (e *InvalidTransition) HTTPStatus() int { return http.StatusBadRequest }

// ExecutorError is recorded as a step's result and only propagates past
// the Scheduler boundary when it makes the workflow unschedulable.
type ExecutorError struct {
	StepID  string
	Message string
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor error in step %s: %s", e.StepID, e.Message)
}
func (e *ExecutorError) HTTPStatus() int { return http.StatusInternalServerError }

// AbortError is flagged on both the workflow and the step it interrupted;
// it always carries the last known session reference so resume can
// reattach to the same conversation.
type AbortError struct {
	StepID     string
	SessionRef string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("step %s aborted (sessionRef=%s)", e.StepID, e.SessionRef)
}
func (e *AbortError) HTTPStatus() int { return http.StatusOK }

// TimeoutError is an ExecutorError with a fixed message prefix so callers
// can tell a deadline-expiry apart from any other executor failure.
type TimeoutError struct {
	StepID string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Step timed out after %d seconds", int(e.After.Seconds()))
}
func (e *TimeoutError) HTTPStatus() int { return http.StatusInternalServerError }

// InfrastructureError covers a checkpoint store or event bus being
// unavailable. The Scheduler fails open on the bus (local delivery only)
// and fails closed on the store (aborts the thread).
type InfrastructureError struct {
	Component string
	Message   string
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Component, e.Message)
}
func (e *InfrastructureError) HTTPStatus() int { return http.StatusInternalServerError }

// HTTPStatusFor returns the status code an error maps to, defaulting to
// 500 for errors that don't implement httpStatusError.
func HTTPStatusFor(err error) int {
	if hse, ok := err.(httpStatusError); ok {
		return hse.HTTPStatus()
	}
	return http.StatusInternalServerError
}
