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
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// JavaScriptExecutor evaluates a step's task as a call into a fixed
// utility surface rather than embedding a real JS VM — per spec.md §9's
// re-architecture guidance ("expose the same utility surface as a pure
// function library callable from an embedded expression evaluator").
// Supported call forms (the task string, after template resolution, must
// be exactly one of these):
//
//	sum(a, b, ...)                  numeric sum
//	avg(a, b, ...)                  numeric average
//	extractNumbers(text)            all numbers found in text, comma-joined
//	extractEmails(text)             all emails found in text, comma-joined
//	wordCount(text)                 integer word count
//	validate.email(text)            "true" | "false"
//	validate.url(text)              "true" | "false"
//	analyze.sentiment(text)         "positive" | "negative" | "neutral"
//	outputs.<stepId>                raw prior step output
//
// There is no general expression grammar, no property access beyond the
// forms above, and no user-defined functions — the sandbox this stands in
// for "forbids access to the host filesystem, network, process, and
// module loader" by construction: it can't reach any of them.
type JavaScriptExecutor struct{}

func (e *JavaScriptExecutor) Execute(_ context.Context, sc StepContext) StepResult {
	started := time.Now()
	resolved := strings.TrimSpace(ResolveTemplate(sc.Step.Task, sc.State))

	result, err := evalJSUtility(resolved, sc.State)
	if err != nil {
		return failedResult(sc.Step.ID, started, err.Error())
	}
	return StepResult{
		ID:         sc.Step.ID,
		Status:     StatusSuccess,
		Response:   result,
		DurationMs: time.Since(started).Milliseconds(),
	}
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)
var urlPattern = regexp.MustCompile(`^https?://[^\s]+$`)

func evalJSUtility(expr string, state *WorkflowState) (string, error) {
	switch {
	case strings.HasPrefix(expr, "outputs."):
		stepID := strings.TrimPrefix(expr, "outputs.")
		output, ok := state.StepOutputs[stepID]
		if !ok {
			return "", fmt.Errorf("outputs.%s: no such step output", stepID)
		}
		return output, nil
	case strings.HasPrefix(expr, "sum(") && strings.HasSuffix(expr, ")"):
		nums, err := parseNumberArgs(expr, "sum")
		if err != nil {
			return "", err
		}
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return strconv.FormatFloat(total, 'g', -1, 64), nil
	case strings.HasPrefix(expr, "avg(") && strings.HasSuffix(expr, ")"):
		nums, err := parseNumberArgs(expr, "avg")
		if err != nil {
			return "", err
		}
		if len(nums) == 0 {
			return "", fmt.Errorf("avg() requires at least one argument")
		}
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return strconv.FormatFloat(total/float64(len(nums)), 'g', -1, 64), nil
	case strings.HasPrefix(expr, "extractNumbers(") && strings.HasSuffix(expr, ")"):
		text := unwrapCall(expr, "extractNumbers")
		found := numberPattern.FindAllString(text, -1)
		return strings.Join(found, ","), nil
	case strings.HasPrefix(expr, "extractEmails(") && strings.HasSuffix(expr, ")"):
		text := unwrapCall(expr, "extractEmails")
		found := emailPattern.FindAllString(text, -1)
		return strings.Join(found, ","), nil
	case strings.HasPrefix(expr, "wordCount(") && strings.HasSuffix(expr, ")"):
		text := unwrapCall(expr, "wordCount")
		return strconv.Itoa(len(strings.Fields(text))), nil
	case strings.HasPrefix(expr, "validate.email(") && strings.HasSuffix(expr, ")"):
		text := unwrapCall(expr, "validate.email")
		return strconv.FormatBool(emailPattern.MatchString(text)), nil
	case strings.HasPrefix(expr, "validate.url(") && strings.HasSuffix(expr, ")"):
		text := unwrapCall(expr, "validate.url")
		return strconv.FormatBool(urlPattern.MatchString(text)), nil
	case strings.HasPrefix(expr, "analyze.sentiment(") && strings.HasSuffix(expr, ")"):
		text := unwrapCall(expr, "analyze.sentiment")
		return analyzeSentiment(text), nil
	default:
		return "", fmt.Errorf("unsupported expression: %q", expr)
	}
}

func unwrapCall(expr, name string) string {
	inner := strings.TrimSuffix(strings.TrimPrefix(expr, name+"("), ")")
	return unquoteArg(strings.TrimSpace(inner))
}

func unquoteArg(arg string) string {
	if len(arg) >= 2 && (arg[0] == '"' || arg[0] == '\'') && arg[len(arg)-1] == arg[0] {
		return arg[1 : len(arg)-1]
	}
	return arg
}

func parseNumberArgs(expr, name string) ([]float64, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(expr, name+"("), ")")
	if strings.TrimSpace(inner) == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	nums := make([]float64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", name, p)
		}
		nums = append(nums, n)
	}
	return nums, nil
}

var positiveWords = []string{"good", "great", "excellent", "success", "happy", "love", "works", "passed"}
var negativeWords = []string{"bad", "fail", "error", "broken", "hate", "terrible", "crash", "failed"}

func analyzeSentiment(text string) string {
	lower := strings.ToLower(text)
	positive, negative := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			positive++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			negative++
		}
	}
	switch {
	case positive > negative:
		return "positive"
	case negative > positive:
		return "negative"
	default:
		return "neutral"
	}
}
