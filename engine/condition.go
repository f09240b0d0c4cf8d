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
	"strconv"
)

// ConditionContext is the read-only view of run state the Condition
// Evaluator consults to resolve stepId/field operand references.
type ConditionContext struct {
	StepResults map[string]StepResult
	StepOutputs map[string]string
	SessionRefs map[string]string
	ThreadID    string
	ProjectID   string
}

// ConditionResult is the outcome of Evaluate: exactly one of true/false,
// plus an optional error explaining why the result was forced to false.
type ConditionResult struct {
	Result bool
	Error  string
}

// NewConditionContext builds a ConditionContext from a WorkflowState.
func NewConditionContext(state *WorkflowState) ConditionContext {
	return ConditionContext{
		StepResults: state.StepResults,
		StepOutputs: state.StepOutputs,
		SessionRefs: state.SessionRefs,
		ThreadID:    state.ThreadID,
		ProjectID:   state.ProjectID,
	}
}

// Evaluate classifies a Condition against ctx. It always returns exactly
// one of true/false (spec.md §8 "Conditional totality"); any evaluation
// error forces the result to false and is reported in ConditionResult.Error
// so conditional steps are observably routed to their false branch.
func Evaluate(cond *Condition, ctx ConditionContext) ConditionResult {
	if cond == nil {
		return ConditionResult{Result: false, Error: "nil condition"}
	}
	if cond.IsStructured() {
		result, err := evaluateGroup(*cond.RootGroup, ctx)
		if err != nil {
			return ConditionResult{Result: false, Error: err.Error()}
		}
		return ConditionResult{Result: result}
	}

	resolved := resolveLegacyExpression(cond.Expression, ctx)
	result, err := EvaluateLegacyExpression(resolved)
	if err != nil {
		return ConditionResult{Result: false, Error: err.Error()}
	}
	return ConditionResult{Result: result}
}

// resolveLegacyExpression resolves {stepId.output}-style references inside
// a legacy expression string, quoting substituted content so the
// downstream tokenizer always sees a well-formed string literal even when
// the substituted text itself contains spaces or operator characters.
func resolveLegacyExpression(expr string, ctx ConditionContext) string {
	state := &WorkflowState{
		ThreadID:    ctx.ThreadID,
		ProjectID:   ctx.ProjectID,
		StepOutputs: quoteAll(ctx.StepOutputs),
	}
	return ResolveTemplate(expr, state)
}

func quoteAll(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = strconv.Quote(v)
	}
	return out
}

// evaluateGroup evaluates a structured v2.0 Group tree. AND/OR
// short-circuit; an empty rules+subgroups Group yields true for AND,
// false for OR (spec.md §4.2).
func evaluateGroup(g Group, ctx ConditionContext) (bool, error) {
	isAnd := g.Combinator == CombinatorAnd
	if len(g.Rules) == 0 && len(g.Subgroups) == 0 {
		return isAnd, nil
	}

	for _, rule := range g.Rules {
		result, err := evaluateRule(rule, ctx)
		if err != nil {
			return false, err
		}
		if isAnd && !result {
			return false, nil
		}
		if !isAnd && result {
			return true, nil
		}
	}
	for _, sub := range g.Subgroups {
		result, err := evaluateGroup(sub, ctx)
		if err != nil {
			return false, err
		}
		if isAnd && !result {
			return false, nil
		}
		if !isAnd && result {
			return true, nil
		}
	}
	// All operands evaluated without short-circuiting: AND survives all
	// true, OR found none true.
	return isAnd, nil
}

func evaluateRule(rule Rule, ctx ConditionContext) (bool, error) {
	left, err := resolveOperand(rule.Left, ctx, rule.DataType)
	if err != nil {
		return false, fmt.Errorf("left operand: %w", err)
	}
	right, err := resolveOperand(rule.Right, ctx, rule.DataType)
	if err != nil {
		return false, fmt.Errorf("right operand: %w", err)
	}

	op := ruleOpToExprOp(rule.Op)
	if op == "" {
		return false, fmt.Errorf("unsupported operator %q", rule.Op)
	}
	if op == "contains" {
		return stringContains(left, right), nil
	}
	result, err := compareExprValues(left, op, right)
	if err != nil {
		return false, err
	}
	return result.asBool(), nil
}

func ruleOpToExprOp(op string) string {
	switch op {
	case "equals":
		return "=="
	case "notEquals":
		return "!="
	case "gt":
		return ">"
	case "gte":
		return ">="
	case "lt":
		return "<"
	case "lte":
		return "<="
	case "contains":
		return "contains"
	default:
		return ""
	}
}

func stringContains(left, right exprValue) bool {
	return contains(left.String(), right.String())
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

// resolveOperand resolves a Rule operand: a {stepId, field} reference
// pulls from run state; otherwise it's a literal, coerced to dataType.
func resolveOperand(op Operand, ctx ConditionContext, dataType string) (exprValue, error) {
	if op.StepID != "" {
		raw, err := fieldValue(op.StepID, op.Field, ctx)
		if err != nil {
			return exprValue{}, err
		}
		return coerce(raw, dataType)
	}
	return coerce(fmt.Sprintf("%v", op.Literal), firstNonEmpty(op.Type, dataType))
}

func fieldValue(stepID, field string, ctx ConditionContext) (string, error) {
	result, ok := ctx.StepResults[stepID]
	if !ok {
		return "", fmt.Errorf("referenced step %q has no result", stepID)
	}
	switch field {
	case "", "output", "response":
		return result.Response, nil
	case "status":
		return string(result.Status), nil
	default:
		return "", fmt.Errorf("unsupported field %q", field)
	}
}

func coerce(raw, dataType string) (exprValue, error) {
	switch dataType {
	case "number":
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return exprValue{}, fmt.Errorf("cannot coerce %q to number: %w", raw, err)
		}
		return numberValue(n), nil
	case "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return exprValue{}, fmt.Errorf("cannot coerce %q to boolean: %w", raw, err)
		}
		return boolValue(b), nil
	default:
		return stringValue(raw), nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
