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
	"testing"

	"github.com/stretchr/testify/assert"
)

func ctxWithStep(id string, status StepStatus, response string) ConditionContext {
	return ConditionContext{
		StepResults: map[string]StepResult{
			id: {ID: id, Status: status, Response: response},
		},
		StepOutputs: map[string]string{id: response},
	}
}

func TestEvaluate_StructuredEquals_True(t *testing.T) {
	cond := &Condition{
		Version: "2.0",
		RootGroup: &Group{
			Combinator: CombinatorAnd,
			Rules: []Rule{
				{
					Left:     Operand{StepID: "s1", Field: "output"},
					Op:       "equals",
					Right:    Operand{Type: "string", Literal: "success"},
					DataType: "string",
				},
			},
		},
	}
	result := Evaluate(cond, ctxWithStep("s1", StatusSuccess, "success"))
	assert.True(t, result.Result)
	assert.Empty(t, result.Error)
}

func TestEvaluate_StructuredEquals_False(t *testing.T) {
	cond := &Condition{
		Version: "2.0",
		RootGroup: &Group{
			Combinator: CombinatorAnd,
			Rules: []Rule{
				{
					Left:     Operand{StepID: "s1", Field: "output"},
					Op:       "equals",
					Right:    Operand{Type: "string", Literal: "success"},
					DataType: "string",
				},
			},
		},
	}
	// Mock executor's canonical response is "Hello World" — scenario 1 of
	// spec.md §8 expects this to evaluate false and route to falseBranch.
	result := Evaluate(cond, ctxWithStep("s1", StatusSuccess, "Hello World"))
	assert.False(t, result.Result)
}

func TestEvaluate_EmptyGroup_ANDYieldsTrue(t *testing.T) {
	cond := &Condition{Version: "2.0", RootGroup: &Group{Combinator: CombinatorAnd}}
	assert.True(t, Evaluate(cond, ConditionContext{}).Result)
}

func TestEvaluate_EmptyGroup_ORYieldsFalse(t *testing.T) {
	cond := &Condition{Version: "2.0", RootGroup: &Group{Combinator: CombinatorOr}}
	assert.False(t, Evaluate(cond, ConditionContext{}).Result)
}

func TestEvaluate_UnknownStepID_ErrorsFalse(t *testing.T) {
	cond := &Condition{
		Version: "2.0",
		RootGroup: &Group{
			Combinator: CombinatorAnd,
			Rules: []Rule{
				{Left: Operand{StepID: "missing", Field: "output"}, Op: "equals", Right: Operand{Literal: "x"}, DataType: "string"},
			},
		},
	}
	result := Evaluate(cond, ConditionContext{})
	assert.False(t, result.Result)
	assert.NotEmpty(t, result.Error)
}

func TestEvaluate_StructuredNumericComparison(t *testing.T) {
	cond := &Condition{
		Version: "2.0",
		RootGroup: &Group{
			Combinator: CombinatorAnd,
			Rules: []Rule{
				{Left: Operand{StepID: "s1", Field: "output"}, Op: "gt", Right: Operand{Literal: "10"}, DataType: "number"},
			},
		},
	}
	assert.True(t, Evaluate(cond, ctxWithStep("s1", StatusSuccess, "42")).Result)
	assert.False(t, Evaluate(cond, ctxWithStep("s1", StatusSuccess, "4")).Result)
}

func TestEvaluate_Subgroups_OR(t *testing.T) {
	cond := &Condition{
		Version: "2.0",
		RootGroup: &Group{
			Combinator: CombinatorOr,
			Subgroups: []Group{
				{
					Combinator: CombinatorAnd,
					Rules: []Rule{
						{Left: Operand{StepID: "s1", Field: "status"}, Op: "equals", Right: Operand{Literal: "failed"}, DataType: "string"},
					},
				},
				{
					Combinator: CombinatorAnd,
					Rules: []Rule{
						{Left: Operand{StepID: "s1", Field: "status"}, Op: "equals", Right: Operand{Literal: "success"}, DataType: "string"},
					},
				},
			},
		},
	}
	assert.True(t, Evaluate(cond, ctxWithStep("s1", StatusSuccess, "ok")).Result)
}

func TestEvaluate_LegacyExpression(t *testing.T) {
	cond := &Condition{Expression: `{s1.output} == "success"`}
	assert.True(t, Evaluate(cond, ctxWithStep("s1", StatusSuccess, "success")).Result)
	assert.False(t, Evaluate(cond, ctxWithStep("s1", StatusSuccess, "nope")).Result)
}

func TestEvaluate_LegacyBareString(t *testing.T) {
	cond := &Condition{Expression: "true"}
	assert.True(t, Evaluate(cond, ConditionContext{}).Result)
}

func TestEvaluate_LegacyIncludes(t *testing.T) {
	cond := &Condition{Expression: `{s1.output}.includes("wor")`}
	assert.True(t, Evaluate(cond, ctxWithStep("s1", StatusSuccess, "hello world")).Result)
}

func TestEvaluate_LegacyParseIntComparison(t *testing.T) {
	cond := &Condition{Expression: `parseInt({s1.output}) >= 100`}
	assert.True(t, Evaluate(cond, ctxWithStep("s1", StatusSuccess, "150")).Result)
	assert.False(t, Evaluate(cond, ctxWithStep("s1", StatusSuccess, "50")).Result)
}

func TestEvaluate_LegacyAndOrNot(t *testing.T) {
	cond := &Condition{Expression: `!false && (true || false)`}
	assert.True(t, Evaluate(cond, ConditionContext{}).Result)
}

func TestEvaluate_LegacyMalformedExpressionForcesFalse(t *testing.T) {
	cond := &Condition{Expression: `{s1.output} &&&`}
	result := Evaluate(cond, ctxWithStep("s1", StatusSuccess, "true"))
	assert.False(t, result.Result)
	assert.NotEmpty(t, result.Error)
}

func TestConditionJSON_BareStringRoundTrip(t *testing.T) {
	var c Condition
	err := c.UnmarshalJSON([]byte(`"{s1.output} == \"x\""`))
	assert.NoError(t, err)
	assert.Equal(t, `{s1.output} == "x"`, c.Expression)

	data, err := c.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"{s1.output} == \"x\""`, string(data))
}
