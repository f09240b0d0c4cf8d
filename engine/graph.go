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
	"sort"
	"time"
)

// NodeData carries the visualization payload for one Node (spec.md §6).
type NodeData struct {
	AgentID        string     `json:"agentId,omitempty"`
	Role           string     `json:"role,omitempty"`
	Task           string     `json:"task"`
	Status         StepStatus `json:"status"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	Output         string     `json:"output,omitempty"`
	Error          string     `json:"error,omitempty"`
	SessionID      string     `json:"sessionId,omitempty"`
	IterationCount int        `json:"iterationCount,omitempty"`
}

// Node is one visualization vertex: a step, or (consolidated mode) a
// logical grouping of steps by role.
type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"` // "step" | "operator"
	Data     NodeData `json:"data"`
	Position Position `json:"position"`
}

// Position is the graph layout hint; a single left-to-right row (Y is
// always 0, X is the node's index times 220, in step-id order for
// detailed mode and bucket order for consolidated mode), grounded on the
// teacher's execution-order rendering rather than a full force-directed layout.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// EdgeData carries the visualization payload for one Edge.
type EdgeData struct {
	Label     string `json:"label,omitempty"`
	Condition string `json:"condition,omitempty"`
	Iterations int   `json:"iterations,omitempty"`
}

// Edge is one visualization connector between two Nodes.
type Edge struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Type     string   `json:"type"` // "dependency" | "conditional" | "loop"
	Animated bool     `json:"animated"`
	Data     EdgeData `json:"data,omitempty"`
}

// Loop describes one Loop-kind step's observed iteration count.
type Loop struct {
	StepID     string `json:"stepId"`
	Iterations int    `json:"iterations"`
}

// Execution is the run-trace portion of the graph contract.
type Execution struct {
	Path         []string   `json:"path"`
	Loops        []Loop     `json:"loops"`
	CurrentNode  *string    `json:"currentNode,omitempty"`
	ResumePoints []string   `json:"resumePoints"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
}

// Graph is the full visualization contract returned by
// GET /api/workflow-graph/:threadId (spec.md §6).
type Graph struct {
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	Execution Execution `json:"execution"`
}

// consolidatedRoles caps consolidated-mode grouping at these three logical
// buckets, in priority order, per spec.md §6.
var consolidatedRoles = []string{"Developer", "Reviewer", "Operator"}

// GenerateGraph builds the visualization contract for cw/state. When
// consolidateLoops is true, steps are grouped by role into at most three
// logical nodes with aggregated iteration counts instead of one node per
// step. Deterministic: identical cw/state inputs always produce identical
// node/edge ids (spec.md §8's "Graph generation is deterministic" law),
// since every ordering decision here sorts by step id rather than
// iterating a map directly.
//
// Grounded on workflow_engine.go's StepExecution start/end/output
// accounting, reshaped into the Node/Edge contract of spec.md §6.
func GenerateGraph(cw *CompiledWorkflow, state *WorkflowState, consolidateLoops bool) Graph {
	if consolidateLoops {
		return generateConsolidatedGraph(cw, state)
	}
	return generateDetailedGraph(cw, state)
}

func generateDetailedGraph(cw *CompiledWorkflow, state *WorkflowState) Graph {
	var nodes []Node
	var edges []Edge

	for i, step := range sortedSteps(cw) {
		nodes = append(nodes, stepNode(step, state, i))
		for _, dep := range step.Deps {
			edges = append(edges, Edge{
				ID: dep + "->" + step.ID, Source: dep, Target: step.ID,
				Type: "dependency", Animated: isAnimated(state, dep, step.ID),
			})
		}
		if step.Kind == KindParallel {
			for _, child := range step.ParallelSteps {
				edges = append(edges, Edge{
					ID: step.ID + "->" + child, Source: step.ID, Target: child,
					Type: "dependency", Animated: isAnimated(state, step.ID, child),
				})
			}
		}
		if step.Kind == KindLoop {
			edges = append(edges, Edge{
				ID: step.ID + "->loop", Source: step.ID, Target: step.ID,
				Type: "loop", Data: EdgeData{Iterations: len(step.Items)},
			})
		}
	}

	for _, depID := range sortedKeys(cw.ConditionalEdges) {
		for _, cond := range cw.ConditionalEdges[depID] {
			var label string
			if cond.Condition != nil {
				label = cond.Condition.Expression
			}
			if cond.TrueBranch != "" && cond.TrueBranch != "end" {
				edges = append(edges, Edge{
					ID: depID + "->" + cond.TrueBranch + ":true", Source: depID, Target: cond.TrueBranch,
					Type: "conditional", Data: EdgeData{Label: "true", Condition: label},
				})
			}
			if cond.FalseBranch != "" && cond.FalseBranch != "end" {
				edges = append(edges, Edge{
					ID: depID + "->" + cond.FalseBranch + ":false", Source: depID, Target: cond.FalseBranch,
					Type: "conditional", Data: EdgeData{Label: "false", Condition: label},
				})
			}
		}
	}

	return Graph{Nodes: nodes, Edges: edges, Execution: buildExecution(cw, state)}
}

func generateConsolidatedGraph(cw *CompiledWorkflow, state *WorkflowState) Graph {
	bucketOf := make(map[string]string) // stepID -> bucket name
	seen := make(map[string]int)        // role -> bucket index
	nextBucket := 0

	for _, step := range sortedSteps(cw) {
		role := step.Role
		idx, ok := seen[role]
		if !ok {
			if nextBucket < len(consolidatedRoles) {
				idx = nextBucket
				seen[role] = idx
				nextBucket++
			} else {
				idx = len(consolidatedRoles) - 1 // overflow folds into the last bucket
			}
		}
		bucketOf[step.ID] = consolidatedRoles[idx]
	}

	type bucketAgg struct {
		status         StepStatus
		task           string
		iterationCount int
		output         string
		errMsg         string
	}
	aggByBucket := make(map[string]*bucketAgg)
	order := make([]string, 0, 3)
	for _, step := range sortedSteps(cw) {
		bucket := bucketOf[step.ID]
		agg, ok := aggByBucket[bucket]
		if !ok {
			agg = &bucketAgg{status: StatusNotExecuted}
			aggByBucket[bucket] = agg
			order = append(order, bucket)
		}
		agg.iterationCount++
		if r, ok := state.StepResults[step.ID]; ok {
			agg.status = r.Status
			if r.Response != "" {
				agg.output = r.Response
			}
			if r.Error != "" {
				agg.errMsg = r.Error
			}
		}
		if agg.task == "" {
			agg.task = step.Task
		}
	}

	var nodes []Node
	for i, bucket := range order {
		agg := aggByBucket[bucket]
		nodes = append(nodes, Node{
			ID:   bucket,
			Type: "operator",
			Data: NodeData{
				Role: bucket, Task: agg.task, Status: agg.status,
				Output: agg.output, Error: agg.errMsg, IterationCount: agg.iterationCount,
			},
			Position: Position{X: i * 220, Y: 0},
		})
	}

	var edges []Edge
	edgeSeen := make(map[string]bool)
	for _, step := range sortedSteps(cw) {
		target := bucketOf[step.ID]
		for _, dep := range step.Deps {
			source := bucketOf[dep]
			if source == target {
				continue
			}
			id := source + "->" + target
			if edgeSeen[id] {
				continue
			}
			edgeSeen[id] = true
			edges = append(edges, Edge{ID: id, Source: source, Target: target, Type: "dependency"})
		}
	}

	return Graph{Nodes: nodes, Edges: edges, Execution: buildExecution(cw, state)}
}

func buildExecution(cw *CompiledWorkflow, state *WorkflowState) Execution {
	var path, resumePoints []string
	for _, id := range sortedResultIDs(state) {
		r := state.StepResults[id]
		switch r.Status {
		case StatusSuccess:
			path = append(path, id)
		case StatusFailed, StatusBlocked, StatusAborted:
			resumePoints = append(resumePoints, id)
		}
	}
	sort.Strings(resumePoints)

	var loops []Loop
	for _, step := range sortedSteps(cw) {
		if step.Kind == KindLoop {
			loops = append(loops, Loop{StepID: step.ID, Iterations: len(step.Items)})
		}
	}

	var currentNode *string
	if state.Status == WorkflowRunning {
		for _, step := range sortedSteps(cw) {
			if _, done := state.StepResults[step.ID]; !done && cw.Ready(step, state) {
				id := step.ID
				currentNode = &id
				break
			}
		}
	}

	var endTime *time.Time
	if state.Status != WorkflowRunning {
		t := state.UpdatedAt
		endTime = &t
	}

	return Execution{
		Path: path, Loops: loops, CurrentNode: currentNode,
		ResumePoints: resumePoints, StartTime: state.CreatedAt, EndTime: endTime,
	}
}

func stepNode(step WorkflowStep, state *WorkflowState, index int) Node {
	data := NodeData{Role: step.Role, AgentID: step.AgentRef, Task: step.Task, Status: StatusNotExecuted}
	if r, ok := state.StepResults[step.ID]; ok {
		data.Status = r.Status
		data.Output = r.Response
		data.Error = r.Error
		if r.DurationMs > 0 {
			end := state.UpdatedAt
			start := end.Add(-time.Duration(r.DurationMs) * time.Millisecond)
			data.StartTime = &start
			data.EndTime = &end
		}
	}
	if ref, ok := state.SessionRefs[step.ID]; ok {
		data.SessionID = ref
	}
	return Node{ID: step.ID, Type: "step", Data: data, Position: Position{X: index * 220, Y: 0}}
}

func isAnimated(state *WorkflowState, from, to string) bool {
	fromDone := state.StepResults[from].Status == StatusSuccess
	_, toStarted := state.StepResults[to]
	return fromDone && !toStarted
}

func sortedSteps(cw *CompiledWorkflow) []WorkflowStep {
	out := append([]WorkflowStep(nil), cw.Steps...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedKeys(m map[string][]WorkflowStep) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedResultIDs(state *WorkflowState) []string {
	out := make([]string, 0, len(state.StepResults))
	for id := range state.StepResults {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
