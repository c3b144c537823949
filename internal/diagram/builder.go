package diagram

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/pkg/schema"
)

// Build constructs a Model from a stored definition. Steps are laid out in
// order between virtual start and end nodes; an optional condition gate sits
// between start and the first step.
func Build(def *store.Definition) *Model {
	return BuildWithExecution(def, nil, nil)
}

// BuildWithExecution constructs a Model and overlays per-step status from an
// execution and its logs. A nil execution yields a plain definition diagram.
func BuildWithExecution(def *store.Definition, ex *store.Execution, logs []*store.ExecutionLog) *Model {
	m := &Model{Title: def.Name}

	start := &Node{ID: "__start__", Label: string(def.Body.Trigger), Kind: NodeKindStart}
	m.Nodes = append(m.Nodes, start)
	prev := start.ID

	if def.Body.Condition != nil {
		gate := &Node{ID: "__condition__", Label: conditionLabel(def.Body.Condition), Kind: NodeKindCondition}
		m.Nodes = append(m.Nodes, gate)
		m.Edges = append(m.Edges, Edge{From: prev, To: gate.ID})
		prev = gate.ID
	}

	statuses := stepStatuses(ex, logs, len(def.Body.Actions))
	for i, step := range def.Body.Actions {
		node := stepNode(i, step)
		if st, ok := statuses[i]; ok {
			node.Status = st
		}
		m.Nodes = append(m.Nodes, node)
		edge := Edge{From: prev, To: node.ID}
		if prev == "__condition__" {
			edge.Label = "match"
		}
		m.Edges = append(m.Edges, edge)
		prev = node.ID
	}

	end := &Node{ID: "__end__", Label: "done", Kind: NodeKindEnd}
	m.Nodes = append(m.Nodes, end)
	m.Edges = append(m.Edges, Edge{From: prev, To: end.ID})
	return m
}

func stepNode(index int, step schema.ActionStep) *Node {
	id := stepID(index)
	switch step.Type {
	case schema.ActionBranch:
		node := &Node{ID: id, Label: "branch", Kind: NodeKindBranch}
		var p schema.BranchParams
		if json.Unmarshal(step.Params, &p) == nil {
			if p.Condition != nil {
				node.Label = "branch: " + conditionLabel(p.Condition)
			}
			if len(p.Then) > 0 {
				node.Children = append(node.Children, subGraph(id, "then", p.Then))
			}
			if len(p.Else) > 0 {
				node.Children = append(node.Children, subGraph(id, "else", p.Else))
			}
		}
		return node
	case schema.ActionParallel:
		node := &Node{ID: id, Label: "parallel", Kind: NodeKindParallel}
		var p schema.ParallelParams
		if json.Unmarshal(step.Params, &p) == nil && len(p.Actions) > 0 {
			node.Children = append(node.Children, subGraph(id, "actions", p.Actions))
		}
		return node
	case schema.ActionWait:
		label := "wait"
		var p schema.WaitParams
		if json.Unmarshal(step.Params, &p) == nil && p.Duration != "" {
			label = "wait " + p.Duration
		}
		return &Node{ID: id, Label: label, Kind: NodeKindWait}
	default:
		return &Node{ID: id, Label: string(step.Type), Kind: NodeKindAction}
	}
}

func subGraph(parentID, label string, steps []schema.ActionStep) *SubGraph {
	sg := &SubGraph{Label: label}
	for i, step := range steps {
		sub := stepNode(i, step)
		sub.ID = fmt.Sprintf("%s_%s_%d", parentID, label, i)
		sg.Nodes = append(sg.Nodes, sub)
	}
	return sg
}

func stepID(index int) string {
	return fmt.Sprintf("step_%d", index)
}

// stepStatuses derives a status per step index from the execution state and
// the recorded logs. Steps past a failure are marked skipped; the step a
// paused execution will resume at is marked suspended.
func stepStatuses(ex *store.Execution, logs []*store.ExecutionLog, steps int) map[int]*StatusOverlay {
	if ex == nil {
		return nil
	}
	statuses := make(map[int]*StatusOverlay, steps)
	failedAt := -1
	for _, entry := range logs {
		switch entry.Status {
		case schema.LogSuccess:
			statuses[entry.StepIndex] = &StatusOverlay{Status: "completed"}
		case schema.LogFailed:
			statuses[entry.StepIndex] = &StatusOverlay{Status: "failed", Error: entry.Error}
			failedAt = entry.StepIndex
		case schema.LogSkipped:
			statuses[entry.StepIndex] = &StatusOverlay{Status: "skipped"}
		}
	}
	for i := 0; i < steps; i++ {
		if _, ok := statuses[i]; ok {
			continue
		}
		switch {
		case failedAt >= 0 && i > failedAt:
			statuses[i] = &StatusOverlay{Status: "skipped"}
		case ex.Status == schema.ExecutionRunning && i == ex.CurrentStepIndex:
			statuses[i] = &StatusOverlay{Status: "running"}
		case ex.Status == schema.ExecutionPaused && i == ex.CurrentStepIndex:
			statuses[i] = &StatusOverlay{Status: "suspended"}
		default:
			statuses[i] = &StatusOverlay{Status: "pending"}
		}
	}
	return statuses
}

// conditionLabel summarizes a condition node in a few words.
func conditionLabel(node *schema.ConditionNode) string {
	switch node.Kind {
	case schema.CondAnd, schema.CondOr:
		parts := make([]string, 0, len(node.Children))
		for _, child := range node.Children {
			parts = append(parts, conditionLabel(child))
		}
		return fmt.Sprintf("%s(%s)", node.Kind, strings.Join(parts, ", "))
	case schema.CondStatusEquals:
		return "status = " + node.Status
	case schema.CondHasTag:
		return "has tag " + node.Tag
	case schema.CondFieldCompare:
		return fmt.Sprintf("%s %s %v", node.Path, node.Op, node.Value)
	case schema.CondExpression:
		return node.Expression
	default:
		return string(node.Kind)
	}
}
