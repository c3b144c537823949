// Package diagram renders workflow definitions as Mermaid flowcharts or
// Graphviz PNG images, optionally overlaying per-step status from an
// execution's logs.
package diagram

// NodeKind classifies a diagram node by the workflow element it represents.
type NodeKind string

const (
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
	NodeKindCondition NodeKind = "condition"
	NodeKindAction    NodeKind = "action"
	NodeKindBranch    NodeKind = "branch"
	NodeKindParallel  NodeKind = "parallel"
	NodeKindWait      NodeKind = "wait"
)

// Model is the intermediate representation shared by all renderers.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is a single element of the flowchart.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Status   *StatusOverlay
	Children []*SubGraph // branch then/else, parallel sub-actions
}

// SubGraph holds the nested steps of a flow control node.
type SubGraph struct {
	Label string
	Nodes []*Node
}

// StatusOverlay carries runtime state for a node when the diagram is built
// from an execution rather than a bare definition.
type StatusOverlay struct {
	Status string // completed | failed | running | suspended | pending | skipped
	Error  string
}

// Edge connects two nodes in step order.
type Edge struct {
	From  string
	To    string
	Label string
}
