package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage renders a Model as a PNG image using graphviz.
func RenderImage(ctx context.Context, model *Model) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	index := map[string]*cgraph.Node{}
	for _, node := range model.Nodes {
		gvNode, err := addNode(graph, node)
		if err != nil {
			return nil, err
		}
		index[node.ID] = gvNode

		for _, sg := range node.Children {
			cluster, err := graph.CreateSubGraphByName("cluster_" + node.ID + "_" + sg.Label)
			if err != nil {
				continue
			}
			cluster.SetLabel(sg.Label)
			cluster.SetStyle(cgraph.DashedGraphStyle)
			for _, sub := range sg.Nodes {
				if gvSub, err := addNode(cluster, sub); err == nil {
					index[sub.ID] = gvSub
				}
			}
		}
	}

	for _, edge := range model.Edges {
		from, to := index[edge.From], index[edge.To]
		if from == nil || to == nil {
			continue
		}
		gvEdge, err := graph.CreateEdgeByName("", from, to)
		if err == nil && edge.Label != "" {
			gvEdge.SetLabel(edge.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func addNode(g *cgraph.Graph, node *Node) (*cgraph.Node, error) {
	gvNode, err := g.CreateNodeByName(node.ID)
	if err != nil {
		return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, err)
	}
	gvNode.SetLabel(firstLine(node.Label))
	gvNode.SetShape(shapeFor(node.Kind))
	if node.Kind == NodeKindStart || node.Kind == NodeKindEnd {
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	}
	if node.Status != nil {
		colorNode(gvNode, node.Status.Status)
	}
	return gvNode, nil
}

func shapeFor(kind NodeKind) cgraph.Shape {
	switch kind {
	case NodeKindCondition, NodeKindBranch:
		return cgraph.DiamondShape
	case NodeKindWait:
		return cgraph.EllipseShape
	case NodeKindStart, NodeKindEnd:
		return cgraph.CircleShape
	default:
		return cgraph.BoxShape
	}
}

func colorNode(gvNode *cgraph.Node, status string) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch status {
	case "completed":
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case "failed":
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case "running":
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	case "suspended":
		gvNode.SetFillColor("#b7791a")
		gvNode.SetFontColor("white")
	case "pending":
		gvNode.SetFillColor("#d3d3d3")
		gvNode.SetFontColor("black")
	case "skipped":
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#888888")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
}
