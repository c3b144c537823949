package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
		for _, sg := range node.Children {
			b.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n",
				mermaidSafeID(node.ID+"_"+sg.Label), sg.Label))
			for _, sub := range sg.Nodes {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(sub)))
			}
			b.WriteString("    end\n")
		}
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef suspended fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		writeStatusClass(&b, node)
		for _, sg := range node.Children {
			for _, sub := range sg.Nodes {
				writeStatusClass(&b, sub)
			}
		}
	}

	return b.String()
}

func writeStatusClass(b *strings.Builder, node *Node) {
	if node.Status == nil || node.Status.Status == "" {
		return
	}
	b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), node.Status.Status))
}

// mermaidNodeDef returns a node definition with the shape for its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Kind {
	case NodeKindCondition, NodeKindBranch:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindParallel:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
