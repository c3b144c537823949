// gen-diagrams generates sample diagram outputs for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clienthub/automation/internal/diagram"
	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/pkg/schema"
)

func main() {
	def := &store.Definition{
		ID:   "sample",
		Name: "VIP churn rescue",
		Body: schema.WorkflowDefinition{
			Trigger:   schema.TriggerStatusChanged,
			Condition: &schema.ConditionNode{Kind: schema.CondHasTag, Tag: "vip"},
			Actions: []schema.ActionStep{
				{Type: schema.ActionAddTag, Params: mustJSON(map[string]any{"tag": "rescue"})},
				{Type: schema.ActionWait, Params: mustJSON(map[string]any{"duration": "48h"})},
				{Type: schema.ActionBranch, Params: mustJSON(map[string]any{
					"condition": map[string]any{"kind": "status-equals", "status": "active"},
					"then": []map[string]any{
						{"type": "send-email", "params": map[string]any{"template_id": "tpl-thanks"}},
					},
					"else": []map[string]any{
						{"type": "create-task", "params": map[string]any{"title": "Call the client", "priority": "high"}},
					},
				})},
			},
		},
	}

	ex := &store.Execution{ID: "ex-sample", Status: schema.ExecutionPaused, CurrentStepIndex: 2}
	logs := []*store.ExecutionLog{
		{StepIndex: 0, Status: schema.LogSuccess},
		{StepIndex: 1, Status: schema.LogSuccess},
	}

	model := diagram.BuildWithExecution(def, ex, logs)

	outDir := filepath.Join("docs", "assets")
	os.MkdirAll(outDir, 0o755)

	mermaid := diagram.RenderMermaid(model)
	os.WriteFile(filepath.Join(outDir, "diagram-mermaid.md"), []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644)
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	png, err := diagram.RenderImage(context.Background(), model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", err)
		return
	}
	pngPath := filepath.Join(outDir, "diagram-sample.png")
	os.WriteFile(pngPath, png, 0o644)
	fmt.Printf("=== Image (PNG) ===\nWritten: %s (%d bytes)\n", pngPath, len(png))
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
