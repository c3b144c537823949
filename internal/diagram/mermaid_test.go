package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/pkg/schema"
)

func TestRenderMermaidShapes(t *testing.T) {
	out := RenderMermaid(Build(sampleDefinition(t)))

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% vip follow-up")
	assert.Contains(t, out, `__start__(("status-changed"))`)
	assert.Contains(t, out, `__condition__{"has tag vip"}`)
	assert.Contains(t, out, `step_1(["wait 48h"])`)
	assert.Contains(t, out, `step_2{"branch: status = active"}`)
	assert.Contains(t, out, "subgraph step_2_then")
	assert.Contains(t, out, "subgraph step_2_else")
	assert.Contains(t, out, "__condition__ -->|match| step_0")
	assert.Contains(t, out, `__end__(("done"))`)
}

func TestRenderMermaidStatusClasses(t *testing.T) {
	def := sampleDefinition(t)
	ex := &store.Execution{ID: "ex-1", Status: schema.ExecutionFailed}
	logs := []*store.ExecutionLog{
		{StepIndex: 0, Status: schema.LogSuccess},
		{StepIndex: 1, Status: schema.LogFailed, Error: "boom"},
	}

	out := RenderMermaid(BuildWithExecution(def, ex, logs))
	assert.Contains(t, out, "classDef failed")
	assert.Contains(t, out, "class step_0 completed")
	assert.Contains(t, out, "class step_1 failed")
	assert.Contains(t, out, "class step_2 skipped")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "a_b_c_d", mermaidSafeID("a.b-c d"))
}
