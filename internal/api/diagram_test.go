package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/pkg/schema"
)

func TestDefinitionDiagramEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := h.do(t, http.MethodPost, "/api/definitions",
		definitionPayload("Diagrammed flow", schema.TriggerStatusChanged, false))
	require.Equal(t, http.StatusCreated, rec.Code)
	var def store.Definition
	decodeBody(t, rec, &def)

	rec = h.do(t, http.MethodGet, "/api/definitions/"+def.ID+"/diagram", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "graph TD")
	assert.Contains(t, rec.Body.String(), `step_0["add-tag"]`)

	rec = h.do(t, http.MethodGet, "/api/definitions/"+def.ID+"/diagram?format=png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, rec.Body.Bytes()[:4])

	rec = h.do(t, http.MethodGet, "/api/definitions/"+def.ID+"/diagram?format=svg", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/definitions/missing/diagram", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecutionDiagramEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := h.do(t, http.MethodPost, "/api/definitions",
		definitionPayload("Manual diagram", schema.TriggerManual, false))
	require.Equal(t, http.StatusCreated, rec.Code)
	var def store.Definition
	decodeBody(t, rec, &def)

	rec = h.do(t, http.MethodPost, "/api/definitions/"+def.ID+"/fire", map[string]any{
		"client_id": h.client.ID,
		"entity":    h.client.Snapshot(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var ex store.Execution
	decodeBody(t, rec, &ex)

	rec = h.do(t, http.MethodGet, "/api/executions/"+ex.ID+"/diagram", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "class step_0 completed")
}
