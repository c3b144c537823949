package api

import (
	"fmt"
	"net/http"

	"github.com/clienthub/automation/internal/diagram"
)

// handleDefinitionDiagram renders a definition's flowchart. The format query
// parameter selects mermaid text (default) or a PNG image.
func (s *Server) handleDefinitionDiagram(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Definitions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.renderDiagram(w, r, diagram.Build(def))
}

// handleExecutionDiagram renders the execution's definition with per-step
// status overlaid from its logs.
func (s *Server) handleExecutionDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ex, err := s.deps.Store.GetExecution(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	def, err := s.deps.Store.GetDefinition(ctx, ex.DefinitionID)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := s.deps.Store.ListLogs(ctx, ex.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.renderDiagram(w, r, diagram.BuildWithExecution(def, ex, logs))
}

func (s *Server) renderDiagram(w http.ResponseWriter, r *http.Request, model *diagram.Model) {
	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(diagram.RenderMermaid(model)))
	case "png":
		img, err := diagram.RenderImage(r.Context(), model)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	default:
		writeBadRequest(w, fmt.Sprintf("unknown diagram format %q (want mermaid or png)", format))
	}
}
