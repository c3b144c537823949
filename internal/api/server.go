// Package api exposes the observability and control surface over HTTP:
// JSON endpoints for definitions, executions, and logs, lifecycle
// controls, manual firing, and SSE event streams.
package api

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/clienthub/automation/internal/definitions"
	"github.com/clienthub/automation/internal/dispatch"
	"github.com/clienthub/automation/internal/engine"
	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/internal/streaming"
)

// Deps holds the collaborators for the API server.
type Deps struct {
	Store       store.Store
	Engine      *engine.Engine
	Dispatcher  *dispatch.Dispatcher
	Definitions *definitions.Service
	Hub         streaming.EventHub
	Logger      *slog.Logger
}

// Server serves the JSON/SSE API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Definitions.
	mux.HandleFunc("GET /api/definitions", s.handleListDefinitions)
	mux.HandleFunc("POST /api/definitions", s.handleCreateDefinition)
	mux.HandleFunc("GET /api/definitions/{id}", s.handleGetDefinition)
	mux.HandleFunc("PUT /api/definitions/{id}", s.handleUpdateDefinition)
	mux.HandleFunc("DELETE /api/definitions/{id}", s.handleDeleteDefinition)
	mux.HandleFunc("POST /api/definitions/{id}/activate", s.handleActivateDefinition)
	mux.HandleFunc("POST /api/definitions/{id}/deactivate", s.handleDeactivateDefinition)
	mux.HandleFunc("POST /api/definitions/{id}/clone", s.handleCloneDefinition)
	mux.HandleFunc("POST /api/definitions/{id}/fire", s.handleFireManual)
	mux.HandleFunc("GET /api/definitions/{id}/diagram", s.handleDefinitionDiagram)

	// Events.
	mux.HandleFunc("POST /api/events", s.handleFireEvent)

	// Executions.
	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/logs", s.handleExecutionLogs)
	mux.HandleFunc("GET /api/executions/{id}/diagram", s.handleExecutionDiagram)
	mux.HandleFunc("POST /api/executions/{id}/pause", s.handlePauseExecution)
	mux.HandleFunc("POST /api/executions/{id}/resume", s.handleResumeExecution)
	mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancelExecution)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/executions/{id}", s.handleSSEExecution)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
