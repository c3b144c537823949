package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clienthub/automation/internal/definitions"
	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/pkg/schema"
)

const defaultListLimit = 50

// --- Definitions ---

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	filter := store.DefinitionFilter{
		Limit:  queryInt(r, "limit", defaultListLimit),
		Offset: queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("trigger"); v != "" {
		trigger := schema.TriggerType(v)
		filter.Trigger = &trigger
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active := v == "true"
		filter.Active = &active
	}
	if v := r.URL.Query().Get("template"); v != "" {
		template := v == "true"
		filter.Template = &template
	}

	defs, err := s.deps.Definitions.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"definitions": defs, "count": len(defs)})
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Definitions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string                    `json:"name"`
		Description string                    `json:"description"`
		Body        schema.WorkflowDefinition `json:"body"`
		Active      bool                      `json:"active"`
		Template    bool                      `json:"template"`
		OwnerID     string                    `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	def, err := s.deps.Definitions.Create(r.Context(), definitions.CreateInput{
		Name:        body.Name,
		Description: body.Description,
		Body:        body.Body,
		Active:      body.Active,
		Template:    body.Template,
		OwnerID:     body.OwnerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleUpdateDefinition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        *string                    `json:"name"`
		Description *string                    `json:"description"`
		Body        *schema.WorkflowDefinition `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	def, err := s.deps.Definitions.Update(r.Context(), r.PathValue("id"), definitions.UpdateInput{
		Name:        body.Name,
		Description: body.Description,
		Body:        body.Body,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Definitions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleActivateDefinition(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Definitions.Activate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleDeactivateDefinition(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Definitions.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleCloneDefinition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string                     `json:"name"`
		Description string                     `json:"description"`
		OwnerID     string                     `json:"owner_id"`
		Overrides   struct {
			TriggerConfig *schema.TriggerConfig       `json:"trigger_config"`
			Condition     *schema.ConditionNode       `json:"condition"`
			Steps         map[int]schema.ActionStep   `json:"steps"`
		} `json:"overrides"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	clone, err := s.deps.Definitions.CloneTemplate(r.Context(), r.PathValue("id"), definitions.CloneInput{
		Name:        body.Name,
		Description: body.Description,
		OwnerID:     body.OwnerID,
		Overrides: definitions.CloneOverrides{
			TriggerConfig: body.Overrides.TriggerConfig,
			Condition:     body.Overrides.Condition,
			Steps:         body.Overrides.Steps,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}

// handleFireManual runs one definition synchronously against the supplied
// context and returns the finished (or paused) execution.
func (s *Server) handleFireManual(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID string         `json:"client_id"`
		ActorID  string         `json:"actor_id"`
		Entity   map[string]any `json:"entity"`
		Data     map[string]any `json:"data"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}

	event := &schema.TriggerEvent{
		Type:       schema.TriggerManual,
		ClientID:   body.ClientID,
		ActorID:    body.ActorID,
		Entity:     body.Entity,
		Data:       body.Data,
		OccurredAt: time.Now().UTC(),
	}
	ex, err := s.deps.Dispatcher.FireManual(r.Context(), r.PathValue("id"), event)
	if err != nil {
		writeError(w, err)
		return
	}
	if ex == nil {
		writeJSON(w, http.StatusOK, map[string]any{"matched": false})
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

// handleFireEvent fans a domain event out to every matching definition.
func (s *Server) handleFireEvent(w http.ResponseWriter, r *http.Request) {
	var event schema.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	dispatched, err := s.deps.Dispatcher.Fire(r.Context(), &event)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"dispatched": dispatched})
}

// --- Executions ---

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{
		DefinitionID: r.URL.Query().Get("definition_id"),
		Limit:        queryInt(r, "limit", defaultListLimit),
		Offset:       queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := schema.ExecutionStatus(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("trigger"); v != "" {
		trigger := schema.TriggerType(v)
		filter.Trigger = &trigger
	}

	executions, err := s.deps.Store.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "count": len(executions)})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	ex, err := s.deps.Store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handleExecutionLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.deps.Store.ListLogs(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

func (s *Server) handlePauseExecution(w http.ResponseWriter, r *http.Request) {
	ex, err := s.deps.Engine.Pause(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handleResumeExecution(w http.ResponseWriter, r *http.Request) {
	ex, err := s.deps.Engine.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	ex, err := s.deps.Engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}
