package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/clienthub/automation/internal/definitions"
	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/pkg/schema"
)

// handleFire raises a domain event. With definition_id set it runs that one
// definition synchronously as a manual trigger; otherwise it fans the event
// out and returns the dispatch count.
func (s *AutomationServer) handleFire(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	definitionID := req.GetString("definition_id", "")
	triggerType := req.GetString("trigger_type", "")
	if definitionID == "" && triggerType == "" {
		return mcp.NewToolResultError("either trigger_type or definition_id is required"), nil
	}

	actorID := req.GetString("actor_id", "")
	if actorID != "" {
		s.captureSession(ctx, actorID)
	}

	event := &schema.TriggerEvent{
		Type:       schema.TriggerType(triggerType),
		ClientID:   req.GetString("client_id", ""),
		ActorID:    actorID,
		Entity:     mcp.ParseStringMap(req, "entity", nil),
		Data:       mcp.ParseStringMap(req, "data", nil),
		OccurredAt: time.Now().UTC(),
	}

	if definitionID != "" {
		ex, err := s.dispatcher.FireManual(ctx, definitionID, event)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("manual fire failed: %v", err)), nil
		}
		if ex == nil {
			return marshalResult(map[string]any{"matched": false})
		}
		return marshalResult(ex)
	}

	dispatched, err := s.dispatcher.Fire(ctx, event)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fire failed: %v", err)), nil
	}
	return marshalResult(map[string]any{
		"trigger_type": triggerType,
		"dispatched":   dispatched,
	})
}

// handleStatus returns one execution and its step logs.
func (s *AutomationServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	ex, exErr := s.store.GetExecution(ctx, executionID)
	if exErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution lookup failed: %v", exErr)), nil
	}
	logs, logErr := s.store.ListLogs(ctx, executionID)
	if logErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("log lookup failed: %v", logErr)), nil
	}

	return marshalResult(map[string]any{
		"execution": ex,
		"logs":      logs,
	})
}

// handleSignal applies a lifecycle action to an execution.
func (s *AutomationServer) handleSignal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	var ex *store.Execution
	var actErr error
	switch action {
	case "pause":
		ex, actErr = s.engine.Pause(ctx, executionID)
	case "resume":
		ex, actErr = s.engine.Resume(ctx, executionID)
	case "cancel":
		ex, actErr = s.engine.Cancel(ctx, executionID)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
	if actErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", action, actErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":           true,
		"execution_id": executionID,
		"action":       action,
		"status":       ex.Status,
	})
}

// handleDefine creates a new workflow definition.
func (s *AutomationServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	bodyRaw := mcp.ParseStringMap(req, "body", nil)
	if bodyRaw == nil {
		return mcp.NewToolResultError("body is required"), nil
	}

	// Round-trip through JSON to get a typed WorkflowDefinition.
	bodyBytes, marshalErr := json.Marshal(bodyRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid body: %v", marshalErr)), nil
	}
	var body schema.WorkflowDefinition
	if unmarshalErr := json.Unmarshal(bodyBytes, &body); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid body: %v", unmarshalErr)), nil
	}

	ownerID := req.GetString("owner_id", "")
	if ownerID != "" {
		s.captureSession(ctx, ownerID)
	}

	def, createErr := s.definitions.Create(ctx, definitions.CreateInput{
		Name:        name,
		Description: req.GetString("description", ""),
		Body:        body,
		Active:      req.GetBool("active", false),
		Template:    req.GetBool("template", false),
		OwnerID:     ownerID,
	})
	if createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("define failed: %v", createErr)), nil
	}

	return marshalResult(map[string]any{
		"definition_id": def.ID,
		"name":          def.Name,
		"version":       def.Version,
		"active":        def.Active,
		"template":      def.Template,
	})
}

// handleClone copies a template into a new inactive version-1 definition.
func (s *AutomationServer) handleClone(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templateID, err := req.RequireString("template_id")
	if err != nil {
		return mcp.NewToolResultError("template_id is required"), nil
	}

	var overrides definitions.CloneOverrides
	if raw := mcp.ParseStringMap(req, "overrides", nil); raw != nil {
		rawBytes, marshalErr := json.Marshal(raw)
		if marshalErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid overrides: %v", marshalErr)), nil
		}
		var decoded struct {
			TriggerConfig *schema.TriggerConfig     `json:"trigger_config"`
			Condition     *schema.ConditionNode     `json:"condition"`
			Steps         map[int]schema.ActionStep `json:"steps"`
		}
		if unmarshalErr := json.Unmarshal(rawBytes, &decoded); unmarshalErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid overrides: %v", unmarshalErr)), nil
		}
		overrides = definitions.CloneOverrides{
			TriggerConfig: decoded.TriggerConfig,
			Condition:     decoded.Condition,
			Steps:         decoded.Steps,
		}
	}

	ownerID := req.GetString("owner_id", "")
	if ownerID != "" {
		s.captureSession(ctx, ownerID)
	}

	clone, cloneErr := s.definitions.CloneTemplate(ctx, templateID, definitions.CloneInput{
		Name:        req.GetString("name", ""),
		Description: req.GetString("description", ""),
		OwnerID:     ownerID,
		Overrides:   overrides,
	})
	if cloneErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("clone failed: %v", cloneErr)), nil
	}

	return marshalResult(map[string]any{
		"definition_id": clone.ID,
		"name":          clone.Name,
		"version":       clone.Version,
		"active":        clone.Active,
	})
}

// handleQuery lists definitions, executions, or logs based on filters.
func (s *AutomationServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "definitions":
		return s.queryDefinitions(ctx, filter)
	case "executions":
		return s.queryExecutions(ctx, filter)
	case "logs":
		return s.queryLogs(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *AutomationServer) queryDefinitions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	df := store.DefinitionFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if trigger, ok := filter["trigger"].(string); ok && trigger != "" {
		tt := schema.TriggerType(trigger)
		df.Trigger = &tt
	}
	if active, ok := filter["active"].(bool); ok {
		df.Active = &active
	}
	if template, ok := filter["template"].(bool); ok {
		df.Template = &template
	}
	if ownerID, ok := filter["owner_id"].(string); ok {
		df.OwnerID = ownerID
	}

	defs, err := s.store.ListDefinitions(ctx, df)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"definitions": defs})
}

func (s *AutomationServer) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if defID, ok := filter["definition_id"].(string); ok {
		ef.DefinitionID = defID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		es := schema.ExecutionStatus(status)
		ef.Status = &es
	}
	if trigger, ok := filter["trigger"].(string); ok && trigger != "" {
		tt := schema.TriggerType(trigger)
		ef.Trigger = &tt
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, parseErr := time.Parse(time.RFC3339, since); parseErr == nil {
			ef.Since = &t
		}
	}

	executions, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": executions})
}

func (s *AutomationServer) queryLogs(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	executionID, ok := filter["execution_id"].(string)
	if !ok || executionID == "" {
		return mcp.NewToolResultError("log query requires 'execution_id' in filter"), nil
	}

	logs, err := s.store.ListLogs(ctx, executionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"logs": logs})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n)
		}
	}
	return defaultVal
}

// captureSession maps the actor ID to its current MCP session for
// notifications.
func (s *AutomationServer) captureSession(ctx context.Context, actorID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(actorID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
