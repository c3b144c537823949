// Package mcp exposes the automation engine as MCP tools so agents can
// fire events, inspect executions, control their lifecycle, and manage
// workflow definitions over the Model Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/clienthub/automation/internal/definitions"
	"github.com/clienthub/automation/internal/dispatch"
	"github.com/clienthub/automation/internal/engine"
	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/internal/streaming"
)

// AutomationServerDeps holds the dependencies for an AutomationServer.
type AutomationServerDeps struct {
	Store       store.Store
	Engine      *engine.Engine
	Dispatcher  *dispatch.Dispatcher
	Definitions *definitions.Service
	Hub         streaming.EventHub
	Logger      *slog.Logger
}

// AutomationServer wraps an MCP server with automation tool handlers.
type AutomationServer struct {
	store       store.Store
	engine      *engine.Engine
	dispatcher  *dispatch.Dispatcher
	definitions *definitions.Service
	hub         streaming.EventHub
	sessions    *SessionRegistry
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewAutomationServer creates an AutomationServer with all tools registered.
func NewAutomationServer(deps AutomationServerDeps) *AutomationServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &AutomationServer{
		store:       deps.Store,
		engine:      deps.Engine,
		dispatcher:  deps.Dispatcher,
		definitions: deps.Definitions,
		hub:         deps.Hub,
		sessions:    NewSessionRegistry(),
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"clienthub-automation",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("ClientHub Automation runs trigger-driven workflows over clients, tasks, and documents. Use automation.fire to raise a domain event or run one definition manually, automation.status to inspect an execution and its step logs, automation.signal to pause/resume/cancel an execution, automation.define to create a workflow definition, automation.clone to copy a template, and automation.query to list definitions or executions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *AutomationServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AutomationServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *AutomationServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: fireTool(), Handler: s.handleFire},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: signalTool(), Handler: s.handleSignal},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: cloneTool(), Handler: s.handleClone},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func fireTool() mcp.Tool {
	return mcp.NewTool("automation.fire",
		mcp.WithDescription("Raise a domain event, fanning it out to every matching active definition. With definition_id set, runs that single definition synchronously as a manual trigger instead."),
		mcp.WithString("trigger_type", mcp.Description("Domain event type (e.g. status-changed, task-completed). Required unless definition_id is set")),
		mcp.WithString("definition_id", mcp.Description("Run exactly this definition, manually")),
		mcp.WithString("client_id", mcp.Description("Client the event concerns")),
		mcp.WithString("actor_id", mcp.Description("Acting user, when the event has one")),
		mcp.WithObject("entity", mcp.Description("Entity snapshot at fire time")),
		mcp.WithObject("data", mcp.Description("Event-specific payload")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("automation.status",
		mcp.WithDescription("Get an execution's state and its per-step logs"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to inspect")),
	)
}

func signalTool() mcp.Tool {
	return mcp.NewTool("automation.signal",
		mcp.WithDescription("Control a live execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the target execution")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("pause", "resume", "cancel"),
			mcp.Description("Lifecycle action to apply"),
		),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("automation.define",
		mcp.WithDescription("Create a workflow definition (stored as version 1 after validation)"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Definition name")),
		mcp.WithObject("body", mcp.Required(), mcp.Description("Workflow body: trigger, trigger_config, condition, actions")),
		mcp.WithString("description", mcp.Description("Definition description")),
		mcp.WithBoolean("active", mcp.Description("Dispatchable immediately (default false)")),
		mcp.WithBoolean("template", mcp.Description("Store as a non-dispatchable template (default false)")),
		mcp.WithString("owner_id", mcp.Description("Owning actor")),
	)
}

func cloneTool() mcp.Tool {
	return mcp.NewTool("automation.clone",
		mcp.WithDescription("Clone a template into a new inactive version-1 definition, optionally overriding trigger config, the condition tree, or action steps by index"),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("ID of the template to clone")),
		mcp.WithString("name", mcp.Description("Name for the clone (default: template name + \" (copy)\")")),
		mcp.WithString("description", mcp.Description("Description for the clone")),
		mcp.WithString("owner_id", mcp.Description("Owning actor")),
		mcp.WithObject("overrides", mcp.Description("Optional overrides: trigger_config, condition, steps (map of step index to replacement step)")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("automation.query",
		mcp.WithDescription("Query definitions, executions, or execution logs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("definitions", "executions", "logs"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (trigger, active, template, status, definition_id, execution_id, since, limit)")),
	)
}
