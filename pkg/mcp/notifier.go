package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/clienthub/automation/internal/streaming"
)

// ExecutionNotifier forwards execution stream events to connected MCP
// sessions as push notifications.
type ExecutionNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	hub       streaming.EventHub
}

// NewExecutionNotifier creates a notifier bound to the given hub.
func NewExecutionNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry, hub streaming.EventHub) *ExecutionNotifier {
	return &ExecutionNotifier{mcpServer: mcpServer, sessions: sessions, hub: hub}
}

// Forward subscribes to the hub and pushes each event to every connected
// session until ctx is cancelled. Best-effort: closed sessions are pruned,
// other send failures are ignored.
func (n *ExecutionNotifier) Forward(ctx context.Context, filter streaming.EventFilter) error {
	ch, cancel, err := n.hub.Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			n.broadcast(event)
		}
	}
}

func (n *ExecutionNotifier) broadcast(event streaming.StreamEvent) {
	payload := map[string]any{
		"execution_id":  event.ExecutionID,
		"definition_id": event.DefinitionID,
		"step_index":    event.StepIndex,
		"event_type":    event.EventType,
		"payload":       event.Payload,
	}
	for _, sessionID := range n.sessions.Sessions() {
		err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			n.sessions.Remove(sessionID)
		}
	}
}
