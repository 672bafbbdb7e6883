package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// Notifier pushes run updates to connected MCP clients.
type Notifier interface {
	Notify(ctx context.Context, sessionID string, payload map[string]any) error
}

// MCPNotifier implements Notifier with MCP server notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	watches   *WatchRegistry
}

// NewMCPNotifier creates a notifier that pushes through mcpServer.
func NewMCPNotifier(mcpServer *server.MCPServer, watches *WatchRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, watches: watches}
}

// Notify sends a notification to the session. A session that has gone away
// loses its watches and is not an error.
func (n *MCPNotifier) Notify(_ context.Context, sessionID string, payload map[string]any) error {
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.watches.RemoveSession(sessionID)
		return nil
	}
	return err
}
