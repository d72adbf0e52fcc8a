package router

import (
	"context"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// handleMCPToolExecute dispatches a tool invocation to the MCP supervisor and
// answers synchronously, per spec.md §4.6 (MCP tool calls do not go through
// the correlation table; the supervisor already blocks on its own child-
// process round trip).
func (r *Router) handleMCPToolExecute(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	var content mcpToolExecuteContent
	if err := env.Decode(&content); err != nil {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "malformed mcp.tool.execute content"))
		return
	}
	if content.ServerID == "" || content.ToolName == "" {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeUnsupportedField, "mcp.tool.execute requires serverId and toolName"))
		return
	}

	result, metadata, err := r.mcpSup.ToolCall(ctx, content.ServerID, content.ToolName, content.Parameters)
	if err != nil {
		if appErr, ok := apperr.As(err); ok {
			r.sendError(connID, env.ID, appErr)
		} else {
			r.sendError(connID, env.ID, apperr.MCP(apperr.CodeMCPToolError, err.Error()))
		}
		return
	}

	replyEnv, buildErr := wire.Reply(env.ID, wire.TypeMCPToolExecute, map[string]interface{}{
		"serverId": content.ServerID,
		"toolName": content.ToolName,
		"result":   result,
		"metadata": metadata,
	})
	r.send(connID, replyEnv, buildErr)
}
