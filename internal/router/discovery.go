package router

import (
	"context"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/registry"
	"github.com/meshrelay/orchestrator/internal/wire"
)

func (r *Router) handleAgentListRequest(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	r.listPeers(r.agents, wire.TypeAgentList, connID, env)
}

func (r *Router) handleAgentAgentListRequest(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	r.listPeers(r.agents, wire.TypeAgentList, connID, env)
}

func (r *Router) handleAgentServiceListRequest(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	r.listPeers(r.services, wire.TypeAgentList, connID, env)
}

// listPeers decodes an optional filter, queries reg, and replies with
// replyType carrying the matching peer summaries (spec.md §4.5 Discovery).
func (r *Router) listPeers(reg *registry.Registry, replyType, connID string, env *wire.Envelope) {
	var filterContent listFilterContent
	_ = env.Decode(&filterContent)

	filter := registry.Filter{
		Capabilities: filterContent.Capabilities,
		NameContains: filterContent.NameContains,
	}
	if filterContent.Status != "" {
		st := registry.Status(filterContent.Status)
		filter.Status = &st
	}

	peers := reg.List(filter)
	summaries := make([]peerSummary, 0, len(peers))
	for _, p := range peers {
		summaries = append(summaries, peerSummary{
			ID:           p.ID,
			Name:         p.Name,
			Status:       string(p.Status),
			Capabilities: p.Capabilities,
		})
	}

	replyEnv, buildErr := wire.Reply(env.ID, replyType, map[string]interface{}{
		"peers": summaries,
	})
	r.send(connID, replyEnv, buildErr)
}

func (r *Router) handleServiceToolsList(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	var content struct {
		ServiceID string `json:"serviceId"`
	}
	if err := env.Decode(&content); err != nil || content.ServiceID == "" {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "service.tools.list requires a serviceId"))
		return
	}

	peer, ok := r.services.ByID(content.ServiceID)
	if !ok {
		r.sendError(connID, env.ID, apperr.Routing(apperr.CodePeerNotFound, "unknown service: "+content.ServiceID))
		return
	}

	replyEnv, buildErr := wire.Reply(env.ID, wire.TypeServiceToolsList, map[string]interface{}{
		"serviceId":    peer.ID,
		"capabilities": peer.Capabilities,
	})
	r.send(connID, replyEnv, buildErr)
}

func (r *Router) handleAgentMCPServersList(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	r.listMCPServers(wire.TypeAgentMCPServersList, connID, env)
}

func (r *Router) handleMCPServersList(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	r.listMCPServers(wire.TypeMCPServersList, connID, env)
}

func (r *Router) listMCPServers(replyType, connID string, env *wire.Envelope) {
	servers := r.mcpSup.List()
	summaries := make([]map[string]interface{}, 0, len(servers))
	for _, s := range servers {
		summaries = append(summaries, map[string]interface{}{
			"id":           s.ID,
			"name":         s.Name,
			"status":       string(s.Status),
			"capabilities": s.Capabilities,
		})
	}
	replyEnv, buildErr := wire.Reply(env.ID, replyType, map[string]interface{}{
		"servers": summaries,
	})
	r.send(connID, replyEnv, buildErr)
}

func (r *Router) handleMCPToolsList(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	var content struct {
		ServerID string `json:"serverId"`
	}
	if err := env.Decode(&content); err != nil || content.ServerID == "" {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "mcp.tools.list requires a serverId"))
		return
	}

	srv, ok := r.mcpSup.Resolve(content.ServerID)
	if !ok {
		r.sendError(connID, env.ID, apperr.MCP(apperr.CodeMCPNotConnected, "unknown MCP server: "+content.ServerID))
		return
	}

	if err := r.mcpSup.Connect(ctx, srv.ID); err != nil {
		r.sendError(connID, env.ID, apperr.MCP(apperr.CodeMCPHandshakeFailed, err.Error()))
		return
	}
	srv, _ = r.mcpSup.Resolve(srv.ID)

	replyEnv, buildErr := wire.Reply(env.ID, wire.TypeMCPToolsList, map[string]interface{}{
		"serverId": srv.ID,
		"tools":    srv.Tools,
	})
	r.send(connID, replyEnv, buildErr)
}
