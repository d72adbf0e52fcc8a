package router

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/registry"
	"github.com/meshrelay/orchestrator/internal/wire"
)

func (r *Router) handleAgentRegister(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	r.register(r.agents, "agent", wire.TypeAgentRegistered, connID, env)
}

func (r *Router) handleServiceRegister(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	r.register(r.services, "service", wire.TypeServiceRegistered, connID, env)
}

func (r *Router) register(reg *registry.Registry, kind, replyType, connID string, env *wire.Envelope) {
	var content registerContent
	if err := env.Decode(&content); err != nil {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "malformed "+kind+".register content"))
		return
	}

	id := content.ID
	if id == "" {
		id = uuid.New().String()
	}

	peer, err := reg.Register(&registry.Peer{
		ID:           id,
		Name:         content.Name,
		Capabilities: content.Capabilities,
		Manifest:     content.Manifest,
	}, connID)
	if err != nil {
		if appErr, ok := apperr.As(err); ok {
			r.sendError(connID, env.ID, appErr)
		} else {
			r.sendError(connID, env.ID, apperr.Routing(apperr.CodeDuplicateName, err.Error()))
		}
		return
	}

	replyEnv, buildErr := wire.Reply(env.ID, replyType, registeredContent{
		ID:      peer.ID,
		Name:    peer.Name,
		Welcome: kind + " registered",
	})
	r.send(connID, replyEnv, buildErr)
	r.log.Info("peer registered", zap.String("kind", kind), zap.String("id", peer.ID), zap.String("name", peer.Name))
}
