package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/registry"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// handleTaskForward relays task.notification, task.message, and
// task.messageresponse to an agent-task's originator — a client connection
// directly, or a delegating agent's current connection. Per spec.md §4.5,
// ordering for one task id is preserved because the gateway's per-connection
// read pump calls Route synchronously.
func (r *Router) handleTaskForward(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	var content taskRefContent
	if err := env.Decode(&content); err != nil || content.TaskID == "" {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, env.Type+" requires a taskId"))
		return
	}

	t, ok := r.agentTasks.Get(content.TaskID)
	if !ok {
		r.log.Warn("task forward for unknown agent-task", zap.String("taskId", content.TaskID))
		return
	}

	switch t.RequesterRole {
	case "agent":
		if agent, ok := r.agents.ByID(t.RequesterID); ok && agent.ConnectionID != "" {
			r.send(agent.ConnectionID, env, nil)
		}
	default: // "client"
		r.send(t.RequesterID, env, nil)
	}
}

// taskStatusContent mirrors taskRefContent plus the replayed fields a client
// re-subscribing to a task's status receives (a supplemented feature: the
// original system let a client miss intermediate notifications and recover
// by re-querying status with full history).
type taskStatusContent struct {
	TaskID  string      `json:"taskId"`
	Status  string      `json:"status"`
	History interface{} `json:"history,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// handleTaskStatus answers a client's task.status query with the task's
// current status and full history, allowing a reconnecting client to replay
// everything it missed instead of only the latest notification.
func (r *Router) handleTaskStatus(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	var content taskRefContent
	if err := env.Decode(&content); err != nil || content.TaskID == "" {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "task.status requires a taskId"))
		return
	}

	t, ok := r.agentTasks.Get(content.TaskID)
	if !ok {
		r.sendError(connID, env.ID, apperr.Task(apperr.CodeUnknownTask, "unknown task: "+content.TaskID))
		return
	}

	replyEnv, buildErr := wire.Reply(env.ID, wire.TypeTaskStatus, taskStatusContent{
		TaskID:  t.ID,
		Status:  string(t.Status),
		History: t.History,
		Result:  t.Result,
		Error:   t.Error,
	})
	r.send(connID, replyEnv, buildErr)
}

func (r *Router) handleAgentStatus(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	r.updatePeerStatus(r.agents, "agent", connID, env)
}

func (r *Router) handleServiceStatus(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	r.updatePeerStatus(r.services, "service", connID, env)
}

func (r *Router) updatePeerStatus(reg *registry.Registry, kind, connID string, env *wire.Envelope) {
	var content statusUpdateContent
	if err := env.Decode(&content); err != nil || content.Status == "" {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, kind+".status requires a status"))
		return
	}

	peer, ok := reg.ByConnectionID(connID)
	if !ok {
		r.sendError(connID, env.ID, apperr.Routing(apperr.CodePeerNotFound, "no registered "+kind+" on this connection"))
		return
	}

	if err := reg.UpdateStatus(peer.ID, registry.Status(content.Status)); err != nil {
		if appErr, ok := apperr.As(err); ok {
			r.sendError(connID, env.ID, appErr)
		} else {
			r.sendError(connID, env.ID, apperr.Routing(apperr.CodeUnsupportedField, err.Error()))
		}
	}
}

// handlePing answers every ping with pong, echoing the caller's request id.
func (r *Router) handlePing(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	replyEnv, buildErr := wire.Reply(env.ID, wire.TypePong, struct{}{})
	r.send(connID, replyEnv, buildErr)
}

// handlePong absorbs a pong into any outstanding correlation waiter for it;
// an unsolicited pong with no matching waiter is simply dropped, per
// spec.md §3 ("unsolicited pong responses are absorbed by the correlation
// table").
func (r *Router) handlePong(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	if env.RequestID != "" {
		r.corr.Resolve(env.RequestID, env.Type, env)
	}
}
