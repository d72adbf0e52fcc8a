package router

import (
	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/registry"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// HandleDisconnect is called directly by the gateway when a connection
// closes — not via Route, since it is not triggered by an inbound envelope.
// It clears the connection↔peer binding (keeping the peer record, per
// spec.md §3) and force-fails every non-terminal task tied to that peer,
// rejecting any correlation waiter installed on its behalf.
func (r *Router) HandleDisconnect(role wire.Role, connID string) {
	var reg *registry.Registry
	switch role {
	case wire.RoleAgent:
		reg = r.agents
	case wire.RoleService:
		reg = r.services
	case wire.RoleClient:
		reg = r.clients
	default:
		return
	}

	peer, hadPeer := reg.ByConnectionID(connID)
	reg.RemoveConnection(connID)

	// A task's RequesterID is whatever handleTaskCreate/handleAgentRequest
	// stored: a client's connection id directly (clients never register a
	// Peer, so connID is the only identifier a client-originated task is
	// ever indexed under), or a delegating agent's peer id (falling back to
	// its connection id when unregistered). Sweep by connID unconditionally
	// so a disconnecting client's in-flight task is force-failed, then also
	// by peer.ID when it differs, so a registered agent/service's assigned
	// and delegated tasks are caught too.
	name := connID
	if hadPeer {
		name = peer.Name
	}
	r.sweepNonTerminal(connID, role, name)
	if hadPeer && peer.ID != connID {
		r.sweepNonTerminal(peer.ID, role, peer.Name)
	}

	if hadPeer {
		r.log.Info("peer disconnected", zap.String("role", string(role)), zap.String("id", peer.ID), zap.String("name", peer.Name))
	} else {
		r.log.Info("connection closed", zap.String("role", string(role)), zap.String("connection_id", connID))
	}
}

// sweepNonTerminal force-fails every non-terminal agent-task and
// service-task indexed under id, whether id is a connection id or a
// registered peer id.
func (r *Router) sweepNonTerminal(id string, role wire.Role, name string) {
	for _, t := range r.agentTasks.NonTerminalForPeer(id) {
		r.failTask(t.ID, string(role)+" disconnected: "+name)
	}
	for _, t := range r.serviceTasks.NonTerminalForPeer(id) {
		r.failServiceTask(t.ID, string(role)+" disconnected: "+name)
	}
}

func (r *Router) failTask(taskID, reason string) {
	if _, err := r.agentTasks.SetError(taskID, reason); err != nil {
		r.log.Warn("failed to force-fail agent-task on disconnect", zap.String("task_id", taskID), zap.Error(err))
	}
	r.mu.Lock()
	corrID, tracked := r.taskWaiters[taskID]
	delete(r.taskWaiters, taskID)
	r.mu.Unlock()
	if tracked {
		r.corr.Cancel(corrID)
	}
}

func (r *Router) failServiceTask(taskID, reason string) {
	if _, err := r.serviceTasks.SetError(taskID, reason); err != nil {
		r.log.Warn("failed to force-fail service-task on disconnect", zap.String("task_id", taskID), zap.Error(err))
	}
	r.mu.Lock()
	corrID, tracked := r.taskWaiters[taskID]
	delete(r.taskWaiters, taskID)
	r.mu.Unlock()
	if tracked {
		r.corr.Cancel(corrID)
	}
}
