package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/correlation"
	"github.com/meshrelay/orchestrator/internal/registry"
	"github.com/meshrelay/orchestrator/internal/task"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// handleAgentRequest implements spec.md §4.5's agent->agent delegation: the
// caller is answered immediately with childagent.request.accepted, then
// (asynchronously, once the target's task.result arrives) with
// childagent.response carrying the inner result.
func (r *Router) handleAgentRequest(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	var content agentRequestContent
	if err := env.Decode(&content); err != nil {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "malformed agent.request content"))
		return
	}

	targetName := content.targetAgent()
	target, ok := r.agents.ByName(targetName)
	if !ok {
		r.sendError(connID, env.ID, apperr.Routing(apperr.CodePeerNotFound, "Agent not found: "+targetName))
		return
	}
	if target.ConnectionID == "" || target.Status == registry.StatusOffline || target.Status == registry.StatusBusy {
		r.sendError(connID, env.ID, apperr.Routing(apperr.CodePeerOffline, "Agent is busy or offline: "+targetName))
		return
	}

	requesterID := connID
	if caller, ok := r.agents.ByConnectionID(connID); ok {
		requesterID = caller.ID
	}

	t := r.agentTasks.Create(&task.AgentTask{
		Input:         content.TaskData,
		RequesterID:   requesterID,
		RequesterRole: "agent",
		AgentID:       target.ID,
	})

	acceptedEnv, buildErr := wire.Reply(env.ID, wire.TypeChildAgentRequestAccepted, taskCreatedContent{TaskID: t.ID})
	r.send(connID, acceptedEnv, buildErr)

	forwardEnv, buildErr := wire.New(wire.TypeTaskExecute, taskExecuteContent{
		TaskID: t.ID,
		Input:  content.TaskData,
	})
	if buildErr != nil {
		r.log.Error("failed to build task.execute envelope for delegation")
		return
	}

	timeout := r.taskTimeout
	if content.TimeoutSeconds > 0 {
		timeout = secondsToDuration(content.TimeoutSeconds)
	}
	ch := r.corr.Register(forwardEnv.ID, correlation.Options{Timeout: timeout})
	r.trackWaiter(t.ID, forwardEnv.ID)
	if _, err := r.agentTasks.UpdateStatus(t.ID, string(task.StatusInProgress), "forwarded to delegate agent", ""); err != nil {
		r.log.Warn("failed to mark delegated agent-task in_progress", zap.Error(err))
	}
	r.send(target.ConnectionID, forwardEnv, nil)

	go r.awaitChildAgentResult(t.ID, connID, env.ID, ch)
}

// awaitChildAgentResult mirrors awaitAgentTaskResult but replies with
// childagent.response instead of task.result/task.error, per spec.md §4.5.
func (r *Router) awaitChildAgentResult(taskID, callerConnID, callerRequestID string, ch <-chan correlation.Result) {
	res := <-ch
	r.untrackWaiter(taskID)

	if res.Err != nil {
		if _, err := r.agentTasks.SetError(taskID, res.Err.Error()); err != nil {
			r.log.Warn("failed to mark delegated agent-task failed after correlation error")
		}
		env, buildErr := wire.Reply(callerRequestID, wire.TypeChildAgentResponse, childAgentResponseContent{Error: res.Err.Error()})
		r.send(callerConnID, env, buildErr)
		return
	}

	switch reply := res.Content.(type) {
	case taskErrorContent:
		if _, err := r.agentTasks.SetError(taskID, reply.Error); err != nil {
			r.log.Warn("failed to mark delegated agent-task failed")
		}
		env, buildErr := wire.Reply(callerRequestID, wire.TypeChildAgentResponse, childAgentResponseContent{Error: reply.Error})
		r.send(callerConnID, env, buildErr)
	case taskResultContent:
		if _, err := r.agentTasks.SetResult(taskID, reply.Result); err != nil {
			r.log.Warn("failed to mark delegated agent-task completed")
		}
		env, buildErr := wire.Reply(callerRequestID, wire.TypeChildAgentResponse, childAgentResponseContent{Result: reply.Result})
		r.send(callerConnID, env, buildErr)
	default:
		r.log.Warn("unrecognized delegated task resolution content")
	}
}

// handleChildAgentResponse is a no-op at the orchestrator: childagent.response
// is an outbound-only message the orchestrator sends to the delegating agent.
// If a peer sends one inbound regardless, it is simply dropped rather than
// rejected, since §4.5 assigns it no inbound meaning.
func (r *Router) handleChildAgentResponse(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	r.log.Debug("ignoring inbound childagent.response")
}
