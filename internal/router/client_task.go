package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/correlation"
	"github.com/meshrelay/orchestrator/internal/task"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// handleTaskCreate implements spec.md §4.5's client->agent task flow: resolve
// the target agent, create the agent-task, forward task.execute, and install
// a correlation waiter that resolves the task and replies to the client
// asynchronously when the agent answers (or the wait times out).
func (r *Router) handleTaskCreate(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	var content taskCreateContent
	if err := env.Decode(&content); err != nil {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "malformed task.create content"))
		return
	}

	agent, ok := r.agents.ByName(content.AgentName)
	if !ok {
		r.sendError(connID, env.ID, apperr.Routing(apperr.CodePeerNotFound, "Agent not found: "+content.AgentName))
		return
	}
	if agent.ConnectionID == "" {
		r.sendError(connID, env.ID, apperr.Routing(apperr.CodePeerOffline, "Agent is offline: "+content.AgentName))
		return
	}

	t := r.agentTasks.Create(&task.AgentTask{
		TaskType:      content.TaskType,
		Input:         content.TaskData,
		RequesterID:   connID,
		RequesterRole: "client",
		AgentID:       agent.ID,
	})

	forwardEnv, buildErr := wire.New(wire.TypeTaskExecute, taskExecuteContent{
		TaskID:   t.ID,
		Input:    content.TaskData,
		ClientID: connID,
	})
	if buildErr != nil {
		r.log.Error("failed to build task.execute envelope")
		return
	}

	ch := r.corr.Register(forwardEnv.ID, correlation.Options{Timeout: r.taskTimeout})
	r.trackWaiter(t.ID, forwardEnv.ID)
	if _, err := r.agentTasks.UpdateStatus(t.ID, string(task.StatusInProgress), "forwarded to agent", ""); err != nil {
		r.log.Warn("failed to mark agent-task in_progress", zap.Error(err))
	}
	r.send(agent.ConnectionID, forwardEnv, nil)

	createdEnv, buildErr := wire.Reply(env.ID, wire.TypeTaskCreated, taskCreatedContent{TaskID: t.ID})
	r.send(connID, createdEnv, buildErr)

	go r.awaitAgentTaskResult(t.ID, connID, env.ID, ch)
}

// awaitAgentTaskResult blocks on the correlation channel for one forwarded
// task.execute and, on resolution, updates the agent-task registry and
// relays the outcome to the originating client, echoing its request id.
func (r *Router) awaitAgentTaskResult(taskID, clientConnID, clientRequestID string, ch <-chan correlation.Result) {
	res := <-ch
	r.untrackWaiter(taskID)

	if res.Err != nil {
		kind := "error"
		if appErr, ok := apperr.As(res.Err); ok && appErr.Code == apperr.CodeTimeout {
			kind = "timeout"
		}
		if _, err := r.agentTasks.SetError(taskID, res.Err.Error()); err != nil {
			r.log.Warn("failed to mark agent-task failed after correlation error")
		}
		env, buildErr := wire.Reply(clientRequestID, wire.TypeTaskError, taskErrorContent{
			TaskID: taskID,
			Error:  res.Err.Error(),
			Kind:   kind,
		})
		r.send(clientConnID, env, buildErr)
		return
	}

	switch reply := res.Content.(type) {
	case taskErrorContent:
		if _, err := r.agentTasks.SetError(taskID, reply.Error); err != nil {
			r.log.Warn("failed to mark agent-task failed")
		}
		env, buildErr := wire.Reply(clientRequestID, wire.TypeTaskError, reply)
		r.send(clientConnID, env, buildErr)
	case taskResultContent:
		if _, err := r.agentTasks.SetResult(taskID, reply.Result); err != nil {
			r.log.Warn("failed to mark agent-task completed")
		}
		env, buildErr := wire.Reply(clientRequestID, wire.TypeTaskResult, reply)
		r.send(clientConnID, env, buildErr)
	default:
		r.log.Warn("unrecognized agent-task resolution content")
	}
}

// handleAgentTaskResolution resolves the correlation waiter installed by
// handleTaskCreate or handleAgentRequest's delegation forward; the actual
// task-registry update and downstream reply happen in the waiting goroutine.
func (r *Router) handleAgentTaskResolution(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	var content interface{}
	if env.Type == wire.TypeTaskError {
		var errContent taskErrorContent
		if err := env.Decode(&errContent); err != nil {
			r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "malformed task.error content"))
			return
		}
		content = errContent
	} else {
		var resultContent taskResultContent
		if err := env.Decode(&resultContent); err != nil {
			r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "malformed "+env.Type+" content"))
			return
		}
		content = resultContent
	}

	if env.RequestID == "" || !r.corr.Resolve(env.RequestID, env.Type, content) {
		r.log.Warn("received task resolution with no matching waiter", zap.String("type", env.Type), zap.String("requestId", env.RequestID))
	}
}
