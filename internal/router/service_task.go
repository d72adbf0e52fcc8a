package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/correlation"
	"github.com/meshrelay/orchestrator/internal/task"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// handleServiceTaskExecute implements spec.md §4.5's agent->service flow:
// resolve the service, create the service-task, forward service.task.execute,
// and install a correlation waiter for service.task.result.
func (r *Router) handleServiceTaskExecute(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	if env.Type == wire.TypeServiceRequest {
		r.log.Warn("service.request is deprecated; handling it as service.task.execute", zap.String("connection_id", connID))
	}

	var content serviceTaskExecuteContent
	if err := env.Decode(&content); err != nil {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "malformed service.task.execute content"))
		return
	}

	svc, ok := r.services.ByID(content.ServiceID)
	if !ok {
		svc, ok = r.services.ByName(content.ServiceID)
	}
	if !ok {
		r.sendError(connID, env.ID, apperr.Routing(apperr.CodePeerNotFound, "Service not found: "+content.ServiceID))
		return
	}
	if svc.ConnectionID == "" {
		r.sendError(connID, env.ID, apperr.Routing(apperr.CodePeerOffline, "Service is offline: "+content.ServiceID))
		return
	}

	requesterID := connID
	if caller, ok := r.agents.ByConnectionID(connID); ok {
		requesterID = caller.ID
	}

	t := r.serviceTasks.Create(&task.ServiceTask{
		ToolID:    content.ToolID,
		Params:    content.Params,
		AgentID:   requesterID,
		ServiceID: svc.ID,
		ClientID:  content.ClientID,
	})

	forwardEnv, buildErr := wire.New(wire.TypeServiceTaskExecute, serviceTaskExecuteContent{
		ServiceID: svc.ID,
		ToolID:    content.ToolID,
		Params:    content.Params,
		ClientID:  content.ClientID,
	})
	if buildErr != nil {
		r.log.Error("failed to build service.task.execute envelope")
		return
	}

	ch := r.corr.Register(forwardEnv.ID, correlation.Options{Timeout: r.taskTimeout})
	r.trackWaiter(t.ID, forwardEnv.ID)
	if _, err := r.serviceTasks.UpdateStatus(t.ID, string(task.StatusInProgress), "forwarded to service", ""); err != nil {
		r.log.Warn("failed to mark service-task in_progress", zap.Error(err))
	}
	r.send(svc.ConnectionID, forwardEnv, nil)

	go r.awaitServiceTaskResult(t.ID, connID, env.ID, ch)
}

func (r *Router) awaitServiceTaskResult(taskID, callerConnID, callerRequestID string, ch <-chan correlation.Result) {
	res := <-ch
	r.untrackWaiter(taskID)

	if res.Err != nil {
		if _, err := r.serviceTasks.SetError(taskID, res.Err.Error()); err != nil {
			r.log.Warn("failed to mark service-task failed after correlation error")
		}
		env, buildErr := wire.Reply(callerRequestID, wire.TypeTaskError, taskErrorContent{TaskID: taskID, Error: res.Err.Error()})
		r.send(callerConnID, env, buildErr)
		return
	}

	reply, ok := res.Content.(serviceTaskResultContent)
	if !ok {
		r.log.Warn("unrecognized service-task resolution content")
		return
	}
	if _, err := r.serviceTasks.SetResult(taskID, reply.Result); err != nil {
		r.log.Warn("failed to mark service-task completed")
	}
	env, buildErr := wire.Reply(callerRequestID, wire.TypeServiceTaskResult, reply)
	r.send(callerConnID, env, buildErr)
}

// handleServiceTaskResolution resolves the correlation waiter installed by
// handleServiceTaskExecute; the waiting goroutine does the registry update
// and the reply to the requesting agent.
func (r *Router) handleServiceTaskResolution(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	var content serviceTaskResultContent
	if err := env.Decode(&content); err != nil {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "malformed service.task.result content"))
		return
	}
	if env.RequestID == "" || !r.corr.Resolve(env.RequestID, env.Type, content) {
		r.log.Warn("received service.task.result with no matching waiter")
	}
}

// handleServiceTaskNotification fans a mid-execution notification out to
// both the owning agent and the owning client, without touching task state,
// per spec.md §4.5.
func (r *Router) handleServiceTaskNotification(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	var content taskRefContent
	if err := env.Decode(&content); err != nil || content.TaskID == "" {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeMalformedJSON, "service.task.notification requires a taskId"))
		return
	}

	t, ok := r.serviceTasks.Get(content.TaskID)
	if !ok {
		r.log.Warn("service.task.notification for unknown task")
		return
	}

	if t.AgentID != "" {
		if agent, ok := r.agents.ByID(t.AgentID); ok && agent.ConnectionID != "" {
			r.send(agent.ConnectionID, env, nil)
		}
	}
	if t.ClientID != "" {
		r.send(t.ClientID, env, nil)
	}
}
