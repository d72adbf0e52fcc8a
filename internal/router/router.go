// Package router implements the message router from spec.md §4.5: one
// handler per wire message type, consulting the peer registries, task
// registries, correlation table, and MCP supervisor to forward, transform,
// or answer messages.
//
// Grounded on apps/backend/pkg/websocket/handler.go's Dispatcher (a small
// map keyed by action, looked up once per message) generalized from a
// single-process request/response dispatcher to the forward/correlate/notify
// patterns this spec requires. Every inbound frame on one connection is
// handled synchronously, in the order the gateway's read pump observes it —
// this is what gives spec.md §5's ordering guarantee for free, without a
// second serialization layer. The event bus is still published to on every
// inbound frame so other subscribers (e.g. future observability hooks) can
// listen in, but the bus fan-out is not on the router's own dispatch path.
package router

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/bus"
	"github.com/meshrelay/orchestrator/internal/correlation"
	"github.com/meshrelay/orchestrator/internal/logging"
	"github.com/meshrelay/orchestrator/internal/mcp"
	"github.com/meshrelay/orchestrator/internal/registry"
	"github.com/meshrelay/orchestrator/internal/task"
	"github.com/meshrelay/orchestrator/internal/tracing"
	"github.com/meshrelay/orchestrator/internal/wire"
)

var tracer = tracing.Tracer("internal/router")

// Sender delivers an outbound envelope to a specific connection. The
// gateway's Hub implements this; the router never touches a socket directly.
type Sender interface {
	Send(connectionID string, env *wire.Envelope) error
}

// handlerFunc processes one inbound envelope from connID, known to have
// arrived over a connection belonging to role.
type handlerFunc func(ctx context.Context, role wire.Role, connID string, env *wire.Envelope)

// Deps are the router's constructor dependencies (spec.md §9: "process-wide
// singletons become explicit dependencies passed to the router constructor").
type Deps struct {
	Agents       *registry.Registry
	Services     *registry.Registry
	Clients      *registry.Registry
	AgentTasks   *task.AgentRegistry
	ServiceTasks *task.ServiceRegistry
	MCP          *mcp.Supervisor
	Bus          bus.EventBus
	Sender       Sender
	Logger       *logging.Logger
	TaskTimeout  time.Duration
}

// Router is the message router (spec.md §4.5).
type Router struct {
	agents       *registry.Registry
	services     *registry.Registry
	clients      *registry.Registry
	agentTasks   *task.AgentRegistry
	serviceTasks *task.ServiceRegistry
	mcpSup       *mcp.Supervisor
	eventBus     bus.EventBus
	sender       Sender
	log          *logging.Logger
	taskTimeout  time.Duration

	corr *correlation.Table

	handlers map[string]handlerFunc

	// taskWaiters maps a task id to the correlation id of the outstanding
	// forward awaiting that task's result, so a disconnection sweep can
	// cancel the right waiter (spec.md §4.5 Disconnection).
	mu          sync.Mutex
	taskWaiters map[string]string
}

// New builds a Router and registers its per-message-type dispatch table.
func New(d Deps) *Router {
	if d.TaskTimeout <= 0 {
		d.TaskTimeout = 30 * time.Second
	}
	r := &Router{
		agents:       d.Agents,
		services:     d.Services,
		clients:      d.Clients,
		agentTasks:   d.AgentTasks,
		serviceTasks: d.ServiceTasks,
		mcpSup:       d.MCP,
		eventBus:     d.Bus,
		sender:       d.Sender,
		log:          d.Logger.WithFields(zap.String("component", "router")),
		taskTimeout:  d.TaskTimeout,
		corr:         correlation.New(),
		taskWaiters:  make(map[string]string),
	}
	r.handlers = map[string]handlerFunc{
		wire.TypeAgentRegister:   r.handleAgentRegister,
		wire.TypeServiceRegister: r.handleServiceRegister,

		wire.TypeAgentListRequest:        r.handleAgentListRequest,
		wire.TypeAgentAgentListRequest:   r.handleAgentAgentListRequest,
		wire.TypeAgentServiceListRequest: r.handleAgentServiceListRequest,
		wire.TypeServiceToolsList:        r.handleServiceToolsList,
		wire.TypeAgentMCPServersList:     r.handleAgentMCPServersList,
		wire.TypeMCPServersList:          r.handleMCPServersList,
		wire.TypeMCPToolsList:            r.handleMCPToolsList,
		wire.TypeMCPToolsListRequest:     r.handleMCPToolsList,

		wire.TypeTaskCreate:      r.handleTaskCreate,
		wire.TypeTaskResult:      r.handleAgentTaskResolution,
		wire.TypeAgentTaskResult: r.handleAgentTaskResolution,
		wire.TypeTaskError:       r.handleAgentTaskResolution,

		wire.TypeAgentRequest:       r.handleAgentRequest,
		wire.TypeChildAgentResponse: r.handleChildAgentResponse,

		wire.TypeServiceTaskExecute:      r.handleServiceTaskExecute,
		wire.TypeServiceRequest:          r.handleServiceTaskExecute,
		wire.TypeServiceTaskResult:       r.handleServiceTaskResolution,
		wire.TypeServiceTaskNotification: r.handleServiceTaskNotification,

		wire.TypeMCPToolExecute: r.handleMCPToolExecute,

		wire.TypeTaskNotification:    r.handleTaskForward,
		wire.TypeTaskStatus:          r.handleTaskStatus,
		wire.TypeTaskMessage:         r.handleTaskForward,
		wire.TypeTaskMessageResponse: r.handleTaskForward,

		wire.TypeAgentStatus:   r.handleAgentStatus,
		wire.TypeServiceStatus: r.handleServiceStatus,

		wire.TypePing: r.handlePing,
		wire.TypePong: r.handlePong,
	}
	return r
}

// Route dispatches one inbound envelope, synchronously, on behalf of the
// connection it arrived on. Call this directly from the gateway's read pump;
// do not call it from a separate goroutine per frame, or the per-connection
// ordering guarantee is lost.
func (r *Router) Route(ctx context.Context, role wire.Role, connID string, env *wire.Envelope) {
	ctx, span := tracer.Start(ctx, "router.Route", trace.WithAttributes(
		attribute.String("message.type", env.Type),
		attribute.String("connection.id", connID),
		attribute.String("role", string(role)),
	))
	defer span.End()

	if err := r.eventBus.Publish(ctx, env.Type, bus.NewEvent(env.Type, connID, map[string]interface{}{
		"envelope": env,
		"role":     role,
	})); err != nil {
		r.log.Warn("failed to publish dispatcher event", zap.Error(err))
	}

	handler, ok := r.handlers[env.Type]
	if !ok {
		r.sendError(connID, env.ID, apperr.Protocol(apperr.CodeUnknownType, "unknown message type: "+env.Type))
		return
	}
	handler(ctx, role, connID, env)
}

// WelcomeClient sends the orchestrator.welcome frame a client receives
// immediately after socket open (spec.md §4.5).
func (r *Router) WelcomeClient(connID string) {
	env, err := wire.New(wire.TypeOrchestratorWelcome, map[string]interface{}{
		"message": "connected",
	})
	if err != nil {
		r.log.Error("failed to build welcome envelope", zap.Error(err))
		return
	}
	if err := r.sender.Send(connID, env); err != nil {
		r.log.Warn("failed to send welcome envelope", zap.String("connection_id", connID), zap.Error(err))
	}
}

func (r *Router) sendError(connID, requestID string, appErr *apperr.AppError) {
	env, err := wire.NewError(requestID, appErr.Code, appErr.Message, nil)
	if err != nil {
		r.log.Error("failed to build error envelope", zap.Error(err))
		return
	}
	if err := r.sender.Send(connID, env); err != nil {
		r.log.Warn("failed to send error envelope", zap.String("connection_id", connID), zap.Error(err))
	}
}

func (r *Router) send(connID string, env *wire.Envelope, err error) {
	if err != nil {
		r.log.Error("failed to build outbound envelope", zap.Error(err))
		return
	}
	if sendErr := r.sender.Send(connID, env); sendErr != nil {
		r.log.Warn("failed to deliver envelope", zap.String("connection_id", connID), zap.String("type", env.Type), zap.Error(sendErr))
	}
}

func (r *Router) trackWaiter(taskID, corrID string) {
	r.mu.Lock()
	r.taskWaiters[taskID] = corrID
	r.mu.Unlock()
}

func (r *Router) untrackWaiter(taskID string) {
	r.mu.Lock()
	delete(r.taskWaiters, taskID)
	r.mu.Unlock()
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
