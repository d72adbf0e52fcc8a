package wire

// Message types, per spec.md §6's core set plus the synonyms and legacy
// aliases spec.md §9 requires accepting.
const (
	// Shared
	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"

	// Agent side
	TypeAgentRegister             = "agent.register"
	TypeAgentRegistered           = "agent.registered"
	TypeAgentListRequest          = "agent.list.request"
	TypeAgentAgentListRequest     = "agent.agent.list.request"
	TypeAgentServiceListRequest   = "agent.service.list.request"
	TypeAgentStatus               = "agent.status"
	TypeAgentRequest              = "agent.request"
	TypeChildAgentRequestAccepted = "childagent.request.accepted"
	TypeChildAgentResponse        = "childagent.response"
	TypeTaskExecute               = "task.execute"
	TypeTaskResult                = "task.result"
	TypeAgentTaskResult           = "agent.task.result" // synonym of TypeTaskResult, spec §9
	TypeTaskError                 = "task.error"
	TypeTaskStatus                = "task.status"
	TypeTaskMessage               = "task.message"
	TypeTaskMessageResponse       = "task.messageresponse"
	TypeTaskNotification          = "task.notification"
	TypeServiceTaskExecute        = "service.task.execute"
	TypeServiceTaskResult         = "service.task.result"
	TypeServiceRequest            = "service.request" // deprecated synonym of TypeServiceTaskExecute, spec §9
	TypeMCPServersList            = "mcp.servers.list"
	TypeMCPToolsList              = "mcp.tools.list"
	TypeMCPToolsListRequest       = "mcp.tools.list.request" // legacy alias, spec §9
	TypeMCPToolExecute            = "mcp.tool.execute"
	TypeAgentMCPServersList       = "agent.mcp.servers.list"

	// Client side
	TypeOrchestratorWelcome = "orchestrator.welcome"
	TypeTaskCreate          = "task.create"
	TypeTaskCreated         = "task.created"
	TypeAgentList           = "agent.list"
	TypeMCPServerList       = "mcp.server.list"

	// Service side
	TypeServiceRegister            = "service.register"
	TypeServiceRegistered          = "service.registered"
	TypeServiceStatus              = "service.status"
	TypeServiceToolsList           = "service.tools.list"
	TypeServiceNotification        = "service.notification"
	TypeServiceTaskNotification     = "service.task.notification"
)

// Role distinguishes which listener a connection belongs to.
type Role string

const (
	RoleAgent   Role = "agent"
	RoleClient  Role = "client"
	RoleService Role = "service"
)
