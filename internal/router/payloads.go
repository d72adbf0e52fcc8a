package router

import "encoding/json"

// registerContent is the content of agent.register / service.register.
type registerContent struct {
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Manifest     map[string]interface{} `json:"manifest,omitempty"`
}

// registeredContent replies to a successful registration.
type registeredContent struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Welcome string `json:"welcome"`
}

// listFilterContent carries the optional filters §4.5 Discovery allows.
type listFilterContent struct {
	Status       string   `json:"status,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	NameContains string   `json:"nameContains,omitempty"`
}

// peerSummary is what discovery handlers return per peer.
type peerSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// taskCreateContent is task.create's content (client -> orchestrator).
type taskCreateContent struct {
	AgentName string          `json:"agentName"`
	TaskType  string          `json:"taskType,omitempty"`
	TaskData  json.RawMessage `json:"taskData"`
}

// taskExecuteContent is task.execute's content (orchestrator -> agent).
type taskExecuteContent struct {
	TaskID   string          `json:"taskId"`
	Input    json.RawMessage `json:"input"`
	ClientID string          `json:"clientId,omitempty"`
}

// taskResultContent is task.result / agent.task.result's content.
type taskResultContent struct {
	TaskID string      `json:"taskId"`
	Result interface{} `json:"result"`
}

// taskErrorContent is task.error's content.
type taskErrorContent struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
}

// taskCreatedContent acknowledges task.create back to the client.
type taskCreatedContent struct {
	TaskID string `json:"taskId"`
}

// agentRequestContent is agent.request's content (agent -> agent, via
// orchestrator). Accepts both targetAgentName and targetAgent as the sender
// field name, since callers disagree on which one they send.
type agentRequestContent struct {
	TargetAgentName string          `json:"targetAgentName"`
	TargetAgent     string          `json:"targetAgent,omitempty"`
	TaskData        json.RawMessage `json:"taskData"`
	TimeoutSeconds  int             `json:"timeout,omitempty"`
}

// targetAgent resolves whichever of targetAgentName/targetAgent was sent.
func (c agentRequestContent) targetAgent() string {
	if c.TargetAgentName != "" {
		return c.TargetAgentName
	}
	return c.TargetAgent
}

// childAgentResponseContent is childagent.response's content.
type childAgentResponseContent struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// serviceTaskExecuteContent is service.task.execute's content (agent -> service).
type serviceTaskExecuteContent struct {
	ServiceID string          `json:"serviceId"`
	ToolID    string          `json:"toolId"`
	Params    json.RawMessage `json:"params"`
	ClientID  string          `json:"clientId,omitempty"`
}

// serviceTaskResultContent is service.task.result's content (service -> orchestrator).
type serviceTaskResultContent struct {
	TaskID string      `json:"taskId"`
	Result interface{} `json:"result"`
}

// taskRefContent is the minimal shape shared by forwarded notification/status
// messages: every one of them carries the task id they belong to.
type taskRefContent struct {
	TaskID string `json:"taskId"`
}

// mcpToolExecuteContent is mcp.tool.execute's content (agent -> orchestrator).
type mcpToolExecuteContent struct {
	ServerID   string                 `json:"serverId"`
	ToolName   string                 `json:"toolName"`
	Parameters map[string]interface{} `json:"parameters"`
}

// statusUpdateContent is agent.status / service.status's content.
type statusUpdateContent struct {
	Status string `json:"status"`
}
