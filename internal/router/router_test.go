package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrelay/orchestrator/internal/bus"
	"github.com/meshrelay/orchestrator/internal/logging"
	"github.com/meshrelay/orchestrator/internal/mcp"
	"github.com/meshrelay/orchestrator/internal/registry"
	"github.com/meshrelay/orchestrator/internal/task"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// fakeSender records every envelope sent to each connection, for assertions.
type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]*wire.Envelope
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]*wire.Envelope)}
}

func (f *fakeSender) Send(connectionID string, env *wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connectionID] = append(f.sent[connectionID], env)
	return nil
}

func (f *fakeSender) last(connectionID string) *wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.sent[connectionID]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (f *fakeSender) all(connectionID string) []*wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*wire.Envelope(nil), f.sent[connectionID]...)
}

type testHarness struct {
	router  *Router
	sender  *fakeSender
	agents  *registry.Registry
	svcs    *registry.Registry
	clients *registry.Registry
}

func newTestHarness() *testHarness {
	log := logging.Default()
	agents := registry.New("agent", log)
	svcs := registry.New("service", log)
	clients := registry.New("client", log)
	sender := newFakeSender()

	r := New(Deps{
		Agents:       agents,
		Services:     svcs,
		Clients:      clients,
		AgentTasks:   task.NewAgentRegistry(),
		ServiceTasks: task.NewServiceRegistry(),
		MCP:          mcp.New(log),
		Bus:          bus.NewMemoryEventBus(log),
		Sender:       sender,
		Logger:       log,
		TaskTimeout:  200 * time.Millisecond,
	})

	return &testHarness{router: r, sender: sender, agents: agents, svcs: svcs, clients: clients}
}

func mustEnvelope(t *testing.T, msgType string, content interface{}) *wire.Envelope {
	t.Helper()
	env, err := wire.New(msgType, content)
	require.NoError(t, err)
	return env
}

func TestPingReturnsPong(t *testing.T) {
	h := newTestHarness()
	env := mustEnvelope(t, wire.TypePing, struct{}{})
	h.router.Route(context.Background(), wire.RoleAgent, "conn-1", env)

	reply := h.sender.last("conn-1")
	require.NotNil(t, reply)
	assert.Equal(t, wire.TypePong, reply.Type)
	assert.Equal(t, env.ID, reply.RequestID)
}

func TestUnknownTypeRepliesWithError(t *testing.T) {
	h := newTestHarness()
	env := mustEnvelope(t, "not.a.real.type", struct{}{})
	h.router.Route(context.Background(), wire.RoleAgent, "conn-1", env)

	reply := h.sender.last("conn-1")
	require.NotNil(t, reply)
	assert.Equal(t, wire.TypeError, reply.Type)
}

func TestAgentRegisterReplies(t *testing.T) {
	h := newTestHarness()
	env := mustEnvelope(t, wire.TypeAgentRegister, registerContent{Name: "A1", Capabilities: []string{"echo"}})
	h.router.Route(context.Background(), wire.RoleAgent, "conn-a1", env)

	reply := h.sender.last("conn-a1")
	require.NotNil(t, reply)
	assert.Equal(t, wire.TypeAgentRegistered, reply.Type)

	peer, ok := h.agents.ByName("A1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusOnline, peer.Status)
}

func TestClientTaskRoundTripsThroughAgent(t *testing.T) {
	h := newTestHarness()

	regEnv := mustEnvelope(t, wire.TypeAgentRegister, registerContent{Name: "A1"})
	h.router.Route(context.Background(), wire.RoleAgent, "conn-agent", regEnv)

	createEnv := mustEnvelope(t, wire.TypeTaskCreate, taskCreateContent{AgentName: "A1", TaskData: []byte(`{"msg":"hi"}`)})
	h.router.Route(context.Background(), wire.RoleClient, "conn-client", createEnv)

	created := h.sender.last("conn-client")
	require.NotNil(t, created)
	assert.Equal(t, wire.TypeTaskCreated, created.Type)
	assert.Equal(t, createEnv.ID, created.RequestID)

	forward := h.sender.last("conn-agent")
	require.NotNil(t, forward)
	assert.Equal(t, wire.TypeTaskExecute, forward.Type)

	var fwdContent taskExecuteContent
	require.NoError(t, forward.Decode(&fwdContent))

	resultEnv := mustEnvelope(t, wire.TypeTaskResult, taskResultContent{TaskID: fwdContent.TaskID, Result: map[string]interface{}{"echo": "hi"}})
	resultEnv.RequestID = forward.ID
	h.router.Route(context.Background(), wire.RoleAgent, "conn-agent", resultEnv)

	require.Eventually(t, func() bool {
		latest := h.sender.last("conn-client")
		return latest != nil && latest.Type == wire.TypeTaskResult
	}, time.Second, 10*time.Millisecond)

	final := h.sender.last("conn-client")
	assert.Equal(t, createEnv.ID, final.RequestID)
}

func TestTaskCreateUnknownAgentRepliesError(t *testing.T) {
	h := newTestHarness()
	env := mustEnvelope(t, wire.TypeTaskCreate, taskCreateContent{AgentName: "ghost"})
	h.router.Route(context.Background(), wire.RoleClient, "conn-client", env)

	reply := h.sender.last("conn-client")
	require.NotNil(t, reply)
	assert.Equal(t, wire.TypeError, reply.Type)
	assert.Equal(t, env.ID, reply.RequestID)
}

func TestTaskCreateTimesOutWithoutAgentReply(t *testing.T) {
	h := newTestHarness()
	regEnv := mustEnvelope(t, wire.TypeAgentRegister, registerContent{Name: "A1"})
	h.router.Route(context.Background(), wire.RoleAgent, "conn-agent", regEnv)

	createEnv := mustEnvelope(t, wire.TypeTaskCreate, taskCreateContent{AgentName: "A1"})
	h.router.Route(context.Background(), wire.RoleClient, "conn-client", createEnv)

	require.Eventually(t, func() bool {
		msgs := h.sender.all("conn-client")
		for _, m := range msgs {
			if m.Type == wire.TypeTaskError {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestDisconnectForceFailsNonTerminalTasks(t *testing.T) {
	h := newTestHarness()
	regEnv := mustEnvelope(t, wire.TypeAgentRegister, registerContent{Name: "A1"})
	h.router.Route(context.Background(), wire.RoleAgent, "conn-agent", regEnv)

	createEnv := mustEnvelope(t, wire.TypeTaskCreate, taskCreateContent{AgentName: "A1"})
	h.router.Route(context.Background(), wire.RoleClient, "conn-client", createEnv)

	forward := h.sender.last("conn-agent")
	require.NotNil(t, forward)
	var fwdContent taskExecuteContent
	require.NoError(t, forward.Decode(&fwdContent))

	h.router.HandleDisconnect(wire.RoleAgent, "conn-agent")

	require.Eventually(t, func() bool {
		t, ok := h.router.agentTasks.Get(fwdContent.TaskID)
		return ok && t.Status == task.StatusFailed
	}, time.Second, 10*time.Millisecond)

	peer, ok := h.agents.ByName("A1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusOffline, peer.Status)
}

func TestClientDisconnectForceFailsItsOwnTask(t *testing.T) {
	h := newTestHarness()
	regEnv := mustEnvelope(t, wire.TypeAgentRegister, registerContent{Name: "A1"})
	h.router.Route(context.Background(), wire.RoleAgent, "conn-agent", regEnv)

	createEnv := mustEnvelope(t, wire.TypeTaskCreate, taskCreateContent{AgentName: "A1"})
	h.router.Route(context.Background(), wire.RoleClient, "conn-client", createEnv)

	forward := h.sender.last("conn-agent")
	require.NotNil(t, forward)
	var fwdContent taskExecuteContent
	require.NoError(t, forward.Decode(&fwdContent))

	// The client never registers a Peer, so this exercises the sweep-by-
	// connection-id path rather than the sweep-by-peer-id path.
	h.router.HandleDisconnect(wire.RoleClient, "conn-client")

	require.Eventually(t, func() bool {
		tk, ok := h.router.agentTasks.Get(fwdContent.TaskID)
		return ok && tk.Status == task.StatusFailed
	}, time.Second, 10*time.Millisecond)
}
