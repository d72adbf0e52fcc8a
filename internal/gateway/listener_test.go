package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/meshrelay/orchestrator/internal/bus"
	"github.com/meshrelay/orchestrator/internal/logging"
	"github.com/meshrelay/orchestrator/internal/mcp"
	"github.com/meshrelay/orchestrator/internal/registry"
	"github.com/meshrelay/orchestrator/internal/router"
	"github.com/meshrelay/orchestrator/internal/task"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// newTestServer wires one Listener's engine into an httptest.Server so a real
// gorilla/websocket dialer can exercise the full accept/read/write path.
func newTestServer(t *testing.T, role wire.Role) (*httptest.Server, *Hub) {
	t.Helper()
	log := logging.Default()
	agents := registry.New("agent", log)
	svcs := registry.New("service", log)
	clients := registry.New("client", log)

	hub := NewHub(agents, svcs, clients, log)
	r := router.New(router.Deps{
		Agents:       agents,
		Services:     svcs,
		Clients:      clients,
		AgentTasks:   task.NewAgentRegistry(),
		ServiceTasks: task.NewServiceRegistry(),
		MCP:          mcp.New(log),
		Bus:          bus.NewMemoryEventBus(log),
		Sender:       hub,
		Logger:       log,
		TaskTimeout:  200 * time.Millisecond,
	})

	l := NewListener(role, "", hub, r, log)
	srv := httptest.NewServer(l.engine)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestClientConnectionReceivesWelcome(t *testing.T) {
	srv, _ := newTestServer(t, wire.RoleClient)
	conn := dial(t, srv)

	var env wire.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, wire.TypeOrchestratorWelcome, env.Type)
}

func TestAgentPingReturnsPong(t *testing.T) {
	srv, _ := newTestServer(t, wire.RoleAgent)
	conn := dial(t, srv)

	ping, err := wire.New(wire.TypePing, struct{}{})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ping))

	var reply wire.Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, wire.TypePong, reply.Type)
	require.Equal(t, ping.ID, reply.RequestID)
}

func TestAgentRegisterIsReachableByHub(t *testing.T) {
	srv, hub := newTestServer(t, wire.RoleAgent)
	conn := dial(t, srv)

	env, err := wire.New(wire.TypeAgentRegister, map[string]interface{}{"name": "A1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	var reply wire.Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, wire.TypeAgentRegistered, reply.Type)

	require.Eventually(t, func() bool {
		return hub.Count() == 1
	}, time.Second, 10*time.Millisecond)
}
