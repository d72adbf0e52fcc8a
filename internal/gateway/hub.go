package gateway

import (
	"sync"

	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/logging"
	"github.com/meshrelay/orchestrator/internal/registry"
	"github.com/meshrelay/orchestrator/internal/router"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// Hub is the gateway's connection directory. It implements router.Sender,
// resolving a connection id to the live *Connection across all three ports,
// and parks each connection's transport handle in the owning registry's
// pending bucket so a not-yet-registered peer's connection is still
// reachable by id (registry.AddPending/PendingHandle).
//
// Grounded on apps/backend/internal/gateway/websocket/hub.go's client
// tracking map, split from "one Hub owns peers and connections" into "the
// Hub owns only connections; the registries own peers" per spec.md's
// separation of transport from peer bookkeeping.
type Hub struct {
	agents   *registry.Registry
	services *registry.Registry
	clients  *registry.Registry
	log      *logging.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewHub builds a Hub bound to the three peer registries it parks pending
// connections in.
func NewHub(agents, services, clients *registry.Registry, log *logging.Logger) *Hub {
	return &Hub{
		agents:   agents,
		services: services,
		clients:  clients,
		log:      log.WithFields(zap.String("component", "gateway_hub")),
		conns:    make(map[string]*Connection),
	}
}

func (h *Hub) registryFor(role wire.Role) *registry.Registry {
	switch role {
	case wire.RoleAgent:
		return h.agents
	case wire.RoleService:
		return h.services
	default:
		return h.clients
	}
}

// Add registers a freshly accepted connection: it becomes reachable via Send
// and is parked as pending in its role's registry until it registers (or,
// for clients, stays pending for the connection's whole lifetime — clients
// have no separate registration step).
func (h *Hub) Add(c *Connection) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()

	h.registryFor(c.Role).AddPending(c.ID, c)
}

// Remove drops a connection from the directory and closes its send channel.
// It does not touch the registries: the router's HandleDisconnect releases
// the registry binding and handles the peer-state side; Remove only handles
// the transport side.
func (h *Hub) Remove(c *Connection) {
	h.mu.Lock()
	delete(h.conns, c.ID)
	h.mu.Unlock()

	c.closeSend()
}

// Send implements router.Sender.
func (h *Hub) Send(connectionID string, env *wire.Envelope) error {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return apperr.Routing(apperr.CodePeerNotFound, "no live connection: "+connectionID)
	}
	return c.Send(env)
}

// Count reports how many sockets are currently open, for health reporting.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

var _ router.Sender = (*Hub)(nil)
