package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/logging"
	"github.com/meshrelay/orchestrator/internal/router"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// upgrader is shared by all three listeners. Origin checking is left
// permissive: these are trusted backend processes on a private network, not
// browser clients subject to CSRF-style origin enforcement.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Listener is one of the three role-bound WebSocket endpoints.
type Listener struct {
	role   wire.Role
	hub    *Hub
	router *router.Router
	log    *logging.Logger
	engine *gin.Engine
	server *http.Server
}

// NewListener builds the gin engine and registers the listener's single
// upgrade route, grounded on
// apps/backend/internal/gateway/websocket/{setup,handler}.go's Gateway/
// Handler split — collapsed into one type per port since each listener here
// serves exactly one role rather than multiplexing terminal/LSP routes too.
func NewListener(role wire.Role, addr string, hub *Hub, r *router.Router, log *logging.Logger) *Listener {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	l := &Listener{
		role:   role,
		hub:    hub,
		router: r,
		log:    log.WithFields(zap.String("component", "gateway_listener"), zap.String("role", string(role))),
		engine: engine,
		server: &http.Server{Addr: addr, Handler: engine},
	}

	engine.GET("/ws", l.handleUpgrade)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Count()})
	})
	return l
}

// Serve blocks, accepting connections until the listener is closed.
func (l *Listener) Serve() error {
	l.log.Info("listening", zap.String("addr", l.server.Addr))
	err := l.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits for in-flight plain
// HTTP requests (such as /healthz) to finish. WebSocket connections that
// were already upgraded are hijacked from the HTTP server, so Shutdown
// neither closes them nor waits for them.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}

func (l *Listener) handleUpgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.New().String()
	client := NewConnection(connID, l.role, conn, l.log)
	l.hub.Add(client)

	l.log.Info("connection accepted", zap.String("connection_id", connID))

	if l.role == wire.RoleClient {
		l.router.WelcomeClient(connID)
	}

	go client.WritePump()
	client.ReadPump(c.Request.Context(), l.router, func() {
		l.router.HandleDisconnect(l.role, connID)
		l.hub.Remove(client)
		l.log.Info("connection closed", zap.String("connection_id", connID))
	})
}
