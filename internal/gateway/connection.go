// Package gateway implements the three WebSocket listeners from spec.md §3:
// one each for agents, clients, and services. Each accepted socket becomes a
// Connection whose read pump calls the router synchronously, frame by
// frame, which is what gives spec.md §4.5/§8 their per-connection ordering
// guarantee. A per-message goroutine (as in
// apps/backend/internal/gateway/websocket/client.go's `go c.handleMessage`)
// would lose that ordering, so this read pump deliberately stays inline.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/logging"
	"github.com/meshrelay/orchestrator/internal/router"
	"github.com/meshrelay/orchestrator/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Connection wraps one accepted WebSocket socket bound to a peer role.
type Connection struct {
	ID   string
	Role wire.Role

	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
	logger *logging.Logger
}

// NewConnection wraps an upgraded socket.
func NewConnection(id string, role wire.Role, conn *websocket.Conn, log *logging.Logger) *Connection {
	return &Connection{
		ID:     id,
		Role:   role,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: log.WithFields(zap.String("connection_id", id), zap.String("role", string(role))),
	}
}

// ReadPump reads frames off the socket and dispatches each one synchronously
// to r before reading the next, then notifies onClose once the socket ends.
func (c *Connection) ReadPump(ctx context.Context, r *router.Router, onClose func()) {
	defer onClose()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var env wire.Envelope
		if jsonErr := json.Unmarshal(data, &env); jsonErr != nil {
			c.sendError("", apperr.Protocol(apperr.CodeMalformedJSON, "malformed JSON frame"))
			continue
		}
		if env.Type == "" {
			c.sendError(env.ID, apperr.Protocol(apperr.CodeMissingType, "envelope missing type"))
			continue
		}

		r.Route(ctx, c.Role, c.ID, &env)
	}
}

func (c *Connection) sendError(requestID string, appErr *apperr.AppError) {
	env, err := wire.NewError(requestID, appErr.Code, appErr.Message, nil)
	if err != nil {
		return
	}
	c.Send(env)
}

// Send marshals env and queues it for delivery, implementing router.Sender
// through the Hub rather than directly (the Hub resolves connection id to
// *Connection first).
func (c *Connection) Send(env *wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.sendBytes(data)
}

func (c *Connection) sendBytes(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apperr.Routing(apperr.CodeConnectionClosed, "connection closed: "+c.ID)
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn("send buffer full, dropping frame")
		return apperr.Routing(apperr.CodeConnectionClosed, "send buffer full: "+c.ID)
	}
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// WritePump drains queued frames onto the socket and keeps it alive with
// periodic pings until the Hub closes the send channel.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
