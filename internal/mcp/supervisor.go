package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/correlation"
	"github.com/meshrelay/orchestrator/internal/logging"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultToolCallTimeout  = 30 * time.Second
	defaultShutdownTimeout  = 3 * time.Second
)

// child owns one live MCP child process and its stdio client.
type child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	client *stdioClient
}

// Supervisor owns every declared MCP server's child process, per spec.md §4.6.
type Supervisor struct {
	mu      sync.Mutex
	servers map[string]*Server
	byName  map[string]string
	children map[string]*child
	log     *logging.Logger
}

// New creates an empty MCP supervisor.
func New(log *logging.Logger) *Supervisor {
	return &Supervisor{
		servers:  make(map[string]*Server),
		byName:   make(map[string]string),
		children: make(map[string]*child),
		log:      log.WithFields(zap.String("component", "mcp-supervisor")),
	}
}

// Declare registers an MCP server declaration at boot, status `registered`.
// It does not spawn the child; that happens on demand via Connect.
func (s *Supervisor) Declare(decl Server) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()

	if decl.ID == "" {
		decl.ID = uuid.New().String()
	}
	decl.Status = StatusRegistered
	s.servers[decl.ID] = &decl
	if decl.Name != "" {
		s.byName[strings.ToLower(decl.Name)] = decl.ID
	}
	return decl.clone()
}

// Resolve finds a server by id or (case-insensitive) name.
func (s *Supervisor) Resolve(idOrName string) (*Server, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if srv, ok := s.servers[idOrName]; ok {
		return srv.clone(), true
	}
	if id, ok := s.byName[strings.ToLower(idOrName)]; ok {
		return s.servers[id].clone(), true
	}
	return nil, false
}

// List returns every declared MCP server.
func (s *Supervisor) List() []*Server {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Server, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv.clone())
	}
	return out
}

// Connect spawns the child process (if not already online), performs the
// initialize + list_tools handshake, caches the tool catalogue, and marks
// the server online.
func (s *Supervisor) Connect(ctx context.Context, id string) error {
	s.mu.Lock()
	srv, ok := s.servers[id]
	if !ok {
		s.mu.Unlock()
		return apperr.MCP(apperr.CodeMCPNotConnected, "unknown MCP server: "+id)
	}
	if srv.Status == StatusOnline {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	cmd := exec.Command(srv.Interpreter, srv.ScriptPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return apperr.Wrap(err, "failed to open MCP child stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperr.Wrap(err, "failed to open MCP child stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return apperr.Wrap(err, "failed to open MCP child stderr")
	}
	if err := cmd.Start(); err != nil {
		return apperr.Wrap(err, "failed to spawn MCP child process: "+srv.ScriptPath)
	}

	client := newStdioClient(stdin, stdout, s.log)
	c := &child{cmd: cmd, stdin: stdin, client: client}

	s.mu.Lock()
	s.children[id] = c
	s.mu.Unlock()

	go s.logStderr(id, stderr)
	go s.watchExit(id, c)

	if err := s.handshake(ctx, id, client); err != nil {
		_ = cmd.Process.Kill()
		s.mu.Lock()
		delete(s.children, id)
		srv.Status = StatusError
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	srv.Status = StatusOnline
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) handshake(ctx context.Context, id string, client *stdioClient) error {
	initID := uuid.New().String()
	res := client.call(initID, &childMessage{ID: initID, Type: typeInitialize, Version: protocolVersion},
		correlation.Options{Timeout: defaultHandshakeTimeout})
	if res.Err != nil {
		return apperr.MCP(apperr.CodeMCPHandshakeFailed, "initialize failed: "+res.Err.Error())
	}
	if reply, ok := res.Content.(childMessage); ok && reply.Error != "" {
		return apperr.MCP(apperr.CodeMCPHandshakeFailed, "initialize rejected: "+reply.Error)
	}

	listID := uuid.New().String()
	res = client.call(listID, &childMessage{ID: listID, Type: typeListTools},
		correlation.Options{Timeout: defaultHandshakeTimeout})
	if res.Err != nil {
		return apperr.MCP(apperr.CodeMCPHandshakeFailed, "list_tools failed: "+res.Err.Error())
	}
	reply, ok := res.Content.(childMessage)
	if !ok {
		return apperr.MCP(apperr.CodeMCPHandshakeFailed, "list_tools returned an unreadable reply")
	}
	if reply.Error != "" {
		return apperr.MCP(apperr.CodeMCPHandshakeFailed, "list_tools rejected: "+reply.Error)
	}

	s.mu.Lock()
	if srv, ok := s.servers[id]; ok {
		srv.Tools = reply.Tools
	}
	s.mu.Unlock()
	return nil
}

// ToolCall dispatches a tool invocation to the server's child process,
// connecting it first if it is not already online.
func (s *Supervisor) ToolCall(ctx context.Context, id, toolName string, params map[string]interface{}) (json.RawMessage, map[string]interface{}, error) {
	srv, ok := s.Resolve(id)
	if !ok {
		return nil, nil, apperr.MCP(apperr.CodeMCPNotConnected, "unknown MCP server: "+id)
	}
	if srv.Status != StatusOnline {
		if err := s.Connect(ctx, srv.ID); err != nil {
			return nil, nil, err
		}
	}

	s.mu.Lock()
	c, ok := s.children[srv.ID]
	s.mu.Unlock()
	if !ok {
		return nil, nil, apperr.MCP(apperr.CodeMCPNotConnected, "MCP server has no live child: "+id)
	}

	callID := uuid.New().String()
	res := c.client.call(callID, &childMessage{
		ID:   callID,
		Type: typeToolCall,
		Tool: &toolCallPayload{Name: toolName, Args: params},
	}, correlation.Options{Timeout: defaultToolCallTimeout})
	if res.Err != nil {
		return nil, nil, res.Err
	}

	reply, ok := res.Content.(childMessage)
	if !ok {
		return nil, nil, apperr.MCP(apperr.CodeMCPToolError, "tool_call returned an unreadable reply")
	}
	if reply.Error != "" {
		return nil, nil, apperr.MCP(apperr.CodeMCPToolError, reply.Error)
	}
	return reply.Result, reply.Metadata, nil
}

// Disconnect attempts a graceful shutdown of one server's child process,
// then kills it if it does not exit in time, per spec.md §4.6.
func (s *Supervisor) Disconnect(id string) {
	s.mu.Lock()
	c, ok := s.children[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.gracefulStop(id, c)
	s.finalizeDisconnect(id, StatusRegistered)
}

func (s *Supervisor) gracefulStop(id string, c *child) {
	shutdownID := uuid.New().String()
	done := make(chan struct{})
	go func() {
		c.client.call(shutdownID, &childMessage{ID: shutdownID, Type: typeShutdown},
			correlation.Options{Timeout: defaultShutdownTimeout})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(defaultShutdownTimeout):
	}
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

func (s *Supervisor) finalizeDisconnect(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.children[id]; ok {
		c.client.shutdown()
		delete(s.children, id)
	}
	if srv, ok := s.servers[id]; ok {
		srv.Status = status
	}
}

// Shutdown gracefully stops every live child process. It is called once,
// during orchestrator shutdown (spec.md §5).
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.children))
	for id := range s.children {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Disconnect(id)
		}(id)
	}
	wg.Wait()
}

func (s *Supervisor) watchExit(id string, c *child) {
	err := c.cmd.Wait()

	s.mu.Lock()
	_, stillTracked := s.children[id]
	s.mu.Unlock()
	if !stillTracked {
		// Disconnect already reaped this child; nothing left to reconcile.
		return
	}

	c.client.shutdown()
	s.mu.Lock()
	delete(s.children, id)
	if srv, ok := s.servers[id]; ok {
		srv.Status = StatusError
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("MCP child process exited unexpectedly", zap.String("server_id", id), zap.Error(err))
	} else {
		s.log.Warn("MCP child process exited unexpectedly", zap.String("server_id", id))
	}
}

func (s *Supervisor) logStderr(id string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.log.Warn("MCP child stderr", zap.String("server_id", id), zap.String("line", scanner.Text()))
	}
}
