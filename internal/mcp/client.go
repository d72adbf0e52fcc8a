package mcp

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/correlation"
	"github.com/meshrelay/orchestrator/internal/logging"
)

// stdioClient speaks the MCP child protocol over one child process's
// stdin/stdout, correlating replies by message id. Grounded on
// jsonrpc.Client's read-loop-plus-pending-map shape, adapted from JSON-RPC
// 2.0 envelopes to spec.md §6's flatter `{id, type, ...}` child messages.
type stdioClient struct {
	stdin    io.Writer
	writeMu  sync.Mutex
	corr     *correlation.Table
	logger   *logging.Logger
	onNotify func(msg childMessage)
}

func newStdioClient(stdin io.Writer, stdout io.Reader, log *logging.Logger) *stdioClient {
	c := &stdioClient{
		stdin:  stdin,
		corr:   correlation.New(),
		logger: log.WithFields(zap.String("component", "mcp-stdio-client")),
	}
	go c.readLoop(stdout)
	return c
}

func (c *stdioClient) send(msg *childMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(data)
	return err
}

// call registers a waiter for id, writes msg, and blocks for the matching
// reply via the correlation table's standard resolve/timeout/shutdown paths.
func (c *stdioClient) call(id string, msg *childMessage, opts correlation.Options) correlation.Result {
	ch := c.corr.Register(id, opts)
	if err := c.send(msg); err != nil {
		c.corr.Cancel(id)
		return correlation.Result{Err: err}
	}
	return <-ch
}

func (c *stdioClient) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg childMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("failed to parse MCP child message", zap.Error(err), zap.ByteString("line", line))
			continue
		}

		if msg.ID == "" {
			if c.onNotify != nil {
				c.onNotify(msg)
			}
			continue
		}
		if !c.corr.Resolve(msg.ID, "", msg) {
			c.logger.Warn("received reply for unknown MCP request id", zap.String("id", msg.ID))
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Error("MCP child read loop error", zap.Error(err))
	}
}

// shutdown rejects every outstanding waiter, used when the child process
// exits or the supervisor tears the client down.
func (c *stdioClient) shutdown() {
	c.corr.Shutdown()
}
