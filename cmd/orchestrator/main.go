// Command orchestrator runs the Orchestrator Core: three role-bound
// WebSocket listeners (agent, client, service) fed into a single message
// router, plus a supervisor for any declared MCP child processes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/bus"
	"github.com/meshrelay/orchestrator/internal/config"
	"github.com/meshrelay/orchestrator/internal/gateway"
	"github.com/meshrelay/orchestrator/internal/logging"
	"github.com/meshrelay/orchestrator/internal/mcp"
	"github.com/meshrelay/orchestrator/internal/registry"
	"github.com/meshrelay/orchestrator/internal/router"
	"github.com/meshrelay/orchestrator/internal/task"
	"github.com/meshrelay/orchestrator/internal/tracing"
)

func main() {
	// 1. Parse flags, load configuration.
	flags := config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(flags.ConfigPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Build the logger.
	log, err := logging.New(logging.Config{
		Level:      cfg.Orchestrator.LogLevel,
		Format:     "json",
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logging.SetDefault(log)

	log.Info("starting orchestrator core")

	// 3. Build the event bus: NATS-backed if configured, in-memory otherwise.
	eventBus, err := newEventBus(cfg.NATS, log)
	if err != nil {
		log.Fatal("failed to build event bus", zap.Error(err))
	}
	defer eventBus.Close()

	// 4. Build the peer registries, task registries, and MCP supervisor.
	agents := registry.New("agent", log)
	services := registry.New("service", log)
	clients := registry.New("client", log)

	agentTasks := task.NewAgentRegistry()
	serviceTasks := task.NewServiceRegistry()

	mcpSup := mcp.New(log)
	for id, decl := range cfg.MCPServers {
		mcpSup.Declare(mcp.Server{
			ID:           id,
			Name:         id,
			Interpreter:  decl.Type,
			ScriptPath:   decl.Path,
			Capabilities: decl.Capabilities,
		})
	}
	defer mcpSup.Shutdown()

	// 5. Build the hub, the router atop it, then the gateway's three
	// listeners atop the router — in that order, since each layer is the
	// previous one's dependency.
	hub := gateway.NewHub(agents, services, clients, log)
	r := router.New(router.Deps{
		Agents:       agents,
		Services:     services,
		Clients:      clients,
		AgentTasks:   agentTasks,
		ServiceTasks: serviceTasks,
		MCP:          mcpSup,
		Bus:          eventBus,
		Sender:       hub,
		Logger:       log,
		TaskTimeout:  cfg.Orchestrator.TaskTimeoutDuration(),
	})
	gw := gateway.NewServer(cfg.Orchestrator, hub, r, log)

	errCh := gw.Run()
	log.Info("gateway listening",
		zap.Int("agentPort", cfg.Orchestrator.AgentPort),
		zap.Int("clientPort", cfg.Orchestrator.ClientPort),
		zap.Int("servicePort", cfg.Orchestrator.ServicePort),
	)

	// 6. Wait for a shutdown signal or a listener failure.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("gateway listener failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error("gateway shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	log.Info("orchestrator core stopped")
}

func newEventBus(cfg config.NATSSection, log *logging.Logger) (bus.EventBus, error) {
	if cfg.URL == "" {
		return bus.NewMemoryEventBus(log), nil
	}
	return bus.NewNATSEventBus(cfg, log)
}
