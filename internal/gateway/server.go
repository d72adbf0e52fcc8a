package gateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/config"
	"github.com/meshrelay/orchestrator/internal/logging"
	"github.com/meshrelay/orchestrator/internal/router"
	"github.com/meshrelay/orchestrator/internal/wire"
)

// Server owns the three role-bound listeners spec.md §4.1 requires and the
// Hub they share.
type Server struct {
	Hub       *Hub
	listeners []*Listener
	log       *logging.Logger
}

// NewServer builds all three listeners from cfg atop an already-built hub,
// wiring them to r for message dispatch. The hub is built separately
// (NewHub) because the router that consumes it as a Sender must exist
// before the listeners that consume the router do.
func NewServer(cfg config.OrchestratorSection, hub *Hub, r *router.Router, log *logging.Logger) *Server {
	return &Server{
		Hub: hub,
		listeners: []*Listener{
			NewListener(wire.RoleAgent, fmt.Sprintf(":%d", cfg.AgentPort), hub, r, log),
			NewListener(wire.RoleClient, fmt.Sprintf(":%d", cfg.ClientPort), hub, r, log),
			NewListener(wire.RoleService, fmt.Sprintf(":%d", cfg.ServicePort), hub, r, log),
		},
		log: log.WithFields(zap.String("component", "gateway_server")),
	}
}

// Run starts all three listeners, each in its own goroutine, and returns at
// once without blocking. Unexpected listener failures are sent on the
// returned channel so the caller (cmd/orchestrator) can trigger shutdown of
// the others.
func (s *Server) Run() <-chan error {
	errCh := make(chan error, len(s.listeners))
	for _, l := range s.listeners {
		l := l
		go func() {
			if err := l.Serve(); err != nil {
				errCh <- fmt.Errorf("listener %s: %w", l.role, err)
			}
		}()
	}
	return errCh
}

// Shutdown gracefully stops every listener, per spec.md §5.
func (s *Server) Shutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(s.listeners))
	for i, l := range s.listeners {
		i, l := i, l
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Shutdown(ctx); err != nil {
				errs[i] = err
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
