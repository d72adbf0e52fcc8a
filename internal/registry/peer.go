// Package registry implements the peer registry from spec.md §4.2: identity,
// status, capability, and connection↔peer bookkeeping for one class of peer
// (agent, service, or client). The same type is instantiated three times by
// cmd/orchestrator, one per class, and shared by the gateway hub and router.
package registry

import "time"

// Status is a peer's position in the state machine from spec.md §4.7:
// registered -> online -> offline -> online | busy | error.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
	StatusBusy       Status = "busy"
	StatusError      Status = "error"
)

// validTransitions enumerates every edge in spec.md §4.7's peer state table.
// offline -> registered is deliberately absent: the record is retained, not
// demoted.
var validTransitions = map[Status]map[Status]bool{
	StatusRegistered: {StatusOnline: true, StatusError: true},
	StatusOnline:     {StatusOffline: true, StatusBusy: true, StatusError: true, StatusOnline: true},
	StatusOffline:    {StatusOnline: true, StatusError: true},
	StatusBusy:       {StatusOnline: true, StatusOffline: true, StatusError: true, StatusBusy: true},
	StatusError:      {StatusOnline: true, StatusOffline: true, StatusError: true},
}

// CanTransition reports whether from -> to is a legal peer status edge.
func CanTransition(from, to Status) bool {
	edges, ok := validTransitions[from]
	return ok && edges[to]
}

// Peer is a long-lived logical identity bound at runtime to at most one
// connection (spec.md §3).
type Peer struct {
	ID           string
	Name         string
	Capabilities []string
	Status       Status
	RegisteredAt time.Time
	Manifest     map[string]interface{}
	ConnectionID string // empty when disconnected
}

// HasCapability reports whether the peer advertises capability c.
func (p *Peer) HasCapability(c string) bool {
	for _, cap := range p.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// HasCapabilities reports whether the peer advertises every capability in want.
func (p *Peer) HasCapabilities(want []string) bool {
	for _, w := range want {
		if !p.HasCapability(w) {
			return false
		}
	}
	return true
}

func (p *Peer) clone() *Peer {
	cp := *p
	cp.Capabilities = append([]string(nil), p.Capabilities...)
	if p.Manifest != nil {
		cp.Manifest = make(map[string]interface{}, len(p.Manifest))
		for k, v := range p.Manifest {
			cp.Manifest[k] = v
		}
	}
	return &cp
}
