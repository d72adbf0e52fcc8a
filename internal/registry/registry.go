package registry

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/logging"
)

// Filter narrows a List call. Zero-value fields are not applied. Filters are
// ANDed; unknown filter keys upstream (in the router's request content) are
// simply never translated into a Filter field, which has the same effect as
// ignoring them per spec.md §4.5.
type Filter struct {
	Status       *Status
	Capabilities []string // peer must have all of these
	NameContains string   // case-insensitive substring match
}

// Registry tracks one class of peer (agent, service, or client): identity,
// status, and the connection a peer is currently bound to. Kind is purely
// descriptive, used in logs and error messages ("agent", "service", "client").
type Registry struct {
	mu sync.RWMutex

	kind string
	log  *logging.Logger

	byID           map[string]*Peer
	byName         map[string]string // lowercase name -> peer id
	byConnectionID map[string]string // connection id -> peer id
	pending        map[string]interface{} // connection id -> transport handle, pre-registration
	order          []string                // peer ids, insertion order
}

// New creates an empty registry for the given peer kind.
func New(kind string, log *logging.Logger) *Registry {
	return &Registry{
		kind:           kind,
		log:            log.WithFields(zap.String("component", kind+"_registry")),
		byID:           make(map[string]*Peer),
		byName:         make(map[string]string),
		byConnectionID: make(map[string]string),
		pending:        make(map[string]interface{}),
	}
}

// AddPending parks a freshly accepted, not-yet-registered connection. handle
// is an opaque transport handle (the gateway's *Connection); the registry
// never inspects it.
func (r *Registry) AddPending(connectionID string, handle interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[connectionID] = handle
}

// PendingHandle returns the transport handle parked for connectionID, if any.
func (r *Registry) PendingHandle(connectionID string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.pending[connectionID]
	return h, ok
}

// RemoveConnection clears a connection's binding. If the connection belonged
// to a registered peer, the peer record is retained and its status moves to
// offline; the pending bucket entry (if any) is dropped either way.
func (r *Registry) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, connectionID)

	peerID, ok := r.byConnectionID[connectionID]
	if !ok {
		return
	}
	delete(r.byConnectionID, connectionID)

	if p, ok := r.byID[peerID]; ok {
		p.ConnectionID = ""
		p.Status = StatusOffline
	}
}

// Register upserts peer, binding it to connectionID. Reconnection with the
// same id rebinds the existing record rather than creating a duplicate.
// Registration is rejected if the name is empty, or already bound to a
// different id whose peer is not offline.
func (r *Registry) Register(peer *Peer, connectionID string) (*Peer, error) {
	name := strings.TrimSpace(peer.Name)
	if name == "" {
		return nil, apperr.Routing(apperr.CodeUnsupportedField, "peer name must not be empty")
	}
	nameKey := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.byName[nameKey]; ok && existingID != peer.ID {
		existing := r.byID[existingID]
		if existing == nil || existing.Status != StatusOffline {
			return nil, apperr.Routing(apperr.CodeDuplicateName,
				"name already registered to a different peer: "+name)
		}
		// Existing name owner is offline and this is a different id: the new
		// registration wins the name; the stale offline record keeps its id
		// but loses the name binding.
	}

	delete(r.pending, connectionID)

	existing, hadExisting := r.byID[peer.ID]
	if hadExisting {
		if oldConn := existing.ConnectionID; oldConn != "" && oldConn != connectionID {
			delete(r.byConnectionID, oldConn)
		}
		existing.Name = name
		existing.Capabilities = peer.Capabilities
		existing.Manifest = peer.Manifest
		existing.ConnectionID = connectionID
		existing.Status = StatusOnline
		r.byName[nameKey] = existing.ID
		r.byConnectionID[connectionID] = existing.ID
		return existing.clone(), nil
	}

	peer.Status = StatusOnline
	peer.ConnectionID = connectionID
	if peer.RegisteredAt.IsZero() {
		peer.RegisteredAt = time.Now().UTC()
	}
	r.byID[peer.ID] = peer
	r.byName[nameKey] = peer.ID
	r.byConnectionID[connectionID] = peer.ID
	r.order = append(r.order, peer.ID)

	r.log.Info("peer registered", zap.String("id", peer.ID), zap.String("name", peer.Name))
	return peer.clone(), nil
}

// ByID looks up a peer by its stable id.
func (r *Registry) ByID(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// ByName looks up a peer by its case-insensitive name.
func (r *Registry) ByName(name string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	p := r.byID[id]
	if p == nil {
		return nil, false
	}
	return p.clone(), true
}

// ByConnectionID resolves the peer currently bound to connectionID.
func (r *Registry) ByConnectionID(connectionID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConnectionID[connectionID]
	if !ok {
		return nil, false
	}
	p := r.byID[id]
	if p == nil {
		return nil, false
	}
	return p.clone(), true
}

// UpdateStatus validates and applies a peer status transition.
func (r *Registry) UpdateStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return apperr.Routing(apperr.CodePeerNotFound, "unknown "+r.kind+" id: "+id)
	}
	if !CanTransition(p.Status, status) {
		return apperr.Routing(apperr.CodeUnsupportedField,
			"invalid "+r.kind+" status transition: "+string(p.Status)+" -> "+string(status))
	}
	p.Status = status
	return nil
}

// List returns every peer matching filter, in registration order.
func (r *Registry) List(filter Filter) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Peer, 0, len(r.order))
	for _, id := range r.order {
		p, ok := r.byID[id]
		if !ok {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.NameContains != "" &&
			!strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.NameContains)) {
			continue
		}
		if len(filter.Capabilities) > 0 && !p.HasCapabilities(filter.Capabilities) {
			continue
		}
		out = append(out, p.clone())
	}
	return out
}

// Deregister removes a peer record entirely (explicit deregistration or
// process exit, per spec.md §3 — not used for ordinary disconnects, which
// retain the record via RemoveConnection).
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return
	}
	if p.ConnectionID != "" {
		delete(r.byConnectionID, p.ConnectionID)
	}
	delete(r.byName, strings.ToLower(p.Name))
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Count returns the number of registered peers (pending connections excluded).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
