package task

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshrelay/orchestrator/internal/apperr"
)

// ServiceTask flows agent->service (tool invocation). Same shape as
// AgentTask but the requester is always an agent; a client id rides along
// for downstream notification fan-out (spec.md §3).
type ServiceTask struct {
	ID          string
	ToolID      string
	Params      json.RawMessage
	AgentID     string // requesting agent
	ServiceID   string // assigned service
	ClientID    string // optional, for notification fan-out
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	History     []HistoryEntry
	Result      interface{}
	Error       string
}

func (t *ServiceTask) clone() *ServiceTask {
	cp := *t
	cp.History = append([]HistoryEntry(nil), t.History...)
	return &cp
}

// ServiceTaskFilter narrows a ServiceRegistry.List call.
type ServiceTaskFilter struct {
	Status    *Status
	ServiceID string
	AgentID   string
}

// ServiceRegistry is the service-task registry (spec.md §4.4), indexed by
// assigned service, requesting agent, and (optionally) downstream client.
type ServiceRegistry struct {
	mu          sync.RWMutex
	byID        map[string]*ServiceTask
	byServiceID map[string]map[string]bool
	byAgentID   map[string]map[string]bool
	byClientID  map[string]map[string]bool
	order       []string
}

// NewServiceRegistry creates an empty service-task registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		byID:        make(map[string]*ServiceTask),
		byServiceID: make(map[string]map[string]bool),
		byAgentID:   make(map[string]map[string]bool),
		byClientID:  make(map[string]map[string]bool),
	}
}

// Create allocates a task id (if unset) and inserts a pending task.
func (r *ServiceRegistry) Create(t *ServiceTask) *ServiceTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusPending
	}
	t.History = append(t.History, HistoryEntry{
		Status:    t.Status,
		Timestamp: now.Format(time.RFC3339Nano),
	})

	r.byID[t.ID] = t
	r.index(t)
	r.order = append(r.order, t.ID)
	return t.clone()
}

func (r *ServiceRegistry) index(t *ServiceTask) {
	add := func(idx map[string]map[string]bool, key string) {
		if key == "" {
			return
		}
		if idx[key] == nil {
			idx[key] = make(map[string]bool)
		}
		idx[key][t.ID] = true
	}
	add(r.byServiceID, t.ServiceID)
	add(r.byAgentID, t.AgentID)
	add(r.byClientID, t.ClientID)
}

// Get retrieves a task by id.
func (r *ServiceRegistry) Get(id string) (*ServiceTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// AssignToAgent rebinds the requesting agent on a task (used when a
// pending-assignment service task is claimed, mirroring AgentRegistry's
// contract even though service-tasks are normally created with AgentID set
// up front).
func (r *ServiceRegistry) AssignToAgent(id, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return apperr.Task(apperr.CodeUnknownTask, "unknown task: "+id)
	}
	if t.Status.IsTerminal() {
		return apperr.Task(apperr.CodeTerminalTask, "task already in terminal state: "+id)
	}
	if ids := r.byAgentID[t.AgentID]; ids != nil {
		delete(ids, t.ID)
	}
	t.AgentID = agentID
	t.UpdatedAt = time.Now().UTC()
	if r.byAgentID[agentID] == nil {
		r.byAgentID[agentID] = make(map[string]bool)
	}
	r.byAgentID[agentID][t.ID] = true
	return nil
}

// UpdateStatus normalizes rawStatus, validates the transition, appends a
// history entry, and records CompletedAt on any terminal status.
func (r *ServiceRegistry) UpdateStatus(id, rawStatus, note, actorID string) (*ServiceTask, error) {
	status, _ := NormalizeStatus(rawStatus)
	return r.applyStatus(id, status, note, actorID)
}

func (r *ServiceRegistry) applyStatus(id string, status Status, note, actorID string) (*ServiceTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, apperr.Task(apperr.CodeUnknownTask, "unknown task: "+id)
	}
	if t.Status.IsTerminal() {
		return nil, apperr.Task(apperr.CodeTerminalTask, "task already in terminal state: "+id)
	}
	if t.Status != status && !CanTransition(t.Status, status) {
		return nil, apperr.Task(apperr.CodeTerminalTask,
			"invalid task status transition: "+string(t.Status)+" -> "+string(status))
	}

	now := time.Now().UTC()
	t.Status = status
	t.UpdatedAt = now
	t.History = append(t.History, HistoryEntry{
		Status:    status,
		Timestamp: now.Format(time.RFC3339Nano),
		Note:      note,
		ActorID:   actorID,
	})
	if status.IsTerminal() {
		completedAt := now
		t.CompletedAt = &completedAt
	}
	return t.clone(), nil
}

// SetResult stores a successful result and marks the task completed.
func (r *ServiceRegistry) SetResult(id string, result interface{}) (*ServiceTask, error) {
	t, err := r.applyStatus(id, StatusCompleted, "", "")
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if stored, ok := r.byID[id]; ok {
		stored.Result = result
	}
	r.mu.Unlock()
	t.Result = result
	return t, nil
}

// SetError stores a failure reason and marks the task failed.
func (r *ServiceRegistry) SetError(id, note string) (*ServiceTask, error) {
	t, err := r.applyStatus(id, StatusFailed, note, "")
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if stored, ok := r.byID[id]; ok {
		stored.Error = note
	}
	r.mu.Unlock()
	t.Error = note
	return t, nil
}

// List returns tasks matching filter in creation order.
func (r *ServiceRegistry) List(filter ServiceTaskFilter) []*ServiceTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ServiceTask, 0, len(r.order))
	for _, id := range r.order {
		t, ok := r.byID[id]
		if !ok {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.ServiceID != "" && t.ServiceID != filter.ServiceID {
			continue
		}
		if filter.AgentID != "" && t.AgentID != filter.AgentID {
			continue
		}
		out = append(out, t.clone())
	}
	return out
}

// ByService returns every task currently assigned to serviceID.
func (r *ServiceRegistry) ByService(serviceID string) []*ServiceTask {
	return r.lookupIndex(r.byServiceID, serviceID)
}

// ByAgent returns every task requested by agentID.
func (r *ServiceRegistry) ByAgent(agentID string) []*ServiceTask {
	return r.lookupIndex(r.byAgentID, agentID)
}

// ByClient returns every task carrying clientID for notification fan-out.
func (r *ServiceRegistry) ByClient(clientID string) []*ServiceTask {
	return r.lookupIndex(r.byClientID, clientID)
}

func (r *ServiceRegistry) lookupIndex(idx map[string]map[string]bool, key string) []*ServiceTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := idx[key]
	out := make([]*ServiceTask, 0, len(ids))
	for id := range ids {
		if t, ok := r.byID[id]; ok {
			out = append(out, t.clone())
		}
	}
	return out
}

// NonTerminalForPeer returns every non-terminal task where peerID is the
// assigned service or the requesting agent, used by the router's
// disconnection sweep (spec.md §4.5).
func (r *ServiceRegistry) NonTerminalForPeer(peerID string) []*ServiceTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for id := range r.byServiceID[peerID] {
		seen[id] = true
	}
	for id := range r.byAgentID[peerID] {
		seen[id] = true
	}
	var out []*ServiceTask
	for id := range seen {
		if t, ok := r.byID[id]; ok && !t.Status.IsTerminal() {
			out = append(out, t.clone())
		}
	}
	return out
}

// RemoveTask deletes a task record and its index entries.
func (r *ServiceRegistry) RemoveTask(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return
	}
	if ids := r.byServiceID[t.ServiceID]; ids != nil {
		delete(ids, id)
	}
	if ids := r.byAgentID[t.AgentID]; ids != nil {
		delete(ids, id)
	}
	if ids := r.byClientID[t.ClientID]; ids != nil {
		delete(ids, id)
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
