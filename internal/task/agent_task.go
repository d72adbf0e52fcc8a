package task

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshrelay/orchestrator/internal/apperr"
)

// AgentTask flows client->agent or agent->agent (spec.md §3).
type AgentTask struct {
	ID            string
	TaskType      string
	Input         json.RawMessage
	RequesterID   string // client connection id, or the delegating agent's id
	RequesterRole string // "client" or "agent"
	AgentID       string // assigned executor
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	History       []HistoryEntry
	Result        interface{}
	Error         string
}

func (t *AgentTask) clone() *AgentTask {
	cp := *t
	cp.History = append([]HistoryEntry(nil), t.History...)
	return &cp
}

// AgentTaskFilter narrows an AgentRegistry.List call.
type AgentTaskFilter struct {
	Status      *Status
	AgentID     string
	RequesterID string
}

// AgentRegistry is the agent-task registry (spec.md §4.4), indexed by
// assigned agent and by originating requester for per-peer cleanup and
// status queries.
type AgentRegistry struct {
	mu            sync.RWMutex
	byID          map[string]*AgentTask
	byAgentID     map[string]map[string]bool
	byRequesterID map[string]map[string]bool
	order         []string
}

// NewAgentRegistry creates an empty agent-task registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{
		byID:          make(map[string]*AgentTask),
		byAgentID:     make(map[string]map[string]bool),
		byRequesterID: make(map[string]map[string]bool),
	}
}

// Create allocates a task id (if unset) and inserts a pending task.
func (r *AgentRegistry) Create(t *AgentTask) *AgentTask {
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

func (r *AgentRegistry) index(t *AgentTask) {
	if t.AgentID != "" {
		if r.byAgentID[t.AgentID] == nil {
			r.byAgentID[t.AgentID] = make(map[string]bool)
		}
		r.byAgentID[t.AgentID][t.ID] = true
	}
	if t.RequesterID != "" {
		if r.byRequesterID[t.RequesterID] == nil {
			r.byRequesterID[t.RequesterID] = make(map[string]bool)
		}
		r.byRequesterID[t.RequesterID][t.ID] = true
	}
}

// Get retrieves a task by id.
func (r *AgentRegistry) Get(id string) (*AgentTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// AssignToAgent (re)binds a task to an executing agent, updating the
// byAgentID index.
func (r *AgentRegistry) AssignToAgent(id, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return apperr.Task(apperr.CodeUnknownTask, "unknown task: "+id)
	}
	if t.Status.IsTerminal() {
		return apperr.Task(apperr.CodeTerminalTask, "task already in terminal state: "+id)
	}
	if t.AgentID != "" {
		if ids := r.byAgentID[t.AgentID]; ids != nil {
			delete(ids, t.ID)
		}
	}
	t.AgentID = agentID
	t.UpdatedAt = time.Now().UTC()
	if r.byAgentID[agentID] == nil {
		r.byAgentID[agentID] = make(map[string]bool)
	}
	r.byAgentID[agentID][t.ID] = true
	return nil
}

// UpdateStatus normalizes raw, validates the transition, appends a history
// entry, and records CompletedAt on any terminal status. Terminal tasks
// reject further mutation.
func (r *AgentRegistry) UpdateStatus(id, rawStatus, note, actorID string) (*AgentTask, error) {
	status, _ := NormalizeStatus(rawStatus)
	return r.applyStatus(id, status, note, actorID)
}

func (r *AgentRegistry) applyStatus(id string, status Status, note, actorID string) (*AgentTask, error) {
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
func (r *AgentRegistry) SetResult(id string, result interface{}) (*AgentTask, error) {
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
func (r *AgentRegistry) SetError(id, note string) (*AgentTask, error) {
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
func (r *AgentRegistry) List(filter AgentTaskFilter) []*AgentTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AgentTask, 0, len(r.order))
	for _, id := range r.order {
		t, ok := r.byID[id]
		if !ok {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.AgentID != "" && t.AgentID != filter.AgentID {
			continue
		}
		if filter.RequesterID != "" && t.RequesterID != filter.RequesterID {
			continue
		}
		out = append(out, t.clone())
	}
	return out
}

// ByAgent returns every non-removed task currently assigned to agentID.
func (r *AgentRegistry) ByAgent(agentID string) []*AgentTask {
	return r.lookupIndex(r.byAgentID, agentID)
}

// ByRequester returns every non-removed task originated by requesterID.
func (r *AgentRegistry) ByRequester(requesterID string) []*AgentTask {
	return r.lookupIndex(r.byRequesterID, requesterID)
}

func (r *AgentRegistry) lookupIndex(idx map[string]map[string]bool, key string) []*AgentTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := idx[key]
	out := make([]*AgentTask, 0, len(ids))
	for id := range ids {
		if t, ok := r.byID[id]; ok {
			out = append(out, t.clone())
		}
	}
	return out
}

// NonTerminalForPeer returns every non-terminal task where peerID is either
// the assigned agent or the originating requester, used by the router's
// disconnection sweep (spec.md §4.5).
func (r *AgentRegistry) NonTerminalForPeer(peerID string) []*AgentTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []*AgentTask
	for id := range r.byAgentID[peerID] {
		seen[id] = true
	}
	for id := range r.byRequesterID[peerID] {
		seen[id] = true
	}
	for id := range seen {
		if t, ok := r.byID[id]; ok && !t.Status.IsTerminal() {
			out = append(out, t.clone())
		}
	}
	return out
}

// RemoveTask deletes a task record and its index entries.
func (r *AgentRegistry) RemoveTask(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return
	}
	if ids := r.byAgentID[t.AgentID]; ids != nil {
		delete(ids, id)
	}
	if ids := r.byRequesterID[t.RequesterID]; ids != nil {
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
