// Package task implements the two task registries from spec.md §4.4:
// agent-tasks (client→agent, agent→agent) and service-tasks (agent→service).
// They share a structural contract — create, get, updateStatus, list,
// assignToAgent, removeTask — but are deliberately kept as separate types
// (spec.md §9: "two-tier task registries... intentionally not unified")
// because their secondary indexes differ.
package task

import "strings"

// Status is a task's position in the lifecycle from spec.md §4.7.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s is one of the sticky terminal statuses.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the edges spec.md §4.7 allows, including the
// direct pending -> failed/cancelled pre-assignment shortcut.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusInProgress: true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether from -> to is a legal task status edge.
// Terminal states never transition further; that invariant is enforced by
// the registry via IsTerminal rather than by an entry here.
func CanTransition(from, to Status) bool {
	edges, ok := validTransitions[from]
	return ok && edges[to]
}

// NormalizeStatus maps the free-form status strings peers may send onto the
// canonical Status set, per spec.md §4.4's documented mapping. warn is true
// when raw fell through to the pending default without a recognized synonym.
func NormalizeStatus(raw string) (status Status, warn bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "":
		return StatusPending, false
	case "in_progress", "assigned", "started":
		return StatusInProgress, false
	case "completed", "done", "success":
		return StatusCompleted, false
	case "failed", "error":
		return StatusFailed, false
	case "cancelled", "canceled":
		return StatusCancelled, false
	case "waiting", "new":
		return StatusPending, false
	default:
		return StatusPending, true
	}
}

// HistoryEntry records one status transition on a task (spec.md §4.4).
type HistoryEntry struct {
	Status    Status `json:"status"`
	Timestamp string `json:"timestamp"`
	Note      string `json:"note,omitempty"`
	ActorID   string `json:"actorId,omitempty"`
}
