package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrelay/orchestrator/internal/apperr"
)

func TestNormalizeStatusMapping(t *testing.T) {
	cases := map[string]Status{
		"assigned":  StatusInProgress,
		"started":   StatusInProgress,
		"error":     StatusFailed,
		"done":      StatusCompleted,
		"success":   StatusCompleted,
		"waiting":   StatusPending,
		"new":       StatusPending,
		"pending":   StatusPending,
		"completed": StatusCompleted,
	}
	for raw, want := range cases {
		got, warn := NormalizeStatus(raw)
		assert.Equal(t, want, got, raw)
		assert.False(t, warn, raw)
	}

	got, warn := NormalizeStatus("something-unrecognized")
	assert.Equal(t, StatusPending, got)
	assert.True(t, warn)
}

func TestAgentRegistryCreateAndUpdateStatus(t *testing.T) {
	r := NewAgentRegistry()
	created := r.Create(&AgentTask{TaskType: "echo", RequesterID: "client-1", RequesterRole: "client", AgentID: "agent-1"})
	require.NotEmpty(t, created.ID)
	assert.Equal(t, StatusPending, created.Status)
	require.Len(t, created.History, 1)

	updated, err := r.UpdateStatus(created.ID, "assigned", "picked up", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)
	require.Len(t, updated.History, 2)

	done, err := r.SetResult(created.ID, map[string]string{"echo": "hi"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
}

func TestAgentRegistryTerminalStatusIsSticky(t *testing.T) {
	r := NewAgentRegistry()
	created := r.Create(&AgentTask{TaskType: "echo", RequesterID: "client-1", RequesterRole: "client"})
	_, err := r.UpdateStatus(created.ID, "in_progress", "", "")
	require.NoError(t, err)
	_, err = r.SetResult(created.ID, "ok")
	require.NoError(t, err)

	_, err = r.UpdateStatus(created.ID, "in_progress", "", "")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeTerminalTask, appErr.Code)

	unchanged, _ := r.Get(created.ID)
	assert.Equal(t, StatusCompleted, unchanged.Status)
}

func TestAgentRegistryUnknownTask(t *testing.T) {
	r := NewAgentRegistry()
	_, err := r.UpdateStatus("ghost", "completed", "", "")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeUnknownTask, appErr.Code)
}

func TestAgentRegistryIndexesAndDisconnectSweep(t *testing.T) {
	r := NewAgentRegistry()
	t1 := r.Create(&AgentTask{TaskType: "a", RequesterID: "client-1", RequesterRole: "client", AgentID: "agent-1"})
	t2 := r.Create(&AgentTask{TaskType: "b", RequesterID: "client-1", RequesterRole: "client", AgentID: "agent-2"})
	_, err := r.UpdateStatus(t2.ID, "in_progress", "", "")
	require.NoError(t, err)
	_, err = r.SetResult(t2.ID, "done")
	require.NoError(t, err)

	byAgent1 := r.ByAgent("agent-1")
	require.Len(t, byAgent1, 1)
	assert.Equal(t, t1.ID, byAgent1[0].ID)

	byRequester := r.ByRequester("client-1")
	assert.Len(t, byRequester, 2)

	nonTerminal := r.NonTerminalForPeer("agent-1")
	require.Len(t, nonTerminal, 1)
	assert.Equal(t, t1.ID, nonTerminal[0].ID)

	// agent-2's task is terminal, so it must not appear in the sweep.
	assert.Empty(t, r.NonTerminalForPeer("agent-2"))
}

func TestAgentRegistryAssignToAgentMovesIndex(t *testing.T) {
	r := NewAgentRegistry()
	created := r.Create(&AgentTask{TaskType: "a", RequesterID: "client-1", RequesterRole: "client", AgentID: "agent-1"})

	err := r.AssignToAgent(created.ID, "agent-2")
	require.NoError(t, err)

	assert.Empty(t, r.ByAgent("agent-1"))
	byAgent2 := r.ByAgent("agent-2")
	require.Len(t, byAgent2, 1)
	assert.Equal(t, created.ID, byAgent2[0].ID)
}

func TestAgentRegistryRemoveTask(t *testing.T) {
	r := NewAgentRegistry()
	created := r.Create(&AgentTask{TaskType: "a", RequesterID: "client-1", RequesterRole: "client", AgentID: "agent-1"})
	r.RemoveTask(created.ID)

	_, ok := r.Get(created.ID)
	assert.False(t, ok)
	assert.Empty(t, r.ByAgent("agent-1"))
}

func TestServiceRegistryFanOutIndexes(t *testing.T) {
	r := NewServiceRegistry()
	created := r.Create(&ServiceTask{ToolID: "add", AgentID: "agent-1", ServiceID: "calc", ClientID: "client-1"})

	assert.Len(t, r.ByService("calc"), 1)
	assert.Len(t, r.ByAgent("agent-1"), 1)
	assert.Len(t, r.ByClient("client-1"), 1)

	_, err := r.UpdateStatus(created.ID, "in_progress", "", "")
	require.NoError(t, err)
	_, err = r.SetResult(created.ID, map[string]int{"result": 5})
	require.NoError(t, err)

	_, err = r.UpdateStatus(created.ID, "in_progress", "", "")
	require.Error(t, err, "terminal service tasks must reject further mutation")
}

func TestServiceRegistryDirectPendingToFailed(t *testing.T) {
	r := NewServiceRegistry()
	created := r.Create(&ServiceTask{ToolID: "add", AgentID: "agent-1", ServiceID: "calc"})

	_, err := r.SetError(created.ID, "service unreachable")
	require.NoError(t, err)

	got, _ := r.Get(created.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "service unreachable", got.Error)
}
