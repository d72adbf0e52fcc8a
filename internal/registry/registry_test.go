package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrelay/orchestrator/internal/apperr"
	"github.com/meshrelay/orchestrator/internal/logging"
)

func newTestRegistry() *Registry {
	return New("agent", logging.Default())
}

func TestRegisterBindsConnectionAndName(t *testing.T) {
	r := newTestRegistry()
	p, err := r.Register(&Peer{ID: "a1", Name: "Worker-1", Capabilities: []string{"echo"}}, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, p.Status)

	byID, ok := r.ByID("a1")
	require.True(t, ok)
	assert.Equal(t, "conn-1", byID.ConnectionID)

	byConn, ok := r.ByConnectionID("conn-1")
	require.True(t, ok)
	assert.Equal(t, "a1", byConn.ID)

	byName, ok := r.ByName("worker-1")
	require.True(t, ok)
	assert.Equal(t, "a1", byName.ID)
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register(&Peer{ID: "a1", Name: "  "}, "conn-1")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeUnsupportedField, appErr.Code)
}

func TestRegisterRejectsDuplicateNameWhileOnline(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register(&Peer{ID: "a1", Name: "dup"}, "conn-1")
	require.NoError(t, err)

	_, err = r.Register(&Peer{ID: "a2", Name: "dup"}, "conn-2")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeDuplicateName, appErr.Code)
}

func TestReconnectionRebindsSameRecord(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register(&Peer{ID: "a1", Name: "a1"}, "conn-1")
	require.NoError(t, err)

	r.RemoveConnection("conn-1")
	p, ok := r.ByID("a1")
	require.True(t, ok)
	assert.Equal(t, StatusOffline, p.Status)
	assert.Empty(t, p.ConnectionID)

	_, err = r.Register(&Peer{ID: "a1", Name: "a1"}, "conn-2")
	require.NoError(t, err)

	p, ok = r.ByID("a1")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, p.Status)
	assert.Equal(t, "conn-2", p.ConnectionID)
	assert.Len(t, r.List(Filter{}), 1, "reconnection must not create a duplicate entry")
}

func TestRemoveConnectionRetainsPeerRecord(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register(&Peer{ID: "a1", Name: "a1"}, "conn-1")
	require.NoError(t, err)

	r.RemoveConnection("conn-1")

	_, ok := r.ByConnectionID("conn-1")
	assert.False(t, ok)

	p, ok := r.ByID("a1")
	require.True(t, ok, "peer record must be retained across disconnect")
	assert.Equal(t, StatusOffline, p.Status)
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register(&Peer{ID: "a1", Name: "a1"}, "conn-1")
	require.NoError(t, err)

	err = r.UpdateStatus("a1", StatusRegistered)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeUnsupportedField, appErr.Code)
}

func TestUpdateStatusUnknownPeer(t *testing.T) {
	r := newTestRegistry()
	err := r.UpdateStatus("ghost", StatusOnline)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodePeerNotFound, appErr.Code)
}

func TestListFiltersAreANDed(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Register(&Peer{ID: "a1", Name: "alpha", Capabilities: []string{"echo", "sum"}}, "c1")
	_, _ = r.Register(&Peer{ID: "a2", Name: "beta", Capabilities: []string{"echo"}}, "c2")
	_ = r.UpdateStatus("a2", StatusBusy)

	online := StatusOnline
	results := r.List(Filter{Status: &online, Capabilities: []string{"sum"}})
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].ID)

	byName := r.List(Filter{NameContains: "BET"})
	require.Len(t, byName, 1)
	assert.Equal(t, "a2", byName[0].ID)
}

func TestListOrderIsInsertionStable(t *testing.T) {
	r := newTestRegistry()
	ids := []string{"a1", "a2", "a3"}
	for _, id := range ids {
		_, err := r.Register(&Peer{ID: id, Name: id}, "conn-"+id)
		require.NoError(t, err)
	}

	got := r.List(Filter{})
	require.Len(t, got, 3)
	for i, p := range got {
		assert.Equal(t, ids[i], p.ID)
	}
}

func TestConnectionIDBelongsToAtMostOnePeer(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register(&Peer{ID: "a1", Name: "a1"}, "conn-shared")
	require.NoError(t, err)

	p, ok := r.ByConnectionID("conn-shared")
	require.True(t, ok)
	byID, ok := r.ByID(p.ID)
	require.True(t, ok)
	assert.Equal(t, "conn-shared", byID.ConnectionID)
}

func TestConcurrentRegistrationsAreSafe(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "agent-" + string(rune('A'+n%26)) + string(rune('0'+n/26))
			_, _ = r.Register(&Peer{ID: id, Name: id}, "conn-"+id)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, r.Count(), 50)
}
