package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrelay/orchestrator/internal/apperr"
)

func TestRegisterAndResolve(t *testing.T) {
	tbl := New()
	ch := tbl.Register("req-1", Options{Timeout: time.Second})
	require.Equal(t, 1, tbl.Len())

	ok := tbl.Resolve("req-1", "agent.registered", map[string]string{"hello": "world"})
	require.True(t, ok)

	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, map[string]string{"hello": "world"}, res.Content)
	assert.Equal(t, 0, tbl.Len())
}

func TestResolveUnknownIDReturnsFalse(t *testing.T) {
	tbl := New()
	ok := tbl.Resolve("does-not-exist", "agent.registered", nil)
	assert.False(t, ok)
}

func TestResolveRespectsCustomEvent(t *testing.T) {
	tbl := New()
	ch := tbl.Register("req-2", Options{Timeout: time.Second, CustomEvent: "childagent.response"})

	ok := tbl.Resolve("req-2", "agent.status", "wrong type")
	assert.False(t, ok, "a non-matching type should not resolve a CustomEvent waiter")
	assert.Equal(t, 1, tbl.Len())

	ok = tbl.Resolve("req-2", "childagent.response", "right type")
	assert.True(t, ok)
	res := <-ch
	assert.Equal(t, "right type", res.Content)
}

func TestTimeoutResolvesWithError(t *testing.T) {
	tbl := New()
	ch := tbl.Register("req-3", Options{Timeout: 10 * time.Millisecond})

	res := <-ch
	require.Error(t, res.Err)
	appErr, ok := apperr.As(res.Err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeTimeout, appErr.Code)
	assert.Equal(t, 0, tbl.Len())
}

func TestResolveAnyMatchesFirstAnyIDWaiter(t *testing.T) {
	tbl := New()
	ch := tbl.Register("req-4", Options{Timeout: time.Second, AnyMessageID: true})

	ok := tbl.ResolveAny("mcp.tool.execute.response", "tool output")
	require.True(t, ok)
	res := <-ch
	assert.Equal(t, "tool output", res.Content)
}

func TestCancelRejectsWaiter(t *testing.T) {
	tbl := New()
	ch := tbl.Register("req-5", Options{Timeout: time.Second})
	tbl.Cancel("req-5")

	res := <-ch
	require.Error(t, res.Err)
	appErr, ok := apperr.As(res.Err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeWaiterCancelled, appErr.Code)
}

func TestShutdownRejectsAllOutstandingWaiters(t *testing.T) {
	tbl := New()
	ch1 := tbl.Register("req-6", Options{Timeout: time.Minute})
	ch2 := tbl.Register("req-7", Options{Timeout: time.Minute})

	tbl.Shutdown()

	for _, ch := range []<-chan Result{ch1, ch2} {
		res := <-ch
		require.Error(t, res.Err)
		appErr, ok := apperr.As(res.Err)
		require.True(t, ok)
		assert.Equal(t, apperr.CodeServerStopped, appErr.Code)
	}
	assert.Equal(t, 0, tbl.Len())
}

func TestResolveIsExactlyOnce(t *testing.T) {
	tbl := New()
	tbl.Register("req-8", Options{Timeout: time.Second})

	first := tbl.Resolve("req-8", "agent.registered", "first")
	second := tbl.Resolve("req-8", "agent.registered", "second")

	assert.True(t, first)
	assert.False(t, second, "a request id can only resolve one waiter")
}
