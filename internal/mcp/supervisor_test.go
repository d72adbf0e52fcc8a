package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrelay/orchestrator/internal/logging"
)

func TestDeclareRegistersServerAsRegistered(t *testing.T) {
	s := New(logging.Default())
	srv := s.Declare(Server{Name: "calc", Interpreter: "node", ScriptPath: "./calc.js"})

	assert.Equal(t, StatusRegistered, srv.Status)
	require.NotEmpty(t, srv.ID)

	byID, ok := s.Resolve(srv.ID)
	require.True(t, ok)
	assert.Equal(t, "calc", byID.Name)

	byName, ok := s.Resolve("CALC")
	require.True(t, ok)
	assert.Equal(t, srv.ID, byName.ID)
}

func TestResolveUnknownServer(t *testing.T) {
	s := New(logging.Default())
	_, ok := s.Resolve("missing")
	assert.False(t, ok)
}

func TestListReturnsEveryDeclaredServer(t *testing.T) {
	s := New(logging.Default())
	s.Declare(Server{Name: "calc", Interpreter: "node", ScriptPath: "./calc.js"})
	s.Declare(Server{Name: "weather", Interpreter: "python", ScriptPath: "./weather.py"})

	assert.Len(t, s.List(), 2)
}

func TestConnectUnknownServerReturnsError(t *testing.T) {
	s := New(logging.Default())
	err := s.Connect(context.Background(), "ghost")
	require.Error(t, err)
}
