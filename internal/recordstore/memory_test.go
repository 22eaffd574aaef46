package recordstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemorySeedAndCall(t *testing.T) {
	m := NewMemory()
	m.Seed("proc_a", []map[string]interface{}{{"id": 1}})

	rows, err := m.Call(context.Background(), "proc_a")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, m.CallCount("proc_a"))
}

func TestMemoryCallUnseededProcedureErrors(t *testing.T) {
	m := NewMemory()
	_, err := m.Call(context.Background(), "unknown_proc")
	require.Error(t, err)
}

func TestMemoryCallCountIncrementsPerCall(t *testing.T) {
	m := NewMemory()
	m.Seed("proc_a", []map[string]interface{}{})

	_, _ = m.Call(context.Background(), "proc_a")
	_, _ = m.Call(context.Background(), "proc_a")

	require.Equal(t, 2, m.CallCount("proc_a"))
}

func TestMemoryPingAndClose(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Ping(context.Background()))
	require.NoError(t, m.Close())
}
