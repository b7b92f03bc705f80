package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"qubix-server/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	writeErr error
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) messages(t *testing.T) []Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, 0, len(f.frames))
	for _, b := range f.frames {
		var m Message
		require.NoError(t, json.Unmarshal(b, &m))
		out = append(out, m)
	}
	return out
}

func TestManager_SendTo(t *testing.T) {
	m := NewManager(logging.Discard())
	conn := &fakeConn{}
	m.Register("p1", RoleProvider, conn)

	require.NoError(t, m.SendTo("p1", "job_assigned", map[string]string{"jobId": "j1"}))
	msgs := conn.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "job_assigned", msgs[0].Type)
	assert.False(t, msgs[0].Timestamp.IsZero())

	assert.ErrorIs(t, m.SendTo("missing", "x", nil), ErrNotConnected)
}

func TestManager_BroadcastTo_Role(t *testing.T) {
	m := NewManager(logging.Discard())
	prov, dash := &fakeConn{}, &fakeConn{}
	m.Register("p1", RoleProvider, prov)
	m.Register("u1", RoleDashboard, dash)

	assert.Equal(t, 1, m.BroadcastTo(RoleDashboard, "earnings_update", nil))
	assert.Empty(t, prov.messages(t))
	assert.Len(t, dash.messages(t), 1)

	assert.Equal(t, 2, m.Broadcast("network_status", nil))
	assert.Equal(t, map[string]int{RoleConsumer: 0, RoleProvider: 1, RoleDashboard: 1}, m.Count())
}

func TestManager_DropsClientOnWriteError(t *testing.T) {
	m := NewManager(logging.Discard())
	bad := &fakeConn{writeErr: errors.New("broken pipe")}
	m.Register("p1", RoleProvider, bad)

	assert.Equal(t, 0, m.Broadcast("ping", nil))
	assert.False(t, m.IsConnected("p1"))
	assert.True(t, bad.closed)
}

func TestManager_RegisterReplacesAndUnregisterIgnoresStale(t *testing.T) {
	m := NewManager(logging.Discard())
	first, second := &fakeConn{}, &fakeConn{}
	m.Register("p1", RoleProvider, first)
	m.Register("p1", RoleProvider, second)
	assert.True(t, first.closed)

	m.Unregister("p1", first)
	assert.True(t, m.IsConnected("p1"), "stale conn must not evict the newer one")

	m.Unregister("p1", second)
	assert.False(t, m.IsConnected("p1"))
	assert.Empty(t, m.List())
}

func TestManager_RegisterRefusesOtherRole(t *testing.T) {
	m := NewManager(logging.Discard())
	worker, intruder := &fakeConn{}, &fakeConn{}
	require.NoError(t, m.Register("p1", RoleProvider, worker))

	assert.ErrorIs(t, m.Register("p1", RoleConsumer, intruder), ErrRoleConflict)
	assert.False(t, worker.closed)

	require.NoError(t, m.SendTo("p1", "job_assigned", nil))
	assert.Len(t, worker.messages(t), 1)
	assert.Empty(t, intruder.messages(t))
}
