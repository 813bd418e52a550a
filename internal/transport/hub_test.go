package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, c *Conn) []envelope {
	t.Helper()
	var out []envelope
	for {
		select {
		case b := <-c.Outbox():
			var env envelope
			require.NoError(t, json.Unmarshal(b, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestEmitToGroup(t *testing.T) {
	h := NewHub()
	a, b, c := NewConn("a", 8), NewConn("b", 8), NewConn("c", 8)
	for _, conn := range []*Conn{a, b, c} {
		h.Register(conn)
	}
	h.JoinGroup("a", "room-1")
	h.JoinGroup("b", "room-1")
	h.JoinGroup("c", "room-2")

	h.EmitToGroup("room-1", "hello", map[string]string{"x": "y"})

	assert.Len(t, drain(t, a), 1)
	assert.Len(t, drain(t, b), 1)
	assert.Empty(t, drain(t, c), "other groups stay quiet")
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := NewHub()
	a, b := NewConn("a", 8), NewConn("b", 8)
	h.Register(a)
	h.Register(b)
	h.JoinGroup("a", "room-1")
	h.JoinGroup("b", "room-1")

	h.BroadcastToGroup("room-1", "a", "msg", "hi")

	assert.Empty(t, drain(t, a))
	got := drain(t, b)
	require.Len(t, got, 1)
	assert.Equal(t, "msg", got[0].Event)
}

func TestEmitToConnection(t *testing.T) {
	h := NewHub()
	a := NewConn("a", 8)
	h.Register(a)

	h.EmitToConnection("a", "direct", 42)
	h.EmitToConnection("ghost", "direct", 42) // unknown conn: silent no-op

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, "direct", got[0].Event)
}

func TestLeaveGroupStopsDelivery(t *testing.T) {
	h := NewHub()
	a := NewConn("a", 8)
	h.Register(a)
	h.JoinGroup("a", "room-1")
	h.LeaveGroup("a", "room-1")

	h.EmitToGroup("room-1", "hello", nil)
	assert.Empty(t, drain(t, a))
}

func TestUnregisterLeavesAllGroups(t *testing.T) {
	h := NewHub()
	a := NewConn("a", 8)
	h.Register(a)
	h.JoinGroup("a", "room-1")
	h.JoinGroup("a", "waiting-1")

	h.Unregister("a")

	// Emits after unregister reach nobody and must not panic.
	h.EmitToGroup("room-1", "hello", nil)
	h.EmitToGroup("waiting-1", "hello", nil)

	_, open := <-a.Outbox()
	assert.False(t, open, "outbox closed on unregister")
}

// A slow consumer gets frames dropped, not the hub blocked.
func TestBackpressureDropsFrames(t *testing.T) {
	h := NewHub()
	a := NewConn("a", 1)
	h.Register(a)
	h.JoinGroup("a", "room-1")

	h.EmitToGroup("room-1", "one", nil)
	h.EmitToGroup("room-1", "two", nil) // buffer full, dropped

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Event)
}

func TestTrySendAfterClose(t *testing.T) {
	c := NewConn("a", 1)
	c.Close()
	assert.ErrorIs(t, c.TrySend([]byte("x")), ErrConnClosed)
	c.Close() // double close is safe
}
