package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	closed bool
	pings  int
}

func (p *fakePeer) Send(payload []byte) error { return nil }
func (p *fakePeer) Ping() error               { p.pings++; return nil }
func (p *fakePeer) Close() error              { p.closed = true; return nil }

func newTestConn() *Conn {
	return NewConn(&fakePeer{})
}

func TestJoinAddsMembership(t *testing.T) {
	r := New()
	c := newTestConn()
	r.Add(c)

	_, _, switched := r.Join(c, "r1", "u1")
	assert.False(t, switched)

	members := r.MembersOf("r1")
	require.Len(t, members, 1)
	assert.Same(t, c, members[0])

	roomID, userID, ok := r.Binding(c)
	require.True(t, ok)
	assert.Equal(t, "r1", roomID)
	assert.Equal(t, "u1", userID)
}

func TestJoinSwitchesRooms(t *testing.T) {
	r := New()
	c := newTestConn()
	r.Add(c)

	r.Join(c, "r1", "u1")
	prevRoom, prevUser, switched := r.Join(c, "r2", "u1")

	require.True(t, switched)
	assert.Equal(t, "r1", prevRoom)
	assert.Equal(t, "u1", prevUser)

	assert.Empty(t, r.MembersOf("r1"), "old room must not retain the connection")
	assert.Len(t, r.MembersOf("r2"), 1)
	assert.Equal(t, []string{"r2"}, r.Rooms())
}

func TestRejoinSameRoomIsIdempotent(t *testing.T) {
	r := New()
	c := newTestConn()
	r.Add(c)

	r.Join(c, "r1", "u1")
	_, _, switched := r.Join(c, "r1", "u1")

	assert.False(t, switched)
	assert.Len(t, r.MembersOf("r1"), 1)
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	r := New()
	a, b := newTestConn(), newTestConn()
	r.Add(a)
	r.Add(b)
	r.Join(a, "r1", "u1")
	r.Join(b, "r1", "u2")

	roomID, userID, ok := r.Leave(a)
	require.True(t, ok)
	assert.Equal(t, "r1", roomID)
	assert.Equal(t, "u1", userID)
	assert.Len(t, r.MembersOf("r1"), 1)

	r.Leave(b)
	assert.Empty(t, r.MembersOf("r1"))
	assert.Empty(t, r.Rooms(), "empty rooms are removed immediately")
}

func TestLeaveIsSingleShot(t *testing.T) {
	r := New()
	c := newTestConn()
	r.Add(c)
	r.Join(c, "r1", "u1")

	_, _, ok := r.Leave(c)
	assert.True(t, ok)
	_, _, ok = r.Leave(c)
	assert.False(t, ok, "second leave must observe no binding")
}

func TestRemoveTearsDown(t *testing.T) {
	r := New()
	c := newTestConn()
	r.Add(c)
	r.Join(c, "r1", "u1")

	roomID, _, ok := r.Remove(c)
	require.True(t, ok)
	assert.Equal(t, "r1", roomID)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Rooms())

	// Removing again, or operating on a connection the registry never saw,
	// is a no-op rather than an error.
	_, _, ok = r.Remove(c)
	assert.False(t, ok)
	_, _, ok = r.Leave(newTestConn())
	assert.False(t, ok)
}

func TestMembersOfIsSnapshot(t *testing.T) {
	r := New()
	a, b := newTestConn(), newTestConn()
	r.Add(a)
	r.Add(b)
	r.Join(a, "r1", "u1")
	r.Join(b, "r1", "u2")

	snapshot := r.MembersOf("r1")
	r.Remove(b)

	assert.Len(t, snapshot, 2, "snapshot is point-in-time, not live")
	assert.Len(t, r.MembersOf("r1"), 1)
}

func TestAliveFlag(t *testing.T) {
	c := newTestConn()
	assert.True(t, c.Alive(), "fresh connections start alive")

	c.ClearAlive()
	assert.False(t, c.Alive())

	c.MarkAlive()
	assert.True(t, c.Alive())
}
