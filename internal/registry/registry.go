// Package registry tracks which live connections belong to which room.
// A Registry is an owned service object: construct one at startup and hand
// it to the relay and the liveness monitor, never reach for a global.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Peer is the transport side of a connection. The websocket handler wraps a
// real socket; tests substitute in-memory fakes.
type Peer interface {
	// Send enqueues one JSON-encoded frame. It must not block indefinitely;
	// a full or closed peer returns an error and the caller skips it.
	Send(payload []byte) error
	// Ping sends a transport-level liveness probe.
	Ping() error
	Close() error
}

// Conn is one active transport session. Its room/user binding is owned by
// the Registry and only mutated through Join/Leave/Remove.
type Conn struct {
	ID          string
	ConnectedAt time.Time

	peer  Peer
	alive atomic.Bool
}

func NewConn(peer Peer) *Conn {
	c := &Conn{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now().UTC(),
		peer:        peer,
	}
	c.alive.Store(true)
	return c
}

func (c *Conn) Send(payload []byte) error { return c.peer.Send(payload) }
func (c *Conn) Ping() error               { return c.peer.Ping() }
func (c *Conn) Close() error              { return c.peer.Close() }

// MarkAlive records observed activity since the last probe.
func (c *Conn) MarkAlive() { c.alive.Store(true) }

// ClearAlive resets the flag at probe time; Alive reports whether anything
// was heard since.
func (c *Conn) ClearAlive() { c.alive.Store(false) }
func (c *Conn) Alive() bool { return c.alive.Load() }

type binding struct {
	roomID string
	userID string
}

// Registry maps rooms to member connections and connections to their
// current binding. All mutations are atomic under one mutex; operations on
// a connection the registry does not know are no-ops, because disconnect
// races are expected rather than exceptional.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[*Conn]struct{}
	conns map[*Conn]binding
}

func New() *Registry {
	return &Registry{
		rooms: make(map[string]map[*Conn]struct{}),
		conns: make(map[*Conn]binding),
	}
}

// Add registers a freshly established connection with no room binding.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		r.conns[c] = binding{}
	}
}

// Join binds a connection to a room, moving it out of any previous room
// first. Rejoining the same room is allowed and leaves membership intact.
// When the connection switched rooms, the previous binding is returned so
// the caller can emit the implicit leave's presence side effects; the
// registry only keeps the maps consistent.
func (r *Registry) Join(c *Conn, roomID, userID string) (prevRoom, prevUser string, switched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, known := r.conns[c]
	if known && b.roomID != "" && b.roomID != roomID {
		r.dropLocked(c, b.roomID)
		prevRoom, prevUser, switched = b.roomID, b.userID, true
	}

	r.conns[c] = binding{roomID: roomID, userID: userID}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Conn]struct{})
		r.rooms[roomID] = members
	}
	members[c] = struct{}{}
	return prevRoom, prevUser, switched
}

// Leave removes the connection from its room, deleting the room entry when
// it empties, and returns the binding it held. Exactly one of several racing
// callers observes ok=true, which keeps presence side effects single-shot.
// No-op for unbound or unknown connections.
func (r *Registry) Leave(c *Conn) (roomID, userID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, known := r.conns[c]
	if !known || b.roomID == "" {
		return "", "", false
	}
	r.dropLocked(c, b.roomID)
	r.conns[c] = binding{}
	return b.roomID, b.userID, true
}

// Remove is full teardown on disconnect: Leave plus deletion from the
// connection table.
func (r *Registry) Remove(c *Conn) (roomID, userID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, known := r.conns[c]
	if known && b.roomID != "" {
		r.dropLocked(c, b.roomID)
		roomID, userID, ok = b.roomID, b.userID, true
	}
	delete(r.conns, c)
	return roomID, userID, ok
}

func (r *Registry) dropLocked(c *Conn, roomID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// Binding returns the connection's current room and user. ok is false for
// unknown or unbound connections.
func (r *Registry) Binding(c *Conn) (roomID, userID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, known := r.conns[c]
	if !known || b.roomID == "" {
		return "", "", false
	}
	return b.roomID, b.userID, true
}

// MembersOf returns a point-in-time snapshot of a room's members. The
// snapshot goes stale the moment the mutex is released; take it immediately
// before fan-out, never across a persistence call.
func (r *Registry) MembersOf(roomID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[roomID]
	out := make([]*Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Connections snapshots every open connection, bound or not.
func (r *Registry) Connections() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Rooms lists the rooms that currently have members.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}

// Len reports the number of open connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
