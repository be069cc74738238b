package hub

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/manpreetbhatti/docworld/internal/protocol"
)

// State of one connection in the join/bootstrap protocol
type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateJoined
	StateBootstrapped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateBootstrapped:
		return "bootstrapped"
	}
	return "unknown"
}

// accepts is the transition table: which client events a connection may
// send in each state.
func (s State) accepts(e protocol.Event) bool {
	switch e {
	case protocol.EventJoin:
		return s != StateJoining
	case protocol.EventGetDocument:
		return s == StateJoined || s == StateBootstrapped
	case protocol.EventSendChanges, protocol.EventSaveDocument:
		return s == StateBootstrapped
	}
	return false
}

// Transport is the outbound half of a live connection.
type Transport interface {
	// Send queues a frame without blocking and reports whether it was queued.
	Send(frame []byte) bool
	// Close tears the connection down; the transport then calls Hub.Disconnect.
	Close()
}

// Conn is one participant's connection as seen by the hub.
type Conn struct {
	id        string
	transport Transport

	mu     sync.Mutex
	state  State
	roomID string
	name   string
}

func newConn(t Transport) *Conn {
	return &Conn{
		id:        ulid.Make().String(),
		transport: t,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(frame []byte) bool { return c.transport.Send(frame) }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomID returns the room the connection is in, if any.
func (c *Conn) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Conn) snapshot() (State, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.roomID, c.name
}

func (c *Conn) set(state State, roomID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.roomID = roomID
	c.name = name
}

func (c *Conn) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}
