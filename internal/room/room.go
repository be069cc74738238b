package room

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/manpreetbhatti/docworld/internal/protocol"
)

var (
	ErrNotMember = errors.New("not a member of this room")
	ErrNotSynced = errors.New("member has not loaded the document")
)

// A connection that can receive frames. Send must not block; it reports
// false when the frame could not be queued.
type Member interface {
	ID() string
	Send(frame []byte) bool
}

type member struct {
	conn   Member
	name   string
	seq    uint64
	synced bool
}

// A collaborative editing session: the connections currently in one room.
// Every send to members happens under mu, which gives each room a single
// delivery order without coordinating with other rooms.
type Session struct {
	ID string

	mu      sync.Mutex
	members map[string]*member
	nextSeq uint64
}

func newSession(id string) *Session {
	return &Session{
		ID:      id,
		members: make(map[string]*member),
	}
}

func (s *Session) add(conn Member, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[conn.ID()]; ok {
		m.name = name
		return
	}
	s.nextSeq++
	s.members[conn.ID()] = &member{conn: conn, name: name, seq: s.nextSeq}
}

func (s *Session) remove(connID string) (string, bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[connID]
	if !ok {
		return "", false, len(s.members)
	}
	delete(s.members, connID)
	return m.name, true, len(s.members)
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Members returns the membership in join order.
func (s *Session) Members() []protocol.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() []protocol.Member {
	ordered := make([]*member, 0, len(s.members))
	for _, m := range s.members {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	out := make([]protocol.Member, len(ordered))
	for i, m := range ordered {
		out[i] = protocol.Member{ConnectionID: m.conn.ID(), DisplayName: m.name}
	}
	return out
}

// Synced reports whether the member has received the document.
func (s *Session) Synced(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[connID]
	return ok && m.synced
}

// AnnounceJoin sends every member, the joiner included, the full membership
// along with the recipient's own id.
func (s *Session) AnnounceJoin(joinerID string) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	joiner, ok := s.members[joinerID]
	if !ok {
		return nil, ErrNotMember
	}

	members := s.snapshot()
	var dropped []Member
	for _, m := range s.members {
		frame, err := protocol.Encode(protocol.EventJoined, protocol.Joined{
			Members:      members,
			DisplayName:  joiner.name,
			ConnectionID: joinerID,
			Self:         m.conn.ID(),
		})
		if err != nil {
			return dropped, err
		}
		if !m.conn.Send(frame) {
			dropped = append(dropped, m.conn)
		}
	}
	return dropped, nil
}

// AnnounceDeparture tells the remaining members that connID left.
func (s *Session) AnnounceDeparture(connID, name string) ([]Member, error) {
	frame, err := protocol.Encode(protocol.EventDisconnected, protocol.Departure{
		ConnectionID: connID,
		DisplayName:  name,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fanOut(connID, frame, false), nil
}

// Bootstrap delivers the document frame to one member and marks it synced.
// Both happen under the room lock, so no relayed change can be queued ahead
// of the document.
func (s *Session) Bootstrap(connID string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[connID]
	if !ok {
		return ErrNotMember
	}
	if !m.conn.Send(frame) {
		return errors.New("send queue full")
	}
	m.synced = true
	return nil
}

// Relay forwards an operation to every other synced member in arrival order.
// The payload is never decoded.
func (s *Session) Relay(from string, op json.RawMessage) ([]Member, error) {
	frame, err := protocol.EncodeRaw(protocol.EventReceiveChanges, op)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	origin, ok := s.members[from]
	if !ok {
		return nil, ErrNotMember
	}
	if !origin.synced {
		return nil, ErrNotSynced
	}
	return s.fanOut(from, frame, true), nil
}

// Must hold mu.
func (s *Session) fanOut(except string, frame []byte, syncedOnly bool) []Member {
	var dropped []Member
	for id, m := range s.members {
		if id == except || (syncedOnly && !m.synced) {
			continue
		}
		if !m.conn.Send(frame) {
			glog.Warningf("Dropping slow client %s in room %s", id, s.ID)
			dropped = append(dropped, m.conn)
		}
	}
	return dropped
}
