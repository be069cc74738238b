package room

import (
	"sync"

	"github.com/golang/glog"
)

// Manager owns the live sessions. A session exists only while it has
// members; the last leave removes it.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Join adds conn to the room, creating the session on first join.
func (m *Manager) Join(roomID string, conn Member, name string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[roomID]
	if !ok {
		s = newSession(roomID)
		m.sessions[roomID] = s
		glog.Infof("Room %s opened", roomID)
	}
	s.add(conn, name)
	glog.Infof("Client %s joined room %s (total: %d)", conn.ID(), roomID, s.Len())
	return s
}

// Leave removes connID from the room. closed is true when the session was
// torn down because it became empty.
func (m *Manager) Leave(roomID, connID string) (s *Session, name string, ok bool, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, found := m.sessions[roomID]
	if !found {
		return nil, "", false, false
	}
	name, ok, remaining := s.remove(connID)
	if !ok {
		return s, "", false, false
	}
	if remaining == 0 {
		delete(m.sessions, roomID)
		glog.Infof("Room %s closed (empty)", roomID)
		return s, name, true, true
	}
	glog.Infof("Client %s left room %s (remaining: %d)", connID, roomID, remaining)
	return s, name, true, false
}

// Get returns the live session for roomID, or nil.
func (m *Manager) Get(roomID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[roomID]
}

func (m *Manager) IsLive(roomID string) bool {
	return m.Get(roomID) != nil
}

func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, s := range m.sessions {
		total += s.Len()
	}
	return total
}

// ActiveRooms maps live room ids to their member counts.
func (m *Manager) ActiveRooms() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make(map[string]int, len(m.sessions))
	for id, s := range m.sessions {
		rooms[id] = s.Len()
	}
	return rooms
}
