package gateway

import (
	"sync"
)

// ConnManager indexes the connections of this process and their local room
// membership. Rooms here are purely local fan-out targets; the shared store
// is the only cross-process state.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Client
	byUser map[string]map[string]*Client // userID -> (connID -> client)
	rooms  map[string]map[string]*Client // room -> (connID -> client)

	gwID string
}

func NewConnManager(gwID string) *ConnManager {
	return &ConnManager{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		rooms:  make(map[string]map[string]*Client),
		gwID:   gwID,
	}
}

func (m *ConnManager) GwID() string { return m.gwID }

func (m *ConnManager) Add(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byConn[c.ConnID] = c
	mm := m.byUser[c.UserID]
	if mm == nil {
		mm = make(map[string]*Client)
		m.byUser[c.UserID] = mm
	}
	mm[c.ConnID] = c
}

// Remove drops the client from every index, including all rooms.
func (m *ConnManager) Remove(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byConn, c.ConnID)
	if mm := m.byUser[c.UserID]; mm != nil {
		delete(mm, c.ConnID)
		if len(mm) == 0 {
			delete(m.byUser, c.UserID)
		}
	}
	for room, members := range m.rooms {
		delete(members, c.ConnID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
}

func (m *ConnManager) Get(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

func (m *ConnManager) UserClients(userID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.byUser[userID]))
	for _, c := range m.byUser[userID] {
		out = append(out, c)
	}
	return out
}

// ===== local rooms =====

func (m *ConnManager) JoinRoom(room string, c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.rooms[room]
	if members == nil {
		members = make(map[string]*Client)
		m.rooms[room] = members
	}
	members[c.ConnID] = c
}

func (m *ConnManager) LeaveRoom(room string, c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if members := m.rooms[room]; members != nil {
		delete(members, c.ConnID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
}

// RoomClients snapshots the local members of a room.
func (m *ConnManager) RoomClients(room string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.rooms[room]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) ConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

// Close tears down every connection-local state.
func (m *ConnManager) Close() {
	m.mu.Lock()
	conns := make([]*Client, 0, len(m.byConn))
	for _, c := range m.byConn {
		conns = append(conns, c)
	}
	m.byConn = map[string]*Client{}
	m.byUser = map[string]map[string]*Client{}
	m.rooms = map[string]map[string]*Client{}
	m.mu.Unlock()

	for _, c := range conns {
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
		c.CloseLocal()
	}
}
