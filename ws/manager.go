package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client roles used for targeted broadcasts.
const (
	RoleConsumer  = "consumer"
	RoleProvider  = "provider"
	RoleDashboard = "dashboard"
)

var (
	ErrNotConnected = errors.New("client not connected")
	ErrRoleConflict = errors.New("client id is held by another role")
)

const writeWait = 10 * time.Second

// Message is the envelope for every frame pushed to clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Conn is the subset of *websocket.Conn the manager writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	conn Conn
	role string
	wmu  sync.Mutex // gorilla allows one concurrent writer per conn
}

func (c *client) write(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Manager keeps track of active websocket connections keyed by client id
// (a provider id for workers, a user id for dashboards).
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*client
	log     *slog.Logger
	now     func() time.Time
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{clients: make(map[string]*client), log: log, now: time.Now}
}

// Register registers a connection, replacing any existing one for the id.
// A live connection is only replaced by a client of the same role.
func (m *Manager) Register(id, role string, conn Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.clients[id]; ok && old.conn != conn {
		if old.role != role {
			return ErrRoleConflict
		}
		_ = old.conn.Close()
	}
	m.clients[id] = &client{conn: conn, role: role}
	return nil
}

// Unregister removes a connection if it is still the one registered for id.
func (m *Manager) Unregister(id string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[id]; ok && (conn == nil || c.conn == conn) {
		_ = c.conn.Close()
		delete(m.clients, id)
	}
}

func (m *Manager) encode(msgType string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Data: data, Timestamp: m.now().UTC()})
}

// SendTo sends a typed message to one client.
func (m *Manager) SendTo(id, msgType string, data interface{}) error {
	m.mu.RLock()
	c, ok := m.clients[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	payload, err := m.encode(msgType, data)
	if err != nil {
		return err
	}
	if err := c.write(payload); err != nil {
		m.log.Warn("ws write failed, dropping client", "client_id", id, "error", err)
		m.Unregister(id, c.conn)
		return err
	}
	return nil
}

// Broadcast sends a typed message to every client.
func (m *Manager) Broadcast(msgType string, data interface{}) int {
	return m.BroadcastTo("", msgType, data)
}

// BroadcastTo sends to every client with the given role; an empty role means all.
// It returns the number of clients reached.
func (m *Manager) BroadcastTo(role, msgType string, data interface{}) int {
	payload, err := m.encode(msgType, data)
	if err != nil {
		m.log.Error("ws encode failed", "type", msgType, "error", err)
		return 0
	}

	type target struct {
		id string
		c  *client
	}
	m.mu.RLock()
	targets := make([]target, 0, len(m.clients))
	for id, c := range m.clients {
		if role == "" || c.role == role {
			targets = append(targets, target{id, c})
		}
	}
	m.mu.RUnlock()

	sent := 0
	for _, t := range targets {
		if err := t.c.write(payload); err != nil {
			m.log.Warn("ws write failed, dropping client", "client_id", t.id, "error", err)
			m.Unregister(t.id, t.c.conn)
			continue
		}
		sent++
	}
	return sent
}

// IsConnected returns whether a client is currently connected.
func (m *Manager) IsConnected(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[id]
	return ok
}

// List returns a copy of current connected client IDs.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of connected clients per role.
func (m *Manager) Count() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int{RoleConsumer: 0, RoleProvider: 0, RoleDashboard: 0}
	for _, c := range m.clients {
		out[c.role]++
	}
	return out
}

// CloseAll closes every connection, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.clients {
		_ = c.conn.Close()
		delete(m.clients, id)
	}
}
