package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kappakonnect/edgeguard/internal/audit"
)

const (
	hydrateCount = 20
	sendBuffer   = 64
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The admin listener is already restricted to private clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the envelope written to clients.
type Message struct {
	Type    string          `json:"type"` // "stats", "verdict"
	Stats   *audit.Snapshot `json:"stats,omitempty"`
	Verdict *audit.Event    `json:"verdict,omitempty"`
}

// client owns one connection. Only its writer goroutine touches conn for writes.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Manager tracks active WebSocket connections and broadcasts verdicts.
type Manager struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	stats   *audit.Stats
	history audit.History
	logger  *slog.Logger
}

// NewManager creates a manager. stats and history are used to hydrate new
// connections and may be nil.
func NewManager(stats *audit.Stats, history audit.History, logger *slog.Logger) *Manager {
	return &Manager{
		clients: make(map[*client]struct{}),
		stats:   stats,
		history: history,
		logger:  logger,
	}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers it.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	// Register before hydrating so events recorded meanwhile are queued.
	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()
	defer m.remove(c)

	go m.writeLoop(c)
	m.hydrate(r.Context(), c)

	// Incoming messages are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (m *Manager) hydrate(ctx context.Context, c *client) {
	if m.stats != nil {
		snap := m.stats.Snapshot()
		m.enqueue(c, Message{Type: "stats", Stats: &snap})
	}
	if m.history == nil {
		return
	}
	recent, err := m.history.Recent(ctx, hydrateCount)
	if err != nil {
		m.logger.Warn("websocket hydrate failed", "err", err)
		return
	}
	// Oldest first so the client can append.
	for i := len(recent) - 1; i >= 0; i-- {
		ev := recent[i]
		m.enqueue(c, Message{Type: "verdict", Verdict: &ev})
	}
}

func (m *Manager) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.logger.Debug("websocket write failed", "err", err)
				m.remove(c)
				return
			}
		}
	}
}

// Record implements audit.Recorder by broadcasting the event.
func (m *Manager) Record(_ context.Context, ev audit.Event) {
	m.Broadcast(Message{Type: "verdict", Verdict: &ev})
}

// Broadcast queues msg for every connected client. It never blocks: a client
// whose queue is full misses the message.
func (m *Manager) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("websocket marshal failed", "err", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.clients {
		m.offer(c, data)
	}
}

func (m *Manager) enqueue(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("websocket marshal failed", "err", err)
		return
	}
	m.offer(c, data)
}

func (m *Manager) offer(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		m.logger.Debug("websocket client slow, dropping message")
	}
}

// Count returns the number of connected clients.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

func (m *Manager) remove(c *client) {
	m.mu.Lock()
	delete(m.clients, c)
	m.mu.Unlock()
	c.close()
}
