package session

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corepilot/corepilot/internal/logging"
)

var hubLog = logging.WithField("session.hub")

// Frame is one message pushed to a calibration UI client: a DOM sync, a
// highlight toggle, or a session lifecycle event.
type Frame struct {
	Type      string `json:"type"` // dom_sync | highlight | session_closed
	SessionID string `json:"session_id"`
	Payload   any    `json:"payload,omitempty"`
}

// client is one connected calibration UI, scoped to a single session_id.
type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
}

// Hub fans Frame updates out to every calibration UI client watching a
// given session. Unlike the teacher's agent hub, which routes
// request/response pairs between peer agents, this hub is push-only: a
// calibration client only ever receives frames, it never talks back
// beyond the initial WebSocket upgrade.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool

	upgrader websocket.Upgrader
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades an HTTP request into a calibration client
// watching sessionID.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hubLog.Warnf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{sessionID: sessionID, conn: conn, send: make(chan []byte, 32)}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast pushes frame to every client currently watching
// frame.SessionID.
func (h *Hub) Broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		hubLog.Warnf("marshal frame: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.sessionID != frame.SessionID {
			continue
		}
		select {
		case c.send <- data:
		default:
			hubLog.Warnf("client for session %s is backed up, dropping frame", frame.SessionID)
		}
	}
}
