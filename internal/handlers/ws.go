package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chepyr/daily-planner/internal/models"
	"github.com/gorilla/websocket"
)

// TaskEvent is pushed to the owner's websocket connections after a mutation.
type TaskEvent struct {
	Event  string            `json:"event"`
	TaskID int64             `json:"task_id"`
	Status models.TaskStatus `json:"status,omitempty"`
}

const (
	EventTaskCreated   = "task_created"
	EventTaskUpdated   = "task_updated"
	EventTaskCancelled = "task_cancelled"
	EventTaskRestored  = "task_restored"
	EventTaskDeleted   = "task_deleted"
)

const (
	// time allowed to write one message to the peer
	writeWait = 10 * time.Second
	// events queued per connection before it is dropped as too slow
	sendBufferSize = 16
)

// wsClient is one open connection. Only writePump writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, sendBufferSize)}
}

// writePump drains send until the hub closes it or a write fails.
func (c *wsClient) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// WSHub tracks open websocket connections per user.
type WSHub struct {
	connections map[string]map[*wsClient]bool
	mutex       sync.Mutex
	log         *slog.Logger
}

func NewWSHub(log *slog.Logger) *WSHub {
	if log == nil {
		log = slog.Default()
	}
	return &WSHub{connections: make(map[string]map[*wsClient]bool), log: log}
}

func (hub *WSHub) register(userID string, client *wsClient) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if hub.connections[userID] == nil {
		hub.connections[userID] = make(map[*wsClient]bool)
	}
	hub.connections[userID][client] = true
}

func (hub *WSHub) unregister(userID string, client *wsClient) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	hub.removeLocked(userID, client)
}

// removeLocked closes client.send at most once. hub.mutex must be held.
func (hub *WSHub) removeLocked(userID string, client *wsClient) {
	conns := hub.connections[userID]
	if !conns[client] {
		return
	}
	delete(conns, client)
	close(client.send)
	if len(conns) == 0 {
		delete(hub.connections, userID)
	}
}

// Broadcast queues ev for every connection of userID. It never waits on the
// network: a connection whose queue is full is dropped.
func (hub *WSHub) Broadcast(userID string, ev TaskEvent) {
	if hub == nil || userID == "" {
		return
	}

	message, err := json.Marshal(ev)
	if err != nil {
		hub.log.Error("marshal task event", "error", err)
		return
	}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for client := range hub.connections[userID] {
		select {
		case client.send <- message:
		default:
			hub.log.Warn("websocket client too slow, dropping", "user_id", userID)
			hub.removeLocked(userID, client)
		}
	}
}

func (h *Handler) notify(userID, event string, taskID int64, status models.TaskStatus) {
	h.WSHub.Broadcast(userID, TaskEvent{Event: event, TaskID: taskID, Status: status})
}

// HandleWebSocket upgrades GET /api/ws and keeps the connection registered
// until the client goes away. Incoming messages are ignored.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.WSLimiter.Allow(h.clientIP(r)) {
		sendError(w, "Too many WebSocket connection attempts", http.StatusTooManyRequests)
		return
	}
	if h.WSHub == nil {
		sendError(w, "Live updates are disabled", http.StatusServiceUnavailable)
		return
	}
	if !h.checkOrigin(r) {
		sendError(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		h.logger().Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn)
	h.WSHub.register(userID, client)
	go client.writePump()
	defer func() {
		h.WSHub.unregister(userID, client)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger().Debug("websocket closed", "user_id", userID, "error", err)
			return
		}
	}
}

// checkOrigin allows every origin when no allow-list is configured.
// Requests without an Origin header come from non-browser clients.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range h.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
