package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avnmr/ai-retail/pkg/logging"
	"github.com/avnmr/ai-retail/pkg/models"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocketManager fans flow events out to a user's WebSocket connections
type WebSocketManager struct {
	// upgrader for upgrading HTTP connections to WebSocket
	upgrader websocket.Upgrader

	// connections maps usernames to their open connections
	connections map[string]map[*wsConn]bool

	// mutex for thread-safe access
	mu sync.RWMutex

	closed bool
	logger *slog.Logger
}

// wsConn serialises writes to one connection
type wsConn struct {
	conn        *websocket.Conn
	username    string
	connectedAt time.Time

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *wsConn) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// WebSocketMessage represents incoming WebSocket messages
type WebSocketMessage struct {
	Type string `json:"type"` // "ping"
}

// ControlMessage is sent for non-event frames such as "pong" and "error"
type ControlMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(logger *slog.Logger) *WebSocketManager {
	return &WebSocketManager{
		upgrader: websocket.Upgrader{
			// Authentication already happened in middleware
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]map[*wsConn]bool),
		logger:      logging.OrDiscard(logger),
	}
}

// HandleWebSocket upgrades the request and streams the user's flow events until
// the peer disconnects or the manager is closed
func (wsm *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request, username string) {
	conn, err := wsm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsm.logger.Warn("websocket upgrade failed", "username", username, "error", err)
		return
	}

	c := &wsConn{
		conn:        conn,
		username:    username,
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
	if !wsm.addConnection(c) {
		c.close()
		return
	}
	defer wsm.removeConnection(c)

	wsm.logger.Info("websocket connection established", "username", username)

	conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))
	})

	go wsm.pingRoutine(c)

	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsm.logger.Debug("websocket read failed", "username", username, "error", err)
			}
			return
		}
		wsm.handleMessage(c, &msg)
	}
}

// handleMessage processes incoming WebSocket messages
func (wsm *WebSocketManager) handleMessage(c *wsConn, msg *WebSocketMessage) {
	switch msg.Type {
	case "ping":
		wsm.sendMessage(c, ControlMessage{Type: "pong", Timestamp: time.Now()})
	default:
		wsm.sendMessage(c, ControlMessage{
			Type:      "error",
			Message:   "unknown message type: " + msg.Type,
			Timestamp: time.Now(),
		})
	}
}

// PublishFlowEvent sends the event to every connection of the user
func (wsm *WebSocketManager) PublishFlowEvent(username string, event models.FlowEvent) {
	wsm.mu.RLock()
	conns := make([]*wsConn, 0, len(wsm.connections[username]))
	for c := range wsm.connections[username] {
		conns = append(conns, c)
	}
	wsm.mu.RUnlock()

	for _, c := range conns {
		wsm.sendMessage(c, event)
	}
}

// sendMessage writes to a connection and drops it on failure
func (wsm *WebSocketManager) sendMessage(c *wsConn, v interface{}) {
	if err := c.write(v); err != nil {
		wsm.logger.Debug("websocket write failed", "username", c.username, "error", err)
		c.close()
	}
}

func (wsm *WebSocketManager) addConnection(c *wsConn) bool {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()
	if wsm.closed {
		return false
	}
	if wsm.connections[c.username] == nil {
		wsm.connections[c.username] = make(map[*wsConn]bool)
	}
	wsm.connections[c.username][c] = true
	return true
}

// removeConnection forgets and closes a connection
func (wsm *WebSocketManager) removeConnection(c *wsConn) {
	wsm.mu.Lock()
	if conns, ok := wsm.connections[c.username]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(wsm.connections, c.username)
		}
	}
	wsm.mu.Unlock()

	c.close()
	wsm.logger.Info("websocket connection closed", "username", c.username,
		"duration", time.Since(c.connectedAt))
}

// pingRoutine keeps the connection alive until it closes
func (wsm *WebSocketManager) pingRoutine(c *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.close()
				return
			}
		}
	}
}

// GetConnectedClients returns the number of open connections
func (wsm *WebSocketManager) GetConnectedClients() int {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()

	n := 0
	for _, conns := range wsm.connections {
		n += len(conns)
	}
	return n
}

// Close disconnects every client and rejects new ones
func (wsm *WebSocketManager) Close() {
	wsm.mu.Lock()
	wsm.closed = true
	var conns []*wsConn
	for _, set := range wsm.connections {
		for c := range set {
			conns = append(conns, c)
		}
	}
	wsm.mu.Unlock()

	for _, c := range conns {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.close()
	}
}

// handleWebSocket handles GET /api/ws
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	username, ok := caller(w, r)
	if !ok {
		return
	}
	s.ws.HandleWebSocket(w, r, username)
}
