package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/runtime"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// WebSocketManager manages WebSocket connections for real-time updates
type WebSocketManager struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]bool

	store *runtime.ExecutionStore
	log   logging.Logger
}

// wsClient is one connection. Writes are serialized by mu since gorilla
// connections support a single concurrent writer.
type wsClient struct {
	conn        *websocket.Conn
	userID      string
	connectedAt time.Time

	mu   sync.Mutex
	runs map[string]bool // empty means every run
	done chan struct{}
	once sync.Once
}

// Update is a message sent to websocket clients
type Update struct {
	Type      string            `json:"type"` // "state", "event", "pong", "error"
	RunID     string            `json:"run_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Event     *models.Event     `json:"event,omitempty"`
	State     *runtime.Snapshot `json:"state,omitempty"`
}

// WebSocketMessage represents incoming WebSocket messages
type WebSocketMessage struct {
	Type  string `json:"type"` // "subscribe", "unsubscribe", "state", "ping"
	RunID string `json:"run_id,omitempty"`
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(store *runtime.ExecutionStore, log logging.Logger) *WebSocketManager {
	return &WebSocketManager{
		upgrader: websocket.Upgrader{
			// origins are restricted by the CORS middleware
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*wsClient]bool),
		store:   store,
		log:     log,
	}
}

// HandleWebSocket upgrades the connection, sends the current state and then
// forwards store events until the client goes away
func (wsm *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := wsm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsm.log.Warn("websocket upgrade failed", logging.Err(err))
		return
	}

	c := &wsClient{
		conn:        conn,
		userID:      userID,
		connectedAt: time.Now(),
		runs:        make(map[string]bool),
		done:        make(chan struct{}),
	}
	wsm.mu.Lock()
	wsm.clients[c] = true
	wsm.mu.Unlock()
	defer wsm.removeClient(c)

	wsm.log.Debug("websocket connected", logging.F("user_id", userID))

	snap := wsm.store.Snapshot()
	wsm.send(c, Update{Type: "state", Timestamp: time.Now(), State: &snap})

	go wsm.pingRoutine(c)

	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				wsm.log.Warn("websocket read failed", logging.F("user_id", userID), logging.Err(err))
			}
			return
		}
		wsm.handleMessage(c, msg)
	}
}

func (wsm *WebSocketManager) handleMessage(c *wsClient, msg WebSocketMessage) {
	switch msg.Type {
	case "subscribe":
		if _, ok := wsm.store.Run(msg.RunID); !ok {
			wsm.send(c, Update{Type: "error", RunID: msg.RunID, Timestamp: time.Now(), Message: "Run not found"})
			return
		}
		c.mu.Lock()
		c.runs[msg.RunID] = true
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		delete(c.runs, msg.RunID)
		c.mu.Unlock()
	case "state":
		snap := wsm.store.Snapshot()
		wsm.send(c, Update{Type: "state", Timestamp: time.Now(), State: &snap})
	case "ping":
		wsm.send(c, Update{Type: "pong", Timestamp: time.Now()})
	default:
		wsm.send(c, Update{Type: "error", Timestamp: time.Now(), Message: "Unknown message type: " + msg.Type})
	}
}

// wants reports whether the client follows runID. Events without a run go to everyone.
func (c *wsClient) wants(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return runID == "" || len(c.runs) == 0 || c.runs[runID]
}

// Broadcast sends a store event to every interested client
func (wsm *WebSocketManager) Broadcast(ev models.Event) {
	wsm.mu.RLock()
	clients := make([]*wsClient, 0, len(wsm.clients))
	for c := range wsm.clients {
		clients = append(clients, c)
	}
	wsm.mu.RUnlock()

	for _, c := range clients {
		if c.wants(ev.RunID) {
			e := ev
			wsm.send(c, Update{Type: "event", RunID: ev.RunID, Timestamp: ev.Timestamp, Event: &e})
		}
	}
}

func (wsm *WebSocketManager) send(c *wsClient, update Update) {
	c.mu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(update)
	c.mu.Unlock()
	if err != nil {
		wsm.log.Debug("websocket write failed", logging.F("user_id", c.userID), logging.Err(err))
		wsm.removeClient(c)
	}
}

func (wsm *WebSocketManager) pingRoutine(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				wsm.removeClient(c)
				return
			}
		}
	}
}

// removeClient unregisters and closes a connection; safe to call more than once
func (wsm *WebSocketManager) removeClient(c *wsClient) {
	c.once.Do(func() {
		wsm.mu.Lock()
		delete(wsm.clients, c)
		wsm.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
		wsm.log.Debug("websocket closed", logging.F("user_id", c.userID),
			logging.F("connected_for", time.Since(c.connectedAt).String()))
	})
}

// CloseAll disconnects every client
func (wsm *WebSocketManager) CloseAll() {
	wsm.mu.RLock()
	clients := make([]*wsClient, 0, len(wsm.clients))
	for c := range wsm.clients {
		clients = append(clients, c)
	}
	wsm.mu.RUnlock()
	for _, c := range clients {
		wsm.removeClient(c)
	}
}

// ConnectedClients returns the number of connected clients
func (wsm *WebSocketManager) ConnectedClients() int {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()
	return len(wsm.clients)
}
