package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub fans workflow state transitions out to websocket clients. It
// implements bridge.StatusSink; the worker feeds it one event per
// transition.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
	mu         sync.RWMutex
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// mu guards the subscription set and activity stamp: readPump writes
	// them while the worker goroutine reads them through RunTransition.
	mu         sync.Mutex
	runIDs     map[string]bool
	all        bool
	lastActive time.Time
}

// RunEvent is the wire shape of one state transition.
type RunEvent struct {
	Type      string `json:"type"`
	RunID     string `json:"runId"`
	State     string `json:"state"`
	ErrorKind string `json:"errorKind,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type subscriptionRequest struct {
	Type   string   `json:"type"`
	RunIDs []string `json:"runIds,omitempty"`
}

func NewHub(allowedOrigins []string, logger *zap.SugaredLogger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			// Allow same-origin requests (when Origin header is empty)
			return origin == ""
		},
	}
	return h
}

func (h *Hub) Run(ctx context.Context) {
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debugw("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debugw("Client unregistered")
		}
	}
}

// RunTransition implements bridge.StatusSink; never blocks the caller.
func (h *Hub) RunTransition(runID string, state bridge.State, errorKind string) {
	event := RunEvent{
		Type:      "run_status",
		RunID:     runID,
		State:     string(state),
		ErrorKind: errorKind,
		Timestamp: time.Now().Unix(),
	}

	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorw("Failed to marshal run event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wantsRun(runID) {
			continue
		}
		select {
		case client.send <- message:
		default:
			// Slow client; dropped events show up again in run history.
		}
	}
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients()
		}
	}
}

func (h *Hub) cleanupInactiveClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-60 * time.Second)

	for client := range h.clients {
		if client.idleSince(cutoff) {
			delete(h.clients, client)
			close(client.send)
			h.logger.Debugw("Cleaned up inactive client")
		}
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		runIDs:     make(map[string]bool),
		all:        true,
		lastActive: time.Now(),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) wantsRun(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.all {
		return true
	}
	return c.runIDs[runID]
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive.Before(cutoff)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			break
		}

		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var sub subscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	switch sub.Type {
	case "subscribe":
		c.mu.Lock()
		if len(sub.RunIDs) == 0 {
			c.all = true
		} else {
			c.all = false
			for _, id := range sub.RunIDs {
				c.runIDs[id] = true
			}
		}
		c.mu.Unlock()
		c.hub.logger.Debugw("Client subscribed to runs", "runIds", sub.RunIDs)

	case "unsubscribe":
		c.mu.Lock()
		for _, id := range sub.RunIDs {
			delete(c.runIDs, id)
		}
		c.mu.Unlock()
	}
}
