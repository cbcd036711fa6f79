package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// WebSocket Constants
// -----------------------------------------------------------------------------

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Size of client send buffer.
	sendBufferSize = 256
)

// Channel names for subscriptions
const (
	ChannelTurns  = "turns"
	ChannelStatus = "status"
)

// Event types for WebSocket messages
const (
	EventTypeThinking     = "thinking"
	EventTypeTurnComplete = "turn_complete"
	EventTypeSessionEvict = "session_evicted"
	EventTypePong         = "pong"
	EventTypeSubscribe    = "subscribe"
	EventTypeUnsubscribe  = "unsubscribe"
	EventTypePing         = "ping"
	EventTypeError        = "error"
)

// -----------------------------------------------------------------------------
// WebSocket Message Types
// -----------------------------------------------------------------------------

// WSMessage is the standard WebSocket message envelope.
type WSMessage struct {
	Type      string   `json:"type"`
	Data      any      `json:"data,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Channels  []string `json:"channels,omitempty"` // subscribe/unsubscribe
	// SessionID narrows a turns subscription to one session.
	SessionID string `json:"sessionId,omitempty"`
}

// -----------------------------------------------------------------------------
// WebSocket Upgrader
// -----------------------------------------------------------------------------

var (
	upgraderMu sync.RWMutex
	upgrader   = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
)

// SetUpgraderCheckOrigin replaces the origin check of websocket upgrades.
func SetUpgraderCheckOrigin(fn func(*http.Request) bool) {
	upgraderMu.Lock()
	defer upgraderMu.Unlock()
	upgrader.CheckOrigin = fn
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client represents a single WebSocket client connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subMu         sync.RWMutex
	subscriptions map[string]bool
	// sessions filters turn events; empty means every session.
	sessions map[string]bool
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
		sessions:      make(map[string]bool),
	}
}

// Subscribe adds channel subscriptions for this client.
func (c *Client) Subscribe(channels ...string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range channels {
		c.subscriptions[ch] = true
	}
}

// Unsubscribe removes channel subscriptions for this client.
func (c *Client) Unsubscribe(channels ...string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
}

// FollowSession narrows turn events to sessionID. It may be called more
// than once to follow several sessions.
func (c *Client) FollowSession(sessionID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.sessions[sessionID] = true
}

// IsSubscribed checks if the client is subscribed to a channel.
func (c *Client) IsSubscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[channel]
}

// wants reports whether an event of sessionID on channel goes to c.
func (c *Client) wants(channel, sessionID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if !c.subscriptions[channel] {
		return false
	}
	if len(c.sessions) == 0 || sessionID == "" {
		return true
	}
	return c.sessions[sessionID]
}

// Subscriptions returns a copy of the client's subscribed channels.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	channels := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		channels = append(channels, ch)
	}
	return channels
}

// readPump pumps messages from the WebSocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// handleMessage processes an incoming message from the client.
func (c *Client) handleMessage(message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("invalid_json", "Failed to parse message")
		return
	}

	switch msg.Type {
	case EventTypeSubscribe:
		c.handleSubscribe(msg)
	case EventTypeUnsubscribe:
		c.Unsubscribe(msg.Channels...)
	case EventTypePing:
		c.enqueue(&WSMessage{Type: EventTypePong})
	default:
		log.Printf("[ws] unknown message type: %s", msg.Type)
		c.sendError("unknown_type", "Unknown message type: "+msg.Type)
	}
}

// handleSubscribe processes a subscribe message.
func (c *Client) handleSubscribe(msg WSMessage) {
	if len(msg.Channels) == 0 {
		c.sendError("invalid_subscribe", "No channels specified")
		return
	}

	valid := make([]string, 0, len(msg.Channels))
	for _, ch := range msg.Channels {
		switch ch {
		case ChannelTurns, ChannelStatus:
			valid = append(valid, ch)
		default:
			log.Printf("[ws] unknown channel: %s", ch)
		}
	}
	if len(valid) == 0 {
		c.sendError("invalid_subscribe", "No known channels specified")
		return
	}
	c.Subscribe(valid...)
	if msg.SessionID != "" {
		c.FollowSession(msg.SessionID)
	}
	log.Printf("[ws] client subscribed to: %v", valid)
}

func (c *Client) sendError(code, message string) {
	c.enqueue(&WSMessage{
		Type: EventTypeError,
		Data: map[string]string{"code": code, "message": message},
	})
}

// enqueue stamps and queues msg, dropping it when the buffer is full.
func (c *Client) enqueue(msg *WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Hub
// -----------------------------------------------------------------------------

// Hub maintains the set of active clients and fans events out to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	// mu protects the clients map
	mu sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[ws] client connected (total: %d)", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("[ws] client disconnected (total: %d)", h.ClientCount())
		}
	}
}

// Stop gracefully stops the hub.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends msg to the clients subscribed to channel that follow
// sessionID. Slow clients miss messages rather than stall a turn.
func (h *Hub) Publish(channel, sessionID string, msg *WSMessage) error {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(channel, sessionID) {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// HTTP Handler
// -----------------------------------------------------------------------------

// WebSocketHandler handles WebSocket upgrade requests.
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler creates a new WebSocket handler with the given hub.
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// ServeHTTP upgrades the connection. A sessionId query parameter
// subscribes the client to that session's turn events right away.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgraderMu.RLock()
	up := upgrader
	upgraderMu.RUnlock()

	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := NewClient(h.hub, conn)
	if sid := r.URL.Query().Get("sessionId"); sid != "" {
		client.Subscribe(ChannelTurns)
		client.FollowSession(sid)
	}
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// HandleFunc adapts the handler to the Router.
func (h *WebSocketHandler) HandleFunc() HandlerFunc {
	return h.ServeHTTP
}
