package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub fans orchestrator events out to connected WebSocket clients.
type Hub struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	clients    map[string]*Client
	upgrader   websocket.Upgrader
	maxClients int
	closed     bool
}

// Client represents one WebSocket connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// NewHub creates an empty hub. maxClients <= 0 means unlimited.
func NewHub(logger *zap.Logger, maxClients int) *Hub {
	return &Hub{
		logger:     logger.Named("ws"),
		maxClients: maxClients,
		clients:    make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}
}

// HandleConnection upgrades an HTTP request to a WebSocket session.
// Requests over the connection limit are rejected before the upgrade.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := h.maxClients > 0 && len(h.clients) >= h.maxClients
	h.mu.RUnlock()
	if full {
		h.logger.Warn("WebSocket connection limit reached",
			zap.Int("maxClients", h.maxClients))
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.logger.Info("WebSocket client connected", zap.String("id", client.ID))

	go h.readPump(client)
	go h.writePump(client)
}

// Broadcast sends an event to all connected clients. Clients with full
// buffers are skipped rather than blocking the caller.
func (h *Hub) Broadcast(event interface{}) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.Send <- raw:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, client := range h.clients {
		client.Conn.Close()
	}
	h.clients = make(map[string]*Client)
}

// readPump drains incoming messages. The service is broadcast-only; reads
// exist to detect disconnects and answer pings.
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, client.ID)
		h.mu.Unlock()
		client.Conn.Close()
		h.logger.Info("WebSocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(64 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump pushes broadcasts and keepalive pings to one client.
func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
