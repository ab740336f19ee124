// Package ws pushes live campaign and connection events to dashboard
// clients over WebSocket. Every client is scoped to one tenant.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"zapflow/internal/dispatch"
)

const (
	EventCampaignProgress = "campaign_progress"
	EventConnection       = "connection_update"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from another origin
	},
}

// Client represents a connected WebSocket client
type Client struct {
	hub      *Hub
	tenantID string
	conn     *websocket.Conn
	send     chan []byte
}

type envelope struct {
	tenantID string
	payload  []byte
}

// Hub maintains the set of active clients per tenant and fans events out to them
type Hub struct {
	clients    map[string]map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*Client]bool),
	}
}

// Run owns client registration until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, set := range h.clients {
				for client := range set {
					close(client.send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.tenantID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.tenantID] = set
			}
			set[client] = true
			h.mu.Unlock()
			log.Debug().Str("tenant_id", client.tenantID).Msg("WebSocket client registered")
		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			log.Debug().Str("tenant_id", client.tenantID).Msg("WebSocket client unregistered")
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.tenantID] {
				select {
				case client.send <- msg.payload:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(c *Client) {
	set := h.clients[c.tenantID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.tenantID)
	}
}

// Clients returns the number of connected clients of a tenant.
func (h *Hub) Clients(tenantID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[tenantID])
}

type WSEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// BroadcastEvent never blocks the caller; events are dropped when the hub is
// backed up.
func (h *Hub) BroadcastEvent(tenantID, eventType string, data interface{}) {
	payload, err := json.Marshal(WSEvent{Type: eventType, Data: data})
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("Error marshaling WS event")
		return
	}
	select {
	case h.broadcast <- envelope{tenantID: tenantID, payload: payload}:
	default:
		log.Warn().Str("tenant_id", tenantID).Str("type", eventType).Msg("WebSocket hub busy, event dropped")
	}
}

func (h *Hub) CampaignProgress(tenantID string, p dispatch.Progress) {
	h.BroadcastEvent(tenantID, EventCampaignProgress, p)
}

func (h *Hub) ConnectionChanged(tenantID, status string) {
	h.BroadcastEvent(tenantID, EventConnection, map[string]string{"status": status})
}

// ServeWs upgrades the request for tenantID. Resolving the tenant is the
// caller's job.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	client := &Client{hub: h, tenantID: tenantID, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// clients only send pongs
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
