package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/concertify/concertify/internal/appstate"
	"github.com/concertify/concertify/internal/live"
	"github.com/concertify/concertify/pkg/messages"
)

// Hub tracks connected clients. Each client multiplexes any number of live
// query subscriptions over its single socket.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	bus        *live.Manager
	state      *appstate.Registry
	log        zerolog.Logger
	mu         sync.RWMutex
}

type Client struct {
	userID   string
	username string
	conn     *websocket.Conn
	hub      *Hub
	send     chan ServerEvent

	mu      sync.Mutex
	streams map[string]*live.Stream
}

// Command is what the client sends: open or close a named subscription, or
// update session state.
type Command struct {
	Type   string `json:"type"` // "subscribe", "unsubscribe", "set_active_concert"
	ID     string `json:"id,omitempty"`
	Stream string `json:"stream,omitempty"`
	Scope  string `json:"scope,omitempty"`
}

// ServerEvent is what the server pushes: a full snapshot for one
// subscription, or its terminal error.
type ServerEvent struct {
	Type   string `json:"type"` // "snapshot", "stream_closed", "error"
	ID     string `json:"id,omitempty"`
	Stream string `json:"stream,omitempty"`
	Scope  string `json:"scope,omitempty"`
	Items  []any  `json:"items,omitempty"`
	Error  string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin
		return true
	},
}

func NewHub(bus *live.Manager, state *appstate.Registry, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		bus:        bus,
		state:      state,
		log:        logger,
	}
}

// IsUserOnline checks if a user has at least one open connection
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.userID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info().Str("user_id", client.userID).Int("total", total).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			client.cancelAll()
			h.log.Info().Str("user_id", client.userID).Int("total", total).Msg("client disconnected")
		}
	}
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	username, _ := c.Get("username")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		userID:   userID.(string),
		username: username.(string),
		conn:     conn,
		hub:      h,
		send:     make(chan ServerEvent, 256),
		streams:  make(map[string]*live.Stream),
	}

	h.register <- client

	go client.readPump()
	go client.writePump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Str("user_id", c.userID).Msg("websocket read error")
			}
			break
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}

		switch cmd.Type {
		case "subscribe":
			c.handleSubscribe(cmd)
		case "unsubscribe":
			c.handleUnsubscribe(cmd)
		case "set_active_concert":
			c.hub.state.SetActiveConcert(c.userID, cmd.Scope)
		}
	}
}

// handleSubscribe opens a live query under the client-chosen id. Messages
// queries carry the viewer so a client cannot read rooms it is not in.
func (c *Client) handleSubscribe(cmd Command) {
	if cmd.ID == "" || cmd.Stream == "" {
		c.trySend(ServerEvent{Type: "error", ID: cmd.ID, Error: "subscribe needs an id and a stream"})
		return
	}

	q := live.Query{Collection: live.Collection(cmd.Stream), Scope: cmd.Scope}
	if q.Collection == live.CollectionMessages {
		q.Filters = []live.Filter{{Field: "viewer", Value: c.userID}}
	}
	if q.Collection == live.CollectionRooms {
		// A user only ever sees their own conversation list.
		q.Scope = c.userID
	}

	stream, err := c.hub.bus.Subscribe(context.Background(), q)
	if err != nil {
		c.trySend(ServerEvent{Type: "error", ID: cmd.ID, Error: messages.ForError(err)})
		return
	}

	c.mu.Lock()
	if old, ok := c.streams[cmd.ID]; ok {
		old.Cancel()
	}
	c.streams[cmd.ID] = stream
	c.mu.Unlock()

	go c.forward(cmd, stream)
}

func (c *Client) forward(cmd Command, stream *live.Stream) {
	for snap := range stream.Snapshots() {
		c.trySend(ServerEvent{
			Type:   "snapshot",
			ID:     cmd.ID,
			Stream: cmd.Stream,
			Scope:  snap.Query.Scope,
			Items:  snap.Items,
		})
	}

	closed := ServerEvent{Type: "stream_closed", ID: cmd.ID, Stream: cmd.Stream}
	if err := stream.Err(); err != nil {
		closed.Error = messages.ForError(err)
	}
	c.trySend(closed)

	c.mu.Lock()
	if c.streams[cmd.ID] == stream {
		delete(c.streams, cmd.ID)
	}
	c.mu.Unlock()
}

func (c *Client) handleUnsubscribe(cmd Command) {
	c.mu.Lock()
	stream, ok := c.streams[cmd.ID]
	delete(c.streams, cmd.ID)
	c.mu.Unlock()
	if ok {
		stream.Cancel()
	}
}

func (c *Client) cancelAll() {
	c.mu.Lock()
	streams := make([]*live.Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.streams = make(map[string]*live.Stream)
	c.mu.Unlock()
	for _, s := range streams {
		s.Cancel()
	}
}

// trySend drops the event if the client's buffer is full; a subsequent
// snapshot supersedes it anyway.
func (c *Client) trySend(evt ServerEvent) {
	defer func() {
		// send may already be closed by the hub on disconnect.
		recover()
	}()
	select {
	case c.send <- evt:
	default:
		c.hub.log.Warn().Str("user_id", c.userID).Str("sub_id", evt.ID).Msg("send buffer full, dropping event")
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
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, _ := json.Marshal(event)
			w.Write(data)

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
