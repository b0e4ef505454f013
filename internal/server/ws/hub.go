// Package ws streams ledger and escrow events to WebSocket clients. The hub
// subscribes to the signal bus once and fans received envelopes out to every
// connected client whose subscription set matches the source channel.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swingold/escrowd/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must stay below pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Every ledger and escrow event is published under "events:<type>", so one
// pattern subscription covers the whole stream. Clients narrow it down with
// their own subscribe messages.
var defaultChannels = []string{"events:*"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS-style origin filtering happens in the middleware chain; the
		// upgrade itself accepts any origin.
		return true
	},
}

// Config carries runtime metadata included in the status envelope each
// client receives on connect, plus the stream replayed for clients that
// connect with ?replay=<last-id>.
type Config struct {
	Mode      string
	StartedAt time.Time
	Stream    string
}

// replayLimit caps how many stream entries a single connect may replay.
const replayLimit = 100

// Hub owns the set of connected clients. All membership changes go through
// the register/unregister channels so only the Run loop touches the map for
// writes.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	mode      string
	startedAt time.Time
	stream    string

	mu         sync.RWMutex
	clients    map[*client]struct{}
	incoming   chan busMessage
	register   chan *client
	unregister chan *client
}

// busMessage pairs a payload with the bus channel it arrived on, so fan-out
// can consult each client's subscription set.
type busMessage struct {
	channel string
	data    []byte
}

// NewHub creates a hub bridging the signal bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "events"
	}

	return &Hub{
		bus:        bus,
		logger:     logger,
		mode:       mode,
		startedAt:  startedAt,
		stream:     stream,
		clients:    make(map[*client]struct{}),
		incoming:   make(chan busMessage, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drives the hub until the context is cancelled: it maintains the client
// set, relays bus messages, and disconnects everyone on shutdown.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range defaultChannels {
		go h.relay(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.incoming:
			h.fanOut(msg)
		}
	}
}

// relay forwards one bus subscription into the hub's incoming channel. A
// dropped subscription ends the relay; events resume on the next restart.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: relaying bus channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			// The concrete channel lets fan-out honor narrowed client
			// subscriptions; an empty one falls back to the pattern.
			src := sig.Channel
			if src == "" {
				src = channel
			}
			h.incoming <- busMessage{channel: src, data: sig.Payload}
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client connected", slog.Int("total_clients", n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// fanOut delivers a message to every subscribed client. Slow clients lose
// messages rather than stalling the loop.
func (h *Hub) fanOut(msg busMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(msg.channel) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// HandleWS upgrades the request and starts the client's pumps. Clients that
// pass ?replay=<last-id> first receive recent envelopes from the event
// stream ("0" replays from the beginning).
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]bool, len(defaultChannels)),
	}
	// New clients see everything until they narrow their subscriptions.
	for _, ch := range defaultChannels {
		c.channels[ch] = true
	}

	h.register <- c
	c.queueStatus()
	if lastID := r.URL.Query().Get("replay"); lastID != "" {
		h.queueReplay(r.Context(), c, lastID)
	}

	go c.writePump()
	go c.readPump()
}

// queueReplay enqueues stream entries published after lastID, so clients can
// catch up on events missed while disconnected. A client whose send buffer
// cannot hold the backlog gets a truncated replay.
func (h *Hub) queueReplay(ctx context.Context, c *client, lastID string) {
	entries, err := h.bus.StreamRead(ctx, h.stream, lastID, replayLimit)
	if err != nil {
		h.logger.Warn("ws: stream replay failed",
			slog.String("stream", h.stream),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, entry := range entries {
		select {
		case c.send <- entry.Payload:
		default:
			return
		}
	}
}

// client is a single WebSocket connection with its subscription set.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]bool
}

// controlMsg is the only message clients send:
// {"action":"subscribe","channels":["events:escrow.*"]}.
type controlMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// readPump consumes client frames, applying subscription changes and
// enforcing the pong deadline. Everything else a client sends is ignored.
func (c *client) readPump() {
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
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var ctl controlMsg
		if err := json.Unmarshal(frame, &ctl); err != nil || ctl.Action == "" {
			continue
		}
		c.apply(ctl)
	}
}

func (c *client) apply(ctl controlMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ctl.Action {
	case "subscribe":
		for _, ch := range ctl.Channels {
			c.channels[ch] = true
		}
	case "unsubscribe":
		for _, ch := range ctl.Channels {
			delete(c.channels, ch)
		}
	}
}

// subscribed reports whether channel matches the client's subscription set,
// treating a trailing '*' as a prefix wildcard.
func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.channels[channel] {
		return true
	}
	for sub := range c.channels {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// queueStatus enqueues a status envelope so clients can mark the connection
// healthy before any events flow.
func (c *client) queueStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "server_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// writePump delivers queued envelopes as JSON text frames and keeps the
// connection alive with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
