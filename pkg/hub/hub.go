// Package hub fans websocket events out to a set of connected clients. The
// relay uses it for control sessions and the bridge for local viewers.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

// Options configures a Hub
type Options struct {
	// OnJoin runs after a client is registered, before its first frame is read
	OnJoin func(c *Client)
	// OnMessage runs on the client's read goroutine for every decoded frame
	OnMessage func(c *Client, env protocol.Envelope)
	// OnLeave runs once after a client is unregistered
	OnLeave func(c *Client)

	SendBuffer   int           // queued frames per client, default 256
	WriteTimeout time.Duration // default 10s
	// PongWait is how long a client may stay silent before it is dropped.
	// Pings go out at 9/10 of it. Default 60s.
	PongWait time.Duration
	Logger   *zerolog.Logger
}

// Hub manages websocket clients
type Hub struct {
	opts     Options
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// New creates an empty Hub
func New(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Hub{
		opts: opts,
		log:  logger.With().Str("component", "hub").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Viewers and control windows are not browsers
			},
		},
		clients: make(map[*Client]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the client until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Upgrade(w, r); err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
	}
}

// Upgrade registers a new client for the request and starts its pumps
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) (*Client, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		id:     uuid.NewString(),
		remote: r.RemoteAddr,
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, h.opts.SendBuffer),
		attrs:  make(map[string]string),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil, http.ErrServerClosed
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("client", c.id).Str("remote", c.remote).Int("clients", count).Msg("Client connected")

	go c.writePump()
	if h.opts.OnJoin != nil {
		h.opts.OnJoin(c)
	}
	go c.readPump()
	return c, nil
}

// remove unregisters c. It returns false if c was already gone.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("client", c.id).Int("clients", count).Msg("Client disconnected")
	if h.opts.OnLeave != nil {
		h.opts.OnLeave(c)
	}
	return true
}

// Broadcast queues an event for every client that passes filter (nil means
// all) and returns how many clients it was queued for. Clients whose buffer
// is full miss the event.
func (h *Hub) Broadcast(event string, data any, filter func(*Client) bool) (int, error) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients {
		if filter != nil && !filter(c) {
			continue
		}
		select {
		case c.send <- frame:
			sent++
		default:
			h.log.Warn().Str("client", c.id).Str("event", event).Msg("Client buffer full, dropping event")
		}
	}
	return sent, nil
}

// Clients returns the clients that pass filter
func (h *Hub) Clients(filter func(*Client) bool) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if filter == nil || filter(c) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
