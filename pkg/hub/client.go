package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

// ErrClientGone is returned when sending to a client that has disconnected
var ErrClientGone = errors.New("client disconnected")

// ErrBufferFull is returned when a client's send queue is full
var ErrBufferFull = errors.New("client send buffer full")

// Client is one websocket peer of a Hub
type Client struct {
	id     string
	remote string
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte // nil frame means close after flushing

	mu    sync.RWMutex
	attrs map[string]string
	ready bool
}

// ID is unique per connection
func (c *Client) ID() string { return c.id }

// RemoteAddr of the underlying connection
func (c *Client) RemoteAddr() string { return c.remote }

// Set stores a string attribute, e.g. the username of a session
func (c *Client) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[key] = value
}

// Get reads an attribute
func (c *Client) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attrs[key]
}

// MarkReady flags the client as wanting broadcasts
func (c *Client) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = true
}

// Ready reports whether MarkReady was called
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// IsReady is a Broadcast filter
func IsReady(c *Client) bool { return c.Ready() }

// Send queues one event for this client
func (c *Client) Send(event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) error {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	if _, ok := c.hub.clients[c]; !ok {
		return ErrClientGone
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// Disconnect tells the client why it is being dropped, then closes it once
// everything queued before has been written
func (c *Client) Disconnect(reason string) {
	if err := c.Send(protocol.EventDisconnect, protocol.Disconnect{Reason: reason}); err != nil {
		c.Close()
		return
	}
	if err := c.enqueue(nil); err != nil {
		c.Close()
	}
}

// Close drops the connection immediately
func (c *Client) Close() {
	c.conn.Close()
}

// readPump reads frames until the connection fails, then unregisters
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	pongWait := c.hub.opts.PongWait
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Str("client", c.id).Msg("WebSocket error")
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.Decode(message)
		if err != nil {
			c.hub.log.Warn().Err(err).Str("client", c.id).Msg("Invalid message format")
			continue
		}
		if c.hub.opts.OnMessage != nil {
			c.hub.opts.OnMessage(c, env)
		}
	}
}

// writePump writes queued frames in order and pings the peer
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if message == nil {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, protocol.ReasonServerDisconnect))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.log.Debug().Err(err).Str("client", c.id).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
