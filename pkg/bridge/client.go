package bridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

// Client is the viewer side of the bridge. It reconnects until its context ends.
type Client struct {
	URL string

	// OnImage receives every forwarded broadcast, in order
	OnImage func(protocol.BroadcastEvent)
	// OnStatus is told when the link to the control process goes up or down
	OnStatus func(connected bool)

	MinBackoff time.Duration // default 500ms
	MaxBackoff time.Duration // default 10s
	Logger     *zerolog.Logger
}

// NewClient creates a client for the bridge at addr (host:port)
func NewClient(addr string) *Client {
	return &Client{URL: "ws://" + addr + protocol.SocketPath}
}

// Run connects and dispatches events until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	logger := log.Logger
	if c.Logger != nil {
		logger = *c.Logger
	}
	logger = logger.With().Str("component", "bridge-client").Logger()

	minBackoff, maxBackoff := c.MinBackoff, c.MaxBackoff
	if minBackoff <= 0 {
		minBackoff = 500 * time.Millisecond
	}
	if maxBackoff <= 0 {
		maxBackoff = 10 * time.Second
	}

	backoff := minBackoff
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
		if err == nil {
			backoff = minBackoff
			c.status(true)
			logger.Info().Str("url", c.URL).Msg("Connected to control window")
			c.readLoop(ctx, conn, logger)
			c.status(false)
		} else if ctx.Err() == nil {
			logger.Debug().Err(err).Dur("retry", backoff).Msg("Control window not reachable")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Lost control window")
			}
			return
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			logger.Warn().Err(err).Msg("Invalid frame from control window")
			continue
		}
		switch env.Event {
		case protocol.EventLocalImage:
			var evt protocol.BroadcastEvent
			if err := env.Bind(&evt); err != nil {
				logger.Warn().Err(err).Msg("Invalid image event")
				continue
			}
			if c.OnImage != nil {
				c.OnImage(evt)
			}
		case protocol.EventDisconnect:
			return
		}
	}
}

func (c *Client) status(connected bool) {
	if c.OnStatus != nil {
		c.OnStatus(connected)
	}
}
