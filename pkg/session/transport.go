package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the manager uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a transport to a websocket URL
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// WebSocketDialer returns a DialFunc backed by gorilla/websocket
func WebSocketDialer(handshakeTimeout time.Duration) DialFunc {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		conn, _, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
