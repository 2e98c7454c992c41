// Package protocol defines the messages exchanged between control windows,
// the relay and viewer windows.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Event names carried in Envelope.Event
const (
	EventAuth         = "auth"          // client -> relay, first frame after dial
	EventConnect      = "connect"       // relay -> client, handshake accepted
	EventConnectError = "connect_error" // relay -> client, handshake rejected
	EventReady        = "ready"         // client -> relay, start forwarding events
	EventDisconnect   = "disconnect"    // relay -> client, session closed by peer
	EventNewImage     = "new image"     // relay -> all ready sessions
	EventUsers        = "users"         // relay -> all ready sessions, connected usernames
	EventLocalImage   = "new-image"     // control process -> local viewer windows
)

// Disconnect reasons reported with EventDisconnect or synthesized locally
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

// HTTP and websocket paths served by a relay
const (
	SocketPath  = "/socket"
	UploadPath  = "/upload"
	ImagePrefix = "/img/"
)

// Envelope is the frame sent over every websocket in the system
type Envelope struct {
	Event string          `json:"event"`          // one of the Event* constants
	Data  json.RawMessage `json:"data,omitempty"` // event payload, absent for zero-payload signals
}

// Auth is the handshake metadata attached to a new relay session
type Auth struct {
	Key      string `json:"key"`
	Username string `json:"username"`
	Version  string `json:"version"`
}

// Accepted is the payload of EventConnect
type Accepted struct {
	SessionID string `json:"sid"`
	Token     string `json:"token,omitempty"` // bearer token for UploadPath
}

// Rejected is the payload of EventConnectError
type Rejected struct {
	Message string `json:"message"`
}

// Disconnect is the payload of EventDisconnect
type Disconnect struct {
	Reason string `json:"reason"`
}

// UserList is the payload of EventUsers
type UserList struct {
	Users []string `json:"users"`
}

// UploadResponse is the JSON body returned by a successful upload
type UploadResponse struct {
	URL string `json:"url"`
}

// Encode builds a wire frame for event. A nil data produces a zero-payload frame.
func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := sonic.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %q payload: %w", event, err)
		}
		env.Data = raw
	}
	return sonic.Marshal(env)
}

// Decode parses a wire frame
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event name")
	}
	return env, nil
}

// Bind unmarshals the envelope payload into v
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %q has no payload", e.Event)
	}
	if err := sonic.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("event %q payload: %w", e.Event, err)
	}
	return nil
}
