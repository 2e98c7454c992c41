// Package session owns the control window's connection to a relay: the
// handshake, the connection state machine and event subscriptions.
package session

import "fmt"

// State is the connection state of a Manager
type State int

const (
	// Disconnected - no session, nothing in flight
	Disconnected State = iota
	// Connecting - transport dialed or handshake in flight
	Connecting
	// Connected - relay accepted the handshake and ready was sent
	Connected
	// Failed - the last attempt was rejected; Status.Reason says why
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is a snapshot of the manager's derived state. It is the only view
// other components get of the relay connection.
type Status struct {
	State        State
	Reason       string // failure or disconnect reason, empty otherwise
	RelayAddress string // validated address, set only while Connected
	BaseURL      string // HTTP base derived from RelayAddress
	SessionID    string
}
