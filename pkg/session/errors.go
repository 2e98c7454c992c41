package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectInProgress is returned when Connect is called while another
	// handshake is still in flight
	ErrConnectInProgress = errors.New("connect already in progress")

	// ErrNotConnected is returned by operations that need a live session
	ErrNotConnected = errors.New("not connected")

	// ErrSuperseded is returned by a Connect whose attempt was cancelled by
	// Disconnect before the handshake finished
	ErrSuperseded = errors.New("connect superseded")
)

// ConnectionError describes a rejected handshake or a failed transport
type ConnectionError struct {
	Address string
	Reason  string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection to %s failed: %s: %v", e.Address, e.Reason, e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %s", e.Address, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
