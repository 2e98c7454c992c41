package session

import (
	"sync"

	"github.com/tomaslejdung/goflash/pkg/protocol"
)

// Subscription is a handle on a registered callback. Unsubscribe is
// idempotent and safe to defer on every exit path.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the callback
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// EventHandler receives decoded envelopes from the relay. Handlers run on the
// session's read goroutine and must not block.
type EventHandler func(env protocol.Envelope)

// StatusHandler receives state transitions
type StatusHandler func(status Status)
