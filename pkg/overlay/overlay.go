// Package overlay provides the floating surface of a viewer window.
// This package is designed to be completely independent from the viewer TUI,
// communicating only through the Events channel and State snapshots.
package overlay

import (
	"image"
	"sync"
	"time"

	"github.com/tomaslejdung/goflash/pkg/display"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

// Visibility of the surface
type Visibility int

const (
	// Hidden - nothing on screen
	Hidden Visibility = iota
	// Waiting - shown while the image loads
	Waiting
	// Visible - an image is drawn
	Visible
)

// Event tells the UI loop that the surface changed
type Event struct {
	Type EventType
	// URL of the image the change concerns, empty for EventHidden
	URL string
}

// EventType represents the type of overlay event.
type EventType int

const (
	EventShown EventType = iota
	EventRendered
	EventHidden
)

// State is a snapshot of what the surface shows
type State struct {
	Visibility Visibility
	Event      protocol.BroadcastEvent
	Image      image.Image
	Size       display.Size
	Origin     display.Point
	ExpiresAt  time.Time
}

// Overlay implements display.Window. It is safe for concurrent use.
type Overlay struct {
	mu      sync.RWMutex
	screen  display.Size
	state   State
	enabled bool
	events  chan Event
}

// New creates a hidden overlay on a screen of the given logical size
func New(screen display.Size) *Overlay {
	return &Overlay{
		screen:  screen,
		enabled: true,
		events:  make(chan Event, 16),
	}
}

// Events returns a channel that receives overlay events.
// The UI should read from this channel and redraw from State.
func (o *Overlay) Events() <-chan Event {
	return o.events
}

// sendEvent sends an event to the events channel (non-blocking).
func (o *Overlay) sendEvent(evt Event) {
	select {
	case o.events <- evt:
	default:
		// Channel full; the reader still redraws from the latest State
	}
}

func (o *Overlay) Show(evt protocol.BroadcastEvent) {
	o.mu.Lock()
	o.state = State{Visibility: Waiting, Event: evt}
	o.mu.Unlock()
	o.sendEvent(Event{Type: EventShown, URL: evt.URL})
}

func (o *Overlay) Render(f display.Frame) {
	o.mu.Lock()
	o.state = State{
		Visibility: Visible,
		Event:      f.Event,
		Image:      f.Image,
		Size:       f.Size,
		Origin:     f.Origin,
		ExpiresAt:  f.ExpiresAt,
	}
	o.mu.Unlock()
	o.sendEvent(Event{Type: EventRendered, URL: f.Event.URL})
}

func (o *Overlay) Hide() {
	o.mu.Lock()
	o.state = State{}
	o.mu.Unlock()
	o.sendEvent(Event{Type: EventHidden})
}

func (o *Overlay) ScreenSize() display.Size {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.screen
}

// SetScreenSize changes the logical screen used for later placements
func (o *Overlay) SetScreenSize(s display.Size) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.screen = s
}

// State returns what should be drawn. A disabled overlay reports Hidden
// but keeps tracking the controller.
func (o *Overlay) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.enabled {
		return State{}
	}
	return o.state
}

// SetEnabled mutes or unmutes the surface
func (o *Overlay) SetEnabled(enabled bool) {
	o.mu.Lock()
	o.enabled = enabled
	url := o.state.Event.URL
	o.mu.Unlock()
	o.sendEvent(Event{Type: EventRendered, URL: url})
}

// IsEnabled returns whether the overlay is currently enabled.
func (o *Overlay) IsEnabled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.enabled
}
