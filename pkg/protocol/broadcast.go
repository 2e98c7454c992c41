package protocol

import (
	"fmt"
	"math"
	"time"
)

// Display time bounds in seconds
const (
	MinDisplayTime     = 1
	MaxDisplayTime     = 12
	DefaultDisplayTime = 6
)

// BroadcastEvent is the "new image" payload fanned out by the relay.
// DisplayTime is a JSON number and may arrive out of range or fractional.
type BroadcastEvent struct {
	URL         string   `json:"url"`
	DisplayTime float64  `json:"displayTime"`
	Position    Position `json:"position"`
	Username    string   `json:"username"`
}

// ClampDisplayTime rounds seconds to a whole number inside
// [MinDisplayTime, MaxDisplayTime]. NaN maps to MinDisplayTime.
func ClampDisplayTime(seconds float64) int {
	if math.IsNaN(seconds) || seconds < MinDisplayTime {
		return MinDisplayTime
	}
	if seconds > MaxDisplayTime {
		return MaxDisplayTime
	}
	return int(math.Round(seconds))
}

// Normalize returns a copy with a clamped display time and a known position.
// Unknown positions fall back to PositionCenter.
func (e BroadcastEvent) Normalize() BroadcastEvent {
	e.DisplayTime = float64(ClampDisplayTime(e.DisplayTime))
	if p, err := ParsePosition(string(e.Position)); err == nil {
		e.Position = p
	} else {
		e.Position = PositionCenter
	}
	return e
}

// Duration is the clamped display duration
func (e BroadcastEvent) Duration() time.Duration {
	return time.Duration(ClampDisplayTime(e.DisplayTime)) * time.Second
}

// Validate reports whether the event can be displayed at all
func (e BroadcastEvent) Validate() error {
	if e.URL == "" {
		return fmt.Errorf("broadcast event: empty url")
	}
	return nil
}
