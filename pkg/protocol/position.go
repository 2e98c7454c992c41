package protocol

import (
	"fmt"
	"strings"
)

// Position is the screen anchor of a viewer window
type Position string

const (
	PositionTopLeft     Position = "top-left"
	PositionTopRight    Position = "top-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionBottomRight Position = "bottom-right"
	PositionCenter      Position = "center"
)

// Positions lists every position in the order the control window cycles them
var Positions = []Position{
	PositionTopLeft,
	PositionTopRight,
	PositionBottomLeft,
	PositionBottomRight,
	PositionCenter,
}

// ParsePosition accepts a position name, case-insensitive and trimmed
func ParsePosition(s string) (Position, error) {
	p := Position(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Positions {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown position %q", s)
}

// Next returns the position after p, wrapping around
func (p Position) Next() Position {
	for i, known := range Positions {
		if known == p {
			return Positions[(i+1)%len(Positions)]
		}
	}
	return PositionCenter
}

// Label is a human-readable name for menus
func (p Position) Label() string {
	switch p {
	case PositionTopLeft:
		return "Top Left"
	case PositionTopRight:
		return "Top Right"
	case PositionBottomLeft:
		return "Bottom Left"
	case PositionBottomRight:
		return "Bottom Right"
	case PositionCenter:
		return "Center"
	}
	return string(p)
}
