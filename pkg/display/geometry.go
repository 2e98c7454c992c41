package display

import (
	"math"

	"github.com/tomaslejdung/goflash/pkg/protocol"
)

// Geometry defaults in logical units
const (
	DefaultMaxSize = 800
	DefaultMargin  = 20
)

// Size is a width and height in logical units
type Size struct {
	Width  int
	Height int
}

// Point is a top-left origin in logical screen units
type Point struct {
	X int
	Y int
}

// FitSize scales an image so its longer side is at most maxSide, keeping the
// aspect ratio. Smaller images keep their size unless upscale is set, in which
// case the longer side becomes exactly maxSide.
func FitSize(img Size, maxSide int, upscale bool) Size {
	if img.Width <= 0 || img.Height <= 0 || maxSide <= 0 {
		return Size{}
	}
	longer := max(img.Width, img.Height)
	if longer <= maxSide && !upscale {
		return img
	}

	scale := float64(maxSide) / float64(longer)
	if img.Width >= img.Height {
		return Size{Width: maxSide, Height: max(1, int(math.Round(float64(img.Height)*scale)))}
	}
	return Size{Width: max(1, int(math.Round(float64(img.Width)*scale))), Height: maxSide}
}

// Placement anchors a window of size win on screen at pos, margin units from
// the nearest edges. The origin never goes negative.
func Placement(pos protocol.Position, win, screen Size, margin int) Point {
	right := screen.Width - win.Width - margin
	bottom := screen.Height - win.Height - margin

	var p Point
	switch pos {
	case protocol.PositionTopLeft:
		p = Point{X: margin, Y: margin}
	case protocol.PositionTopRight:
		p = Point{X: right, Y: margin}
	case protocol.PositionBottomLeft:
		p = Point{X: margin, Y: bottom}
	case protocol.PositionBottomRight:
		p = Point{X: right, Y: bottom}
	default:
		p = Point{X: (screen.Width - win.Width) / 2, Y: (screen.Height - win.Height) / 2}
	}
	p.X = max(0, p.X)
	p.Y = max(0, p.Y)
	return p
}
