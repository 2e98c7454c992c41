package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

func TestFitSize(t *testing.T) {
	tests := []struct {
		name    string
		in      Size
		upscale bool
		want    Size
	}{
		{"landscape capped", Size{1600, 900}, false, Size{800, 450}},
		{"portrait capped", Size{900, 1600}, false, Size{450, 800}},
		{"square capped", Size{1000, 1000}, false, Size{800, 800}},
		{"small kept", Size{400, 200}, false, Size{400, 200}},
		{"exact kept", Size{800, 600}, false, Size{800, 600}},
		{"small upscaled", Size{400, 200}, true, Size{800, 400}},
		{"thin line keeps a pixel", Size{8000, 2}, false, Size{800, 1}},
		{"empty", Size{0, 10}, false, Size{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FitSize(tt.in, DefaultMaxSize, tt.upscale))
		})
	}
}

func TestPlacement(t *testing.T) {
	screen := Size{1000, 800}
	win := Size{200, 100}
	tests := []struct {
		pos  protocol.Position
		want Point
	}{
		{protocol.PositionTopLeft, Point{20, 20}},
		{protocol.PositionTopRight, Point{780, 20}},
		{protocol.PositionBottomLeft, Point{20, 680}},
		{protocol.PositionBottomRight, Point{780, 680}},
		{protocol.PositionCenter, Point{400, 350}},
		{"", Point{400, 350}},
	}
	for _, tt := range tests {
		t.Run(string(tt.pos), func(t *testing.T) {
			assert.Equal(t, tt.want, Placement(tt.pos, win, screen, 20))
		})
	}

	// Windows larger than the screen stay on it
	assert.Equal(t, Point{0, 0}, Placement(protocol.PositionBottomRight, Size{1200, 900}, screen, 20))
}
