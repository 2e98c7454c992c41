package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// upperHalf draws the top pixel as foreground and the bottom one as background
const upperHalf = "▀"

// Draw paints the state onto a cols x rows terminal grid. Each cell covers
// two vertical pixels. Logical screen units are mapped to cells
// proportionally, so placement matches what a desktop window would do.
func Draw(st State, screenW, screenH, cols, rows int) string {
	if cols <= 0 || rows <= 0 {
		return ""
	}
	blank := strings.Repeat(" ", cols)
	if st.Visibility == Hidden || screenW <= 0 || screenH <= 0 {
		return strings.TrimSuffix(strings.Repeat(blank+"\n", rows), "\n")
	}

	// Target rectangle in half-cell pixels
	pxH := rows * 2
	x0 := st.Origin.X * cols / screenW
	y0 := st.Origin.Y * pxH / screenH
	w := max(1, st.Size.Width*cols/screenW)
	h := max(1, st.Size.Height*pxH/screenH)
	if st.Visibility == Waiting || st.Image == nil {
		// Loading placeholder box, centered
		w, h = min(cols, 12), min(pxH, 4)
		x0, y0 = (cols-w)/2, (pxH-h)/2
	}

	var b strings.Builder
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			top, topOK := sample(st, col, row*2, x0, y0, w, h)
			bottom, bottomOK := sample(st, col, row*2+1, x0, y0, w, h)
			if !topOK && !bottomOK {
				b.WriteByte(' ')
				continue
			}
			style := lipgloss.NewStyle()
			if topOK {
				style = style.Foreground(hex(top))
			}
			if bottomOK {
				style = style.Background(hex(bottom))
			}
			b.WriteString(style.Render(upperHalf))
		}
		if row < rows-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// sample returns the image color for a half-cell pixel, if it is inside the target
func sample(st State, x, y, x0, y0, w, h int) (color.Color, bool) {
	if x < x0 || y < y0 || x >= x0+w || y >= y0+h {
		return nil, false
	}
	if st.Image == nil {
		return color.Gray{Y: 0x40}, true
	}
	bounds := st.Image.Bounds()
	sx := bounds.Min.X + (x-x0)*bounds.Dx()/w
	sy := bounds.Min.Y + (y-y0)*bounds.Dy()/h
	return st.Image.At(sx, sy), true
}

func hex(c color.Color) lipgloss.Color {
	r, g, b, _ := c.RGBA()
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8))
}

// Bounds reports the cell rectangle a visible image occupies, for captions
func Bounds(st State, screenW, screenH, cols, rows int) image.Rectangle {
	if st.Visibility != Visible || screenW <= 0 || screenH <= 0 {
		return image.Rectangle{}
	}
	x0 := st.Origin.X * cols / screenW
	y0 := st.Origin.Y * rows / screenH
	x1 := x0 + max(1, st.Size.Width*cols/screenW)
	y1 := y0 + max(1, st.Size.Height*rows/screenH)
	return image.Rect(x0, y0, min(x1, cols), min(y1, rows))
}
