// Package capture turns file picks, drops, clipboard pastes and editor results
// into the single current image of a control window.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Source says how an image entered the control window
type Source int

const (
	FilePick Source = iota
	Drop
	Paste
	EditedResult
)

func (s Source) String() string {
	switch s {
	case FilePick:
		return "file"
	case Drop:
		return "drop"
	case Paste:
		return "paste"
	case EditedResult:
		return "edited"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Image is a captured image. Data is never empty.
type Image struct {
	Data   []byte
	Name   string
	Source Source
}

var (
	// ErrNotImage is returned for bytes no registered decoder accepts
	ErrNotImage = errors.New("not a supported image")

	// ErrSuperseded is returned when a newer capture started before this one finished
	ErrSuperseded = errors.New("capture superseded")
)

// CaptureError describes a failed capture
type CaptureError struct {
	Op   string // pick, drop, paste, edit
	Path string
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Info holds decoded header information
type Info struct {
	Format string
	Width  int
	Height int
}

// Inspect decodes only the image header
func Inspect(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// extension maps a decoder format name to a file extension
func extension(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "":
		return ""
	}
	return "." + format
}
