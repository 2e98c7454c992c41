package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Placeholder names for images without a usable file name
const (
	DroppedName = "dropped-image"
	PastedName  = "pasted-image"
)

// Preview is the on-disk copy shown in the control window
type Preview struct {
	Path string
	Info Info
}

// Capture is the result of a successful capture
type Capture struct {
	Image   Image
	Preview Preview
}

// Options configures an Adapter
type Options struct {
	Clipboard Clipboard
	TempDir   string // defaults to os.TempDir()
	Logger    *zerolog.Logger
}

// Adapter holds the current capture of a control window. Each successful
// capture releases the previous preview before a new one is created, and a
// capture that completes after a newer one started is discarded.
type Adapter struct {
	clipboard Clipboard
	tempDir   string
	log       zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	current *Capture
}

// New creates an Adapter with no current capture
func New(opts Options) *Adapter {
	if opts.Clipboard == nil {
		opts.Clipboard = ExecClipboard{}
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Adapter{
		clipboard: opts.Clipboard,
		tempDir:   opts.TempDir,
		log:       logger.With().Str("component", "capture").Logger(),
	}
}

// PickFile captures the file the operator chose
func (a *Adapter) PickFile(path string) (*Capture, error) {
	gen := a.begin()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CaptureError{Op: "pick", Path: path, Err: err}
	}
	return a.commit(gen, "pick", Image{Data: data, Name: filepath.Base(path), Source: FilePick})
}

// Drop captures the first of the dropped paths. No paths is a no-op.
func (a *Adapter) Drop(paths []string) (*Capture, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	gen := a.begin()
	path := paths[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CaptureError{Op: "drop", Path: path, Err: err}
	}
	return a.commit(gen, "drop", Image{Data: data, Name: dropName(path), Source: Drop})
}

// dropName is the last path segment, or a placeholder when there is none
func dropName(path string) string {
	path = strings.TrimRight(filepath.ToSlash(path), "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "" || path == "." {
		return DroppedName
	}
	return path
}

// Paste captures the clipboard image. An empty clipboard is a no-op and
// returns nil without an error; it does not supersede a capture in flight.
func (a *Adapter) Paste(ctx context.Context) (*Capture, error) {
	seen := a.generation()
	data, err := a.clipboard.ReadImage(ctx)
	if err != nil {
		return nil, &CaptureError{Op: "paste", Err: err}
	}
	if len(data) == 0 {
		a.log.Debug().Msg("Clipboard has no image")
		return nil, nil
	}
	gen, ok := a.beginAfter(seen)
	if !ok {
		return nil, ErrSuperseded
	}
	return a.commit(gen, "paste", Image{Data: data, Name: PastedName, Source: Paste})
}

// Edited replaces the current image with an editor result
func (a *Adapter) Edited(prev Image, data []byte) (*Capture, error) {
	gen := a.begin()
	name := prev.Name
	if name == "" {
		name = PastedName
	}
	return a.commit(gen, "edit", Image{Data: data, Name: name, Source: EditedResult})
}

// Current returns the current capture, if any
func (a *Adapter) Current() (Capture, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return Capture{}, false
	}
	return *a.current, true
}

// Clear drops the current capture and its preview
func (a *Adapter) Clear() {
	a.mu.Lock()
	a.gen++
	prev := a.current
	a.current = nil
	a.mu.Unlock()
	a.release(prev)
}

// Close releases everything the adapter holds
func (a *Adapter) Close() error {
	a.Clear()
	return nil
}

func (a *Adapter) begin() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	return a.gen
}

func (a *Adapter) generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen
}

// beginAfter starts a capture only if nothing else started since seen
func (a *Adapter) beginAfter(seen uint64) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != seen {
		return 0, false
	}
	a.gen++
	return a.gen, true
}

func (a *Adapter) commit(gen uint64, op string, img Image) (*Capture, error) {
	if len(img.Data) == 0 {
		return nil, &CaptureError{Op: op, Err: fmt.Errorf("%w: empty", ErrNotImage)}
	}
	info, err := Inspect(img.Data)
	if err != nil {
		return nil, &CaptureError{Op: op, Err: err}
	}
	if filepath.Ext(img.Name) == "" {
		img.Name += extension(info.Format)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return nil, ErrSuperseded
	}

	// The old preview goes away before the new one exists
	a.release(a.current)
	a.current = nil

	path, err := a.writePreview(img.Data, info)
	if err != nil {
		return nil, &CaptureError{Op: op, Err: fmt.Errorf("write preview: %w", err)}
	}
	a.current = &Capture{Image: img, Preview: Preview{Path: path, Info: info}}

	a.log.Debug().
		Str("source", img.Source.String()).
		Str("name", img.Name).
		Int("width", info.Width).
		Int("height", info.Height).
		Msg("Captured image")
	out := *a.current
	return &out, nil
}

func (a *Adapter) writePreview(data []byte, info Info) (string, error) {
	f, err := os.CreateTemp(a.tempDir, "goflash-preview-*"+extension(info.Format))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (a *Adapter) release(c *Capture) {
	if c == nil || c.Preview.Path == "" {
		return
	}
	if err := os.Remove(c.Preview.Path); err != nil && !os.IsNotExist(err) {
		a.log.Warn().Err(err).Str("path", c.Preview.Path).Msg("Failed to remove preview")
	}
}
