// Package display drives a viewer window: it shows announced images at the
// requested position for the requested time, with newer announcements always
// replacing older ones.
package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomaslejdung/goflash/pkg/notify"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

// DefaultLoadTimeout bounds how long an image may stay in Loading
const DefaultLoadTimeout = 10 * time.Second

// State of a viewer
type State int

const (
	Idle State = iota
	Loading
	Showing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Showing:
		return "showing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Frame is everything a window needs to draw a loaded image
type Frame struct {
	Event     protocol.BroadcastEvent // normalized, URL absolute
	Image     image.Image
	Size      Size
	Origin    Point
	ExpiresAt time.Time
}

// Window is the surface a Controller drives. Calls are serialized and made
// with the controller's lock held, so implementations must not call back
// into the Controller.
type Window interface {
	// Show makes the window visible without an image
	Show(evt protocol.BroadcastEvent)
	// Render sizes, positions and draws a loaded image
	Render(f Frame)
	// Hide clears the image and hides the window
	Hide()
	// ScreenSize is the logical size of the screen the window lives on
	ScreenSize() Size
}

// Snapshot is a read-only view of the controller state
type Snapshot struct {
	State     State
	Event     protocol.BroadcastEvent
	ExpiresAt time.Time
}

// Options configures a Controller
type Options struct {
	Window      Window
	Loader      Loader
	Clock       Clock
	Notify      notify.Sink
	BaseURL     string // resolves relative event URLs
	MaxSize     int
	Upscale     bool
	Margin      int
	LoadTimeout time.Duration
	Logger      *zerolog.Logger
}

// Controller is the per-viewer display state machine
type Controller struct {
	window      Window
	loader      Loader
	clock       Clock
	notify      notify.Sink
	baseURL     string
	maxSize     int
	upscale     bool
	margin      int
	loadTimeout time.Duration
	log         zerolog.Logger

	mu         sync.Mutex
	gen        uint64
	state      State
	event      protocol.BroadcastEvent
	expiresAt  time.Time
	timer      Timer // hide timer, armed while Showing
	loadTimer  Timer // load deadline, armed while Loading
	cancelLoad context.CancelFunc
	closed     bool
}

// New creates an idle Controller
func New(opts Options) (*Controller, error) {
	if opts.Window == nil {
		return nil, errors.New("display: window is required")
	}
	if opts.Loader == nil {
		opts.Loader = HTTPLoader{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Margin <= 0 {
		opts.Margin = DefaultMargin
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Controller{
		window:      opts.Window,
		loader:      opts.Loader,
		clock:       opts.Clock,
		notify:      opts.Notify,
		baseURL:     opts.BaseURL,
		maxSize:     opts.MaxSize,
		upscale:     opts.Upscale,
		margin:      opts.Margin,
		loadTimeout: opts.LoadTimeout,
		log:         logger.With().Str("component", "display").Logger(),
	}, nil
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state, Event: c.event, ExpiresAt: c.expiresAt}
}

// Handle accepts a broadcast. It abandons whatever the controller was doing,
// shows the window and starts loading the image in the background.
func (c *Controller) Handle(evt protocol.BroadcastEvent) {
	evt = evt.Normalize()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.abandonLocked()

	if err := evt.Validate(); err != nil {
		c.idleLocked()
		c.mu.Unlock()
		c.report(&DisplayLoadError{URL: evt.URL, Err: err})
		return
	}
	url, err := protocol.ResolveURL(c.baseURL, evt.URL)
	if err != nil {
		c.idleLocked()
		c.mu.Unlock()
		c.report(&DisplayLoadError{URL: evt.URL, Err: err})
		return
	}
	evt.URL = url

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelLoad = cancel
	c.loadTimer = c.clock.AfterFunc(c.loadTimeout, func() { c.loadExpired(gen) })
	c.state = Loading
	c.event = evt
	c.expiresAt = time.Time{}
	c.window.Show(evt)
	c.mu.Unlock()

	c.log.Debug().
		Str("url", url).
		Float64("displayTime", evt.DisplayTime).
		Str("position", string(evt.Position)).
		Str("from", evt.Username).
		Msg("Loading image")

	go c.load(ctx, gen, evt)
}

func (c *Controller) load(ctx context.Context, gen uint64, evt protocol.BroadcastEvent) {
	img, err := c.loader.Load(ctx, evt.URL)
	if err == nil && img == nil {
		err = errors.New("loader returned no image")
	}

	c.mu.Lock()
	if gen != c.gen || c.state != Loading {
		// A newer event, the load deadline or Close took over
		c.mu.Unlock()
		return
	}
	c.abandonLocked()
	if err != nil {
		c.idleLocked()
		c.mu.Unlock()
		c.report(&DisplayLoadError{URL: evt.URL, Err: err})
		return
	}

	b := img.Bounds()
	size := FitSize(Size{Width: b.Dx(), Height: b.Dy()}, c.maxSize, c.upscale)
	origin := Placement(evt.Position, size, c.window.ScreenSize(), c.margin)
	d := evt.Duration()

	c.state = Showing
	c.expiresAt = c.clock.Now().Add(d)
	c.timer = c.clock.AfterFunc(d, func() { c.expire(gen) })
	c.window.Render(Frame{
		Event:     evt,
		Image:     img,
		Size:      size,
		Origin:    origin,
		ExpiresAt: c.expiresAt,
	})
	c.mu.Unlock()

	c.log.Debug().Str("url", evt.URL).Int("width", size.Width).Int("height", size.Height).Msg("Showing image")
}

// loadExpired gives up on the load started by generation gen. The loader
// may never return, so the controller does not wait for it.
func (c *Controller) loadExpired(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Loading {
		c.mu.Unlock()
		return
	}
	url := c.event.URL
	c.loadTimer = nil
	c.abandonLocked()
	c.idleLocked()
	c.mu.Unlock()

	c.report(&DisplayLoadError{URL: url, Err: fmt.Errorf("%w after %s", ErrLoadTimeout, c.loadTimeout)})
}

// expire hides the image armed by generation gen
func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != Showing {
		return
	}
	c.timer = nil
	c.idleLocked()
	c.log.Debug().Msg("Display time elapsed")
}

// Close cancels any load or timer and hides the window
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	c.abandonLocked()
	c.idleLocked()
}

// abandonLocked stops both timers and cancels the in-flight load
func (c *Controller) abandonLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.loadTimer != nil {
		c.loadTimer.Stop()
		c.loadTimer = nil
	}
	if c.cancelLoad != nil {
		c.cancelLoad()
		c.cancelLoad = nil
	}
}

func (c *Controller) idleLocked() {
	c.state = Idle
	c.event = protocol.BroadcastEvent{}
	c.expiresAt = time.Time{}
	c.window.Hide()
}

func (c *Controller) report(err error) {
	c.log.Warn().Err(err).Msg("Failed to display image")
	notify.Send(c.notify, notify.Error, err.Error())
}
