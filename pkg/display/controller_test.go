package display

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomaslejdung/goflash/pkg/notify"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

type call struct {
	op    string // show, render, hide
	url   string
	frame Frame
}

type fakeWindow struct {
	calls chan call
}

func newFakeWindow() *fakeWindow {
	return &fakeWindow{calls: make(chan call, 64)}
}

func (w *fakeWindow) Show(evt protocol.BroadcastEvent) { w.calls <- call{op: "show", url: evt.URL} }
func (w *fakeWindow) Render(f Frame)                   { w.calls <- call{op: "render", url: f.Event.URL, frame: f} }
func (w *fakeWindow) Hide()                            { w.calls <- call{op: "hide"} }
func (w *fakeWindow) ScreenSize() Size                 { return Size{Width: 1920, Height: 1080} }

func (w *fakeWindow) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-w.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for window call")
		return call{}
	}
}

// fakeLoader hands out images only when the test releases them
type fakeLoader struct {
	mu      sync.Mutex
	pending map[string]chan result
}

type result struct {
	img image.Image
	err error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{pending: make(map[string]chan result)}
}

func (l *fakeLoader) ch(url string) chan result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending[url] == nil {
		l.pending[url] = make(chan result, 1)
	}
	return l.pending[url]
}

func (l *fakeLoader) Load(ctx context.Context, url string) (image.Image, error) {
	select {
	case r := <-l.ch(url):
		return r.img, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeLoader) finish(url string, w, h int) {
	l.ch(url) <- result{img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// fakeClock fires timers only on Advance
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type harness struct {
	ctrl   *Controller
	window *fakeWindow
	loader *fakeLoader
	clock  *fakeClock
	notes  *notify.Recorder
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		window: newFakeWindow(),
		loader: newFakeLoader(),
		clock:  newFakeClock(),
		notes:  &notify.Recorder{},
	}
	opts := Options{
		Window:  h.window,
		Loader:  h.loader,
		Clock:   h.clock,
		Notify:  h.notes,
		BaseURL: "http://relay:3000",
	}
	if mutate != nil {
		mutate(&opts)
	}
	ctrl, err := New(opts)
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(ctrl.Close)
	return h
}

func (h *harness) waitNotices(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.notes.Notices()) == n }, 2*time.Second, 5*time.Millisecond)
}

func TestShowThenExpire(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "/img/a.png", DisplayTime: 5, Position: protocol.PositionTopRight, Username: "alice"})

	c := h.window.next(t)
	assert.Equal(t, "show", c.op)
	assert.Equal(t, "http://relay:3000/img/a.png", c.url)
	assert.Equal(t, Loading, h.ctrl.Snapshot().State)

	h.loader.finish("http://relay:3000/img/a.png", 1600, 900)
	c = h.window.next(t)
	require.Equal(t, "render", c.op)
	assert.Equal(t, Size{Width: 800, Height: 450}, c.frame.Size)
	assert.Equal(t, Point{X: 1920 - 800 - DefaultMargin, Y: DefaultMargin}, c.frame.Origin)
	assert.Equal(t, h.clock.Now().Add(5*time.Second), c.frame.ExpiresAt)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, Showing, snap.State)
	assert.Equal(t, 1, h.clock.active())

	h.clock.Advance(4 * time.Second)
	assert.Equal(t, Showing, h.ctrl.Snapshot().State)

	h.clock.Advance(time.Second)
	assert.Equal(t, "hide", h.window.next(t).op)
	assert.Equal(t, Idle, h.ctrl.Snapshot().State)
}

func TestNewerEventWinsOverLateLoad(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/a.png", DisplayTime: 5})
	assert.Equal(t, "show", h.window.next(t).op)
	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/b.png", DisplayTime: 3})
	assert.Equal(t, "show", h.window.next(t).op)

	h.loader.finish("http://x/b.png", 100, 100)
	c := h.window.next(t)
	require.Equal(t, "render", c.op)
	assert.Equal(t, "http://x/b.png", c.url)

	// The first load was cancelled; a late completion must not surface
	h.loader.finish("http://x/a.png", 100, 100)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.window.calls, 0)
	assert.Equal(t, "http://x/b.png", h.ctrl.Snapshot().Event.URL)
}

func TestReplacingShownImageRearmsSingleTimer(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/a.png", DisplayTime: 5})
	h.window.next(t)
	h.loader.finish("http://x/a.png", 10, 10)
	h.window.next(t)

	h.clock.Advance(2 * time.Second)
	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/b.png", DisplayTime: 3})
	h.window.next(t)
	h.loader.finish("http://x/b.png", 10, 10)
	h.window.next(t)
	assert.Equal(t, 1, h.clock.active())

	// The first image's deadline passes without effect
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, Showing, h.ctrl.Snapshot().State)
	assert.Len(t, h.window.calls, 0)

	h.clock.Advance(time.Second)
	assert.Equal(t, "hide", h.window.next(t).op)
	assert.Equal(t, Idle, h.ctrl.Snapshot().State)
}

func TestDisplayTimeIsClamped(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/a.png", DisplayTime: 99})
	h.window.next(t)
	h.loader.finish("http://x/a.png", 10, 10)
	c := h.window.next(t)
	assert.Equal(t, h.clock.Now().Add(12*time.Second), c.frame.ExpiresAt)
	assert.Equal(t, protocol.PositionCenter, c.frame.Event.Position)
}

func TestLoadFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/broken.png", DisplayTime: 5})
	h.window.next(t)
	h.loader.ch("http://x/broken.png") <- result{err: errors.New("404")}

	assert.Equal(t, "hide", h.window.next(t).op)
	assert.Equal(t, Idle, h.ctrl.Snapshot().State)
	h.waitNotices(t, 1)
	assert.Equal(t, notify.Error, h.notes.Notices()[0].Level)
}

// stuckLoader ignores cancellation and only returns once released
type stuckLoader struct {
	release chan struct{}
}

func (l *stuckLoader) Load(_ context.Context, _ string) (image.Image, error) {
	<-l.release
	return image.NewRGBA(image.Rect(0, 0, 10, 10)), nil
}

func TestLoadTimeout(t *testing.T) {
	stuck := &stuckLoader{release: make(chan struct{})}
	h := newHarness(t, func(o *Options) {
		o.Loader = stuck
		o.LoadTimeout = 10 * time.Second
	})

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/slow.png", DisplayTime: 5})
	assert.Equal(t, "show", h.window.next(t).op)
	assert.Equal(t, 1, h.clock.active())

	h.clock.Advance(9 * time.Second)
	assert.Equal(t, Loading, h.ctrl.Snapshot().State)

	h.clock.Advance(time.Second)
	assert.Equal(t, "hide", h.window.next(t).op)
	assert.Equal(t, Idle, h.ctrl.Snapshot().State)
	assert.Equal(t, 0, h.clock.active())
	h.waitNotices(t, 1)
	assert.Contains(t, h.notes.Notices()[0].Message, ErrLoadTimeout.Error())

	// The late result is dropped
	close(stuck.release)
	select {
	case c := <-h.window.calls:
		t.Fatalf("unexpected window call after timeout: %s", c.op)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, Idle, h.ctrl.Snapshot().State)
}

func TestLoadTimerStoppedOnRender(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.LoadTimeout = 10 * time.Second })

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/a.png", DisplayTime: 5})
	h.window.next(t)
	h.loader.finish("http://x/a.png", 100, 100)
	assert.Equal(t, "render", h.window.next(t).op)

	// Only the hide timer is left; passing the load deadline changes nothing
	assert.Equal(t, 1, h.clock.active())
	h.clock.Advance(4 * time.Second)
	assert.Equal(t, Showing, h.ctrl.Snapshot().State)
	assert.Empty(t, h.notes.Notices())
}

func TestRelativeURLWithoutBase(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.BaseURL = "" })

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "/img/a.png", DisplayTime: 5})
	assert.Equal(t, "hide", h.window.next(t).op)
	assert.Equal(t, Idle, h.ctrl.Snapshot().State)
	assert.Len(t, h.notes.Notices(), 1)
}

func TestUpscaleOption(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Upscale = true })

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/small.png", DisplayTime: 5})
	h.window.next(t)
	h.loader.finish("http://x/small.png", 400, 200)
	c := h.window.next(t)
	assert.Equal(t, Size{Width: 800, Height: 400}, c.frame.Size)
}

func TestCloseCancelsEverything(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/a.png", DisplayTime: 5})
	h.window.next(t)
	h.ctrl.Close()
	assert.Equal(t, "hide", h.window.next(t).op)

	h.ctrl.Handle(protocol.BroadcastEvent{URL: "http://x/b.png", DisplayTime: 5})
	assert.Len(t, h.window.calls, 0)
}
