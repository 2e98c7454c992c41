package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/tomaslejdung/goflash/pkg/bridge"
	"github.com/tomaslejdung/goflash/pkg/display"
	"github.com/tomaslejdung/goflash/pkg/notify"
	"github.com/tomaslejdung/goflash/pkg/overlay"
	"github.com/tomaslejdung/goflash/pkg/protocol"
	"github.com/tomaslejdung/goflash/pkg/settings"
)

// overlayMsg indicates the overlay surface changed
type overlayMsg overlay.Event

// linkMsg reports the link to the control window going up or down
type linkMsg bool

// imageMsg records a received broadcast for the status line
type imageMsg protocol.BroadcastEvent

type viewerTickMsg time.Time

type viewerModel struct {
	overlay    *overlay.Overlay
	controller *display.Controller
	events     chan tea.Msg
	bridgeAddr string
	screen     display.Size

	width  int
	height int

	linked    bool
	received  int
	last      protocol.BroadcastEvent
	noticeLog []notify.Notice
}

func (m viewerModel) Init() tea.Cmd {
	return tea.Batch(
		tea.SetWindowTitle("GoFlash Viewer"),
		waitForEvent(m.events),
		viewerTickCmd(),
	)
}

func viewerTickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return viewerTickMsg(t)
	})
}

func (m viewerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "m":
			m.overlay.SetEnabled(!m.overlay.IsEnabled())
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case viewerTickMsg:
		// Redraw for the countdown only
		return m, viewerTickCmd()

	case overlayMsg:
		log.Debug().Int("type", int(msg.Type)).Str("url", msg.URL).Msg("Overlay changed")
		return m, waitForEvent(m.events)

	case linkMsg:
		m.linked = bool(msg)
		return m, waitForEvent(m.events)

	case imageMsg:
		m.received++
		m.last = protocol.BroadcastEvent(msg)
		return m, waitForEvent(m.events)

	case noticeMsg:
		m.noticeLog = append(m.noticeLog, notify.Notice(msg))
		if len(m.noticeLog) > 20 {
			m.noticeLog = m.noticeLog[len(m.noticeLog)-20:]
		}
		return m, waitForEvent(m.events)
	}
	return m, nil
}

func (m viewerModel) View() string {
	var b strings.Builder

	// Status line
	b.WriteString(titleStyle.Render("GoFlash Viewer"))
	if m.linked {
		b.WriteString(selectedStyle.Render(" [LINKED]"))
	} else {
		b.WriteString(errorStyle.Render(" [WAITING FOR CONTROL]"))
	}
	b.WriteString(dimStyle.Render(" " + m.bridgeAddr))
	if !m.overlay.IsEnabled() {
		b.WriteString(viewerStyle.Render(" [MUTED]"))
	}
	b.WriteString(statusStyle.Render(fmt.Sprintf("   Received: %d", m.received)))
	b.WriteString("\n")

	// Surface, leaving room for the status, caption and help lines
	rows := max(1, m.height-4)
	cols := max(1, m.width)
	st := m.overlay.State()
	b.WriteString(overlay.Draw(st, m.screen.Width, m.screen.Height, cols, rows))
	b.WriteString("\n")

	b.WriteString(m.renderCaption(st))
	b.WriteString("\n")

	sep := keySepStyle.Render("  ")
	b.WriteString(strings.Join([]string{
		keyStyle.Render("m") + helpStyle.Render(" mute"),
		keyStyle.Render("q") + helpStyle.Render(" quit"),
	}, sep))
	return b.String()
}

func (m viewerModel) renderCaption(st overlay.State) string {
	if snap := m.controller.Snapshot(); snap.State == display.Loading && st.Visibility == overlay.Hidden {
		return viewerStyle.Render("Loading (muted)")
	}
	switch st.Visibility {
	case overlay.Waiting:
		return viewerStyle.Render("Loading " + truncate(st.Event.URL, 60))
	case overlay.Visible:
		left := time.Until(st.ExpiresAt).Round(time.Second)
		caption := normalStyle.Render(st.Event.Position.Label())
		if st.Event.Username != "" {
			caption = urlStyle.Render(st.Event.Username) + dimStyle.Render(" - ") + caption
		}
		return caption + dimStyle.Render(fmt.Sprintf("  %s left", max(0, left)))
	}

	if len(m.noticeLog) > 0 {
		if n := m.noticeLog[len(m.noticeLog)-1]; n.Level != notify.Info {
			return errorStyle.Render(n.Message)
		}
	}
	if m.received > 0 {
		return dimStyle.Render("Last from " + lo.CoalesceOrEmpty(m.last.Username, "unknown"))
	}
	return dimStyle.Render("Idle")
}

// viewerRelayBase picks the relay that relative image URLs resolve against.
// Empty means only absolute URLs can be shown.
func viewerRelayBase(flag, saved string) (string, error) {
	addr := lo.CoalesceOrEmpty(flag, saved)
	if addr == "" {
		return "", nil
	}
	base, _, err := protocol.HTTPBaseURL(addr)
	if err != nil {
		return "", fmt.Errorf("relay base: %w", err)
	}
	return base, nil
}

// runViewer starts a viewer window fed by the local control window
func runViewer(ctx context.Context) error {
	defer setupLogging(true)()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr, err := settings.NewManager()
	if err != nil {
		return err
	}
	s, err := mgr.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load settings, using defaults")
	}

	events := make(chan tea.Msg, 64)
	send := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
			log.Warn().Str("msg", fmt.Sprintf("%T", msg)).Msg("UI event queue full, dropping")
		}
	}

	baseURL, err := viewerRelayBase(config.RelayBase, s.RelayBase)
	if err != nil {
		return err
	}

	screen := display.Size{Width: s.ScreenWidth, Height: s.ScreenHeight}
	ov := overlay.New(screen)
	ctrl, err := display.New(display.Options{
		Window: ov,
		Notify: notify.Multi{
			notify.Log{Logger: log.Logger},
			notify.Func(func(n notify.Notice) { send(noticeMsg(n)) }),
		},
		BaseURL:     baseURL,
		Upscale:     s.Upscale,
		LoadTimeout: s.LoadTimeoutDuration(),
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	addr := lo.CoalesceOrEmpty(config.BridgeAddr, s.BridgeAddr, bridge.DefaultAddr)
	client := bridge.NewClient(addr)
	client.OnImage = func(evt protocol.BroadcastEvent) {
		send(imageMsg(evt))
		ctrl.Handle(evt)
	}
	client.OnStatus = func(connected bool) { send(linkMsg(connected)) }
	go func() {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("Bridge client stopped")
		}
	}()

	go func() {
		for {
			select {
			case evt := <-ov.Events():
				send(overlayMsg(evt))
			case <-ctx.Done():
				return
			}
		}
	}()

	m := viewerModel{
		overlay:    ov,
		controller: ctrl,
		events:     events,
		bridgeAddr: addr,
		screen:     screen,
	}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) {
		return nil
	}
	return runErr
}
