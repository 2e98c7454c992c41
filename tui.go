package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/tomaslejdung/goflash/pkg/bridge"
	"github.com/tomaslejdung/goflash/pkg/capture"
	"github.com/tomaslejdung/goflash/pkg/editor"
	"github.com/tomaslejdung/goflash/pkg/notify"
	"github.com/tomaslejdung/goflash/pkg/profiles"
	"github.com/tomaslejdung/goflash/pkg/protocol"
	"github.com/tomaslejdung/goflash/pkg/session"
	"github.com/tomaslejdung/goflash/pkg/settings"
	"github.com/tomaslejdung/goflash/pkg/upload"
)

// statusMsg carries a connection state change
type statusMsg session.Status

// usersMsg carries the relay's user list
type usersMsg []string

// noticeMsg carries a notice from any component
type noticeMsg notify.Notice

// connectDoneMsg is the outcome of a Connect call
type connectDoneMsg struct {
	status session.Status
	err    error
}

// captureMsg is the outcome of a pick, drop, paste or edit
type captureMsg struct {
	op      string
	capture *capture.Capture
	err     error
}

// editDoneMsg is sent when the external editor exits
type editDoneMsg struct {
	prev    capture.Image
	data    []byte
	changed bool
	err     error
}

// uploadDoneMsg is the outcome of a broadcast upload
type uploadDoneMsg struct {
	seq uint64
	url string
	err error
}

type tickMsg time.Time

// Notice templates
const (
	noticeBroadcast = "Broadcast {name} for {seconds}s ({position})"
	noticeCaptured  = "Loaded {name} ({width}x{height} {format})"
	noticeConnected = "Connected to {server} as {username}"
)

// clipboardWriters lists commands that accept text on stdin, by platform
var clipboardWriters = map[string][][]string{
	"darwin": {{"pbcopy"}},
	"linux":  {{"wl-copy"}, {"xclip", "-selection", "clipboard"}},
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	for _, argv := range clipboardWriters[runtime.GOOS] {
		if _, err := exec.LookPath(argv[0]); err != nil {
			continue
		}
		cmd := exec.Command(argv[0], argv[1:]...)
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return err
		}
		if _, err := pipe.Write([]byte(text)); err != nil {
			return err
		}
		if err := pipe.Close(); err != nil {
			return err
		}
		return cmd.Wait()
	}
	return capture.ErrNoClipboardTool
}

// Column indices
const (
	columnProfiles  = 0
	columnBroadcast = 1
)

type inputMode int

const (
	modeNormal inputMode = iota
	modeForm
	modePath
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	viewerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	// Keybind styles
	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan for keys

	keySepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Dim separator

	toggleActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10"))

	toggleInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8"))

	// Box styles for columns
	activeBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	inactiveBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("8")).
				Padding(0, 1)

	boxTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
)

var formLabels = [...]string{"Server name", "Relay address", "Username", "API key"}

// profileForm edits one connection profile
type profileForm struct {
	index  int // -1 adds a new profile
	fields [len(formLabels)]string
	focus  int
}

func newProfileForm(index int, p profiles.Profile) profileForm {
	return profileForm{
		index:  index,
		fields: [len(formLabels)]string{p.ServerName, p.RelayAddress, p.Username, p.APIKey},
	}
}

func (f profileForm) profile() profiles.Profile {
	return profiles.Profile{
		ServerName:   strings.TrimSpace(f.fields[0]),
		RelayAddress: strings.TrimSpace(f.fields[1]),
		Username:     strings.TrimSpace(f.fields[2]),
		APIKey:       strings.TrimSpace(f.fields[3]),
	}
}

type model struct {
	ctx context.Context

	settingsMgr *settings.Manager
	settings    settings.UserSettings
	profiles    *profiles.List
	session     *session.Manager
	capture     *capture.Adapter
	uploader    *upload.Coordinator
	bridge      *bridge.Server
	notices     notify.Sink
	events      chan tea.Msg
	subs        []*session.Subscription

	// Terminal dimensions
	width  int
	height int

	activeColumn  int
	profileCursor int

	// Connection state
	active     *profiles.Profile // profile of the current session or attempt
	status     session.Status
	users      []string
	viewers    int
	bridgeAddr string

	// Input state
	mode  inputMode
	form  profileForm
	input string

	// Broadcast state
	current     *capture.Capture
	displayTime int
	position    protocol.Position
	uploading   bool
	uploadSeq   uint64
	lastURL     string

	noticeLog []notify.Notice
	lastError string
}

func newControlModel(ctx context.Context) (model, error) {
	m := model{
		ctx:    ctx,
		events: make(chan tea.Msg, 64),
	}

	send := func(msg tea.Msg) {
		select {
		case m.events <- msg:
		default:
			log.Warn().Str("msg", fmt.Sprintf("%T", msg)).Msg("UI event queue full, dropping")
		}
	}
	m.notices = notify.Multi{
		notify.Log{Logger: log.Logger},
		notify.Func(func(n notify.Notice) { send(noticeMsg(n)) }),
	}

	settingsMgr, err := settings.NewManager()
	if err != nil {
		return m, err
	}
	m.settingsMgr = settingsMgr
	if m.settings, err = settingsMgr.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to load settings, using defaults")
	}
	m.displayTime = protocol.ClampDisplayTime(float64(m.settings.DisplayTime))
	m.position = m.settings.Position

	profilePath, err := profiles.DefaultPath()
	if err != nil {
		return m, err
	}
	m.profiles = profiles.NewList(profilePath)
	if _, err := m.profiles.Load(); err != nil {
		notify.Send(m.notices, notify.Warn, "Saved servers could not be read: "+err.Error())
	}
	if m.settings.LastProfile >= 0 && m.settings.LastProfile < m.profiles.Len() {
		m.profileCursor = m.settings.LastProfile
	}

	m.session = session.NewManager(session.Options{})
	m.subs = append(m.subs,
		m.session.OnStateChange(func(st session.Status) { send(statusMsg(st)) }),
		m.session.Subscribe(protocol.EventUsers, func(env protocol.Envelope) {
			var list protocol.UserList
			if err := env.Bind(&list); err != nil {
				log.Warn().Err(err).Msg("Invalid user list")
				return
			}
			send(usersMsg(list.Users))
		}),
	)

	m.capture = capture.New(capture.Options{})
	m.uploader = upload.New(upload.Options{Token: m.session.Token})

	m.bridge = bridge.NewServer(nil)
	m.subs = append(m.subs, m.bridge.Attach(m.session))
	m.bridgeAddr = lo.CoalesceOrEmpty(config.BridgeAddr, m.settings.BridgeAddr, bridge.DefaultAddr)
	addr, done, err := m.bridge.Listen(ctx, m.bridgeAddr)
	if err != nil {
		notify.Send(m.notices, notify.Warn, "Local viewers unavailable: "+err.Error())
		m.bridgeAddr = ""
	} else {
		m.bridgeAddr = addr.String()
		go func() {
			if err := <-done; err != nil {
				notify.Send(m.notices, notify.Error, "Local viewer bridge stopped: "+err.Error())
			}
		}()
	}

	return m, nil
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tea.SetWindowTitle("GoFlash"),
		waitForEvent(m.events),
		tickCmd(),
	}
	if config.Relay != "" {
		p := profiles.Profile{
			ServerName:   "command line",
			RelayAddress: config.Relay,
			Username:     config.Username,
			APIKey:       config.Key,
		}
		cmds = append(cmds, func() tea.Msg { return quickConnectMsg(p) })
	}
	return tea.Batch(cmds...)
}

// quickConnectMsg connects to a profile given on the command line
type quickConnectMsg profiles.Profile

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.mode {
		case modeForm:
			return m.handleFormKey(msg)
		case modePath:
			return m.handlePathKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.viewers = m.bridge.Viewers()
		return m, tickCmd()

	case quickConnectMsg:
		return m.connect(profiles.Profile(msg))

	case statusMsg:
		return m.applyStatus(session.Status(msg)), waitForEvent(m.events)

	case usersMsg:
		m.users = []string(msg)
		return m, waitForEvent(m.events)

	case noticeMsg:
		n := notify.Notice(msg)
		m.noticeLog = append(m.noticeLog, n)
		if len(m.noticeLog) > 50 {
			m.noticeLog = m.noticeLog[len(m.noticeLog)-50:]
		}
		if n.Level == notify.Error {
			m.lastError = n.Message
		}
		return m, waitForEvent(m.events)

	case connectDoneMsg:
		switch {
		case msg.err == nil, errors.Is(msg.err, session.ErrSuperseded):
		case errors.Is(msg.err, session.ErrConnectInProgress):
			m.notify(notify.Warn, "Already connecting")
		default:
			m.notify(notify.Error, "Connection failed: "+msg.err.Error())
		}
		return m, nil

	case captureMsg:
		return m.applyCapture(msg)

	case editDoneMsg:
		if msg.err != nil {
			m.notify(notify.Error, msg.err.Error())
			return m, nil
		}
		if !msg.changed {
			m.notify(notify.Info, "Image unchanged")
			return m, nil
		}
		a := m.capture
		return m, func() tea.Msg {
			c, err := a.Edited(msg.prev, msg.data)
			return captureMsg{op: "edit", capture: c, err: err}
		}

	case uploadDoneMsg:
		if msg.seq == m.uploadSeq {
			m.uploading = false
		}
		if msg.err != nil {
			// The capture stays so the broadcast can be retried
			m.notify(notify.Error, "Upload failed: "+msg.err.Error())
			return m, nil
		}
		if msg.seq == m.uploadSeq {
			m.lastURL = msg.url
		}
		log.Info().Str("url", msg.url).Msg("Broadcast uploaded")
		return m, nil
	}

	return m, nil
}

// applyStatus folds a connection state change into the model
func (m model) applyStatus(st session.Status) model {
	prev := m.status.State
	m.status = st

	switch st.State {
	case session.Connected:
		m.lastError = ""
		if m.active != nil {
			m.notify(notify.Info, notify.Format(noticeConnected, map[string]string{
				"server":   m.active.Title(),
				"username": m.active.Username,
			}))
		}
	case session.Failed:
		m.users = nil
		m.lastError = st.Reason
	case session.Disconnected:
		m.users = nil
		if prev == session.Connected && st.Reason != "" && st.Reason != protocol.ReasonClientDisconnect {
			m.notify(notify.Warn, "Disconnected: "+st.Reason)
		}
	}
	return m
}

// notify routes a notice through the sink so it is logged and shown
func (m model) notify(level notify.Level, message string) {
	notify.Send(m.notices, level, message)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Terminals deliver drag-and-drop as a bracketed paste of paths
	if msg.Paste {
		return m.drop(string(msg.Runes))
	}

	switch msg.String() {
	case "ctrl+c", "q":
		m.cleanup()
		return m, tea.Quit

	case "tab", "shift+tab", "left", "right", "h", "l":
		if m.activeColumn == columnProfiles {
			m.activeColumn = columnBroadcast
		} else {
			m.activeColumn = columnProfiles
		}
		return m, nil

	case "c":
		if m.lastURL == "" {
			return m, nil
		}
		if err := copyToClipboard(m.lastURL); err != nil {
			m.notify(notify.Warn, "Copy failed: "+err.Error())
		} else {
			m.notify(notify.Info, "Copied "+m.lastURL)
		}
		return m, nil

	case "d":
		m.session.Disconnect()
		return m, nil

	case "o":
		m.mode = modePath
		m.input = ""
		return m, nil

	case "v", "ctrl+v":
		a := m.capture
		ctx := m.ctx
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			c, err := a.Paste(ctx)
			return captureMsg{op: "paste", capture: c, err: err}
		}
	}

	if m.activeColumn == columnProfiles {
		return m.handleProfileKey(msg)
	}
	return m.handleBroadcastKey(msg)
}

func (m model) handleProfileKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.profileCursor > 0 {
			m.profileCursor--
		}

	case "down", "j":
		if m.profileCursor < m.profiles.Len()-1 {
			m.profileCursor++
		}

	case "enter", " ":
		p, ok := m.profiles.Get(m.profileCursor)
		if !ok {
			return m, nil
		}
		m.settings.LastProfile = m.profileCursor
		m.saveSettings()
		return m.connect(p)

	case "n":
		m.form = newProfileForm(-1, profiles.Profile{})
		m.mode = modeForm

	case "e":
		p, ok := m.profiles.Get(m.profileCursor)
		if ok {
			m.form = newProfileForm(m.profileCursor, p)
			m.mode = modeForm
		}

	case "x", "delete":
		if err := m.profiles.Remove(m.profileCursor); err != nil {
			m.notify(notify.Error, err.Error())
			return m, nil
		}
		if m.profileCursor >= m.profiles.Len() {
			m.profileCursor = max(0, m.profiles.Len()-1)
		}
	}
	return m, nil
}

func (m model) handleBroadcastKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "u":
		return m.broadcast()

	case "+", "=", "up", "k":
		if m.displayTime < protocol.MaxDisplayTime {
			m.displayTime++
			m.settings.DisplayTime = m.displayTime
			m.saveSettings()
		}

	case "-", "down", "j":
		if m.displayTime > protocol.MinDisplayTime {
			m.displayTime--
			m.settings.DisplayTime = m.displayTime
			m.saveSettings()
		}

	case "p", " ":
		m.position = m.position.Next()
		m.settings.Position = m.position
		m.saveSettings()

	case "E":
		return m.edit()

	case "esc", "backspace":
		m.capture.Clear()
		m.current = nil
		m.lastURL = ""
	}
	return m, nil
}

func (m model) handleFormKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Paste {
		m.form.fields[m.form.focus] += string(msg.Runes)
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		m.cleanup()
		return m, tea.Quit
	case tea.KeyEsc:
		m.mode = modeNormal
	case tea.KeyTab, tea.KeyDown:
		m.form.focus = (m.form.focus + 1) % len(formLabels)
	case tea.KeyShiftTab, tea.KeyUp:
		m.form.focus = (m.form.focus + len(formLabels) - 1) % len(formLabels)
	case tea.KeyBackspace:
		f := m.form.fields[m.form.focus]
		if f != "" {
			r := []rune(f)
			m.form.fields[m.form.focus] = string(r[:len(r)-1])
		}
	case tea.KeyCtrlU:
		m.form.fields[m.form.focus] = ""
	case tea.KeySpace:
		m.form.fields[m.form.focus] += " "
	case tea.KeyRunes:
		m.form.fields[m.form.focus] += string(msg.Runes)
	case tea.KeyEnter:
		if m.form.focus < len(formLabels)-1 {
			m.form.focus++
			return m, nil
		}
		return m.saveForm()
	}
	return m, nil
}

func (m model) saveForm() (tea.Model, tea.Cmd) {
	p := m.form.profile()
	if err := p.Validate(); err != nil {
		m.lastError = err.Error()
		return m, nil
	}

	var err error
	if m.form.index < 0 {
		err = m.profiles.Add(p)
		if err == nil {
			m.profileCursor = m.profiles.Len() - 1
		}
	} else {
		err = m.profiles.Update(m.form.index, p)
	}
	if err != nil {
		m.notify(notify.Error, "Saving server failed: "+err.Error())
		return m, nil
	}

	m.lastError = ""
	m.mode = modeNormal
	return m, nil
}

func (m model) handlePathKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Paste {
		m.input += string(msg.Runes)
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		m.cleanup()
		return m, tea.Quit
	case tea.KeyEsc:
		m.mode = modeNormal
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	case tea.KeyEnter:
		path := cleanPath(m.input)
		m.mode = modeNormal
		if path == "" {
			return m, nil
		}
		a := m.capture
		return m, func() tea.Msg {
			c, err := a.PickFile(path)
			return captureMsg{op: "pick", capture: c, err: err}
		}
	}
	return m, nil
}

// drop treats pasted text as dropped file paths
func (m model) drop(text string) (tea.Model, tea.Cmd) {
	paths := droppedPaths(text)
	if len(paths) == 0 {
		return m, nil
	}
	a := m.capture
	return m, func() tea.Msg {
		c, err := a.Drop(paths)
		return captureMsg{op: "drop", capture: c, err: err}
	}
}

// droppedPaths splits a terminal drop into paths. Terminals quote or
// backslash-escape paths with spaces and some prefix file://.
func droppedPaths(text string) []string {
	return lo.FilterMap(strings.Split(text, "\n"), func(line string, _ int) (string, bool) {
		p := cleanPath(line)
		return p, p != ""
	})
}

func cleanPath(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimPrefix(s, "file://")
	return strings.ReplaceAll(s, `\ `, " ")
}

func (m model) applyCapture(msg captureMsg) (tea.Model, tea.Cmd) {
	if errors.Is(msg.err, capture.ErrSuperseded) {
		return m, nil
	}
	if msg.err != nil {
		m.notify(notify.Error, msg.err.Error())
		return m, nil
	}
	if msg.capture == nil {
		if msg.op == "paste" {
			m.notify(notify.Info, "No image on the clipboard")
		}
		return m, nil
	}

	m.current = msg.capture
	m.lastURL = ""
	info := msg.capture.Preview.Info
	m.notify(notify.Info, notify.Format(noticeCaptured, map[string]string{
		"name":   msg.capture.Image.Name,
		"width":  fmt.Sprint(info.Width),
		"height": fmt.Sprint(info.Height),
		"format": info.Format,
	}))
	return m, nil
}

func (m model) connect(p profiles.Profile) (tea.Model, tea.Cmd) {
	if err := p.Validate(); err != nil {
		m.lastError = err.Error()
		return m, nil
	}
	m.active = &p
	m.lastError = ""

	mgr := m.session
	ctx := m.ctx
	return m, func() tea.Msg {
		st, err := mgr.Connect(ctx, p.RelayAddress, p.APIKey, p.Username)
		return connectDoneMsg{status: st, err: err}
	}
}

func (m model) edit() (tea.Model, tea.Cmd) {
	if m.current == nil {
		m.notify(notify.Warn, "Nothing to edit")
		return m, nil
	}
	prev := m.current.Image
	sess, err := editor.Prepare(prev.Data, prev.Name, editor.Resolve(m.settings.Editor), "")
	if err != nil {
		m.notify(notify.Error, "Editor: "+err.Error())
		return m, nil
	}
	return m, tea.ExecProcess(sess.Cmd(), func(runErr error) tea.Msg {
		data, changed, err := sess.Finish(runErr)
		return editDoneMsg{prev: prev, data: data, changed: changed, err: err}
	})
}

func (m model) broadcast() (tea.Model, tea.Cmd) {
	if m.current == nil {
		m.notify(notify.Warn, "Nothing to broadcast")
		return m, nil
	}
	if m.status.State != session.Connected {
		m.notify(notify.Warn, "Not connected to a relay")
		return m, nil
	}

	username := ""
	if m.active != nil {
		username = m.active.Username
	}
	req := upload.Request{
		Image:       m.current.Image.Data,
		Filename:    m.current.Image.Name,
		DisplayTime: m.displayTime,
		Position:    m.position,
		Username:    username,
	}
	m.notify(notify.Info, notify.Format(noticeBroadcast, map[string]string{
		"name":     req.Filename,
		"seconds":  fmt.Sprint(req.DisplayTime),
		"position": req.Position.Label(),
	}))

	m.uploadSeq++
	m.uploading = true
	seq := m.uploadSeq
	addr := m.status.RelayAddress
	up := m.uploader
	ctx := m.ctx
	return m, func() tea.Msg {
		url, err := up.Upload(ctx, addr, req)
		return uploadDoneMsg{seq: seq, url: url, err: err}
	}
}

func (m model) saveSettings() {
	if err := m.settingsMgr.Save(m.settings); err != nil {
		log.Warn().Err(err).Msg("Failed to save settings")
	}
}

func (m *model) cleanup() {
	for _, s := range m.subs {
		s.Unsubscribe()
	}
	m.session.Disconnect()
	if err := m.capture.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to release preview")
	}
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("GoFlash"))
	b.WriteString(dimStyle.Render(" - Image Broadcast"))
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	switch m.mode {
	case modeForm:
		b.WriteString(m.renderForm())
	case modePath:
		b.WriteString(activeBoxStyle.Render(
			boxTitleStyle.Render("Open image") + "\n" +
				normalStyle.Render(m.input) + selectedStyle.Render("█")))
	default:
		b.WriteString(m.renderColumns())
	}

	if notices := m.renderNotices(); notices != "" {
		b.WriteString("\n")
		b.WriteString(notices)
	}

	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m model) renderStatus() string {
	var b strings.Builder

	switch m.status.State {
	case session.Connected:
		b.WriteString(selectedStyle.Render("[CONNECTED]"))
	case session.Connecting:
		b.WriteString(viewerStyle.Render("[CONNECTING]"))
	case session.Failed:
		b.WriteString(errorStyle.Render("[FAILED]"))
	default:
		b.WriteString(dimStyle.Render("[OFFLINE]"))
	}

	if m.active != nil && m.status.State != session.Disconnected {
		b.WriteString(" ")
		b.WriteString(normalStyle.Render(m.active.Title()))
		b.WriteString(dimStyle.Render(" " + m.active.RelayAddress))
	}

	if m.bridgeAddr != "" {
		b.WriteString(statusStyle.Render("   Viewers: "))
		b.WriteString(viewerStyle.Render(fmt.Sprint(m.viewers)))
		b.WriteString(dimStyle.Render(" @ " + m.bridgeAddr))
	}
	b.WriteString("\n")
	return b.String()
}

func (m model) renderColumns() string {
	boxes := []string{
		m.box(columnProfiles, "Servers", m.renderProfiles()),
		m.box(columnBroadcast, "Broadcast", m.renderBroadcast()),
	}
	if m.status.State == session.Connected {
		boxes = append(boxes, inactiveBoxStyle.Render(m.renderUsers()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func (m model) box(column int, title, content string) string {
	style := inactiveBoxStyle
	if m.activeColumn == column {
		style = activeBoxStyle
	}
	return style.Render(boxTitleStyle.Render(title) + "\n" + content)
}

func (m model) renderProfiles() string {
	all := m.profiles.All()
	if len(all) == 0 {
		return dimStyle.Render("No servers yet\npress n to add one")
	}

	lines := make([]string, 0, len(all))
	for i, p := range all {
		cursor := "  "
		if i == m.profileCursor && m.activeColumn == columnProfiles {
			cursor = "> "
		}

		marker := " "
		if m.active != nil && *m.active == p && m.status.State == session.Connected {
			marker = "●"
		}

		style := normalStyle
		if i == m.profileCursor {
			style = selectedStyle
		}
		lines = append(lines,
			cursor+selectedStyle.Render(marker)+" "+style.Render(truncate(p.Title(), 24))+
				"\n    "+dimStyle.Render(truncate(p.Username+" @ "+p.RelayAddress, 30)))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderBroadcast() string {
	var b strings.Builder

	if m.current == nil {
		b.WriteString(dimStyle.Render("No image"))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("o open  v paste  or drop a file"))
	} else {
		img := m.current.Image
		info := m.current.Preview.Info
		b.WriteString(normalStyle.Render(truncate(img.Name, 32)))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("%dx%d %s, %s, %s",
			info.Width, info.Height, info.Format, formatBytes(int64(len(img.Data))), img.Source)))
	}
	b.WriteString("\n\n")

	b.WriteString(statusStyle.Render("Time:     "))
	b.WriteString(selectedStyle.Render(fmt.Sprintf("%ds", m.displayTime)))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  (%d-%d)", protocol.MinDisplayTime, protocol.MaxDisplayTime)))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render("Position: "))
	b.WriteString(selectedStyle.Render(m.position.Label()))
	b.WriteString("\n")

	switch {
	case m.uploading:
		b.WriteString("\n")
		b.WriteString(viewerStyle.Render("Uploading..."))
	case m.lastURL != "":
		b.WriteString("\n")
		b.WriteString(urlStyle.Render(truncate(m.lastURL, 40)))
	}
	return b.String()
}

func (m model) renderUsers() string {
	var b strings.Builder
	b.WriteString(boxTitleStyle.Render(fmt.Sprintf("Users (%d)", len(m.users))))
	for _, u := range m.users {
		b.WriteString("\n")
		b.WriteString(viewerStyle.Render("• " + truncate(u, 20)))
	}
	return b.String()
}

func (m model) renderForm() string {
	var b strings.Builder
	title := "Edit server"
	if m.form.index < 0 {
		title = "New server"
	}
	b.WriteString(boxTitleStyle.Render(title))

	for i, label := range formLabels {
		b.WriteString("\n")
		value := m.form.fields[i]
		if i == len(formLabels)-1 && i != m.form.focus {
			value = strings.Repeat("•", len([]rune(value)))
		}
		if i == m.form.focus {
			b.WriteString(selectedStyle.Render(fmt.Sprintf("> %-14s", label)))
			b.WriteString(normalStyle.Render(value) + selectedStyle.Render("█"))
		} else {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  %-14s", label)))
			b.WriteString(normalStyle.Render(value))
		}
	}
	return activeBoxStyle.Render(b.String())
}

func (m model) renderNotices() string {
	recent := m.noticeLog
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	lines := lo.Map(recent, func(n notify.Notice, _ int) string {
		stamp := dimStyle.Render(n.At.Format("15:04:05") + " ")
		switch n.Level {
		case notify.Error:
			return stamp + errorStyle.Render(n.Message)
		case notify.Warn:
			return stamp + warnStyle.Render(n.Message)
		}
		return stamp + statusStyle.Render(n.Message)
	})
	return strings.Join(lines, "\n")
}

func (m model) renderHelp() string {
	sep := keySepStyle.Render("  ")
	key := func(k, label string) string {
		return keyStyle.Render(k) + helpStyle.Render(" "+label)
	}

	var actions []string
	switch m.mode {
	case modeForm:
		actions = []string{key("tab", "next"), key("enter", "save"), key("esc", "cancel")}
	case modePath:
		actions = []string{key("enter", "open"), key("esc", "cancel")}
	default:
		actions = append(actions, key("tab", "columns"))
		if m.activeColumn == columnProfiles {
			actions = append(actions, key("enter", "connect"), key("n", "new"), key("e", "edit"), key("x", "delete"))
		} else {
			actions = append(actions, key("enter", "broadcast"), key("+/-", "time"), key("p", "position"), key("E", "edit image"))
		}
		actions = append(actions, key("o", "open"), key("v", "paste"))
		if m.status.State == session.Connected || m.status.State == session.Connecting {
			actions = append(actions, key("d", "disconnect"))
		}
		if m.lastURL != "" {
			actions = append(actions, key("c", "copy"))
		}
		actions = append(actions, key("q", "quit"))
	}

	var b strings.Builder
	b.WriteString(strings.Join(actions, sep))

	if m.mode == modeNormal {
		b.WriteString("\n\n")
		b.WriteString(renderToggle("●", "connected", m.status.State == session.Connected))
		b.WriteString("   ")
		b.WriteString(renderToggle("●", "image", m.current != nil))
		b.WriteString("   ")
		b.WriteString(renderToggle("●", "viewers", m.viewers > 0))
	}
	return b.String()
}

// renderToggle renders a labelled indicator in its active or inactive color
func renderToggle(key, label string, active bool) string {
	if active {
		return toggleActiveStyle.Render(key) + " " + toggleActiveStyle.Render(label)
	}
	return toggleInactiveStyle.Render(key) + " " + toggleInactiveStyle.Render(label)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// runControl starts the control window
func runControl(ctx context.Context) error {
	defer setupLogging(true)()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m, err := newControlModel(ctx)
	if err != nil {
		return err
	}

	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	_, runErr := p.Run()
	m.cleanup()
	if errors.Is(runErr, tea.ErrProgramKilled) {
		return nil
	}
	return runErr
}
