package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

// Options configures a Manager
type Options struct {
	Dial             DialFunc
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ClientVersion    string
	Logger           *zerolog.Logger
}

// Manager owns at most one relay session at a time. It is safe for
// concurrent use; state transitions are driven only by handshake outcomes,
// peer closes and Disconnect.
type Manager struct {
	dial             DialFunc
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	version          string
	log              zerolog.Logger

	mu         sync.Mutex
	status     Status
	gen        uint64 // bumped whenever the current attempt or session is abandoned
	conn       Conn
	token      string
	cancelDial context.CancelFunc

	writeMu sync.Mutex

	subsMu    sync.RWMutex
	handlers  map[string]map[*Subscription]EventHandler
	listeners map[*Subscription]StatusHandler
}

// NewManager creates a disconnected manager
func NewManager(opts Options) *Manager {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = WebSocketDialer(opts.HandshakeTimeout)
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = protocol.ClientVersion
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Manager{
		dial:             opts.Dial,
		handshakeTimeout: opts.HandshakeTimeout,
		writeTimeout:     opts.WriteTimeout,
		version:          opts.ClientVersion,
		log:              logger.With().Str("component", "session").Logger(),
		handlers:         make(map[string]map[*Subscription]EventHandler),
		listeners:        make(map[*Subscription]StatusHandler),
	}
}

// Status returns the current state snapshot
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// BaseURL returns the HTTP base of the connected relay
func (m *Manager) BaseURL() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.BaseURL, m.status.State == Connected
}

// Token returns the upload token issued by the relay, if any
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State != Connected {
		return ""
	}
	return m.token
}

// Connect opens a session to relayAddress and performs the handshake.
// It returns the resulting status; a rejected handshake yields a
// *ConnectionError and leaves the manager Failed.
func (m *Manager) Connect(ctx context.Context, relayAddress, apiKey, username string) (Status, error) {
	wsURL, err := protocol.WebSocketURL(relayAddress)
	if err != nil {
		return m.fail(0, relayAddress, "invalid relay address", err, false)
	}
	baseURL, _, _ := protocol.HTTPBaseURL(relayAddress)

	m.mu.Lock()
	if m.status.State == Connecting {
		m.mu.Unlock()
		return m.Status(), ErrConnectInProgress
	}
	// Replacing a live session: close it first, never leave it dangling
	prev := m.conn
	m.conn = nil
	m.token = ""
	m.gen++
	gen := m.gen
	dialCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	m.cancelDial = cancel
	m.status = Status{State: Connecting, RelayAddress: relayAddress}
	status := m.status
	m.mu.Unlock()
	defer cancel()

	if prev != nil {
		m.log.Info().Msg("Closing previous session before reconnecting")
		m.closeConn(prev)
	}
	m.notify(status)

	m.log.Info().Str("relay", wsURL).Str("username", username).Msg("Connecting")
	conn, err := m.dial(dialCtx, wsURL, nil)
	if err != nil {
		if m.superseded(gen) {
			return m.Status(), ErrSuperseded
		}
		return m.fail(gen, relayAddress, "transport error", err, false)
	}

	// Disconnect or the handshake deadline must unblock a silent relay
	stop := context.AfterFunc(dialCtx, func() { conn.Close() })
	accepted, err := m.handshake(conn, protocol.Auth{Key: apiKey, Username: username, Version: m.version})
	if !stop() && err == nil {
		err = fmt.Errorf("handshake interrupted: %w", dialCtx.Err())
	}
	if err != nil {
		// Tear down the half-open transport before reporting
		m.closeConn(conn)
		if m.superseded(gen) {
			return m.Status(), ErrSuperseded
		}
		var rejected *rejectedError
		if errors.As(err, &rejected) {
			return m.fail(gen, relayAddress, rejected.message, nil, true)
		}
		return m.fail(gen, relayAddress, "handshake failed", err, false)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.closeConn(conn)
		return m.Status(), ErrSuperseded
	}
	m.conn = conn
	m.token = accepted.Token
	m.cancelDial = nil
	m.status = Status{
		State:        Connected,
		RelayAddress: relayAddress,
		BaseURL:      baseURL,
		SessionID:    accepted.SessionID,
	}
	status = m.status
	m.mu.Unlock()

	if err := m.write(conn, protocol.EventReady, nil); err != nil {
		m.log.Warn().Err(err).Msg("Failed to send ready")
		m.peerClosed(gen, protocol.ReasonTransportError)
		return m.Status(), &ConnectionError{Address: relayAddress, Reason: protocol.ReasonTransportError, Err: err}
	}

	go m.readLoop(conn, gen)

	m.log.Info().Str("sid", accepted.SessionID).Msg("Connected")
	m.notify(status)
	return status, nil
}

type rejectedError struct {
	message string
}

func (e *rejectedError) Error() string {
	return e.message
}

// handshake sends the auth frame and waits for connect or connect_error
func (m *Manager) handshake(conn Conn, auth protocol.Auth) (protocol.Accepted, error) {
	var accepted protocol.Accepted

	if err := m.write(conn, protocol.EventAuth, auth); err != nil {
		return accepted, fmt.Errorf("send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(m.handshakeTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return accepted, fmt.Errorf("read handshake response: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(frame)
	if err != nil {
		return accepted, err
	}

	switch env.Event {
	case protocol.EventConnect:
		if len(env.Data) > 0 {
			if err := env.Bind(&accepted); err != nil {
				return accepted, err
			}
		}
		return accepted, nil
	case protocol.EventConnectError:
		var rejected protocol.Rejected
		if err := env.Bind(&rejected); err != nil || rejected.Message == "" {
			rejected.Message = "connection rejected"
		}
		return accepted, &rejectedError{message: rejected.Message}
	case protocol.EventDisconnect:
		var d protocol.Disconnect
		_ = env.Bind(&d)
		return accepted, &rejectedError{message: "disconnected: " + d.Reason}
	default:
		return accepted, fmt.Errorf("unexpected handshake event %q", env.Event)
	}
}

// fail moves to Failed if gen is still current. gen 0 means no attempt was started.
func (m *Manager) fail(gen uint64, addr, reason string, cause error, rejected bool) (Status, error) {
	cerr := &ConnectionError{Address: addr, Reason: reason, Err: cause}

	m.mu.Lock()
	if gen != 0 && m.gen != gen {
		status := m.status
		m.mu.Unlock()
		return status, ErrSuperseded
	}
	if gen != 0 {
		m.cancelDial = nil
	}
	msg := reason
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", reason, cause)
	}
	if gen == 0 && (m.conn != nil || m.status.State == Connecting) {
		// Invalid address while another session exists: report, do not disturb it
		status := m.status
		m.mu.Unlock()
		return status, cerr
	}
	m.status = Status{State: Failed, Reason: msg}
	status := m.status
	m.mu.Unlock()

	m.log.Warn().Str("relay", addr).Bool("rejected", rejected).Str("reason", msg).Msg("Connection failed")
	m.notify(status)
	return status, cerr
}

func (m *Manager) superseded(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen != gen
}

// Disconnect closes the current session, if any. Without a session or an
// in-flight attempt it does nothing.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.conn == nil && m.cancelDial == nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	conn := m.conn
	cancel := m.cancelDial
	m.conn = nil
	m.token = ""
	m.cancelDial = nil
	m.status = Status{State: Disconnected}
	status := m.status
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		m.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, protocol.ReasonClientDisconnect))
		m.writeMu.Unlock()
		m.closeConn(conn)
	}

	m.log.Info().Msg("Disconnected")
	m.notify(status)
}

// Emit sends an event on the live session
func (m *Manager) Emit(event string, data any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.status.State == Connected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	return m.write(conn, event, data)
}

func (m *Manager) write(conn Conn, event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (m *Manager) closeConn(conn Conn) {
	if err := conn.Close(); err != nil {
		m.log.Debug().Err(err).Msg("Closing transport")
	}
}

// readLoop dispatches relay events until the transport closes
func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			reason := protocol.ReasonTransportClose
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.log.Debug().Err(err).Msg("Session read ended")
			}
			m.peerClosed(gen, reason)
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			m.log.Warn().Err(err).Msg("Invalid frame from relay")
			continue
		}

		if env.Event == protocol.EventDisconnect {
			var d protocol.Disconnect
			if err := env.Bind(&d); err != nil || d.Reason == "" {
				d.Reason = protocol.ReasonServerDisconnect
			}
			m.peerClosed(gen, d.Reason)
			return
		}

		m.dispatch(env)
	}
}

// peerClosed handles a close that the manager did not initiate
func (m *Manager) peerClosed(gen uint64, reason string) {
	m.mu.Lock()
	if m.gen != gen || m.status.State != Connected {
		m.mu.Unlock()
		return
	}
	m.gen++
	conn := m.conn
	m.conn = nil
	m.token = ""
	m.status = Status{State: Disconnected, Reason: reason}
	status := m.status
	m.mu.Unlock()

	if conn != nil {
		m.closeConn(conn)
	}
	m.log.Warn().Str("reason", reason).Msg("Relay closed the session")
	m.notify(status)
}

// Subscribe registers handler for a relay event
func (m *Manager) Subscribe(event string, handler EventHandler) *Subscription {
	sub := &Subscription{}
	sub.cancel = func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.handlers[event], sub)
		if len(m.handlers[event]) == 0 {
			delete(m.handlers, event)
		}
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[*Subscription]EventHandler)
	}
	m.handlers[event][sub] = handler
	return sub
}

// OnStateChange registers handler for state transitions
func (m *Manager) OnStateChange(handler StatusHandler) *Subscription {
	sub := &Subscription{}
	sub.cancel = func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.listeners, sub)
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.listeners[sub] = handler
	return sub
}

func (m *Manager) dispatch(env protocol.Envelope) {
	m.subsMu.RLock()
	handlers := make([]EventHandler, 0, len(m.handlers[env.Event]))
	for _, h := range m.handlers[env.Event] {
		handlers = append(handlers, h)
	}
	m.subsMu.RUnlock()

	if len(handlers) == 0 {
		m.log.Debug().Str("event", env.Event).Msg("No subscriber for event")
	}
	for _, h := range handlers {
		h(env)
	}
}

func (m *Manager) notify(status Status) {
	m.subsMu.RLock()
	listeners := make([]StatusHandler, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.subsMu.RUnlock()

	for _, l := range listeners {
		l(status)
	}
}
