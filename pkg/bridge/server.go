// Package bridge carries broadcasts from a control process to viewer
// processes on the same machine over a loopback websocket.
package bridge

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomaslejdung/goflash/pkg/hub"
	"github.com/tomaslejdung/goflash/pkg/protocol"
	"github.com/tomaslejdung/goflash/pkg/session"
)

// DefaultAddr is where the control process listens for viewers
const DefaultAddr = "127.0.0.1:3210"

// Server fans control-side broadcasts out to local viewers
type Server struct {
	hub *hub.Hub
	log zerolog.Logger
}

// NewServer creates a bridge with no viewers
func NewServer(logger *zerolog.Logger) *Server {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	l = l.With().Str("component", "bridge").Logger()
	return &Server{
		hub: hub.New(hub.Options{Logger: &l}),
		log: l,
	}
}

// Handler serves the viewer websocket on protocol.SocketPath
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(protocol.SocketPath, s.hub)
	return mux
}

// Listen binds addr and serves viewers until ctx is cancelled. The returned
// channel yields the serve error, if any, once the server stops.
func (s *Server) Listen(ctx context.Context, addr string) (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	done := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if err == http.ErrServerClosed {
			err = nil
		}
		done <- err
	}()
	go func() {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("Viewer bridge listening")
	return ln.Addr(), done, nil
}

// Viewers returns the number of connected viewer processes
func (s *Server) Viewers() int {
	return s.hub.Count()
}

// Forward resolves evt against the relay base URL and sends it to every viewer
func (s *Server) Forward(evt protocol.BroadcastEvent, baseURL string) (int, error) {
	evt = evt.Normalize()
	if err := evt.Validate(); err != nil {
		return 0, err
	}
	url, err := protocol.ResolveURL(baseURL, evt.URL)
	if err != nil {
		return 0, err
	}
	evt.URL = url

	n, err := s.hub.Broadcast(protocol.EventLocalImage, evt, nil)
	if err != nil {
		return 0, err
	}
	s.log.Debug().Str("url", url).Int("viewers", n).Msg("Forwarded image")
	return n, nil
}

// Attach forwards every relay announcement received by m
func (s *Server) Attach(m *session.Manager) *session.Subscription {
	return m.Subscribe(protocol.EventNewImage, func(env protocol.Envelope) {
		var evt protocol.BroadcastEvent
		if err := env.Bind(&evt); err != nil {
			s.log.Warn().Err(err).Msg("Invalid image announcement")
			return
		}
		base, _ := m.BaseURL()
		if _, err := s.Forward(evt, base); err != nil {
			s.log.Warn().Err(err).Str("url", evt.URL).Msg("Failed to forward image")
		}
	})
}
