// Package relay is a reference relay: it authenticates control sessions,
// accepts uploads, hosts the uploaded images and announces each one to every
// ready session.
package relay

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/tomaslejdung/goflash/pkg/hub"
	"github.com/tomaslejdung/goflash/pkg/protocol"
	"github.com/valyala/fasttemplate"
)

// Client attribute keys
const (
	attrUsername = "username"
	attrAuthed   = "authed"
)

// Server is a relay instance
type Server struct {
	cfg      Config
	secret   []byte
	store    ImageStore
	hub      *hub.Hub
	router   *gin.Engine
	pathTmpl *fasttemplate.Template
	log      zerolog.Logger
}

// Options carries the collaborators of a Server
type Options struct {
	Store  ImageStore // defaults to a MemoryStore
	Logger *zerolog.Logger
}

// New creates a relay. It does not listen until Run.
func New(cfg Config, opts Options) (*Server, error) {
	cfg = cfg.withDefaults()
	if cfg.Key == "" {
		return nil, errors.New("relay: shared key is required")
	}
	if !protocol.ValidVersion(cfg.Version) {
		return nil, errors.New("relay: invalid version " + cfg.Version)
	}
	tmpl, err := fasttemplate.NewTemplate(cfg.PathTemplate, "{", "}")
	if err != nil {
		return nil, err
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}

	s := &Server{
		cfg:      cfg,
		secret:   []byte(cfg.JWTSecret),
		store:    opts.Store,
		pathTmpl: tmpl,
		log:      logger.With().Str("component", "relay").Logger(),
	}
	if len(s.secret) == 0 {
		s.secret = randomSecret()
	}

	s.hub = hub.New(hub.Options{
		OnJoin:    s.onJoin,
		OnMessage: s.onMessage,
		OnLeave:   s.onLeave,
		Logger:    &s.log,
	})
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())
	router.MaxMultipartMemory = s.cfg.MaxUploadSize

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  s.cfg.Version,
			"sessions": s.hub.Count(),
		})
	})
	router.GET(protocol.SocketPath, func(c *gin.Context) {
		if _, err := s.hub.Upgrade(c.Writer, c.Request); err != nil {
			s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		}
	})
	router.POST(protocol.UploadPath, JWTAuth(s.secret), s.handleUpload)
	router.GET(protocol.ImagePrefix+":name", s.handleImage)
	return router
}

// requestLog logs each request through zerolog
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Request")
	}
}

// Handler exposes the relay's HTTP surface
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on cfg.Addr until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the relay on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Str("version", s.cfg.Version).Msg("Relay listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Broadcast(protocol.EventDisconnect, protocol.Disconnect{Reason: protocol.ReasonServerDisconnect}, nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	err := srv.Shutdown(shutdownCtx)
	if cerr := s.store.Close(); cerr != nil {
		s.log.Warn().Err(cerr).Msg("Closing image store")
	}
	return err
}

// Users returns the usernames of ready sessions, sorted and deduplicated
func (s *Server) Users() []string {
	users := lo.Uniq(lo.FilterMap(s.hub.Clients(hub.IsReady), func(c *hub.Client, _ int) (string, bool) {
		name := c.Get(attrUsername)
		return name, name != ""
	}))
	sort.Strings(users)
	return users
}

func (s *Server) onJoin(c *hub.Client) {
	// Sessions that never authenticate are dropped
	time.AfterFunc(s.cfg.AuthTimeout, func() {
		if c.Get(attrAuthed) == "" {
			s.log.Debug().Str("client", c.ID()).Msg("Handshake timed out")
			c.Close()
		}
	})
}

func (s *Server) onMessage(c *hub.Client, env protocol.Envelope) {
	authed := c.Get(attrAuthed) != ""

	switch {
	case env.Event == protocol.EventAuth && !authed:
		s.handshake(c, env)
	case !authed:
		s.reject(c, "authentication required")
	case env.Event == protocol.EventReady:
		if !c.Ready() {
			c.MarkReady()
			s.log.Info().Str("client", c.ID()).Str("username", c.Get(attrUsername)).Msg("Session ready")
			s.broadcastUsers()
		}
	default:
		s.log.Debug().Str("event", env.Event).Msg("Ignoring client event")
	}
}

func (s *Server) handshake(c *hub.Client, env protocol.Envelope) {
	var auth protocol.Auth
	if err := env.Bind(&auth); err != nil {
		s.reject(c, "invalid handshake")
		return
	}
	if subtle.ConstantTimeCompare([]byte(auth.Key), []byte(s.cfg.Key)) != 1 {
		s.reject(c, "invalid key")
		return
	}
	if auth.Username == "" {
		s.reject(c, "username required")
		return
	}
	if !protocol.Compatible(auth.Version, s.cfg.Version) {
		s.reject(c, "incompatible version "+auth.Version+", relay runs "+s.cfg.Version)
		return
	}

	token, err := issueToken(s.secret, auth.Username, c.ID(), s.cfg.TokenTTL)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to generate token")
		s.reject(c, "internal error")
		return
	}

	c.Set(attrUsername, auth.Username)
	c.Set(attrAuthed, "1")
	if err := c.Send(protocol.EventConnect, protocol.Accepted{SessionID: c.ID(), Token: token}); err != nil {
		s.log.Warn().Err(err).Str("client", c.ID()).Msg("Failed to accept session")
		c.Close()
		return
	}
	s.log.Info().Str("client", c.ID()).Str("username", auth.Username).Msg("Session accepted")
}

// reject answers with connect_error and closes once it is flushed
func (s *Server) reject(c *hub.Client, message string) {
	s.log.Info().Str("client", c.ID()).Str("reason", message).Msg("Session rejected")
	if err := c.Send(protocol.EventConnectError, protocol.Rejected{Message: message}); err != nil {
		c.Close()
		return
	}
	c.Disconnect(protocol.ReasonServerDisconnect)
}

func (s *Server) onLeave(c *hub.Client) {
	if c.Ready() {
		s.broadcastUsers()
	}
}

func (s *Server) broadcastUsers() {
	if _, err := s.hub.Broadcast(protocol.EventUsers, protocol.UserList{Users: s.Users()}, hub.IsReady); err != nil {
		s.log.Warn().Err(err).Msg("Failed to broadcast users")
	}
}
