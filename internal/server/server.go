// Package server is the game's HTTP surface: health, readiness, metrics,
// a state snapshot and the websocket endpoint the host connects to.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/remotectl/internal/observability"
	"github.com/danmuck/remotectl/internal/session"
	"github.com/danmuck/remotectl/internal/transport"
)

const (
	DefaultName     = "game"
	DefaultGamePath = "/game"
	Version         = "0.1.0"
)

// StateFunc returns the current session snapshot.
type StateFunc func(ctx context.Context) (session.State, error)

type Config struct {
	Name string
	Addr string
	// GamePath is where the websocket endpoint is mounted.
	GamePath string
	// CORSOrigins extends the acceptor's own origin.
	CORSOrigins []string
	Transport   transport.Config
}

type Server struct {
	cfg      Config
	acceptor *transport.WebSocketAcceptor
	router   *gin.Engine
	state    atomic.Pointer[StateFunc]
	Appeared time.Time
}

func New(cfg Config, acceptor *transport.WebSocketAcceptor) *Server {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = DefaultName
	}
	cfg.GamePath = normalizePath(cfg.GamePath)
	cfg.Transport = cfg.Transport.WithDefaults()

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPObserver(cfg.Name, log.Logger, "/health", "/ready", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(acceptor.Origin(), cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		acceptor: acceptor,
		router:   r,
		Appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

// SetState installs the snapshot source behind GET /state. It may be called
// while the server is serving.
func (s *Server) SetState(fn StateFunc) {
	if fn == nil {
		s.state.Store(nil)
		return
	}
	s.state.Store(&fn)
}

func (s *Server) stateFunc() StateFunc {
	if fn := s.state.Load(); fn != nil {
		return *fn
	}
	return nil
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) GamePath() string {
	return s.cfg.GamePath
}

// Serve listens on cfg.Addr until ctx ends, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Transport.HandshakeTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("game", s.cfg.Name).Str("addr", s.cfg.Addr).Str("path", s.cfg.GamePath).Msg("game server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Transport.CloseTimeout)
		defer cancel()
		_ = s.acceptor.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return DefaultGamePath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func normalizeOrigins(own string, extra []string) []string {
	out := []string{own}
	for _, o := range extra {
		o = strings.TrimSpace(o)
		if o == "" || o == own {
			continue
		}
		out = append(out, o)
	}
	return out
}
