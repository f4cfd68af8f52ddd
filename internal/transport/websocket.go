package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/danmuck/remotectl/internal/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"
)

const (
	HeaderWindowName     = "X-Remotectl-Window"
	HeaderWindowFeatures = "X-Remotectl-Features"
)

// WebSocketOpener opens a game served over a websocket at the target URL.
// http and https targets are dialed as ws and wss with the target's origin
// in the Origin header.
type WebSocketOpener struct {
	Config    Config
	HostLabel string
}

func (o WebSocketOpener) Open(ctx context.Context, target *url.URL, name, features string) (Window, error) {
	cfg := o.Config.WithDefaults()
	wsURL := *target
	switch strings.ToLower(target.Scheme) {
	case "http", "ws":
		wsURL.Scheme = "ws"
	case "https", "wss":
		wsURL.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrOpenFailed, target.Scheme)
	}

	wcfg, err := websocket.NewConfig(wsURL.String(), OriginOf(target))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	wcfg.Dialer = &net.Dialer{Timeout: cfg.ConnectTimeout}
	if wcfg.Header == nil {
		wcfg.Header = http.Header{}
	}
	if name != "" {
		wcfg.Header.Set(HeaderWindowName, name)
	}
	if features != "" {
		wcfg.Header.Set(HeaderWindowFeatures, features)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ws, err := websocket.DialConfig(wcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	hostLabel := o.HostLabel
	if hostLabel == "" {
		hostLabel = "host"
	}
	peerLabel := name
	if peerLabel == "" {
		peerLabel = target.String()
	}
	return NewConn(cfg, NewSource(hostLabel), NewSource(peerLabel), ws, ws, ws.Close), nil
}

// WebSocketAcceptor is the game side of the websocket transport. It admits
// connections whose Origin matches the game's own origin. The first admitted
// connection is the opener; frames from later connections still surface as
// events so the responder can reject them by source.
type WebSocketAcceptor struct {
	cfg    Config
	origin string
	local  Source
	server websocket.Server

	mu     sync.Mutex
	opener *Conn
	conns  map[*Conn]struct{}

	events    chan Event
	admitted  chan struct{}
	admitOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

var _ Link = (*WebSocketAcceptor)(nil)

func NewWebSocketAcceptor(cfg Config, origin, label string) (*WebSocketAcceptor, error) {
	base, err := ParseOrigin(origin)
	if err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	a := &WebSocketAcceptor{
		cfg:      cfg,
		origin:   OriginOf(base),
		local:    NewSource(label),
		conns:    make(map[*Conn]struct{}),
		events:   make(chan Event, cfg.EventBuffer),
		admitted: make(chan struct{}),
		done:     make(chan struct{}),
	}
	a.server = websocket.Server{
		Handshake: a.handshake,
		Handler:   a.serve,
	}
	return a, nil
}

// Origin is the normalized origin this acceptor admits.
func (a *WebSocketAcceptor) Origin() string {
	return a.origin
}

func (a *WebSocketAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-a.done:
		http.Error(w, "game closed", http.StatusGone)
		return
	default:
	}
	a.server.ServeHTTP(w, r)
}

func (a *WebSocketAcceptor) handshake(cfg *websocket.Config, r *http.Request) error {
	origin, err := websocket.Origin(cfg, r)
	if err != nil || origin == nil {
		log.Warn().Str("remote", r.RemoteAddr).Msg("transport websocket rejected: missing origin")
		return fmt.Errorf("%w: missing origin", ErrPeerRejected)
	}
	if got := OriginOf(origin); got != a.origin {
		log.Warn().
			Str("remote", r.RemoteAddr).
			Str("origin", got).
			Str("want", a.origin).
			Msg("transport websocket rejected: cross origin")
		return fmt.Errorf("%w: origin %q", ErrPeerRejected, got)
	}
	cfg.Origin = origin
	return nil
}

func (a *WebSocketAcceptor) serve(ws *websocket.Conn) {
	label := a.origin
	if req := ws.Request(); req != nil {
		if name := strings.TrimSpace(req.Header.Get(HeaderWindowName)); name != "" {
			label = name
		}
	}
	conn := NewConn(a.cfg, a.local, NewSource(label), ws, ws, ws.Close)

	a.mu.Lock()
	select {
	case <-a.done:
		a.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	first := a.opener == nil
	if first {
		a.opener = conn
	}
	a.conns[conn] = struct{}{}
	a.mu.Unlock()

	if first {
		a.admitOnce.Do(func() { close(a.admitted) })
		log.Info().Str("peer", label).Str("origin", a.origin).Msg("transport websocket opener admitted")
	} else {
		log.Warn().Str("peer", label).Msg("transport websocket extra peer connected")
	}

	for ev := range conn.Events() {
		select {
		case a.events <- ev:
		case <-a.done:
			_ = conn.Close()
		}
	}

	a.mu.Lock()
	delete(a.conns, conn)
	a.mu.Unlock()
	if first {
		_ = a.Close()
	}
}

// Admitted is closed once the opener connection is in.
func (a *WebSocketAcceptor) Admitted() <-chan struct{} {
	return a.admitted
}

// Accept waits for the opener connection.
func (a *WebSocketAcceptor) Accept(ctx context.Context) (Link, error) {
	select {
	case <-a.admitted:
		return a, nil
	case <-a.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *WebSocketAcceptor) openerConn() *Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opener
}

func (a *WebSocketAcceptor) Post(msg protocol.Message) error {
	conn := a.openerConn()
	if conn == nil {
		return ErrClosed
	}
	return conn.Post(msg)
}

func (a *WebSocketAcceptor) Events() <-chan Event {
	return a.events
}

func (a *WebSocketAcceptor) Opener() Source {
	conn := a.openerConn()
	if conn == nil {
		return Source{}
	}
	return conn.Peer()
}

func (a *WebSocketAcceptor) Ready() error {
	conn := a.openerConn()
	if conn == nil {
		return ErrClosed
	}
	return conn.Ready()
}

func (a *WebSocketAcceptor) Done() <-chan struct{} {
	return a.done
}

func (a *WebSocketAcceptor) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		close(a.done)
		conns := make([]*Conn, 0, len(a.conns))
		for c := range a.conns {
			conns = append(conns, c)
		}
		a.mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return nil
}
