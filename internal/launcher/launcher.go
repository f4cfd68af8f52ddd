// Package launcher is the host side of the control protocol. Launch opens
// one game through a transport.Opener and returns the command handle for it.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/remotectl/internal/observability"
	"github.com/danmuck/remotectl/internal/protocol"
	"github.com/danmuck/remotectl/internal/transport"
)

var (
	ErrInvalidURL     = transport.ErrInvalidURL
	ErrCrossOrigin    = transport.ErrCrossOrigin
	ErrOpenerRequired = errors.New("launcher: opener required")
	ErrLaunchFailed   = errors.New("launcher: launch failed")
)

const (
	DefaultName           = "launcher"
	DefaultWindowName     = "remotectl"
	DefaultWindowFeatures = "resizable,popup"
)

// MessageHandler receives every message the game sends, one at a time.
type MessageHandler func(transport.Event)

type Config struct {
	// Name labels logs and metrics. Defaults to DefaultName.
	Name string
	// URL is resolved against Origin and must stay on Origin.
	URL    string
	Origin string
	// MessageHandler defaults to logging each message.
	MessageHandler MessageHandler
	// Autostart sends start once the game signals load completion.
	Autostart      bool
	WindowName     string
	WindowFeatures string
	// Log receives one rendered entry per inbound message.
	Log    io.Writer
	Opener transport.Opener
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = DefaultName
	}
	if strings.TrimSpace(c.WindowName) == "" {
		c.WindowName = DefaultWindowName
	}
	if strings.TrimSpace(c.WindowFeatures) == "" {
		c.WindowFeatures = DefaultWindowFeatures
	}
	if c.MessageHandler == nil {
		c.MessageHandler = logHandler(c.Name)
	}
	return c
}

// CommandAPI is the set of commands a host can send to its game. Sends are
// fire-and-forget.
type CommandAPI interface {
	Start()
	End()
	Report()
	Play(episode, passage int)
}

// Launcher holds the only handle to one launched game.
type Launcher struct {
	cfg    Config
	target *url.URL
	window transport.Window
	done   chan struct{}
}

var _ CommandAPI = (*Launcher)(nil)

// Launch resolves cfg.URL, opens the game and starts delivering its
// messages. Nothing is opened when the URL is invalid or cross-origin.
func Launch(ctx context.Context, cfg Config) (*Launcher, error) {
	cfg = cfg.withDefaults()
	target, err := transport.ResolveSameOrigin(cfg.URL, cfg.Origin)
	if err != nil {
		return nil, err
	}
	if cfg.Opener == nil {
		return nil, ErrOpenerRequired
	}

	window, err := cfg.Opener.Open(ctx, target, cfg.WindowName, cfg.WindowFeatures)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLaunchFailed, target, err)
	}
	if window == nil {
		return nil, fmt.Errorf("%w: could not open %s", ErrLaunchFailed, target)
	}
	if !window.Alive() {
		_ = window.Close()
		return nil, fmt.Errorf("%w: could not open %s", ErrLaunchFailed, target)
	}

	l := &Launcher{
		cfg:    cfg,
		target: target,
		window: window,
		done:   make(chan struct{}),
	}
	go l.pump()
	if cfg.Autostart {
		go l.autostart()
	}
	log.Info().
		Str("endpoint", cfg.Name).
		Str("target", target.String()).
		Str("window", cfg.WindowName).
		Bool("autostart", cfg.Autostart).
		Msg("launcher opened game")
	return l, nil
}

func (l *Launcher) Start() {
	l.send(protocol.RequestStart, nil)
}

func (l *Launcher) End() {
	l.send(protocol.RequestEnd, nil)
}

func (l *Launcher) Report() {
	l.send(protocol.RequestReport, nil)
}

func (l *Launcher) Play(episode, passage int) {
	l.send(protocol.RequestPlay, protocol.Message{
		protocol.FieldEpisode: episode,
		protocol.FieldPassage: passage,
	})
}

// Target is the resolved game URL.
func (l *Launcher) Target() *url.URL {
	u := *l.target
	return &u
}

// Peer is the source the game's messages arrive from.
func (l *Launcher) Peer() transport.Source {
	return l.window.Peer()
}

// Done is closed once the game is gone and every message it sent has been
// handled.
func (l *Launcher) Done() <-chan struct{} {
	return l.done
}

// Close closes the game. The handle is unusable afterwards.
func (l *Launcher) Close() error {
	return l.window.Close()
}

func (l *Launcher) send(req protocol.Request, payload protocol.Message) {
	msg := protocol.NewCommand(req, payload)
	observability.RecordMessage(l.cfg.Name, observability.DirectionOut, string(req))
	if err := l.window.Post(msg); err != nil {
		log.Debug().
			Str("endpoint", l.cfg.Name).
			Str("request", string(req)).
			Err(err).
			Msg("launcher command dropped")
	}
}

func (l *Launcher) autostart() {
	select {
	case <-l.window.Loaded():
		log.Debug().Str("endpoint", l.cfg.Name).Msg("launcher autostart")
		l.Start()
	case <-l.window.Done():
	}
}

// pump delivers inbound messages in arrival order. Events from any source
// other than the game are logged and dropped.
func (l *Launcher) pump() {
	defer close(l.done)
	for ev := range l.window.Events() {
		protocol.AppendLogEntry(l.cfg.Log, ev.Source.Label, ev.Data)
		if peer := l.window.Peer(); !ev.Source.Same(peer) {
			observability.RecordProtocolError(l.cfg.Name, "untrusted_source")
			log.Warn().
				Str("endpoint", l.cfg.Name).
				Str("source", ev.Source.Label).
				Str("peer", peer.Label).
				Msg("launcher dropped message from unknown source")
			continue
		}
		observability.RecordMessage(l.cfg.Name, observability.DirectionIn, protocol.RequestLabel(ev.Data))
		l.cfg.MessageHandler(ev)
	}
	log.Info().Str("endpoint", l.cfg.Name).Msg("launcher game closed")
}

func logHandler(name string) MessageHandler {
	return func(ev transport.Event) {
		log.Info().
			Str("endpoint", name).
			Str("from", ev.Source.Label).
			Fields(map[string]any(ev.Data)).
			Msg("launcher message")
	}
}
