// Package config loads host and game settings. Values layer in order:
// built-in defaults, a TOML file, then REMOTECTL_* environment variables.
// Command-line flags are applied last by each binary.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/remotectl/internal/launcher"
	"github.com/danmuck/remotectl/internal/responder"
	"github.com/danmuck/remotectl/internal/server"
	"github.com/danmuck/remotectl/internal/transport"
)

var ErrInvalidConfig = errors.New("config: invalid")

const (
	TransportProcess   = "process"
	TransportWebSocket = "websocket"
)

// Host configures hostctl.
type Host struct {
	Name           string
	Origin         string
	URL            string
	Transport      string
	GameCommand    string
	GameArgs       []string
	WindowName     string
	WindowFeatures string
	Autostart      bool
	// MessageLog is a file that receives rendered inbound messages.
	MessageLog     string
	LogLevel       string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// Game configures gamectl.
type Game struct {
	Name   string
	Addr   string
	Origin string
	// Path is where the websocket endpoint is mounted.
	Path              string
	CORSOrigins       []string
	CheckInterval     time.Duration
	InactiveAfter     time.Duration
	StrictTransitions bool
	// ScorePerPlay is added to the score by each play in the demo game.
	ScorePerPlay float64
	MessageLog   string
	LogLevel     string
	WriteTimeout time.Duration
}

func DefaultHost() Host {
	t := transport.DefaultConfig()
	return Host{
		Name:           "hostctl",
		Origin:         "http://127.0.0.1:8080",
		URL:            server.DefaultGamePath,
		Transport:      TransportWebSocket,
		GameCommand:    "gamectl",
		WindowName:     launcher.DefaultWindowName,
		WindowFeatures: launcher.DefaultWindowFeatures,
		LogLevel:       "info",
		ConnectTimeout: t.ConnectTimeout,
		WriteTimeout:   t.WriteTimeout,
	}
}

func DefaultGame() Game {
	return Game{
		Name:          "gamectl",
		Addr:          "127.0.0.1:8080",
		Origin:        "http://127.0.0.1:8080",
		Path:          server.DefaultGamePath,
		CheckInterval: responder.DefaultCheckInterval,
		InactiveAfter: responder.DefaultInactiveAfter,
		ScorePerPlay:  10,
		LogLevel:      "info",
		WriteTimeout:  transport.DefaultConfig().WriteTimeout,
	}
}

// TransportConfig maps the host timeouts onto transport settings.
func (h Host) TransportConfig() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.ConnectTimeout = h.ConnectTimeout
	cfg.WriteTimeout = h.WriteTimeout
	return cfg.WithDefaults()
}

func (g Game) TransportConfig() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.WriteTimeout = g.WriteTimeout
	return cfg.WithDefaults()
}

func ValidateHost(cfg Host) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: host name required", ErrInvalidConfig)
	}
	if _, err := transport.ParseOrigin(cfg.Origin); err != nil {
		return fmt.Errorf("%w: host origin: %v", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("%w: host url required", ErrInvalidConfig)
	}
	switch cfg.Transport {
	case TransportWebSocket:
	case TransportProcess:
		if strings.TrimSpace(cfg.GameCommand) == "" {
			return fmt.Errorf("%w: process transport needs game_command", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, cfg.Transport)
	}
	return nil
}

func ValidateGame(cfg Game) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: game name required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("%w: game addr required", ErrInvalidConfig)
	}
	if _, err := transport.ParseOrigin(cfg.Origin); err != nil {
		return fmt.Errorf("%w: game origin: %v", ErrInvalidConfig, err)
	}
	for _, o := range cfg.CORSOrigins {
		if u, err := url.Parse(o); err != nil || transport.OriginOf(u) == "null" {
			return fmt.Errorf("%w: cors origin %q", ErrInvalidConfig, o)
		}
	}
	if cfg.CheckInterval <= 0 || cfg.InactiveAfter <= 0 {
		return fmt.Errorf("%w: liveness durations must be positive", ErrInvalidConfig)
	}
	return nil
}
