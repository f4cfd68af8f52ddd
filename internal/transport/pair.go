package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
)

// NewPair returns two connected in-memory ends: host holds the Window,
// game holds the Link. Each end sees the other as its peer.
func NewPair(cfg Config, hostLabel, gameLabel string) (host *Conn, game *Conn) {
	hostSrc := NewSource(hostLabel)
	gameSrc := NewSource(gameLabel)
	toGameR, toGameW := io.Pipe()
	toHostR, toHostW := io.Pipe()

	host = NewConn(cfg, hostSrc, gameSrc, toHostR, toGameW, func() error {
		return errors.Join(toGameW.Close(), toHostR.Close())
	})
	game = NewConn(cfg, gameSrc, hostSrc, toGameR, toHostW, func() error {
		return errors.Join(toHostW.Close(), toGameR.Close())
	})
	return host, game
}

// SpawnFunc runs a game on the game end of a pair. It owns link and should
// return only when the game is done.
type SpawnFunc func(ctx context.Context, link Link, target *url.URL, name string)

// PairOpener opens games in-process over an in-memory pair.
type PairOpener struct {
	Config    Config
	HostLabel string
	Spawn     SpawnFunc
}

func (o PairOpener) Open(ctx context.Context, target *url.URL, name, _ string) (Window, error) {
	if o.Spawn == nil {
		return nil, fmt.Errorf("%w: pair opener has no spawn func", ErrOpenFailed)
	}
	hostLabel := o.HostLabel
	if hostLabel == "" {
		hostLabel = "host"
	}
	host, game := NewPair(o.Config, hostLabel, name)
	go func() {
		defer func() { _ = game.Close() }()
		o.Spawn(context.WithoutCancel(ctx), game, target, name)
	}()
	return host, nil
}
