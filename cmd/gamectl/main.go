package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/danmuck/remotectl/internal/config"
	"github.com/danmuck/remotectl/internal/logging"
	"github.com/danmuck/remotectl/internal/observability"
	"github.com/danmuck/remotectl/internal/protocol"
	"github.com/danmuck/remotectl/internal/responder"
	"github.com/danmuck/remotectl/internal/server"
	"github.com/danmuck/remotectl/internal/session"
	"github.com/danmuck/remotectl/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gamectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs, opts := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.help {
		fmt.Fprintf(os.Stderr, "usage: gamectl [flags]\n%s", fs.FlagUsages())
		return nil
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	// stdout may carry frames, so logs always go to stderr.
	logCfg := logging.Config{Timestamp: true, Out: os.Stderr}
	logCfg.Level, _ = logging.ParseLevel(cfg.LogLevel)
	logger := observability.InitLogger(cfg.Name, logCfg)

	var sink io.Writer
	if cfg.MessageLog != "" {
		f, err := os.OpenFile(cfg.MessageLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open message log: %w", err)
		}
		defer f.Close()
		sink = f
	}

	if opts.stdio {
		logger.Info().Str("url", opts.url).Msg("gamectl serving opener over stdio")
		link := transport.Stdio(cfg.TransportConfig(), cfg.Name)
		game, err := newGame(link, cfg, sink, logger)
		if err != nil {
			return err
		}
		return game.Run(ctx)
	}
	return serve(ctx, cfg, sink, logger)
}

func serve(ctx context.Context, cfg config.Game, sink io.Writer, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	acceptor, err := transport.NewWebSocketAcceptor(cfg.TransportConfig(), cfg.Origin, cfg.Name)
	if err != nil {
		return err
	}
	srv := server.New(server.Config{
		Name:        cfg.Name,
		Addr:        cfg.Addr,
		GamePath:    cfg.Path,
		CORSOrigins: cfg.CORSOrigins,
		Transport:   cfg.TransportConfig(),
	}, acceptor)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	link, err := acceptor.Accept(ctx)
	if err != nil {
		cancel()
		<-serveErr
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	game, err := newGame(link, cfg, sink, logger)
	if err != nil {
		return err
	}
	srv.SetState(game.State)
	runErr := game.Run(ctx)
	cancel()
	if err := <-serveErr; err != nil {
		return err
	}
	return runErr
}

// newGame builds the demo game: each play adds ScorePerPlay to the score.
func newGame(link transport.Link, cfg config.Game, sink io.Writer, logger zerolog.Logger) (*responder.Responder, error) {
	var score float64
	return responder.New(link, responder.Config{
		Name:              cfg.Name,
		Log:               sink,
		CheckInterval:     cfg.CheckInterval,
		InactiveAfter:     cfg.InactiveAfter,
		StrictTransitions: cfg.StrictTransitions,
		Play: func(_ context.Context, p protocol.Play) (session.Patch, error) {
			score += cfg.ScorePerPlay
			logger.Info().Int("episode", p.Episode).Int("passage", p.Passage).Float64("score", score).Msg("gamectl play")
			return session.Patch{protocol.FieldScore: score}, nil
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("gamectl rejected message")
		},
	})
}
