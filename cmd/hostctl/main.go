package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/danmuck/remotectl/internal/config"
	"github.com/danmuck/remotectl/internal/launcher"
	"github.com/danmuck/remotectl/internal/logging"
	"github.com/danmuck/remotectl/internal/observability"
	"github.com/danmuck/remotectl/internal/protocol"
	"github.com/danmuck/remotectl/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "hostctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs, opts := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.help {
		fmt.Fprintf(out, "usage: hostctl [flags]\n%s\n%s", fs.FlagUsages(), consoleHelp)
		return nil
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

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

	l, err := launcher.Launch(ctx, launcher.Config{
		Name:           cfg.Name,
		URL:            cfg.URL,
		Origin:         cfg.Origin,
		Autostart:      cfg.Autostart,
		WindowName:     cfg.WindowName,
		WindowFeatures: cfg.WindowFeatures,
		Log:            sink,
		Opener:         newOpener(cfg),
		MessageHandler: func(ev transport.Event) {
			raw, err := protocol.Encode(ev.Data)
			if err != nil {
				logger.Warn().Err(err).Msg("hostctl could not print message")
				return
			}
			fmt.Fprintf(out, "%s: %s\n", ev.Source.Label, raw)
		},
	})
	if err != nil {
		return err
	}
	defer l.Close()
	logger.Info().Str("target", l.Target().String()).Str("transport", cfg.Transport).Msg("hostctl launched game")

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-l.Done():
		case <-ctx.Done():
		}
	}()
	return newConsole(l, in, out).run(done)
}

func newOpener(cfg config.Host) transport.Opener {
	switch cfg.Transport {
	case config.TransportProcess:
		return transport.ProcessOpener{
			Config:    cfg.TransportConfig(),
			HostLabel: cfg.Name,
			Path:      cfg.GameCommand,
			Args:      cfg.GameArgs,
		}
	default:
		return transport.WebSocketOpener{
			Config:    cfg.TransportConfig(),
			HostLabel: cfg.Name,
		}
	}
}
