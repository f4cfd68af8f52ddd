package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	EnvWindowFeatures = "REMOTECTL_WINDOW_FEATURES"
	EnvGameURL        = "REMOTECTL_GAME_URL"
)

// ProcessOpener launches the game as a child process and frames messages
// over its stdin and stdout. The target URL and window name are passed as
// --url and --window-name flags.
type ProcessOpener struct {
	Config    Config
	HostLabel string
	Path      string
	Args      []string
	Stderr    io.Writer
}

func (o ProcessOpener) Open(ctx context.Context, target *url.URL, name, features string) (Window, error) {
	if strings.TrimSpace(o.Path) == "" {
		return nil, fmt.Errorf("%w: process opener has no executable", ErrOpenFailed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := o.Config.WithDefaults()

	args := append([]string{}, o.Args...)
	args = append(args, "--stdio", "--url", target.String())
	if name != "" {
		args = append(args, "--window-name", name)
	}
	cmd := exec.Command(o.Path, args...)
	cmd.Env = append(os.Environ(),
		EnvGameURL+"="+target.String(),
		EnvWindowFeatures+"="+features,
	)
	cmd.Stderr = o.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	// exec copies stdout into the pipe so Wait never races the frame reader.
	stdoutR, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	log.Info().
		Str("path", o.Path).
		Int("pid", cmd.Process.Pid).
		Str("url", target.String()).
		Msg("transport process started")

	hostLabel := o.HostLabel
	if hostLabel == "" {
		hostLabel = "host"
	}
	exited := make(chan struct{})
	var waitErr error
	closer := func() error {
		_ = stdin.Close()
		_ = stdoutR.Close()
		timer := time.NewTimer(cfg.CloseTimeout)
		defer timer.Stop()
		select {
		case <-exited:
		case <-timer.C:
			_ = cmd.Process.Kill()
			<-exited
		}
		return exitErr(waitErr)
	}
	go func() {
		waitErr = cmd.Wait()
		_ = stdoutW.Close()
		close(exited)
	}()
	return NewConn(cfg, NewSource(hostLabel), NewSource(name), stdoutR, stdin, closer), nil
}

// exitErr ignores how a child we asked to stop went away.
func exitErr(err error) error {
	var exit *exec.ExitError
	if errors.As(err, &exit) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// Stdio links a game process to the host that spawned it through the
// process's own stdin and stdout.
func Stdio(cfg Config, label string) *Conn {
	return NewConn(cfg, NewSource(label), NewSource("opener"), os.Stdin, os.Stdout, func() error {
		return os.Stdin.Close()
	})
}
