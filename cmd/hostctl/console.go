package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/remotectl/internal/launcher"
	"github.com/danmuck/remotectl/internal/protocol"
)

var (
	// ErrQuit signals the operator asked to leave the console.
	ErrQuit           = errors.New("quit")
	ErrUnknownCommand = errors.New("unknown command")
)

const consoleHelp = `commands:
  start          play episode 1 passage 0
  play [E] [P]   play episode E passage P (defaults 1 0)
  report         ask the game for its state
  end            end the session
  help           show this help
  quit           close the game and exit
`

type console struct {
	api    launcher.CommandAPI
	reader *bufio.Reader
	out    io.Writer
}

func newConsole(api launcher.CommandAPI, in io.Reader, out io.Writer) *console {
	return &console{api: api, reader: bufio.NewReader(in), out: out}
}

// run reads commands until EOF or quit. done ends the loop when the game
// goes away.
func (c *console) run(done <-chan struct{}) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			line, err := c.reader.ReadString('\n')
			if strings.TrimSpace(line) != "" {
				select {
				case lines <- strings.TrimRight(line, "\r\n"):
				case <-stop:
					return
				}
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			fmt.Fprintln(c.out, "game closed")
			return nil
		case err := <-errs:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			err := c.exec(line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

func (c *console) exec(line string) error {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "start":
		c.api.Start()
	case "end":
		c.api.End()
	case "report":
		c.api.Report()
	case "play":
		episode, passage, err := parsePlayArgs(fields[1:])
		if err != nil {
			return err
		}
		c.api.Play(episode, passage)
	case "help", "?":
		fmt.Fprint(c.out, consoleHelp)
	case "quit", "exit", "q":
		return ErrQuit
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
	return nil
}

func parsePlayArgs(args []string) (int, int, error) {
	episode, passage := protocol.DefaultEpisode, protocol.DefaultPassage
	if len(args) > 2 {
		return 0, 0, fmt.Errorf("%w: play takes at most two arguments", protocol.ErrInvalidPayload)
	}
	vals := []*int{&episode, &passage}
	for i, raw := range args {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("%w: %q is not a non-negative integer", protocol.ErrInvalidPayload, raw)
		}
		*vals[i] = n
	}
	return episode, passage, nil
}
