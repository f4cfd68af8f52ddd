package transport

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/danmuck/remotectl/internal/protocol"
	"github.com/rs/zerolog/log"
)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn is one end of a framed byte-stream link. It satisfies both Window
// and Link: the remote end is the only source its events carry.
type Conn struct {
	cfg   Config
	local Source

	peerMu sync.RWMutex
	peer   Source

	r       *bufio.Reader
	writeMu sync.Mutex
	w       io.Writer
	closer  func() error

	events    chan Event
	loaded    chan struct{}
	loadOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var (
	_ Window = (*Conn)(nil)
	_ Link   = (*Conn)(nil)
)

// NewConn starts reading frames from r. closer releases the underlying
// resources and must unblock the reader.
func NewConn(cfg Config, local, peer Source, r io.Reader, w io.Writer, closer func() error) *Conn {
	cfg = cfg.WithDefaults()
	if closer == nil {
		closer = func() error { return nil }
	}
	c := &Conn{
		cfg:    cfg,
		local:  local,
		peer:   peer,
		r:      bufio.NewReaderSize(r, 4096),
		w:      w,
		closer: closer,
		events: make(chan Event, cfg.EventBuffer),
		loaded: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) Local() Source {
	return c.local
}

func (c *Conn) Peer() Source {
	c.peerMu.RLock()
	defer c.peerMu.RUnlock()
	return c.peer
}

func (c *Conn) Opener() Source {
	return c.Peer()
}

func (c *Conn) Events() <-chan Event {
	return c.events
}

func (c *Conn) Loaded() <-chan struct{} {
	return c.loaded
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Post sends one message. A closed link reports ErrClosed.
func (c *Conn) Post(msg protocol.Message) error {
	return c.write(frame{Type: frameTypeMessage, Data: msg})
}

// Ready sends the load-complete signal labelled with the local source.
func (c *Conn) Ready() error {
	return c.write(frame{Type: frameTypeLoad, Label: c.local.Label})
}

func (c *Conn) write(f frame) error {
	if !c.Alive() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if d, ok := c.w.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := writeFrame(c.w, f); err != nil {
		if errors.Is(err, ErrInvalidFrame) {
			return err
		}
		log.Debug().
			Str("local", c.local.Label).
			Str("peer", c.Peer().Label).
			Err(err).
			Msg("transport write failed")
		return errors.Join(ErrClosed, err)
	}
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.closer()
	})
	return c.closeErr
}

func (c *Conn) readLoop() {
	defer close(c.events)
	defer func() { _ = c.Close() }()
	for {
		f, err := readFrame(c.r, c.cfg.MaxFrameBytes)
		if err != nil {
			if errors.Is(err, ErrInvalidFrame) || errors.Is(err, ErrFrameTooLarge) {
				log.Warn().
					Str("local", c.local.Label).
					Str("peer", c.Peer().Label).
					Err(err).
					Msg("transport dropped frame")
				continue
			}
			if !errors.Is(err, io.EOF) && c.Alive() {
				log.Debug().Str("local", c.local.Label).Err(err).Msg("transport read ended")
			}
			return
		}

		switch f.Type {
		case frameTypeLoad:
			if label := f.Label; label != "" {
				c.peerMu.Lock()
				c.peer.Label = label
				c.peerMu.Unlock()
			}
			c.loadOnce.Do(func() { close(c.loaded) })
		case frameTypeMessage:
			ev := Event{Source: c.Peer(), Data: f.Data, Received: time.Now()}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}
