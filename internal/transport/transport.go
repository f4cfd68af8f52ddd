package transport

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/danmuck/remotectl/internal/protocol"
	"github.com/google/uuid"
)

var (
	ErrClosed        = errors.New("transport: link closed")
	ErrFrameTooLarge = errors.New("transport: frame too large")
	ErrInvalidFrame  = errors.New("transport: invalid frame")
	ErrInvalidOrigin = errors.New("transport: invalid origin")
	ErrPeerRejected  = errors.New("transport: peer rejected")
	ErrOpenFailed    = errors.New("transport: open failed")
)

// Source identifies one end of a link. Identity is the ID; Label is the
// human-facing name shown by message logs.
type Source struct {
	ID    string
	Label string
}

func NewSource(label string) Source {
	return Source{ID: uuid.NewString(), Label: label}
}

// Same reports identity equality. Labels are display-only.
func (s Source) Same(other Source) bool {
	return s.ID != "" && s.ID == other.ID
}

// Event is one inbound message and the source it arrived from.
type Event struct {
	Source   Source
	Data     protocol.Message
	Received time.Time
}

// Window is the host-side handle to an opened game.
type Window interface {
	Post(msg protocol.Message) error
	Events() <-chan Event
	Peer() Source
	// Loaded is closed once the game signals load completion.
	Loaded() <-chan struct{}
	// Alive is false when the game produced nothing to talk to.
	Alive() bool
	Done() <-chan struct{}
	Close() error
}

// Link is the game-side handle to the host that opened it.
type Link interface {
	Post(msg protocol.Message) error
	Events() <-chan Event
	// Opener is the only trusted source for commands.
	Opener() Source
	// Ready tells the opener the game finished loading.
	Ready() error
	Done() <-chan struct{}
	Close() error
}

// Opener creates a game for target. name and features are presentation
// hints; transports that cannot present a window pass them along or ignore
// them.
type Opener interface {
	Open(ctx context.Context, target *url.URL, name, features string) (Window, error)
}
