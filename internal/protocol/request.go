package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Request names one command the responder understands.
type Request string

const (
	RequestPlay   Request = "play"
	RequestEnd    Request = "end"
	RequestStart  Request = "start"
	RequestReport Request = "report"
)

const (
	DefaultEpisode = 1
	DefaultPassage = 0
)

// Requests lists every command in declaration order.
func Requests() []Request {
	return []Request{RequestPlay, RequestEnd, RequestStart, RequestReport}
}

func ParseRequest(raw string) (Request, error) {
	switch r := Request(strings.TrimSpace(raw)); r {
	case RequestPlay, RequestEnd, RequestStart, RequestReport:
		return r, nil
	case "":
		return "", ErrMissingRequest
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRequest, raw)
	}
}

const (
	LabelNone    = "none"
	LabelUnknown = "unknown"
)

// RequestLabel maps a message to a bounded metric label: a known request
// name, LabelNone when the field is absent or empty, LabelUnknown otherwise.
func RequestLabel(m Message) string {
	name, ok := m.RequestName()
	if !ok && m[FieldRequest] == nil {
		return LabelNone
	}
	req, err := ParseRequest(name)
	switch {
	case err == nil:
		return string(req)
	case errors.Is(err, ErrMissingRequest) && ok:
		return LabelNone
	default:
		return LabelUnknown
	}
}

// Play is the payload of a play command.
type Play struct {
	Episode int
	Passage int
}

func (p Play) Validate() error {
	if p.Episode < 0 {
		return fmt.Errorf("%w: negative episode %d", ErrInvalidPayload, p.Episode)
	}
	if p.Passage < 0 {
		return fmt.Errorf("%w: negative passage %d", ErrInvalidPayload, p.Passage)
	}
	return nil
}

// Command is a parsed inbound command: the request tag plus its payload.
// Play is only meaningful for RequestPlay and RequestStart.
type Command struct {
	Request Request
	Play    Play
}

// ParseCommand turns a raw message into a tagged command. start resolves to
// the play payload {1, 0}.
func ParseCommand(m Message) (Command, error) {
	if _, present := m[FieldRequest]; !present {
		return Command{}, ErrMissingRequest
	}
	name, ok := m.RequestName()
	if !ok {
		return Command{}, fmt.Errorf("%w: request is not a string", ErrUnknownRequest)
	}
	req, err := ParseRequest(name)
	if err != nil {
		return Command{}, err
	}

	cmd := Command{Request: req}
	switch req {
	case RequestPlay:
		play, err := ParsePlay(m)
		if err != nil {
			return Command{}, err
		}
		cmd.Play = play
	case RequestStart:
		cmd.Play = Play{Episode: DefaultEpisode, Passage: DefaultPassage}
	case RequestEnd, RequestReport:
	}
	return cmd, nil
}

// ParsePlay reads episode and passage, defaulting absent fields.
func ParsePlay(m Message) (Play, error) {
	play := Play{Episode: DefaultEpisode, Passage: DefaultPassage}
	if v, ok, err := m.Int(FieldEpisode); err != nil {
		return Play{}, err
	} else if ok {
		play.Episode = v
	}
	if v, ok, err := m.Int(FieldPassage); err != nil {
		return Play{}, err
	} else if ok {
		play.Passage = v
	}
	if err := play.Validate(); err != nil {
		return Play{}, err
	}
	return play, nil
}

// NewCommand builds an outbound command record. The request field always
// wins over a colliding payload key.
func NewCommand(req Request, payload Message) Message {
	out := make(Message, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out[FieldRequest] = string(req)
	return out
}

func PlayCommand(episode, passage int) Message {
	return NewCommand(RequestPlay, Message{
		FieldEpisode: episode,
		FieldPassage: passage,
	})
}
