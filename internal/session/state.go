package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/remotectl/internal/protocol"
)

var (
	ErrInvalidStatus     = errors.New("session: invalid status")
	ErrInvalidPatch      = errors.New("session: invalid patch")
	ErrInvalidTransition = errors.New("session: invalid status transition")
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
	StatusInactive Status = "inactive"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusWaiting, StatusActive, StatusEnded, StatusInactive:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// transitions lists the allowed targets per status under the Strict policy.
// Self-transitions are always allowed.
var transitions = map[Status][]Status{
	StatusWaiting:  {StatusActive, StatusInactive, StatusEnded},
	StatusActive:   {StatusInactive, StatusEnded},
	StatusInactive: {StatusActive, StatusEnded},
	StatusEnded:    {},
}

// CanTransition reports whether the strict table allows from -> to.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionPolicy selects how status changes are checked.
type TransitionPolicy int

const (
	// Permissive accepts any status change from any status.
	Permissive TransitionPolicy = iota
	// Strict rejects changes outside the transition table.
	Strict
)

// Patch is a partial state record merged into State.
type Patch map[string]any

// State is the mutable progress record reported to the host.
type State struct {
	Status  Status
	Episode int
	Passage int
	Score   float64
	// Extra holds application-defined flat fields merged by patches.
	Extra protocol.Message
}

func NewState() State {
	return State{
		Status:  StatusWaiting,
		Episode: protocol.DefaultEpisode,
		Passage: protocol.DefaultPassage,
		Score:   0,
	}
}

func (s State) Clone() State {
	out := s
	if s.Extra != nil {
		out.Extra = s.Extra.Clone()
	}
	return out
}

// Report flattens the state plus the derived inactivity into one record.
// Core fields win over colliding extra fields.
func (s State) Report(inactivity int) protocol.Message {
	out := make(protocol.Message, len(s.Extra)+5)
	for k, v := range s.Extra {
		out[k] = v
	}
	out[protocol.FieldStatus] = string(s.Status)
	out[protocol.FieldEpisode] = s.Episode
	out[protocol.FieldPassage] = s.Passage
	out[protocol.FieldScore] = s.Score
	out[protocol.FieldInactivity] = inactivity
	return out
}

// SetStatus changes status under policy.
func (s *State) SetStatus(next Status, policy TransitionPolicy) error {
	if policy == Strict && !CanTransition(s.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	return nil
}

// Apply merges p into s. The patch is validated in full before any field is
// written, so a failed Apply leaves s untouched. inactivity is derived and
// silently dropped; request is never a state field. A nil value for a core
// field leaves that field unchanged.
func (s *State) Apply(p Patch, policy TransitionPolicy) error {
	if len(p) == 0 {
		return nil
	}
	next := s.Clone()
	for k, v := range p {
		one := protocol.Message{k: v}
		switch k {
		case protocol.FieldRequest:
			return fmt.Errorf("%w: %s is reserved", ErrInvalidPatch, k)
		case protocol.FieldInactivity:
		case protocol.FieldStatus:
			raw, ok, err := one.String(k)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
			}
			if !ok {
				continue
			}
			status, err := ParseStatus(raw)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
			}
			if err := next.SetStatus(status, policy); err != nil {
				return err
			}
		case protocol.FieldEpisode, protocol.FieldPassage:
			n, ok, err := one.Int(k)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
			}
			if !ok {
				continue
			}
			if n < 0 {
				return fmt.Errorf("%w: negative %s %d", ErrInvalidPatch, k, n)
			}
			if k == protocol.FieldEpisode {
				next.Episode = n
			} else {
				next.Passage = n
			}
		case protocol.FieldScore:
			f, ok, err := one.Float(k)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
			}
			if !ok {
				continue
			}
			next.Score = f
		default:
			if err := one.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
			}
			if next.Extra == nil {
				next.Extra = make(protocol.Message)
			}
			next.Extra[k] = v
		}
	}
	*s = next
	return nil
}
