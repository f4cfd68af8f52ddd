// Package responder is the game side of the control protocol. A Responder
// owns the session state, accepts commands from the one peer that opened
// it, and reports state back to that peer.
package responder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/remotectl/internal/observability"
	"github.com/danmuck/remotectl/internal/protocol"
	"github.com/danmuck/remotectl/internal/session"
	"github.com/danmuck/remotectl/internal/transport"
)

var (
	ErrLinkRequired        = errors.New("responder: link required")
	ErrPlayHandlerRequired = errors.New("responder: play handler required")
	ErrUntrustedSource     = errors.New("responder: untrusted message source")
	ErrAlreadyRunning      = errors.New("responder: already running")
	ErrStopped             = errors.New("responder: stopped")
)

const (
	DefaultName          = "responder"
	DefaultCheckInterval = 5 * time.Minute
	DefaultInactiveAfter = 300 * time.Second
)

// PlayFunc starts the given episode and passage. A returned patch is merged
// into the state before the report goes out.
type PlayFunc func(ctx context.Context, play protocol.Play) (session.Patch, error)

// EndFunc runs after the ended report is sent.
type EndFunc func(ctx context.Context) error

type Config struct {
	// Name labels logs and metrics. Defaults to DefaultName.
	Name string
	Play PlayFunc
	// End defaults to stopping the loop and closing the link.
	End EndFunc
	// Log receives one rendered entry per inbound message.
	Log               io.Writer
	Clock             clock.Clock
	CheckInterval     time.Duration
	InactiveAfter     time.Duration
	StrictTransitions bool
	// OnError observes protocol errors raised by the loop.
	OnError func(error)
}

type call struct {
	fn   func() error
	done chan error
}

type Responder struct {
	cfg      Config
	link     transport.Link
	clock    clock.Clock
	policy   session.TransitionPolicy
	liveness *session.Liveness

	// state is only touched by the loop, or directly before Run starts.
	state session.State

	calls    chan call
	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(link transport.Link, cfg Config) (*Responder, error) {
	if link == nil {
		return nil, ErrLinkRequired
	}
	if cfg.Play == nil {
		return nil, ErrPlayHandlerRequired
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.InactiveAfter <= 0 {
		cfg.InactiveAfter = DefaultInactiveAfter
	}
	r := &Responder{
		cfg:      cfg,
		link:     link,
		clock:    cfg.Clock,
		liveness: session.NewLiveness(cfg.Clock),
		state:    session.NewState(),
		calls:    make(chan call),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.StrictTransitions {
		r.policy = session.Strict
	}
	if r.cfg.End == nil {
		r.cfg.End = r.closeLink
	}
	return r, nil
}

func (r *Responder) closeLink(context.Context) error {
	r.Stop()
	return r.link.Close()
}

// Run signals load-complete on the link and serves it until ctx ends, the
// link closes, or Stop is called. The link is closed on return.
func (r *Responder) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(r.done)
	defer func() { _ = r.link.Close() }()

	ticker := r.clock.Ticker(r.cfg.CheckInterval)
	defer ticker.Stop()

	if err := r.link.Ready(); err != nil {
		log.Warn().Str("endpoint", r.cfg.Name).Err(err).Msg("responder ready signal failed")
	}
	log.Info().
		Str("endpoint", r.cfg.Name).
		Str("opener", r.link.Opener().Label).
		Dur("check_interval", r.cfg.CheckInterval).
		Dur("inactive_after", r.cfg.InactiveAfter).
		Msg("responder running")

	events := r.link.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stop:
			return nil
		case <-r.link.Done():
			log.Info().Str("endpoint", r.cfg.Name).Msg("responder link done")
			return nil
		case ev, ok := <-events:
			if !ok {
				log.Info().Str("endpoint", r.cfg.Name).Msg("responder link closed")
				return nil
			}
			r.handle(ctx, ev)
		case <-ticker.C:
			r.checkLiveness()
		case c := <-r.calls:
			c.done <- c.fn()
		}
	}
}

// Stop ends the loop. Safe to call more than once.
func (r *Responder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Done is closed when Run returns.
func (r *Responder) Done() <-chan struct{} {
	return r.done
}

// Report merges patch, if any, and sends the full state to the opener.
func (r *Responder) Report(ctx context.Context, patch session.Patch) error {
	return r.do(ctx, func() error { return r.report(patch) })
}

// Update refreshes liveness, merges patch and reports.
func (r *Responder) Update(ctx context.Context, patch session.Patch) error {
	return r.do(ctx, func() error { return r.update(patch) })
}

// State returns a snapshot of the session state.
func (r *Responder) State(ctx context.Context) (session.State, error) {
	var out session.State
	err := r.do(ctx, func() error {
		out = r.state.Clone()
		return nil
	})
	return out, err
}

// do runs fn on the loop. Before Run starts fn runs inline. Handlers called
// by the loop must not call back into do; PlayFunc returns a patch instead.
func (r *Responder) do(ctx context.Context, fn func() error) error {
	if !r.running.Load() {
		return fn()
	}
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case r.calls <- c:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Responder) handle(ctx context.Context, ev transport.Event) {
	protocol.AppendLogEntry(r.cfg.Log, ev.Source.Label, ev.Data)
	observability.RecordMessage(r.cfg.Name, observability.DirectionIn, protocol.RequestLabel(ev.Data))

	if opener := r.link.Opener(); !ev.Source.Same(opener) {
		r.fail(fmt.Errorf("%w: %q is not %q", ErrUntrustedSource, ev.Source.Label, opener.Label))
		return
	}
	r.liveness.Touch()
	if err := r.dispatch(ctx, ev.Data); err != nil {
		r.fail(err)
	}
}

func (r *Responder) dispatch(ctx context.Context, msg protocol.Message) error {
	cmd, err := protocol.ParseCommand(msg)
	if err != nil {
		return err
	}
	switch cmd.Request {
	case protocol.RequestPlay, protocol.RequestStart:
		return r.play(ctx, cmd.Play)
	case protocol.RequestEnd:
		return r.end(ctx)
	case protocol.RequestReport:
		return r.report(nil)
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownRequest, cmd.Request)
	}
}

func (r *Responder) play(ctx context.Context, p protocol.Play) error {
	if err := p.Validate(); err != nil {
		return err
	}
	patch, err := r.cfg.Play(ctx, p)
	if err != nil {
		return fmt.Errorf("responder: play episode %d passage %d: %w", p.Episode, p.Passage, err)
	}
	next := r.state.Clone()
	next.Episode = p.Episode
	next.Passage = p.Passage
	if err := next.SetStatus(session.StatusActive, r.policy); err != nil {
		return err
	}
	if err := next.Apply(patch, r.policy); err != nil {
		return err
	}
	r.state = next
	log.Debug().
		Str("endpoint", r.cfg.Name).
		Int("episode", p.Episode).
		Int("passage", p.Passage).
		Msg("responder play")
	return r.report(nil)
}

func (r *Responder) end(ctx context.Context) error {
	next := r.state.Clone()
	if err := next.SetStatus(session.StatusEnded, r.policy); err != nil {
		return err
	}
	r.state = next
	if err := r.report(nil); err != nil {
		return err
	}
	log.Info().Str("endpoint", r.cfg.Name).Msg("responder session ended")
	return r.cfg.End(ctx)
}

func (r *Responder) update(patch session.Patch) error {
	r.liveness.Touch()
	return r.report(patch)
}

// report is the only outbound path. Send failures are logged and dropped.
func (r *Responder) report(patch session.Patch) error {
	if err := r.state.Apply(patch, r.policy); err != nil {
		return err
	}
	msg := r.state.Report(r.liveness.InactiveSeconds())
	observability.RecordMessage(r.cfg.Name, observability.DirectionOut, "")
	if err := r.link.Post(msg); err != nil {
		log.Debug().Str("endpoint", r.cfg.Name).Err(err).Msg("responder report dropped")
	}
	return nil
}

// checkLiveness flags the session inactive once per silent stretch.
func (r *Responder) checkLiveness() {
	idle := r.liveness.InactiveFor()
	if idle <= r.cfg.InactiveAfter || r.state.Status == session.StatusInactive {
		return
	}
	next := r.state.Clone()
	if err := next.SetStatus(session.StatusInactive, r.policy); err != nil {
		log.Debug().Str("endpoint", r.cfg.Name).Err(err).Msg("responder liveness transition skipped")
		return
	}
	r.state = next
	observability.RecordInactive(r.cfg.Name)
	log.Info().
		Str("endpoint", r.cfg.Name).
		Dur("idle", idle).
		Msg("responder session inactive")
	_ = r.report(nil)
}

func (r *Responder) fail(err error) {
	kind := errorKind(err)
	observability.RecordProtocolError(r.cfg.Name, kind)
	log.Error().Str("endpoint", r.cfg.Name).Str("kind", kind).Err(err).Msg("responder protocol error")
	if r.cfg.OnError != nil {
		r.cfg.OnError(err)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUntrustedSource):
		return "untrusted_source"
	case errors.Is(err, protocol.ErrMissingRequest):
		return "missing_request"
	case errors.Is(err, protocol.ErrUnknownRequest):
		return "unknown_request"
	case errors.Is(err, protocol.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, session.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, session.ErrInvalidPatch):
		return "invalid_patch"
	default:
		return "handler"
	}
}
