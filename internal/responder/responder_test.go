package responder

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/remotectl/internal/observability"
	"github.com/danmuck/remotectl/internal/protocol"
	"github.com/danmuck/remotectl/internal/session"
	"github.com/danmuck/remotectl/internal/testutil/testlog"
	"github.com/danmuck/remotectl/internal/transport"
)

type fakeLink struct {
	mu     sync.Mutex
	opener transport.Source
	posted []protocol.Message
	ready  int
	events chan transport.Event
	done   chan struct{}
	once   sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		opener: transport.NewSource("host"),
		events: make(chan transport.Event, 8),
		done:   make(chan struct{}),
	}
}

func (l *fakeLink) Post(msg protocol.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.posted = append(l.posted, msg.Clone())
	return nil
}

func (l *fakeLink) Events() <-chan transport.Event { return l.events }
func (l *fakeLink) Opener() transport.Source       { return l.opener }
func (l *fakeLink) Done() <-chan struct{}          { return l.done }

func (l *fakeLink) Ready() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready++
	return nil
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *fakeLink) readyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

func (l *fakeLink) reports() []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Message(nil), l.posted...)
}

func noopPlay(context.Context, protocol.Play) (session.Patch, error) {
	return nil, nil
}

func newTestResponder(t *testing.T, cfg Config) (*Responder, *fakeLink, *clock.Mock) {
	t.Helper()
	link := newFakeLink()
	mock := clock.NewMock()
	if cfg.Play == nil {
		cfg.Play = noopPlay
	}
	cfg.Clock = mock
	r, err := New(link, cfg)
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	return r, link, mock
}

func (l *fakeLink) fromOpener(msg protocol.Message) transport.Event {
	return transport.Event{Source: l.opener, Data: msg}
}

func TestNewValidatesConfig(t *testing.T) {
	testlog.Start(t)
	if _, err := New(newFakeLink(), Config{}); !errors.Is(err, ErrPlayHandlerRequired) {
		t.Fatalf("expected ErrPlayHandlerRequired, got %v", err)
	}
	if _, err := New(nil, Config{Play: noopPlay}); !errors.Is(err, ErrLinkRequired) {
		t.Fatalf("expected ErrLinkRequired, got %v", err)
	}
	r, err := New(newFakeLink(), Config{Play: noopPlay})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if r.cfg.CheckInterval != DefaultCheckInterval || r.cfg.InactiveAfter != DefaultInactiveAfter {
		t.Fatalf("defaults not applied: %+v", r.cfg)
	}
}

func TestUnknownRequestLeavesStateUnchanged(t *testing.T) {
	testlog.Start(t)
	var got []error
	r, link, _ := newTestResponder(t, Config{OnError: func(err error) { got = append(got, err) }})
	before := r.state.Clone()

	r.handle(context.Background(), link.fromOpener(protocol.Message{protocol.FieldRequest: "pause", "episode": 9}))

	if len(got) != 1 || !errors.Is(got[0], protocol.ErrUnknownRequest) {
		t.Fatalf("expected one ErrUnknownRequest, got %v", got)
	}
	if r.state.Status != before.Status || r.state.Episode != before.Episode || r.state.Passage != before.Passage {
		t.Fatalf("state mutated: %+v", r.state)
	}
	if n := len(link.reports()); n != 0 {
		t.Fatalf("expected no reports, got %d", n)
	}
}

func TestPlaySetsPositionAndReports(t *testing.T) {
	testlog.Start(t)
	var calls []protocol.Play
	r, link, mock := newTestResponder(t, Config{
		Play: func(_ context.Context, p protocol.Play) (session.Patch, error) {
			calls = append(calls, p)
			return session.Patch{"level": "two"}, nil
		},
	})
	mock.Add(4 * time.Second)

	r.handle(context.Background(), link.fromOpener(protocol.PlayCommand(2, 5)))

	if len(calls) != 1 || calls[0] != (protocol.Play{Episode: 2, Passage: 5}) {
		t.Fatalf("unexpected handler calls: %+v", calls)
	}
	reports := link.reports()
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	rep := reports[0]
	if rep[protocol.FieldEpisode] != 2 || rep[protocol.FieldPassage] != 5 || rep[protocol.FieldStatus] != "active" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep[protocol.FieldInactivity] != 0 {
		t.Fatalf("inactivity should be fresh after inbound play, got %v", rep[protocol.FieldInactivity])
	}
	if rep["level"] != "two" {
		t.Fatalf("handler patch not merged: %+v", rep)
	}
	if _, ok := rep[protocol.FieldRequest]; ok {
		t.Fatalf("report must not carry a request field: %+v", rep)
	}
}

func TestStartPlaysFirstEpisode(t *testing.T) {
	testlog.Start(t)
	var got protocol.Play
	r, link, _ := newTestResponder(t, Config{
		Play: func(_ context.Context, p protocol.Play) (session.Patch, error) {
			got = p
			return nil, nil
		},
	})
	r.state.Episode = 4
	r.handle(context.Background(), link.fromOpener(protocol.NewCommand(protocol.RequestStart, nil)))
	if got != (protocol.Play{Episode: 1, Passage: 0}) || r.state.Episode != 1 {
		t.Fatalf("start should play(1, 0): handler=%+v state=%+v", got, r.state)
	}
}

func TestPlayHandlerErrorLeavesState(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("asset missing")
	var got error
	r, link, _ := newTestResponder(t, Config{
		Play: func(context.Context, protocol.Play) (session.Patch, error) {
			return nil, boom
		},
		OnError: func(err error) { got = err },
	})
	r.handle(context.Background(), link.fromOpener(protocol.PlayCommand(3, 1)))
	if !errors.Is(got, boom) {
		t.Fatalf("expected handler error, got %v", got)
	}
	if r.state.Episode != protocol.DefaultEpisode || r.state.Status != session.StatusWaiting {
		t.Fatalf("state mutated on handler failure: %+v", r.state)
	}
	if len(link.reports()) != 0 {
		t.Fatalf("no report expected on failure")
	}
}

func TestReportTwiceOnlyInactivityAdvances(t *testing.T) {
	testlog.Start(t)
	r, link, mock := newTestResponder(t, Config{})
	if err := r.Report(context.Background(), nil); err != nil {
		t.Fatalf("report: %v", err)
	}
	mock.Add(2 * time.Second)
	if err := r.Report(context.Background(), nil); err != nil {
		t.Fatalf("report: %v", err)
	}
	reports := link.reports()
	if len(reports) != 2 {
		t.Fatalf("expected two reports, got %d", len(reports))
	}
	first, second := reports[0], reports[1]
	for _, k := range first.Keys() {
		if k == protocol.FieldInactivity {
			continue
		}
		if first[k] != second[k] {
			t.Fatalf("field %s changed: %v -> %v", k, first[k], second[k])
		}
	}
	a, b := first[protocol.FieldInactivity].(int), second[protocol.FieldInactivity].(int)
	if a != 0 || b != 2 {
		t.Fatalf("expected inactivity 0 then 2, got %d then %d", a, b)
	}
}

func TestUpdateMergesAndRefreshesLiveness(t *testing.T) {
	testlog.Start(t)
	r, link, mock := newTestResponder(t, Config{})
	mock.Add(30 * time.Second)
	if err := r.Update(context.Background(), session.Patch{protocol.FieldScore: 50}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rep := link.reports()[0]
	if rep[protocol.FieldScore] != float64(50) || rep[protocol.FieldInactivity] != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if err := r.Update(context.Background(), session.Patch{protocol.FieldRequest: "play"}); !errors.Is(err, session.ErrInvalidPatch) {
		t.Fatalf("expected ErrInvalidPatch, got %v", err)
	}
}

func TestLivenessTimeoutReportsOnce(t *testing.T) {
	testlog.Start(t)
	r, link, mock := newTestResponder(t, Config{})

	mock.Add(DefaultInactiveAfter)
	r.checkLiveness()
	if len(link.reports()) != 0 {
		t.Fatalf("no report expected at exactly the threshold")
	}

	mock.Add(time.Second)
	r.checkLiveness()
	r.checkLiveness()
	mock.Add(DefaultCheckInterval)
	r.checkLiveness()

	reports := link.reports()
	if len(reports) != 1 {
		t.Fatalf("expected exactly one inactive report, got %d", len(reports))
	}
	if reports[0][protocol.FieldStatus] != "inactive" || reports[0][protocol.FieldInactivity] != 301 {
		t.Fatalf("unexpected inactive report: %+v", reports[0])
	}

	r.handle(context.Background(), link.fromOpener(protocol.PlayCommand(1, 1)))
	if r.state.Status != session.StatusActive {
		t.Fatalf("play should reactivate, got %s", r.state.Status)
	}
}

func TestRunTickerFlagsInactiveOnce(t *testing.T) {
	testlog.Start(t)
	r, link, mock := newTestResponder(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()
	for link.readyCount() == 0 {
		if ctx.Err() != nil {
			t.Fatalf("responder never signalled ready")
		}
		time.Sleep(time.Millisecond)
	}

	mock.Add(DefaultCheckInterval)
	mock.Add(DefaultCheckInterval)

	for len(link.reports()) == 0 {
		if ctx.Err() != nil {
			t.Fatalf("no inactive report after two ticks")
		}
		time.Sleep(time.Millisecond)
	}
	mock.Add(DefaultCheckInterval)
	time.Sleep(20 * time.Millisecond)

	state, err := r.State(ctx)
	if err != nil || state.Status != session.StatusInactive {
		t.Fatalf("expected inactive state, got=%+v err=%v", state, err)
	}
	reports := link.reports()
	if len(reports) != 1 {
		t.Fatalf("expected exactly one inactive report, got %d", len(reports))
	}
	if reports[0][protocol.FieldStatus] != "inactive" || reports[0][protocol.FieldInactivity] != 600 {
		t.Fatalf("unexpected inactive report: %+v", reports[0])
	}

	r.Stop()
	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestJunkRequestsShareOneMetricSeries(t *testing.T) {
	testlog.Start(t)
	r, link, _ := newTestResponder(t, Config{Name: "junk-flood", OnError: func(error) {}})

	for i := 0; i < 500; i++ {
		msg := protocol.Message{protocol.FieldRequest: "junk-" + strconv.Itoa(i)}
		r.handle(context.Background(), link.fromOpener(msg))
	}
	r.handle(context.Background(), link.fromOpener(protocol.Message{"note": "no request"}))

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	labels := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "remotectl_protocol_messages_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var endpoint, direction, request string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "endpoint":
					endpoint = lp.GetValue()
				case "direction":
					direction = lp.GetValue()
				case "request":
					request = lp.GetValue()
				}
			}
			if endpoint == "junk-flood" && direction == observability.DirectionIn {
				labels[request] = m.GetCounter().GetValue()
			}
		}
	}
	if len(labels) != 2 || labels[protocol.LabelUnknown] != 500 || labels[protocol.LabelNone] != 1 {
		t.Fatalf("expected bounded request labels, got %v", labels)
	}
}

func TestUntrustedSourceRejected(t *testing.T) {
	testlog.Start(t)
	var got error
	var sink bytes.Buffer
	r, link, mock := newTestResponder(t, Config{Log: &sink, OnError: func(err error) { got = err }})
	mock.Add(10 * time.Second)

	stranger := transport.NewSource(link.opener.Label)
	r.handle(context.Background(), transport.Event{Source: stranger, Data: protocol.PlayCommand(7, 7)})

	if !errors.Is(got, ErrUntrustedSource) {
		t.Fatalf("expected ErrUntrustedSource, got %v", got)
	}
	if r.state.Episode != protocol.DefaultEpisode || len(link.reports()) != 0 {
		t.Fatalf("untrusted message was dispatched: %+v", r.state)
	}
	if r.liveness.InactiveSeconds() != 10 {
		t.Fatalf("untrusted message refreshed liveness")
	}
	if !strings.Contains(sink.String(), "<span>from:</span>host") {
		t.Fatalf("message log should still record the message: %q", sink.String())
	}
}

func TestStrictTransitionsRejectEndedReplay(t *testing.T) {
	testlog.Start(t)
	var got []error
	r, link, _ := newTestResponder(t, Config{
		StrictTransitions: true,
		End:               func(context.Context) error { return nil },
		OnError:           func(err error) { got = append(got, err) },
	})
	ctx := context.Background()
	r.handle(ctx, link.fromOpener(protocol.PlayCommand(1, 0)))
	r.handle(ctx, link.fromOpener(protocol.NewCommand(protocol.RequestEnd, nil)))
	r.handle(ctx, link.fromOpener(protocol.PlayCommand(2, 0)))

	if len(got) != 1 || !errors.Is(got[0], session.ErrInvalidTransition) {
		t.Fatalf("expected one ErrInvalidTransition, got %v", got)
	}
	if r.state.Status != session.StatusEnded || r.state.Episode != 1 {
		t.Fatalf("unexpected state: %+v", r.state)
	}
}

func TestEndReportsBeforeEndHandler(t *testing.T) {
	testlog.Start(t)
	var seen int
	r, link, _ := newTestResponder(t, Config{})
	r.cfg.End = func(context.Context) error {
		seen = len(link.reports())
		return nil
	}
	r.handle(context.Background(), link.fromOpener(protocol.NewCommand(protocol.RequestEnd, nil)))
	if seen != 1 {
		t.Fatalf("end handler should run after the ended report, saw %d reports", seen)
	}
	if link.reports()[0][protocol.FieldStatus] != "ended" {
		t.Fatalf("unexpected report: %+v", link.reports()[0])
	}
}

func TestRunServesPairAndDefaultEndCloses(t *testing.T) {
	testlog.Start(t)
	host, game := transport.NewPair(transport.Config{}, "host", "game")
	defer host.Close()

	r, err := New(game, Config{
		Play: func(context.Context, protocol.Play) (session.Patch, error) {
			return session.Patch{protocol.FieldScore: 10}, nil
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	select {
	case <-host.Loaded():
	case <-ctx.Done():
		t.Fatalf("game never signalled load")
	}
	if err := host.Post(protocol.PlayCommand(3, 2)); err != nil {
		t.Fatalf("post: %v", err)
	}
	rep := nextReport(t, ctx, host)
	if episode, _, _ := rep.Int(protocol.FieldEpisode); episode != 3 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if score, _, _ := rep.Float(protocol.FieldScore); score != 10 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	if err := r.Update(ctx, session.Patch{protocol.FieldScore: 50}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rep = nextReport(t, ctx, host)
	if score, _, _ := rep.Float(protocol.FieldScore); score != 50 {
		t.Fatalf("unexpected update report: %+v", rep)
	}

	state, err := r.State(ctx)
	if err != nil || state.Score != 50 {
		t.Fatalf("state snapshot got=%+v err=%v", state, err)
	}

	if err := host.Post(protocol.NewCommand(protocol.RequestEnd, nil)); err != nil {
		t.Fatalf("post end: %v", err)
	}
	rep = nextReport(t, ctx, host)
	if rep[protocol.FieldStatus] != "ended" {
		t.Fatalf("unexpected end report: %+v", rep)
	}
	select {
	case <-r.Done():
	case <-ctx.Done():
		t.Fatalf("responder did not stop after end")
	}
	select {
	case <-host.Done():
	case <-ctx.Done():
		t.Fatalf("host end did not observe close")
	}
	if err := r.Report(ctx, nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after end, got %v", err)
	}
}

func nextReport(t *testing.T, ctx context.Context, host *transport.Conn) protocol.Message {
	t.Helper()
	select {
	case ev, ok := <-host.Events():
		if !ok {
			t.Fatalf("host events closed")
		}
		return ev.Data
	case <-ctx.Done():
		t.Fatalf("timed out waiting for report")
	}
	return nil
}
