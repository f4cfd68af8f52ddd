package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/remotectl/internal/protocol"
	"github.com/danmuck/remotectl/internal/testutil/testlog"
	"github.com/facebookgo/clock"
)

func TestNewStateDefaults(t *testing.T) {
	testlog.Start(t)
	s := NewState()
	if s.Status != StatusWaiting || s.Episode != 1 || s.Passage != 0 || s.Score != 0 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestApplyMergesKnownAndExtraFields(t *testing.T) {
	testlog.Start(t)
	s := NewState()
	err := s.Apply(Patch{
		"status":     "active",
		"episode":    json.Number("3"),
		"passage":    4,
		"score":      12.5,
		"inactivity": 999,
		"level":      "hard",
	}, Permissive)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.Status != StatusActive || s.Episode != 3 || s.Passage != 4 || s.Score != 12.5 {
		t.Fatalf("unexpected state: %+v", s)
	}
	if s.Extra["level"] != "hard" {
		t.Fatalf("extra field missing: %+v", s.Extra)
	}
	if _, ok := s.Extra["inactivity"]; ok {
		t.Fatalf("inactivity must not be stored")
	}
}

func TestApplyIsAtomic(t *testing.T) {
	testlog.Start(t)
	s := NewState()
	before := s.Clone()
	cases := []Patch{
		{"score": 5, "episode": -1},
		{"score": 5, "status": "paused"},
		{"score": 5, "request": "play"},
		{"score": 5, "nested": map[string]any{"a": 1}},
		{"score": "many"},
	}
	for _, p := range cases {
		if err := s.Apply(p, Permissive); !errors.Is(err, ErrInvalidPatch) {
			t.Fatalf("patch %+v expected ErrInvalidPatch, got %v", p, err)
		}
		if s.Status != before.Status || s.Score != before.Score || s.Episode != before.Episode || len(s.Extra) != 0 {
			t.Fatalf("state mutated by failed patch %+v: %+v", p, s)
		}
	}
}

func TestApplyNilCoreFieldIsNoop(t *testing.T) {
	testlog.Start(t)
	s := NewState()
	s.Score = 9
	if err := s.Apply(Patch{"score": nil, "status": nil}, Permissive); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.Score != 9 || s.Status != StatusWaiting {
		t.Fatalf("nil values should not change state: %+v", s)
	}
}

func TestStrictTransitions(t *testing.T) {
	testlog.Start(t)
	s := NewState()
	if err := s.SetStatus(StatusActive, Strict); err != nil {
		t.Fatalf("waiting->active: %v", err)
	}
	if err := s.SetStatus(StatusInactive, Strict); err != nil {
		t.Fatalf("active->inactive: %v", err)
	}
	if err := s.SetStatus(StatusEnded, Strict); err != nil {
		t.Fatalf("inactive->ended: %v", err)
	}
	if err := s.SetStatus(StatusActive, Strict); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ended->active expected ErrInvalidTransition, got %v", err)
	}
	if err := s.Apply(Patch{"status": "waiting"}, Strict); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ended->waiting expected ErrInvalidTransition, got %v", err)
	}
	if err := s.SetStatus(StatusWaiting, Permissive); err != nil {
		t.Fatalf("permissive policy should accept any transition: %v", err)
	}
}

func TestReportFlattensState(t *testing.T) {
	testlog.Start(t)
	s := NewState()
	s.Extra = protocol.Message{"status": "shadowed", "level": 2}
	msg := s.Report(7)
	if msg[protocol.FieldStatus] != "waiting" {
		t.Fatalf("core status must win over extra: %+v", msg)
	}
	if msg[protocol.FieldInactivity] != 7 || msg["level"] != 2 {
		t.Fatalf("unexpected report: %+v", msg)
	}
	if _, ok := msg[protocol.FieldRequest]; ok {
		t.Fatalf("reports carry no request field")
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("report should be a flat record: %v", err)
	}
}

func TestLivenessInactiveSeconds(t *testing.T) {
	testlog.Start(t)
	mock := clock.NewMock()
	l := NewLiveness(mock)
	if got := l.InactiveSeconds(); got != 0 {
		t.Fatalf("fresh tracker got=%d", got)
	}
	mock.Add(2900 * time.Millisecond)
	if got := l.InactiveSeconds(); got != 2 {
		t.Fatalf("expected floor to 2, got %d", got)
	}
	l.Touch()
	if got := l.InactiveSeconds(); got != 0 {
		t.Fatalf("touch should reset, got %d", got)
	}
	if !l.Last().Equal(mock.Now()) {
		t.Fatalf("last should equal now after touch")
	}
}
