package session

import (
	"time"

	"github.com/facebookgo/clock"
)

// Liveness tracks the last inbound contact from the trusted peer.
type Liveness struct {
	clock clock.Clock
	last  time.Time
}

// NewLiveness starts tracking at the clock's current time.
func NewLiveness(c clock.Clock) *Liveness {
	if c == nil {
		c = clock.New()
	}
	return &Liveness{clock: c, last: c.Now()}
}

// Touch records contact now.
func (l *Liveness) Touch() {
	l.last = l.clock.Now()
}

func (l *Liveness) Last() time.Time {
	return l.last
}

func (l *Liveness) InactiveFor() time.Duration {
	d := l.clock.Now().Sub(l.last)
	if d < 0 {
		return 0
	}
	return d
}

// InactiveSeconds is whole seconds since the last contact, rounded down.
func (l *Liveness) InactiveSeconds() int {
	return int(l.InactiveFor() / time.Second)
}
