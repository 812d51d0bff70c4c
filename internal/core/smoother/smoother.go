// Package smoother debounces raw per stall occupancy into a stable state
package smoother

import (
	"time"

	"stallwatch/internal/platform/config"
	perr "stallwatch/internal/platform/errors"
)

// State is the debounced stall state
type State uint8

const (
	Unknown State = iota
	Open
	Occupied
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Occupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its lowercase name
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the names produced by MarshalText
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unknown", "":
		*s = Unknown
	case "open":
		*s = Open
	case "occupied":
		*s = Occupied
	default:
		return perr.InvalidArgf("unknown stall state %q", string(b))
	}
	return nil
}

func stateOf(occupied bool) State {
	if occupied {
		return Occupied
	}
	return Open
}

// Config sizes the window (K) and the agreement run (M)
type Config struct {
	Window int
	Agree  int
}

// DefaultConfig is K=5, M=3
func DefaultConfig() Config { return Config{Window: 5, Agree: 3} }

// ConfigFrom reads DETECT_WINDOW and DETECT_AGREE
func ConfigFrom(c config.Conf) Config {
	d := DefaultConfig()
	return Config{
		Window: c.MayInt("WINDOW", d.Window),
		Agree:  c.MayInt("AGREE", d.Agree),
	}
}

// Validate enforces 1 <= M <= K
func (c Config) Validate() error {
	switch {
	case c.Window < 1:
		return perr.WithField(perr.Configf("window %d must be at least 1", c.Window), "window")
	case c.Agree < 1:
		return perr.WithField(perr.Configf("agree %d must be at least 1", c.Agree), "agree")
	case c.Agree > c.Window:
		return perr.WithField(perr.Configf("agree %d exceeds window %d", c.Agree, c.Window), "agree")
	}
	return nil
}

// Track holds the window for one stall
type Track struct {
	k, m  int
	buf   []bool // ring, oldest at head
	head  int
	n     int
	state State
	since time.Time
}

// NewTrack returns an unknown track; cfg must be valid
func NewTrack(cfg Config) *Track {
	return &Track{k: cfg.Window, m: cfg.Agree, buf: make([]bool, cfg.Window)}
}

// State is the debounced state
func (t *Track) State() State { return t.state }

// Since is when the state last changed; zero while unknown
func (t *Track) Since() time.Time { return t.since }

// Observe pushes one raw value and reports whether the state changed
func (t *Track) Observe(occupied bool, at time.Time) bool {
	if t.n < t.k {
		t.buf[(t.head+t.n)%t.k] = occupied
		t.n++
	} else {
		t.buf[t.head] = occupied
		t.head = (t.head + 1) % t.k
	}
	if t.n < t.m {
		return false
	}
	for i := 1; i < t.m; i++ {
		if t.at(t.n-1-i) != occupied {
			return false
		}
	}
	next := stateOf(occupied)
	if next == t.state {
		return false
	}
	t.state, t.since = next, at
	return true
}

func (t *Track) at(i int) bool { return t.buf[(t.head+i)%t.k] }

func (t *Track) reset() {
	t.head, t.n = 0, 0
	t.state, t.since = Unknown, time.Time{}
}
