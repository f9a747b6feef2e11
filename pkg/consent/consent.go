// Package consent tracks the privacy consent value that decides whether,
// and where, events may be persisted.
package consent

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"telemetrycore/pkg/logger"
)

// State is the tracking consent value.
type State int

const (
	Pending State = iota
	Granted
	NotGranted
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case NotGranted:
		return "not_granted"
	default:
		return "pending"
	}
}

// Parse reads the textual form used in configuration and the HTTP surface.
func Parse(v string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "granted":
		return Granted, nil
	case "not_granted", "notgranted", "denied":
		return NotGranted, nil
	case "pending", "":
		return Pending, nil
	}
	return Pending, fmt.Errorf("unknown consent value %q", v)
}

// Subscriber reacts to a consent transition. It runs while the gate is
// exclusively held, so no write observes a half-applied transition.
// Subscribers must not call Hold or Set.
type Subscriber interface {
	ConsentChanged(from, to State)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(from, to State)

func (f SubscriberFunc) ConsentChanged(from, to State) { f(from, to) }

// Gate holds the current consent. Writers Hold it for the duration of one
// write; Set waits for held writes to finish before switching state.
type Gate struct {
	mu    sync.RWMutex
	state State
	// mirror is state readable without mu. Set stores it under the write
	// lock, after subscribers ran.
	mirror atomic.Int32

	subsMu sync.Mutex
	subs   []Subscriber
}

// NewGate returns a gate starting in initial.
func NewGate(initial State) *Gate {
	g := &Gate{state: initial}
	g.mirror.Store(int32(initial))
	return g
}

// Current returns the last committed state without touching the lock, so it
// is safe to call while a Hold is outstanding on the same goroutine.
func (g *Gate) Current() State {
	return State(g.mirror.Load())
}

// Hold pins the current state until release is called.
func (g *Gate) Hold() (State, func()) {
	g.mu.RLock()
	return g.state, g.mu.RUnlock
}

// Subscribe registers s for future transitions.
func (g *Gate) Subscribe(s Subscriber) {
	g.subsMu.Lock()
	g.subs = append(g.subs, s)
	g.subsMu.Unlock()
}

// Set switches to next. Same-state calls are no-ops. Subscribers are
// notified in registration order before Set returns.
func (g *Gate) Set(next State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.state
	if prev == next {
		return
	}
	g.state = next
	logger.Info("consent_changed", "from", prev.String(), "to", next.String())

	g.subsMu.Lock()
	subs := append([]Subscriber(nil), g.subs...)
	g.subsMu.Unlock()
	for _, s := range subs {
		s.ConsentChanged(prev, next)
	}
	g.mirror.Store(int32(next))
}
