// Package breaker keeps one circuit per model so a failing model is skipped
// until it has had time to recover.
package breaker

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// State represents the state of a model's circuit.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the cool-down has elapsed.
	Open
	// HalfOpen admits a single probe call.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, c := range []State{Closed, Open, HalfOpen} {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown circuit state %q", text)
}

// Config configures breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens a circuit.
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit waits before a probe.
	RecoveryTimeout time.Duration
	// OnStateChange is called after a circuit changes state, outside the lock.
	OnStateChange func(model string, from, to State)
}

// DefaultConfig returns 5 failures / 60s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Snapshot is a point-in-time view of one circuit.
type Snapshot struct {
	Model       string    `json:"model"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	NextAttempt time.Time `json:"next_attempt,omitempty"`
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
	nextAttempt time.Time
	probeSince  time.Time
	probing     bool
}

// Breaker tracks circuits for many models. Circuits are created on the
// first recorded failure; unknown models are closed.
type Breaker struct {
	config   Config
	mu       sync.Mutex
	circuits map[string]*circuit
	nowFunc  func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.nowFunc = now }
}

// New creates a breaker. Zero config fields take the defaults.
func New(cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	b := &Breaker{
		config:   cfg,
		circuits: make(map[string]*circuit),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type transition struct {
	model    string
	from, to State
}

func (b *Breaker) notify(t *transition) {
	if t != nil && b.config.OnStateChange != nil {
		b.config.OnStateChange(t.model, t.from, t.to)
	}
}

// CanAttempt reports whether a call to model may proceed. An open circuit
// whose cool-down has passed moves to half-open and admits one probe; further
// calls are refused until the probe's outcome is recorded.
func (b *Breaker) CanAttempt(model string) bool {
	allowed, _ := b.Allow(model)
	return allowed
}

// Allow is CanAttempt that also reports whether the caller now holds the
// half-open probe. A probe holder must record an outcome or call Release.
func (b *Breaker) Allow(model string) (allowed, probe bool) {
	b.mu.Lock()
	c, ok := b.circuits[model]
	if !ok {
		b.mu.Unlock()
		return true, false
	}

	now := b.nowFunc()
	var t *transition
	switch c.state {
	case Closed:
		allowed = true
	case Open:
		if !now.Before(c.nextAttempt) {
			t = &transition{model: model, from: Open, to: HalfOpen}
			c.state = HalfOpen
			c.probing = true
			c.probeSince = now
			allowed, probe = true, true
		}
	case HalfOpen:
		// A probe whose outcome never arrived does not block forever.
		if !c.probing || now.Sub(c.probeSince) >= b.config.RecoveryTimeout {
			c.probing = true
			c.probeSince = now
			allowed, probe = true, true
		}
	}
	b.mu.Unlock()

	b.notify(t)
	return allowed, probe
}

// Release hands back a half-open probe that ended without an outcome, so the
// next caller may probe at once.
func (b *Breaker) Release(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[model]; ok && c.state == HalfOpen {
		c.probing = false
	}
}

// RecordSuccess closes the circuit and resets its failure count.
func (b *Breaker) RecordSuccess(model string) {
	b.mu.Lock()
	c, ok := b.circuits[model]
	if !ok {
		b.mu.Unlock()
		return
	}
	var t *transition
	if c.state != Closed {
		t = &transition{model: model, from: c.state, to: Closed}
	}
	c.state = Closed
	c.failures = 0
	c.probing = false
	b.mu.Unlock()

	b.notify(t)
}

// RecordFailure counts a failure. The circuit opens when the count reaches
// the threshold, and a failed half-open probe reopens it with a fresh
// cool-down.
func (b *Breaker) RecordFailure(model string) {
	b.mu.Lock()
	c, ok := b.circuits[model]
	if !ok {
		c = &circuit{state: Closed}
		b.circuits[model] = c
	}

	now := b.nowFunc()
	c.failures++
	c.lastFailure = now

	var t *transition
	switch c.state {
	case Closed:
		if c.failures >= b.config.FailureThreshold {
			t = &transition{model: model, from: Closed, to: Open}
			c.state = Open
			c.nextAttempt = now.Add(b.config.RecoveryTimeout)
		}
	case HalfOpen:
		t = &transition{model: model, from: HalfOpen, to: Open}
		c.state = Open
		c.probing = false
		c.nextAttempt = now.Add(b.config.RecoveryTimeout)
	}
	b.mu.Unlock()

	b.notify(t)
}

// State returns the current state of model's circuit.
func (b *Breaker) State(model string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[model]; ok {
		return c.state
	}
	return Closed
}

// Snapshot returns every known circuit sorted by model.
func (b *Breaker) Snapshot() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Snapshot, 0, len(b.circuits))
	for model, c := range b.circuits {
		out = append(out, Snapshot{
			Model:       model,
			State:       c.state,
			Failures:    c.failures,
			LastFailure: c.lastFailure,
			NextAttempt: c.nextAttempt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Reset forgets model's circuit.
func (b *Breaker) Reset(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, model)
}
