// Package resilience wraps calls to feed publishers and other remote
// dependencies with per-endpoint circuit breakers and backoff retry.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the remote while its breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the phase of a breaker. The numeric values are exported as the
// circuit breaker gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls when a breaker trips and how it recovers. Zero
// fields take defaults. OnStateChange is called with the breaker's lock
// held and must not block.
type BreakerConfig struct {
	Threshold     int
	Cooldown      time.Duration
	Probes        int
	OnStateChange func(name string, to State)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	return c
}

// Breaker guards one remote endpoint. Threshold consecutive failures open
// it; after Cooldown it lets Probes calls through, and the first of those to
// succeed closes it again.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  int
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
}

// Name is the label the breaker reports its state under.
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker is open. Errors marked BreakerNeutral are
// returned to the caller but count as a healthy answer.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	if IsBreakerNeutral(err) {
		b.record(nil)
	} else {
		b.record(err)
	}
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and forgets its failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.probing = 0, 0
	b.setState(StateClosed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		wait := b.cfg.Cooldown - b.now().Sub(b.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry in %v)", ErrCircuitOpen, b.name, wait.Round(time.Millisecond))
		}
		b.probing = 0
		b.setState(StateHalfOpen)
		slog.Info("circuit half-open, probing", "breaker", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probing >= b.cfg.Probes {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, b.name)
		}
		b.probing++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state == StateHalfOpen {
			slog.Info("circuit closed", "breaker", b.name)
		}
		b.failures, b.probing = 0, 0
		b.setState(StateClosed)
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
		if b.state != StateOpen {
			slog.Warn("circuit opened", "breaker", b.name, "consecutive_failures", b.failures, "error", err)
		}
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, to)
	}
}

// BreakerSet hands out one breaker per key, creating them on first use.
// Breakers are named prefix+key.
type BreakerSet struct {
	prefix string
	cfg    BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewBreakerSet(prefix string, cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{prefix: prefix, cfg: cfg, breakers: make(map[string]*Breaker)}
}

func (s *BreakerSet) For(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(s.prefix+key, s.cfg)
		s.breakers[key] = b
	}
	return b
}

// Open lists the names of breakers currently refusing calls, sorted.
func (s *BreakerSet) Open() []string {
	s.mu.Lock()
	all := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		all = append(all, b)
	}
	s.mu.Unlock()

	var open []string
	for _, b := range all {
		if b.State() != StateClosed {
			open = append(open, b.name)
		}
	}
	sort.Strings(open)
	return open
}
