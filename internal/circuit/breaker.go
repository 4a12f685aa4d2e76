// Package circuit provides per-backend circuit breakers for provider
// adapters. A backend that keeps failing uploads is skipped outright for a
// cooldown period instead of being retried on every request, so the fallback
// chain moves on immediately.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platewise/imagegate/pkg/types"
)

// State is the breaker state for one backend.
type State int

const (
	// StateClosed passes requests through and counts failures.
	StateClosed State = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe requests through.
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

// ErrOpen is returned by Allow when the backend's breaker is open.
var ErrOpen = errors.New("circuit open")

// Config tunes breaker behavior. The zero value is replaced with defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker open.
	FailureThreshold uint32

	// Cooldown is how long an open breaker rejects requests before
	// allowing probes.
	Cooldown time.Duration

	// HalfOpenProbes is how many requests may pass while half-open.
	HalfOpenProbes uint32

	// IsFailure decides whether an error counts against the backend.
	// Defaults to counting every error except context cancellation, which
	// says nothing about backend health.
	IsFailure func(err error) bool

	// OnStateChange, if set, is called after every transition.
	OnStateChange func(backend types.Backend, from, to State)
}

// DefaultConfig returns the breaker settings used by the storage service.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenProbes:   1,
	}
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.HalfOpenProbes == 0 {
		c.HalfOpenProbes = def.HalfOpenProbes
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
}

// Breaker guards calls to a single backend.
type Breaker struct {
	backend types.Backend
	config  Config

	mu          sync.Mutex
	state       State
	consecutive uint32
	probes      uint32
	openedAt    time.Time
	openings    uint64
}

// NewBreaker creates a closed breaker for one backend.
func NewBreaker(backend types.Backend, cfg Config) *Breaker {
	cfg.fillDefaults()
	return &Breaker{
		backend: backend,
		config:  cfg,
		state:   StateClosed,
	}
}

// Allow reports whether a request may proceed. It returns ErrOpen while the
// breaker is open and its cooldown has not elapsed. Callers that get a nil
// error must follow up with Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked(time.Now()) {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.probes >= b.config.HalfOpenProbes {
			return ErrOpen
		}
		b.probes++
	}
	return nil
}

// Record feeds the outcome of an allowed request back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.stateLocked(now)

	if !b.config.IsFailure(err) {
		b.consecutive = 0
		if state == StateHalfOpen {
			b.transitionLocked(StateClosed, now)
		}
		return
	}

	switch state {
	case StateClosed:
		b.consecutive++
		if b.consecutive >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen, now)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen, now)
	}
}

// State returns the current state, resolving an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(time.Now())
}

// Reset force-closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.probes = 0
	if b.state != StateClosed {
		b.transitionLocked(StateClosed, time.Now())
	}
}

// stateLocked resolves open→half-open when the cooldown has elapsed.
// Callers hold b.mu.
func (b *Breaker) stateLocked(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.config.Cooldown {
		b.transitionLocked(StateHalfOpen, now)
	}
	return b.state
}

func (b *Breaker) transitionLocked(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probes = 0
	switch to {
	case StateOpen:
		b.openedAt = now
		b.openings++
	case StateClosed:
		b.consecutive = 0
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.backend, from, to)
	}
}

// Stats is a point-in-time view of one breaker for health reporting.
type Stats struct {
	State               string `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	Openings            uint64 `json:"openings"`
}

// Set holds one breaker per backend, created lazily.
type Set struct {
	mu       sync.RWMutex
	breakers map[types.Backend]*Breaker
	config   Config
}

// NewSet creates an empty breaker set sharing one configuration.
func NewSet(cfg Config) *Set {
	cfg.fillDefaults()
	return &Set{
		breakers: make(map[types.Backend]*Breaker),
		config:   cfg,
	}
}

// For returns the breaker for backend, creating it on first use.
func (s *Set) For(backend types.Backend) *Breaker {
	s.mu.RLock()
	br, ok := s.breakers[backend]
	s.mu.RUnlock()
	if ok {
		return br
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if br, ok := s.breakers[backend]; ok {
		return br
	}
	br = NewBreaker(backend, s.config)
	s.breakers[backend] = br
	return br
}

// Snapshot returns current stats for every breaker that has been used.
func (s *Set) Snapshot() map[types.Backend]Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.Backend]Stats, len(s.breakers))
	for backend, br := range s.breakers {
		br.mu.Lock()
		state := br.stateLocked(time.Now())
		out[backend] = Stats{
			State:               state.String(),
			ConsecutiveFailures: br.consecutive,
			Openings:            br.openings,
		}
		br.mu.Unlock()
	}
	return out
}

// ResetAll closes every breaker.
func (s *Set) ResetAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, br := range s.breakers {
		br.Reset()
	}
}
