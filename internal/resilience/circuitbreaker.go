// Package resilience shields the pipeline from unhealthy inference backends.
//
// A transcription or extraction backend that goes down mid-intake would
// otherwise be hammered by every case in a batch. [Breaker] is a three-state
// circuit breaker (closed, open, half-open) that rejects calls to a backend
// after repeated failures, and [FallbackGroup] routes around an open breaker
// to the next configured backend.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker is open and
// the cooldown has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker state defaults. Testimony processing tolerates latency but not
// repeated dead-backend timeouts, so the breaker trips early and probes
// cautiously.
const (
	defaultMaxFailures = 3
	defaultCooldown    = 20 * time.Second
	defaultProbeBudget = 2
)

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. All probes
	// succeeding closes the breaker; any probe failing re-opens it.
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

// BreakerConfig tunes a [Breaker]. Zero fields take the package defaults.
type BreakerConfig struct {
	// Backend is the backend label carried in log messages.
	Backend string

	// MaxFailures is how many consecutive failures open the breaker.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	// ProbeBudget is how many half-open probes must succeed to close.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker around one backend.
type Breaker struct {
	backend     string
	maxFailures int
	cooldown    time.Duration
	probeBudget int

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	probeErr bool
}

// NewBreaker creates a closed [Breaker], filling zero config fields with the
// package defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = defaultProbeBudget
	}
	return &Breaker{
		backend:     cfg.Backend,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
	}
}

// Do runs fn unless the breaker is open. In the half-open state only the
// probe budget's worth of calls get through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeErr = false
		slog.Info("backend breaker probing", "backend", b.backend)

	case StateHalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.noteFailure(probing)
	} else {
		b.noteSuccess(probing)
	}
	return err
}

// noteFailure updates state after a failed call. Caller holds b.mu.
func (b *Breaker) noteFailure(probing bool) {
	b.openedAt = time.Now()

	if probing {
		b.probeErr = true
		b.state = StateOpen
		b.failures = b.maxFailures
		slog.Warn("backend breaker re-opened after failed probe", "backend", b.backend)
		return
	}

	b.failures++
	if b.failures >= b.maxFailures {
		b.state = StateOpen
		slog.Warn("backend breaker opened",
			"backend", b.backend,
			"consecutive_failures", b.failures)
	}
}

// noteSuccess updates state after a successful call. Caller holds b.mu.
func (b *Breaker) noteSuccess(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	if !b.probeErr && b.probes >= b.probeBudget {
		b.state = StateClosed
		b.failures = 0
		b.probes = 0
		slog.Info("backend breaker closed", "backend", b.backend)
	}
}

// State reports the breaker's current mode. An open breaker whose cooldown
// has elapsed reports [StateHalfOpen]; the transition itself happens on the
// next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeErr = false
	slog.Info("backend breaker reset", "backend", b.backend)
}
