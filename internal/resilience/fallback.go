package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// Breaker is the per-backend breaker configuration. The backend label is
	// filled in per entry.
	Breaker BreakerConfig

	// OnAttempt, when set, is called after every real backend attempt with
	// the backend name and its outcome. Attempts skipped by an open breaker
	// are not reported. Used to feed request and error counters.
	OnAttempt func(backend string, err error)
}

type groupEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup holds an ordered list of interchangeable backends, each with
// its own [Breaker]. Calls go to the first backend whose breaker admits them;
// on failure the next backend is tried with the same arguments.
//
// FallbackGroup is safe for concurrent use once assembled; AddFallback is not
// safe to race with calls.
type FallbackGroup[T any] struct {
	entries []groupEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as the first backend.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends a backend tried after all earlier entries.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	bc := fg.cfg.Breaker
	bc.Backend = name
	fg.entries = append(fg.entries, groupEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(bc),
	})
}

// ExecuteWithResult tries fn against each backend in order until one
// succeeds. Backends with an open breaker are skipped. Returns [ErrAllFailed]
// wrapping the last error when no backend succeeds. A package-level function
// because Go methods cannot carry their own type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if !errors.Is(err, ErrCircuitOpen) && fg.cfg.OnAttempt != nil {
			fg.cfg.OnAttempt(entry.name, err)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("backend skipped, breaker open", "backend", entry.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
