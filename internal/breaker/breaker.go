// Package breaker provides per-service-class circuit breaking for remote
// provider calls. Each logical service class (reviews, posts, insights,
// searchkeywords, accounts, locations) gets its own breaker so a failing
// endpoint does not block the others.
package breaker

import (
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/johndauphine/bizsync/internal/logging"
)

// Settings configures breakers created by a Registry.
type Settings struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold uint32

	// Cooldown is how long the circuit stays open before a half-open probe.
	Cooldown time.Duration
}

// DefaultSettings matches the provider API's tolerance: open after 5
// consecutive failures, probe again after 60 seconds.
func DefaultSettings() Settings {
	return Settings{Threshold: 5, Cooldown: 60 * time.Second}
}

// Registry holds one circuit breaker per service class, created lazily.
type Registry struct {
	mu       sync.Mutex
	settings Settings
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewRegistry creates a registry with the given settings. Zero values fall
// back to DefaultSettings.
func NewRegistry(s Settings) *Registry {
	def := DefaultSettings()
	if s.Threshold == 0 {
		s.Threshold = def.Threshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = def.Cooldown
	}
	return &Registry{
		settings: s,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (r *Registry) breaker(class string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[class]; ok {
		return cb
	}

	threshold := r.settings.Threshold
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        class,
		MaxRequests: 1, // exactly one probe in half-open state
		Timeout:     r.settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Circuit breaker %s: %s -> %s", name, stateString(from), stateString(to))
		},
	})
	r.breakers[class] = cb
	return cb
}

// Execute runs op through the breaker for the given service class. When the
// circuit is open it fails immediately without invoking op.
func (r *Registry) Execute(class string, op func() (any, error)) (any, error) {
	return r.breaker(class).Execute(op)
}

// State returns the current breaker state for a service class.
func (r *Registry) State(class string) string {
	return stateString(r.breaker(class).State())
}

// IsOpen reports whether err came from an open (or probing) circuit rather
// than from the wrapped operation itself.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Execute runs a typed operation through the registry's breaker for class.
func Execute[T any](r *Registry, class string, op func() (T, error)) (T, error) {
	result, err := r.Execute(class, func() (any, error) {
		return op()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		var zero T
		return zero, errors.New("circuit breaker: unexpected result type")
	}
	return typed, nil
}

func stateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
