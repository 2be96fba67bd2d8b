// Package resilience guards calls to external dependencies: a circuit
// breaker that fails fast while a dependency is down, and retry with
// exponential backoff for connecting at startup.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

// ErrCircuitOpen is returned while the breaker rejects calls. It also
// matches apperrors.ErrUnavailable.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", apperrors.ErrUnavailable)

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

type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
}

// CircuitBreaker opens after FailureThreshold consecutive failures. Once
// ResetTimeout has passed it lets HalfOpenMaxRequests probes through; a
// successful probe closes it again.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu               sync.Mutex
	state            State
	failures         int
	openedAt         time.Time
	halfOpenInFlight int
}

// NewCircuitBreaker fills zero config values with defaults.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn unless the circuit is open. Failures caused by the
// caller's own cancellation are not held against the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.release()
		return err
	}
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry in %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.state = StateHalfOpen
		cb.halfOpenInFlight = 0
		cb.logger.Info("circuit half-open")
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
		}
		cb.halfOpenInFlight++
	}
	return nil
}

// release gives back a half-open probe slot without judging the outcome.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		if cb.state == StateHalfOpen {
			cb.logger.Info("circuit closed")
		}
		cb.state = StateClosed
		cb.failures = 0
		cb.halfOpenInFlight = 0
		return
	}

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.trip("probe failed", err)
	case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.trip("failure threshold reached", err)
	}
}

// trip opens the circuit. The caller holds mu.
func (cb *CircuitBreaker) trip(reason string, err error) {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.logger.Warn("circuit opened",
		"reason", reason,
		"consecutive_failures", cb.failures,
		"error", err,
	)
}
