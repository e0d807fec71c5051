package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the breaker's position.
type CircuitState int

const (
	// CircuitClosed admits every request.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects every request until the reset timeout passes.
	CircuitOpen
	// CircuitHalfOpen admits a single probe to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned for requests rejected by an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig tunes a breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed through.
	ResetTimeout time.Duration
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// DefaultCircuitBreakerConfig returns the breaker defaults: open after
// 5 consecutive failures, probe after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{}.withDefaults()
}

// CircuitBreaker guards one downstream host. It opens after a run of
// consecutive failures, rejects requests while open, and admits one
// probe after the reset timeout; the probe's outcome closes or reopens
// the circuit.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool

	// now is swappable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg.withDefaults(),
		state: CircuitClosed,
		now:   time.Now,
	}
}

// Execute runs fn through the breaker. It returns ErrCircuitOpen
// without calling fn when the breaker rejects the request; otherwise
// fn's error is recorded and returned as-is.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// State returns the breaker's effective position: an open breaker whose
// reset timeout has passed reads as half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.setState(CircuitHalfOpen)
		cb.probing = true
		return nil
	case CircuitHalfOpen:
		// One probe in flight at a time.
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.probing = false
		if err != nil {
			cb.openedAt = cb.now()
			cb.setState(CircuitOpen)
			return
		}
		cb.failures = 0
		cb.setState(CircuitClosed)
	case CircuitClosed:
		if err == nil {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			cb.setState(CircuitOpen)
		}
	case CircuitOpen:
		// A request admitted before the circuit opened finished late;
		// its outcome no longer moves the state.
	}
}

func (cb *CircuitBreaker) setState(to CircuitState) {
	if cb.state == to {
		return
	}
	zap.L().Warn("resilience: circuit state changed",
		zap.String("from", cb.state.String()),
		zap.String("to", to.String()),
	)
	cb.state = to
}
