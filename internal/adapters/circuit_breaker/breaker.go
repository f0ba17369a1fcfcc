package circuit_breaker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/weft/internal/ports"
)

const DefaultFailureThreshold = 5

type circuitBreaker struct {
	name      string
	threshold int
	logger    *slog.Logger

	mu            sync.RWMutex
	state         ports.CircuitBreakerState
	failureCount  int64
	openedAt      time.Time
	onStateChange func(name string, from, to ports.CircuitBreakerState)
}

type Option func(*circuitBreaker)

// WithStateChange registers a callback invoked synchronously when the
// breaker opens.
func WithStateChange(fn func(name string, from, to ports.CircuitBreakerState)) Option {
	return func(cb *circuitBreaker) {
		cb.onStateChange = fn
	}
}

// NewCircuitBreaker returns a breaker scoped to a single run, named after
// it. There is no half-open state: once tripped the run stays degraded.
func NewCircuitBreaker(name string, threshold int, logger *slog.Logger, opts ...Option) ports.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}

	cb := &circuitBreaker{
		name:      name,
		threshold: threshold,
		logger:    logger.With("component", "circuit-breaker", "name", name),
		state:     ports.StateClose,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *circuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	count := atomic.AddInt64(&cb.failureCount, 1)
	if cb.state == ports.StateClose && count >= int64(cb.threshold) {
		cb.setState(ports.StateOpen)
		return true
	}
	return false
}

func (cb *circuitBreaker) setState(newState ports.CircuitBreakerState) {
	oldState := cb.state
	if oldState == newState {
		return
	}

	cb.logger.Warn("circuit breaker state change",
		"from", oldState.String(),
		"to", newState.String(),
		"failures", atomic.LoadInt64(&cb.failureCount),
		"threshold", cb.threshold)

	cb.state = newState
	if newState == ports.StateOpen {
		cb.openedAt = time.Now()
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, oldState, newState)
	}
}

func (cb *circuitBreaker) IsOpen() bool {
	return cb.State() == ports.StateOpen
}

func (cb *circuitBreaker) State() ports.CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *circuitBreaker) Metrics() ports.CircuitBreakerMetrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return ports.CircuitBreakerMetrics{
		State:        cb.state,
		FailureCount: atomic.LoadInt64(&cb.failureCount),
		Threshold:    cb.threshold,
		OpenedAt:     cb.openedAt,
	}
}
