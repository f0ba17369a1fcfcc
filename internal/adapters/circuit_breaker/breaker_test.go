package circuit_breaker

import (
	"sync"
	"testing"

	"github.com/eleven-am/weft/internal/ports"
	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("run-1", 3, nil)

	if cb.State() != ports.StateClose {
		t.Errorf("Expected StateClose, got %v", cb.State())
	}
	assert.False(t, cb.IsOpen())
	assert.Equal(t, 3, cb.Metrics().Threshold)
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	var transitions []ports.CircuitBreakerState
	cb := NewCircuitBreaker("run-1", 3, nil, WithStateChange(func(name string, from, to ports.CircuitBreakerState) {
		assert.Equal(t, "run-1", name)
		transitions = append(transitions, to)
	}))

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.RecordFailure(), "third failure trips the breaker")
	assert.True(t, cb.IsOpen())

	assert.False(t, cb.RecordFailure(), "already open")
	assert.True(t, cb.IsOpen(), "stays open permanently")

	metrics := cb.Metrics()
	assert.Equal(t, int64(4), metrics.FailureCount)
	assert.False(t, metrics.OpenedAt.IsZero())
	assert.Equal(t, []ports.CircuitBreakerState{ports.StateOpen}, transitions)
}

func TestCircuitBreakerDefaultThreshold(t *testing.T) {
	cb := NewCircuitBreaker("run-1", 0, nil)
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		cb.RecordFailure()
	}
	assert.False(t, cb.IsOpen())
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreakerTripsExactlyOnce(t *testing.T) {
	cb := NewCircuitBreaker("run-1", 5, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	trips := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.RecordFailure() {
				mu.Lock()
				trips++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, trips)
	assert.Equal(t, ports.StateOpen, cb.State())
}
