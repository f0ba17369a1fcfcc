package ports

import "time"

type CircuitBreakerState int

const (
	StateClose CircuitBreakerState = iota
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClose:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type CircuitBreakerMetrics struct {
	State        CircuitBreakerState `json:"state"`
	FailureCount int64               `json:"failure_count"`
	Threshold    int                 `json:"threshold"`
	OpenedAt     time.Time           `json:"opened_at,omitempty"`
}

// CircuitBreaker counts terminal failures within one run. Once open it
// stays open; the run performs no further retries.
type CircuitBreaker interface {
	// RecordFailure reports whether this failure tripped the breaker.
	RecordFailure() bool
	IsOpen() bool
	State() CircuitBreakerState
	Metrics() CircuitBreakerMetrics
}

type RetryDecision struct {
	Retry  bool          `json:"retry"`
	Delay  time.Duration `json:"delay"`
	Reason string        `json:"reason"`
}
