package ports

import "time"

// RateDecision is the outcome of a budget check. RetryAfter is set when the
// request is denied.
type RateDecision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type RateLimiterMetrics struct {
	Provider      string    `json:"provider"`
	Identity      string    `json:"identity"`
	Budget        int       `json:"budget"`
	Count         int       `json:"count"`
	WindowEnd     time.Time `json:"window_end"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	Allowed       int64     `json:"allowed"`
	Denied        int64     `json:"denied"`
	Throttled     int64     `json:"throttled"`
	LastActivity  time.Time `json:"last_activity"`
}

// RateLimiter tracks per (provider, identity) request budgets. It is shared
// by every run in the process.
type RateLimiter interface {
	Check(provider, identity string) RateDecision
	Record(provider, identity string)
	// RecordThrottle starts a cooldown and returns its length.
	RecordThrottle(provider, identity string) time.Duration
	// Allow checks and records in one step.
	Allow(provider, identity string) RateDecision
	Metrics(provider, identity string) RateLimiterMetrics
	Close() error
}
