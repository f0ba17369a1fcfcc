package rate_limiter

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

type bucket struct {
	mu            sync.Mutex
	provider      string
	identity      string
	budget        int
	count         int
	windowEnd     time.Time
	cooldownUntil time.Time
	lastActivity  time.Time

	allowed   int64
	denied    int64
	throttled int64
}

type Limiter struct {
	config    domain.RateLimiterConfig
	logger    *slog.Logger
	now       func() time.Time
	buckets   sync.Map
	cleanup   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Limiter)

// WithClock replaces time.Now. Tests use it to step across window and
// cooldown boundaries.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(config domain.RateLimiterConfig, logger *slog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := domain.DefaultRateLimiterConfig()
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.Cooldown <= 0 {
		config.Cooldown = defaults.Cooldown
	}
	if config.DefaultBudget <= 0 {
		config.DefaultBudget = defaults.DefaultBudget
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.KeyExpiry <= 0 {
		config.KeyExpiry = defaults.KeyExpiry
	}

	l := &Limiter{
		config:  config,
		logger:  logger.With("component", "rate-limiter"),
		now:     time.Now,
		cleanup: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.cleanupExpiredKeys()

	return l
}

var _ ports.RateLimiter = (*Limiter)(nil)

func bucketKey(provider, identity string) string {
	if identity == "" {
		identity = GlobalIdentity
	}
	return provider + "|" + identity
}

func (l *Limiter) budgetFor(provider string) int {
	if budget, ok := l.config.Budgets[provider]; ok && budget > 0 {
		return budget
	}
	return l.config.DefaultBudget
}

func (l *Limiter) getBucket(provider, identity string) *bucket {
	key := bucketKey(provider, identity)
	if value, ok := l.buckets.Load(key); ok {
		return value.(*bucket)
	}

	now := l.now()
	newBucket := &bucket{
		provider:     provider,
		identity:     identity,
		budget:       l.budgetFor(provider),
		windowEnd:    now.Add(l.config.Window),
		lastActivity: now,
	}

	value, _ := l.buckets.LoadOrStore(key, newBucket)
	return value.(*bucket)
}

// roll starts a new window once now has passed the boundary. The count is
// never reset any other way.
func (l *Limiter) roll(b *bucket, now time.Time) {
	if !now.Before(b.windowEnd) {
		b.count = 0
		b.windowEnd = now.Add(l.config.Window)
	}
}

func (l *Limiter) decide(b *bucket, now time.Time) ports.RateDecision {
	if now.Before(b.cooldownUntil) {
		return ports.RateDecision{RetryAfter: b.cooldownUntil.Sub(now)}
	}
	l.roll(b, now)
	if b.count >= b.budget {
		return ports.RateDecision{RetryAfter: b.windowEnd.Sub(now)}
	}
	return ports.RateDecision{Allowed: true}
}

func (l *Limiter) Check(provider, identity string) ports.RateDecision {
	b := l.getBucket(provider, identity)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	b.lastActivity = now
	decision := l.decide(b, now)
	if !decision.Allowed {
		atomic.AddInt64(&b.denied, 1)
	}
	return decision
}

func (l *Limiter) Record(provider, identity string) {
	b := l.getBucket(provider, identity)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	b.lastActivity = now
	l.roll(b, now)
	b.count++
	atomic.AddInt64(&b.allowed, 1)
}

func (l *Limiter) Allow(provider, identity string) ports.RateDecision {
	b := l.getBucket(provider, identity)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	b.lastActivity = now
	decision := l.decide(b, now)
	if !decision.Allowed {
		atomic.AddInt64(&b.denied, 1)
		return decision
	}
	b.count++
	atomic.AddInt64(&b.allowed, 1)
	return decision
}

// RecordThrottle puts the bucket into cooldown after the provider answered
// 429, whatever budget is left, and returns how long the cooldown lasts.
func (l *Limiter) RecordThrottle(provider, identity string) time.Duration {
	b := l.getBucket(provider, identity)

	b.mu.Lock()
	now := l.now()
	b.lastActivity = now
	b.cooldownUntil = now.Add(l.config.Cooldown)
	remaining := b.cooldownUntil.Sub(now)
	b.mu.Unlock()

	atomic.AddInt64(&b.throttled, 1)
	l.logger.Warn("provider throttled, cooling down",
		"provider", provider,
		"identity", identity,
		"cooldown", remaining)
	return remaining
}

func (l *Limiter) Metrics(provider, identity string) ports.RateLimiterMetrics {
	b := l.getBucket(provider, identity)

	b.mu.Lock()
	defer b.mu.Unlock()

	return snapshot(b)
}

func snapshot(b *bucket) ports.RateLimiterMetrics {
	return ports.RateLimiterMetrics{
		Provider:      b.provider,
		Identity:      b.identity,
		Budget:        b.budget,
		Count:         b.count,
		WindowEnd:     b.windowEnd,
		CooldownUntil: b.cooldownUntil,
		Allowed:       atomic.LoadInt64(&b.allowed),
		Denied:        atomic.LoadInt64(&b.denied),
		Throttled:     atomic.LoadInt64(&b.throttled),
		LastActivity:  b.lastActivity,
	}
}

func (l *Limiter) GlobalMetrics() map[string]ports.RateLimiterMetrics {
	metrics := make(map[string]ports.RateLimiterMetrics)

	l.buckets.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		metrics[key.(string)] = snapshot(b)
		b.mu.Unlock()
		return true
	})

	return metrics
}

func (l *Limiter) Reset(provider, identity string) {
	key := bucketKey(provider, identity)
	if value, ok := l.buckets.LoadAndDelete(key); ok {
		b := value.(*bucket)
		l.logger.Debug("reset rate limiter", "key", key, "allowed", atomic.LoadInt64(&b.allowed))
	}
}

func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

func (l *Limiter) cleanupExpiredKeys() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.performCleanup()
		case <-l.cleanup:
			l.performCleanup()
		}
	}
}

// performCleanup drops idle buckets. A bucket still cooling down is kept so
// the cooldown cannot be escaped by going quiet.
func (l *Limiter) performCleanup() {
	now := l.now()
	deleted := 0

	l.buckets.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.Sub(b.lastActivity) > l.config.KeyExpiry && !now.Before(b.cooldownUntil)
		b.mu.Unlock()

		if expired {
			l.buckets.Delete(key)
			deleted++
		}
		return true
	})

	if deleted > 0 {
		l.logger.Debug("cleaned up expired keys", "deleted", deleted)
	}
}
