package circuit_breaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

type RetryPolicy struct {
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RetryAfterCeiling time.Duration
	now               func() time.Time
}

func NewRetryPolicy(config domain.EngineConfig) RetryPolicy {
	defaults := domain.DefaultEngineConfig()
	p := RetryPolicy{
		BaseDelay:         config.RetryBaseDelay,
		MaxDelay:          config.RetryMaxDelay,
		RetryAfterCeiling: config.RetryAfterCeiling,
		now:               time.Now,
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaults.RetryBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.RetryMaxDelay
	}
	if p.RetryAfterCeiling <= 0 {
		p.RetryAfterCeiling = defaults.RetryAfterCeiling
	}
	return p
}

func DefaultRetryPolicy() RetryPolicy {
	return NewRetryPolicy(domain.DefaultEngineConfig())
}

// WithClock returns a copy that resolves HTTP-date Retry-After values
// against now.
func (p RetryPolicy) WithClock(now func() time.Time) RetryPolicy {
	p.now = now
	return p
}

var transientMessages = []string{
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"unexpected eof",
	"connection refused",
	"no such host",
}

// Classify reports whether err is worth another attempt: network timeouts
// and resets, 408, 429 and 5xx. Terminal, security, resource,
// configuration, structural and cancellation failures never are.
func Classify(err error, meta domain.ResponseMeta) bool {
	if err == nil {
		return false
	}

	switch domain.GetErrorCategory(err) {
	case domain.CategoryTerminal, domain.CategorySecurity, domain.CategoryResource,
		domain.CategoryConfiguration, domain.CategoryStructural, domain.CategoryCanceled:
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if meta.StatusCode == 0 {
		meta = domain.ResponseMetaOf(err)
	}
	if status := meta.StatusCode; status != 0 {
		return status == http.StatusTooManyRequests ||
			status == http.StatusRequestTimeout ||
			status >= 500
	}

	if domain.IsRetryableError(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, signature := range transientMessages {
		if strings.Contains(msg, signature) {
			return true
		}
	}
	return false
}

// Backoff is min(MaxDelay, BaseDelay * 2^(attempt-1)). No jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP
// date, clamped to RetryAfterCeiling.
func (p RetryPolicy) RetryAfter(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}

	var delay time.Duration
	if seconds, err := strconv.ParseFloat(header, 64); err == nil {
		if seconds < 0 {
			return 0, false
		}
		delay = time.Duration(seconds * float64(time.Second))
	} else if at, err := http.ParseTime(header); err == nil {
		now := time.Now
		if p.now != nil {
			now = p.now
		}
		delay = at.Sub(now())
		if delay < 0 {
			delay = 0
		}
	} else {
		return 0, false
	}

	if delay > p.RetryAfterCeiling {
		delay = p.RetryAfterCeiling
	}
	return delay, true
}

// Decide determines whether attempt (1-based, the attempt that just failed)
// is followed by another one and after how long.
func (p RetryPolicy) Decide(err error, attempt, maxRetries int, meta domain.ResponseMeta) ports.RetryDecision {
	if meta.StatusCode == 0 {
		meta = domain.ResponseMetaOf(err)
	}

	if !Classify(err, meta) {
		return ports.RetryDecision{Reason: "terminal error"}
	}
	if attempt > maxRetries {
		return ports.RetryDecision{Reason: fmt.Sprintf("retries exhausted after %d attempts", attempt)}
	}

	if delay, ok := p.RetryAfter(meta.RetryAfter); ok {
		return ports.RetryDecision{Retry: true, Delay: delay, Reason: "retry-after"}
	}
	return ports.RetryDecision{Retry: true, Delay: p.Backoff(attempt), Reason: "backoff"}
}
