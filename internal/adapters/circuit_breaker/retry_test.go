package circuit_breaker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		meta      domain.ResponseMeta
		retryable bool
	}{
		{"nil", nil, domain.ResponseMeta{}, false},
		{"429", errors.New("throttled"), domain.ResponseMeta{StatusCode: 429}, true},
		{"408", errors.New("slow"), domain.ResponseMeta{StatusCode: 408}, true},
		{"500", errors.New("boom"), domain.ResponseMeta{StatusCode: 500}, true},
		{"503 from chain", fmt.Errorf("call: %w", domain.NewStatusError("https://api.example.com", 503, "", "")), domain.ResponseMeta{}, true},
		{"400", errors.New("bad"), domain.ResponseMeta{StatusCode: 400}, false},
		{"404 with timeout text", errors.New("timeout page"), domain.ResponseMeta{StatusCode: 404}, false},
		{"net timeout", timeoutErr{}, domain.ResponseMeta{}, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), domain.ResponseMeta{}, true},
		{"reset text", errors.New("read tcp: connection reset by peer"), domain.ResponseMeta{}, true},
		{"deadline", context.DeadlineExceeded, domain.ResponseMeta{}, true},
		{"transient domain", domain.NewTransientError("flaky", nil), domain.ResponseMeta{}, true},
		{"canceled", context.Canceled, domain.ResponseMeta{}, false},
		{"security", domain.NewSecurityError("egress denied: timeout", domain.ErrEgressDenied), domain.ResponseMeta{StatusCode: 503}, false},
		{"resource", domain.NewResourceError("too big", domain.ErrResponseTooLarge), domain.ResponseMeta{}, false},
		{"config", domain.NewConfigurationError("bad config", nil), domain.ResponseMeta{}, false},
		{"terminal with timeout text", domain.NewTerminalError("node panicked: upstream dial timeout in config", nil), domain.ResponseMeta{}, false},
		{"terminal wrapped", fmt.Errorf("decode: %w", domain.NewTerminalError("connection refused by parser", nil)), domain.ResponseMeta{}, false},
		{"plain", errors.New("invalid prompt"), domain.ResponseMeta{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Classify(tt.err, tt.meta))
		})
	}
}

func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 250*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 500*time.Millisecond, p.Backoff(2))
	assert.Equal(t, time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(6))
	assert.Equal(t, 8*time.Second, p.Backoff(60))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 8*time.Second)
		prev = d
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := DefaultRetryPolicy().WithClock(func() time.Time { return now })

	d, ok := p.RetryAfter("3")
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = p.RetryAfter(now.Add(10 * time.Second).Format(http.TimeFormat))
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, d)

	d, ok = p.RetryAfter("3600")
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, d, "clamped to the ceiling")

	d, ok = p.RetryAfter(now.Add(-time.Minute).Format(http.TimeFormat))
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), d)

	_, ok = p.RetryAfter("soon")
	assert.False(t, ok)
	_, ok = p.RetryAfter("")
	assert.False(t, ok)
}

func TestDecide(t *testing.T) {
	p := DefaultRetryPolicy()
	throttled := domain.ResponseMeta{StatusCode: 429}

	d := p.Decide(errors.New("throttled"), 1, 3, throttled)
	assert.True(t, d.Retry)
	assert.Equal(t, 250*time.Millisecond, d.Delay)

	d = p.Decide(errors.New("throttled"), 3, 3, throttled)
	assert.True(t, d.Retry)

	d = p.Decide(errors.New("throttled"), 4, 3, throttled)
	assert.False(t, d.Retry, "stops once attempt exceeds maxRetries")

	d = p.Decide(errors.New("throttled"), 1, 0, throttled)
	assert.False(t, d.Retry)

	d = p.Decide(errors.New("bad request"), 1, 3, domain.ResponseMeta{StatusCode: 400})
	assert.False(t, d.Retry)

	d = p.Decide(errors.New("throttled"), 1, 3, domain.ResponseMeta{StatusCode: 429, RetryAfter: "2"})
	assert.True(t, d.Retry)
	assert.Equal(t, 2*time.Second, d.Delay)

	statusErr := domain.NewStatusError("https://api.example.com", 503, "1", "")
	d = p.Decide(statusErr, 2, 3, domain.ResponseMeta{})
	assert.True(t, d.Retry)
	assert.Equal(t, time.Second, d.Delay, "response metadata is read from the error chain")
}
