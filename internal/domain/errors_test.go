package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDomainErrorBasics(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewTerminalError("request rejected", cause)

	if err.Category != CategoryTerminal {
		t.Errorf("Expected category %v, got %v", CategoryTerminal, err.Category)
	}

	if err.Code != "TERMINAL" {
		t.Errorf("Expected code TERMINAL, got %s", err.Code)
	}

	if err.Retryable {
		t.Error("Expected terminal error to not be retryable")
	}

	if err.Unwrap() != cause {
		t.Error("Expected cause to be unwrapped correctly")
	}
}

func TestErrorWithContext(t *testing.T) {
	err := NewTransientError("connection reset", nil,
		WithNodeID("fetch"),
		WithRunID("run-456"),
		WithComponent("egress"),
		WithOperation("dial"),
		WithDetail("host", "api.example.com"),
		WithCode("NETWORK_RESET"),
	)

	if err.Context.NodeID != "fetch" {
		t.Errorf("Expected node ID fetch, got %s", err.Context.NodeID)
	}

	if err.Context.RunID != "run-456" {
		t.Errorf("Expected run ID run-456, got %s", err.Context.RunID)
	}

	if err.Context.Component != "egress" || err.Context.Operation != "dial" {
		t.Errorf("Unexpected context %+v", err.Context)
	}

	if err.Context.Details["host"] != "api.example.com" {
		t.Error("Expected host in context details")
	}

	if err.Code != "NETWORK_RESET" {
		t.Errorf("Expected code override, got %s", err.Code)
	}
}

func TestErrorCategorization(t *testing.T) {
	testCases := []struct {
		name              string
		constructor       func(string, error, ...ErrorOption) *DomainError
		expectedCategory  ErrorCategory
		expectedRetryable bool
	}{
		{"structural", NewStructuralError, CategoryStructural, false},
		{"transient", NewTransientError, CategoryTransient, true},
		{"terminal", NewTerminalError, CategoryTerminal, false},
		{"security", NewSecurityError, CategorySecurity, false},
		{"resource", NewResourceError, CategoryResource, false},
		{"configuration", NewConfigurationError, CategoryConfiguration, false},
		{"canceled", NewCanceledError, CategoryCanceled, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor("test message", nil)

			if err.Category != tc.expectedCategory {
				t.Errorf("Expected category %v, got %v", tc.expectedCategory, err.Category)
			}

			if err.Retryable != tc.expectedRetryable {
				t.Errorf("Expected retryable %v, got %v", tc.expectedRetryable, err.Retryable)
			}

			if err.Category.String() != tc.name {
				t.Errorf("Expected category name %s, got %s", tc.name, err.Category.String())
			}
		})
	}
}

func TestStructuralErrorsWrapSentinel(t *testing.T) {
	plain := NewStructuralError("bad graph", nil)
	if !errors.Is(plain, ErrStructural) {
		t.Error("Expected structural error without cause to match ErrStructural")
	}

	cycle := NewStructuralError("bad graph", ErrCycle)
	if !errors.Is(cycle, ErrStructural) || !errors.Is(cycle, ErrCycle) {
		t.Errorf("Expected both sentinels in chain, got %v", cycle)
	}

	if !IsStructuralError(cycle) {
		t.Error("Expected IsStructuralError to return true")
	}

	config := NewConfigurationError("bad settings", nil)
	if !errors.Is(config, ErrInvalidConfig) {
		t.Error("Expected configuration error to default to ErrInvalidConfig")
	}
}

func TestErrorHelpers(t *testing.T) {
	err := fmt.Errorf("node failed: %w", NewSecurityError("host denied", ErrEgressDenied, WithNodeID("fetch")))

	if !IsDomainError(err) {
		t.Error("Expected IsDomainError to see through wrapping")
	}

	if GetErrorCategory(err) != CategorySecurity {
		t.Errorf("Expected security category, got %v", GetErrorCategory(err))
	}

	if !IsSecurityError(err) {
		t.Error("Expected IsSecurityError to return true")
	}

	if IsRetryableError(err) {
		t.Error("Expected security error to not be retryable")
	}

	ctx := GetErrorContext(err)
	if ctx == nil || ctx.NodeID != "fetch" {
		t.Errorf("Expected context with node fetch, got %+v", ctx)
	}

	if GetErrorCategory(errors.New("plain")) != CategoryUnknown {
		t.Error("Expected plain errors to be uncategorized")
	}

	if GetErrorCategory(context.Canceled) != CategoryCanceled {
		t.Error("Expected context.Canceled to be categorized as canceled")
	}

	if !IsNotFound(fmt.Errorf("lookup: %w", ErrNotFound)) {
		t.Error("Expected IsNotFound to match wrapped sentinel")
	}
}

func TestErrorIs(t *testing.T) {
	err1 := NewTransientError("connection reset", nil)
	err2 := NewTransientError("upstream 503", nil)
	err3 := NewTerminalError("bad request", nil)

	if !err1.Is(err2) {
		t.Error("Expected transient errors with same code to be equal")
	}

	if err1.Is(err3) {
		t.Error("Expected transient and terminal errors to not be equal")
	}
}

func TestStatusError(t *testing.T) {
	body := strings.Repeat("x", 1000)
	err := NewStatusError("https://api.example.com/v1", 429, "3", body)

	if len(err.Body) != 512 {
		t.Errorf("Expected body truncated to 512 bytes, got %d", len(err.Body))
	}

	wrapped := NewTransientError("call failed", err)
	meta := ResponseMetaOf(wrapped)
	if meta.StatusCode != 429 || meta.RetryAfter != "3" {
		t.Errorf("Unexpected response meta %+v", meta)
	}

	if ResponseMetaOf(errors.New("plain")) != (ResponseMeta{}) {
		t.Error("Expected empty meta for errors without a response")
	}

	if !strings.Contains(err.Error(), "status 429") || !strings.Contains(err.Error(), "api.example.com") {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewTerminalError("node failed", errors.New("boom"), WithNodeID("summarize"))

	if got := err.Error(); got != "node failed (node summarize): boom" {
		t.Errorf("Unexpected error string: %s", got)
	}

	cfgErr := NewConfigError("engine.max_retries", ErrInvalidInput)
	if !errors.Is(cfgErr, ErrInvalidInput) {
		t.Error("Expected config error to unwrap its cause")
	}
	if !strings.Contains(cfgErr.Error(), "engine.max_retries") {
		t.Errorf("Expected field in message, got %s", cfgErr.Error())
	}
}
