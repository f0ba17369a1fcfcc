package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryStructural
	CategoryTransient
	CategoryTerminal
	CategorySecurity
	CategoryResource
	CategoryConfiguration
	CategoryCanceled
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryStructural:
		return "structural"
	case CategoryTransient:
		return "transient"
	case CategoryTerminal:
		return "terminal"
	case CategorySecurity:
		return "security"
	case CategoryResource:
		return "resource"
	case CategoryConfiguration:
		return "configuration"
	case CategoryCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var (
	ErrStructural       = errors.New("structural graph error")
	ErrCycle            = errors.New("graph contains a cycle")
	ErrUnknownSpec      = errors.New("unknown node specification")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidInput     = errors.New("invalid input")
	ErrCapacityLimit    = errors.New("capacity limit reached")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrEgressDenied     = errors.New("egress denied")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrResponseTooLarge = errors.New("response exceeds size limit")
	ErrJSONTooDeep      = errors.New("json exceeds depth limit")
	ErrJSONStringLength = errors.New("json string exceeds length limit")
	ErrBreakerOpen      = errors.New("circuit breaker is open")
	ErrClosed           = errors.New("closed")
)

// ErrorContext carries where an error happened. Fields are optional.
type ErrorContext struct {
	Component string
	Operation string
	RunID     string
	NodeID    string
	Details   map[string]interface{}
}

type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Cause     error
	Retryable bool
	Context   ErrorContext
}

type ErrorOption func(*DomainError)

func WithComponent(component string) ErrorOption {
	return func(e *DomainError) { e.Context.Component = component }
}

func WithOperation(operation string) ErrorOption {
	return func(e *DomainError) { e.Context.Operation = operation }
}

func WithNodeID(nodeID string) ErrorOption {
	return func(e *DomainError) { e.Context.NodeID = nodeID }
}

func WithRunID(runID string) ErrorOption {
	return func(e *DomainError) { e.Context.RunID = runID }
}

func WithCode(code string) ErrorOption {
	return func(e *DomainError) { e.Code = code }
}

func WithDetail(key string, value interface{}) ErrorOption {
	return func(e *DomainError) {
		if e.Context.Details == nil {
			e.Context.Details = make(map[string]interface{})
		}
		e.Context.Details[key] = value
	}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Context.NodeID != "" {
		fmt.Fprintf(&b, " (node %s)", e.Context.NodeID)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches two domain errors of the same category and code.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Category == other.Category && e.Code == other.Code
}

func newDomainError(category ErrorCategory, code, message string, cause error, retryable bool, opts ...ErrorOption) *DomainError {
	err := &DomainError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
	for _, opt := range opts {
		opt(err)
	}
	return err
}

func NewStructuralError(message string, cause error, opts ...ErrorOption) *DomainError {
	if cause == nil {
		cause = ErrStructural
	} else if !errors.Is(cause, ErrStructural) {
		cause = fmt.Errorf("%w: %w", ErrStructural, cause)
	}
	return newDomainError(CategoryStructural, "STRUCTURAL_INVALID", message, cause, false, opts...)
}

func NewTransientError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryTransient, "TRANSIENT", message, cause, true, opts...)
}

func NewTerminalError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryTerminal, "TERMINAL", message, cause, false, opts...)
}

func NewSecurityError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategorySecurity, "SECURITY_DENIED", message, cause, false, opts...)
}

func NewResourceError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryResource, "RESOURCE_EXHAUSTED", message, cause, false, opts...)
}

func NewConfigurationError(message string, cause error, opts ...ErrorOption) *DomainError {
	if cause == nil {
		cause = ErrInvalidConfig
	}
	return newDomainError(CategoryConfiguration, "CONFIG_INVALID", message, cause, false, opts...)
}

func NewCanceledError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryCanceled, "CANCELED", message, cause, false, opts...)
}

// ResponseMeta is what a failed outbound call learned from the response.
type ResponseMeta struct {
	StatusCode int    `json:"status_code,omitempty"`
	RetryAfter string `json:"retry_after,omitempty"`
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL  string
	Meta ResponseMeta
	Body string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("upstream returned status %d", e.Meta.StatusCode)
	if e.URL != "" {
		msg += " from " + e.URL
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func NewStatusError(url string, status int, retryAfter, body string) *StatusError {
	if len(body) > 512 {
		body = body[:512]
	}
	return &StatusError{
		URL:  url,
		Meta: ResponseMeta{StatusCode: status, RetryAfter: retryAfter},
		Body: body,
	}
}

// ResponseMetaOf extracts response metadata from anywhere in an error chain.
func ResponseMetaOf(err error) ResponseMeta {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Meta
	}
	return ResponseMeta{}
}

func IsDomainError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr)
}

func GetErrorCategory(err error) ErrorCategory {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Category
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCanceled
	}
	return CategoryUnknown
}

func GetErrorContext(err error) *ErrorContext {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return &domainErr.Context
	}
	return nil
}

func IsRetryableError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return false
}

func IsSecurityError(err error) bool {
	return GetErrorCategory(err) == CategorySecurity
}

func IsStructuralError(err error) bool {
	return errors.Is(err, ErrStructural)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{
		Field: field,
		Err:   err,
	}
}
