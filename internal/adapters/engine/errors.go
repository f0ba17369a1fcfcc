package engine

import (
	"github.com/eleven-am/weft/internal/adapters/circuit_breaker"
	"github.com/eleven-am/weft/internal/domain"
)

const (
	engineComponent    = "engine.Engine"
	executorComponent  = "engine.Executor"
	validatorComponent = "engine.Validator"
)

func errorLogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	attrs := []any{
		"error", err,
		"error_category", domain.GetErrorCategory(err).String(),
		"error_retryable", domain.IsRetryableError(err),
	}

	if meta := domain.ResponseMetaOf(err); meta.StatusCode != 0 {
		attrs = append(attrs, "status_code", meta.StatusCode)
		if meta.RetryAfter != "" {
			attrs = append(attrs, "retry_after", meta.RetryAfter)
		}
	}

	if ctx := domain.GetErrorContext(err); ctx != nil {
		if ctx.Component != "" {
			attrs = append(attrs, "error_component", ctx.Component)
		}
		if ctx.Operation != "" {
			attrs = append(attrs, "error_operation", ctx.Operation)
		}
		if ctx.RunID != "" {
			attrs = append(attrs, "run_id", ctx.RunID)
		}
		if ctx.NodeID != "" {
			attrs = append(attrs, "node_id", ctx.NodeID)
		}
		if len(ctx.Details) > 0 {
			attrs = append(attrs, "error_details", ctx.Details)
		}
	}

	return attrs
}

// errorKind is the category recorded on a failed node. Errors from outside
// the domain taxonomy are sorted by whether a retry could have helped.
func errorKind(err error) string {
	category := domain.GetErrorCategory(err)
	if category != domain.CategoryUnknown {
		return category.String()
	}
	if circuit_breaker.Classify(err, domain.ResponseMetaOf(err)) {
		return domain.CategoryTransient.String()
	}
	return domain.CategoryTerminal.String()
}
