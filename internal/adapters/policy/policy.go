// Package policy resolves per-node failure handling and per-edge gating.
// Everything here is a pure function of the graph and observed outputs.
package policy

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/eleven-am/weft/internal/domain"
)

const (
	configFailurePolicy = "failurePolicy"
	configFallbackValue = "fallbackValue"
	configEdgeGating    = "edgeGating"
)

// FailurePolicy returns the node's declared policy, falling back to its
// config map and then fail_fast.
func FailurePolicy(node domain.Node) domain.FailurePolicy {
	if node.FailurePolicy != "" {
		return node.FailurePolicy
	}
	if raw, ok := node.Config[configFailurePolicy].(string); ok && raw != "" {
		return domain.FailurePolicy(raw)
	}
	return domain.FailFast
}

// FallbackValue reports the node's fallback and whether one was declared.
func FallbackValue(node domain.Node) (interface{}, bool) {
	if node.FallbackValue != nil {
		return node.FallbackValue, true
	}
	value, ok := node.Config[configFallbackValue]
	return value, ok
}

// EdgeGating returns the edge's gating rule. An edge carries no config of
// its own, so the source node's config may supply a default for all of its
// outgoing edges.
func EdgeGating(edge domain.Edge, source domain.Node) domain.EdgeGating {
	if edge.Gating != "" {
		return edge.Gating
	}
	if raw, ok := source.Config[configEdgeGating].(string); ok && raw != "" {
		return domain.EdgeGating(raw)
	}
	return domain.RequireSuccess
}

// ValidateNode checks the declared policy strings of a node.
func ValidateNode(node domain.Node) error {
	p := FailurePolicy(node)
	if !p.IsValid() {
		return fmt.Errorf("unknown failure policy %q", p)
	}
	if _, ok := FallbackValue(node); p == domain.UseFallbackValue && !ok {
		return fmt.Errorf("%s requires a fallbackValue", p)
	}
	return nil
}

func ValidateEdge(edge domain.Edge, source domain.Node) error {
	if g := EdgeGating(edge, source); !g.IsValid() {
		return fmt.Errorf("unknown edge gating %q", g)
	}
	return nil
}

// Satisfies evaluates one incoming edge against its source's terminal
// outcome. A source that succeeded through a fallback counts as succeeded.
func Satisfies(output interface{}, status domain.NodeStatus, gating domain.EdgeGating) bool {
	if gating == domain.AllowOnFailure {
		return status.IsTerminal()
	}
	if status != domain.NodeSucceeded {
		return false
	}

	switch gating {
	case domain.RequireSuccess, "":
		return true
	case domain.RequireNonEmpty:
		return !IsEmpty(output)
	case domain.RequireTruthy:
		return IsTruthy(output)
	case domain.RequireTypeJSON:
		return IsObject(output) || IsArray(output)
	case domain.RequireTypeArray:
		return IsArray(output)
	case domain.RequireTypeString:
		_, ok := output.(string)
		return ok
	}
	return false
}

// IsEmpty is true for nil, blank strings and empty arrays. Objects and
// scalars are never empty.
func IsEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// IsTruthy is false for nil, false, zero, "", and empty collections.
func IsTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case float32:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case int32:
		return val != 0
	case uint:
		return val != 0
	case uint64:
		return val != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func IsObject(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(map[string]interface{}); ok {
		return true
	}
	return reflect.ValueOf(v).Kind() == reflect.Map
}

func IsArray(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]interface{}); ok {
		return true
	}
	kind := reflect.ValueOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}
