package nodes

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/eleven-am/weft/internal/adapters/egress"
	"github.com/eleven-am/weft/internal/adapters/policy"
	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
	"github.com/eleven-am/weft/internal/xjson"
)

// InputSettings configures an input node. The run input named Key (the
// node id when empty) wins over Value.
type InputSettings struct {
	Key   string      `json:"key,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

func (s *InputSettings) Validate() error { return nil }

func runInput(ctx context.Context, req *ports.NodeRequest, s *InputSettings) (interface{}, error) {
	key := s.Key
	if key == "" {
		key = req.NodeID
	}
	if v, ok := req.RunInputs[key]; ok {
		return v, nil
	}
	return s.Value, nil
}

// OutputSettings configures an output node. Source pins one upstream.
type OutputSettings struct {
	Source string `json:"source,omitempty"`
}

func (s *OutputSettings) Validate() error { return nil }

func runOutput(ctx context.Context, req *ports.NodeRequest, s *OutputSettings) (interface{}, error) {
	if s.Source != "" {
		return req.Inputs[s.Source], nil
	}

	present := presentInputs(req)
	switch len(present) {
	case 0:
		return nil, nil
	case 1:
		return req.Inputs[present[0]], nil
	}

	out := make(map[string]interface{}, len(present))
	for _, id := range present {
		out[id] = req.Inputs[id]
	}
	return out, nil
}

// presentInputs lists the sources that produced an input, in edge order.
func presentInputs(req *ports.NodeRequest) []string {
	ids := make([]string, 0, len(req.InputOrder))
	seen := make(map[string]struct{}, len(req.InputOrder))
	for _, id := range req.InputOrder {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := req.Inputs[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

const (
	OpTemplate      = "template"
	OpPick          = "pick"
	OpJSONParse     = "json_parse"
	OpJSONStringify = "json_stringify"
	OpUppercase     = "uppercase"
	OpLowercase     = "lowercase"
)

type TransformSettings struct {
	Operation string `json:"operation"`
	Template  string `json:"template,omitempty"`
	Path      string `json:"path,omitempty"`
	Source    string `json:"source,omitempty"`
}

func (s *TransformSettings) Validate() error {
	switch s.Operation {
	case OpTemplate:
		if s.Template == "" {
			return settingsError(domain.SpecTransform, "template is required")
		}
	case OpPick, OpJSONParse, OpJSONStringify, OpUppercase, OpLowercase:
	default:
		return settingsError(domain.SpecTransform, fmt.Sprintf("unknown operation %q", s.Operation))
	}
	return nil
}

func runTransform(ctx context.Context, req *ports.NodeRequest, s *TransformSettings) (interface{}, error) {
	if s.Operation == OpTemplate {
		return Render(s.Template, req.Inputs), nil
	}

	value, _ := primary(req.Inputs, req.InputOrder, s.Source)

	switch s.Operation {
	case OpPick:
		picked, ok := Lookup(value, s.Path)
		if !ok {
			return nil, nil
		}
		return picked, nil

	case OpJSONParse:
		return parseJSON(req, Stringify(value))

	case OpJSONStringify:
		data, err := xjson.Marshal(value)
		if err != nil {
			return nil, nodeError(req, "json_stringify failed", err)
		}
		return string(data), nil

	case OpUppercase:
		return strings.ToUpper(Stringify(value)), nil

	case OpLowercase:
		return strings.ToLower(Stringify(value)), nil
	}
	return nil, nil
}

// parseJSON decodes text under the run's egress caps, repairing it first
// when it is not valid JSON as written.
func parseJSON(req *ports.NodeRequest, text string) (interface{}, error) {
	data := []byte(text)
	if !xjson.Valid(data) {
		repaired, err := jsonrepair.JSONRepair(text)
		if err != nil {
			return nil, nodeError(req, "value is not json", err)
		}
		data = []byte(repaired)
	}
	return egress.DecodeJSON(data, req.Egress)
}

const (
	CmpExists   = "exists"
	CmpTruthy   = "truthy"
	CmpEq       = "eq"
	CmpNeq      = "neq"
	CmpContains = "contains"
	CmpGt       = "gt"
	CmpLt       = "lt"
)

type ConditionalSettings struct {
	Source   string      `json:"source,omitempty"`
	Path     string      `json:"path,omitempty"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
	Negate   bool        `json:"negate,omitempty"`
}

func (s *ConditionalSettings) Validate() error {
	switch s.Operator {
	case CmpExists, CmpTruthy, CmpEq, CmpNeq, CmpContains, CmpGt, CmpLt:
		return nil
	}
	return settingsError(domain.SpecConditional, fmt.Sprintf("unknown operator %q", s.Operator))
}

// runConditional passes its upstream through when the condition holds and
// emits null otherwise.
func runConditional(ctx context.Context, req *ports.NodeRequest, s *ConditionalSettings) (interface{}, error) {
	upstream, _ := primary(req.Inputs, req.InputOrder, s.Source)
	subject, found := Lookup(upstream, s.Path)

	holds := evaluate(s.Operator, subject, found, s.Value)
	if s.Negate {
		holds = !holds
	}
	if !holds {
		return nil, nil
	}
	return upstream, nil
}

func evaluate(operator string, subject interface{}, found bool, operand interface{}) bool {
	switch operator {
	case CmpExists:
		return found && subject != nil
	case CmpTruthy:
		return found && policy.IsTruthy(subject)
	case CmpEq:
		return found && equal(subject, operand)
	case CmpNeq:
		return !found || !equal(subject, operand)
	case CmpContains:
		return found && contains(subject, operand)
	case CmpGt, CmpLt:
		a, okA := toFloat(subject)
		b, okB := toFloat(operand)
		if !found || !okA || !okB {
			return false
		}
		if operator == CmpGt {
			return a > b
		}
		return a < b
	}
	return false
}

func equal(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	var na, nb interface{}
	if xjson.Convert(a, &na) != nil || xjson.Convert(b, &nb) != nil {
		return reflect.DeepEqual(a, b)
	}
	return reflect.DeepEqual(na, nb)
}

func contains(subject, operand interface{}) bool {
	switch v := subject.(type) {
	case string:
		return strings.Contains(v, Stringify(operand))
	case []interface{}:
		for _, item := range v {
			if equal(item, operand) {
				return true
			}
		}
	case map[string]interface{}:
		_, ok := v[Stringify(operand)]
		return ok
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

const (
	MergeObject = "object"
	MergeArray  = "array"
)

type MergeSettings struct {
	Strategy string `json:"strategy"`
}

func (s *MergeSettings) Validate() error {
	if s.Strategy != MergeObject && s.Strategy != MergeArray {
		return settingsError(domain.SpecMerge, fmt.Sprintf("unknown strategy %q", s.Strategy))
	}
	return nil
}

// runMerge folds inputs in edge order. Objects merge deeply with later
// inputs winning; the array strategy concatenates arrays and appends
// anything else as a single element.
func runMerge(ctx context.Context, req *ports.NodeRequest, s *MergeSettings) (interface{}, error) {
	ids := presentInputs(req)

	if s.Strategy == MergeArray {
		out := make([]interface{}, 0, len(ids))
		for _, id := range ids {
			var item interface{}
			if err := xjson.Convert(req.Inputs[id], &item); err != nil {
				return nil, nodeError(req, fmt.Sprintf("input from %s is not json", id), err)
			}
			if items, ok := item.([]interface{}); ok {
				out = append(out, items...)
			} else {
				out = append(out, item)
			}
		}
		return out, nil
	}

	var merged interface{} = map[string]interface{}{}
	for _, id := range ids {
		value := req.Inputs[id]
		if value == nil {
			continue
		}
		if !policy.IsObject(value) {
			return nil, nodeError(req, fmt.Sprintf("input from %s is not an object", id), domain.ErrInvalidInput)
		}
		next, err := domain.MergeValues(merged, value)
		if err != nil {
			return nil, nodeError(req, "merge failed", err)
		}
		merged = next
	}
	return merged, nil
}
