package domain

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// ParseGraph decodes a graph payload. JSON is detected by a leading brace;
// anything else is read as YAML. YAML is normalized through JSON so config
// values have the same types either way.
func ParseGraph(data []byte) (*Graph, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, NewStructuralError("empty graph payload", ErrInvalidInput)
	}

	if trimmed[0] != '{' {
		var raw interface{}
		if err := yaml.Unmarshal(trimmed, &raw); err != nil {
			return nil, NewStructuralError("invalid graph yaml", err)
		}
		converted, err := json.Marshal(raw)
		if err != nil {
			return nil, NewStructuralError("invalid graph yaml", err)
		}
		trimmed = converted
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var graph Graph
	if err := dec.Decode(&graph); err != nil {
		return nil, NewStructuralError(fmt.Sprintf("invalid graph payload: %v", err), ErrInvalidInput)
	}
	return &graph, nil
}
