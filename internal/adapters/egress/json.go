package egress

import (
	"fmt"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/xjson"
)

// CheckJSONStructure scans raw JSON for nesting deeper than maxDepth or a
// string literal longer than maxString encoded bytes. It does not validate
// syntax; the decoder does that afterwards.
func CheckJSONStructure(data []byte, maxDepth, maxString int) error {
	depth := 0
	inString := false
	escaped := false
	strLen := 0

	for _, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
				continue
			}
			strLen++
			if maxString > 0 && strLen > maxString {
				return domain.NewResourceError(
					fmt.Sprintf("json string exceeds %d bytes", maxString),
					domain.ErrJSONStringLength,
					domain.WithComponent("egress"),
					domain.WithOperation("decode"),
				)
			}
			continue
		}

		switch b {
		case '"':
			inString = true
			strLen = 0
		case '{', '[':
			depth++
			if maxDepth > 0 && depth > maxDepth {
				return domain.NewResourceError(
					fmt.Sprintf("json nesting exceeds depth %d", maxDepth),
					domain.ErrJSONTooDeep,
					domain.WithComponent("egress"),
					domain.WithOperation("decode"),
				)
			}
		case '}', ']':
			depth--
		}
	}
	return nil
}

// DecodeJSON enforces the policy's structure caps, then decodes.
func DecodeJSON(data []byte, policy Policy) (interface{}, error) {
	if err := CheckJSONStructure(data, policy.MaxJSONDepth, policy.MaxStringLength); err != nil {
		return nil, err
	}
	var out interface{}
	if err := xjson.Unmarshal(data, &out); err != nil {
		return nil, domain.NewTerminalError("invalid json response", err,
			domain.WithComponent("egress"),
			domain.WithOperation("decode"),
		)
	}
	return out, nil
}
