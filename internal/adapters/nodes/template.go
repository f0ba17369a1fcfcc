package nodes

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/eleven-am/weft/internal/xjson"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+)((?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// Render replaces {{nodeId}} and {{nodeId.path.to.field}} with values from
// inputs. Unresolved placeholders render as the empty string.
func Render(template string, inputs map[string]interface{}) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholder.FindStringSubmatch(match)
		root, ok := inputs[groups[1]]
		if !ok {
			return ""
		}
		value, ok := Lookup(root, strings.TrimPrefix(groups[2], "."))
		if !ok {
			return ""
		}
		return Stringify(value)
	})
}

// Lookup walks a dotted path through maps and arrays. An empty path returns
// v itself.
func Lookup(v interface{}, path string) (interface{}, bool) {
	if path == "" {
		return v, true
	}

	current := v
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// Stringify renders scalars plainly and everything else as JSON.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool, float64, float32, int, int64, int32:
		return fmt.Sprint(val)
	}
	data, err := xjson.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// primary returns the named input, or the first input in edge order when
// name is empty.
func primary(inputs map[string]interface{}, order []string, name string) (interface{}, bool) {
	if name != "" {
		v, ok := inputs[name]
		return v, ok
	}
	for _, id := range order {
		if v, ok := inputs[id]; ok {
			return v, true
		}
	}
	return nil, false
}
