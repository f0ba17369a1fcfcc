package domain

import (
	"fmt"

	"dario.cat/mergo"
	json "github.com/goccy/go-json"
)

// MergeValues folds next into current. Objects merge deeply with next
// winning and slices appended; two arrays concatenate; any other pairing
// yields next. Neither argument is modified.
func MergeValues(current, next interface{}) (interface{}, error) {
	if current == nil {
		return clone(next)
	}
	if next == nil {
		return clone(current)
	}

	currentData, err := clone(current)
	if err != nil {
		return nil, fmt.Errorf("merge: copy current: %w", err)
	}
	nextData, err := clone(next)
	if err != nil {
		return nil, fmt.Errorf("merge: copy next: %w", err)
	}

	switch {
	case isObject(currentData) && isObject(nextData):
		currentMap := currentData.(map[string]interface{})
		nextMap := nextData.(map[string]interface{})

		if err := mergo.Merge(&currentMap, nextMap,
			mergo.WithOverride,
			mergo.WithAppendSlice); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		return currentMap, nil

	case isArray(currentData) && isArray(nextData):
		currentSlice := currentData.([]interface{})
		nextSlice := nextData.([]interface{})

		merged := make([]interface{}, 0, len(currentSlice)+len(nextSlice))
		merged = append(merged, currentSlice...)
		merged = append(merged, nextSlice...)
		return merged, nil

	default:
		return nextData, nil
	}
}

// clone normalizes v to its JSON-decoded form, detaching it from the
// caller's maps and slices.
func clone(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func isObject(v interface{}) bool {
	_, ok := v.(map[string]interface{})
	return ok
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}
