package domain

import (
	"testing"

	json "github.com/goccy/go-json"
)

func decode(t *testing.T, raw string) interface{} {
	t.Helper()
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("bad fixture %s: %v", raw, err)
	}
	return v
}

func TestMergeValues_ObjectMerging(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		next     string
		expected string
	}{
		{
			name:     "simple object merge",
			current:  `{"name": "John", "age": 30}`,
			next:     `{"age": 31, "city": "NYC"}`,
			expected: `{"age":31,"city":"NYC","name":"John"}`,
		},
		{
			name:     "nested object merge",
			current:  `{"user": {"name": "John", "age": 30}, "count": 5}`,
			next:     `{"user": {"age": 31, "email": "john@example.com"}, "status": "active"}`,
			expected: `{"count":5,"status":"active","user":{"age":31,"email":"john@example.com","name":"John"}}`,
		},
		{
			name:     "slices append",
			current:  `{"tags": ["a"]}`,
			next:     `{"tags": ["b"]}`,
			expected: `{"tags":["a","b"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, err := MergeValues(decode(t, tt.current), decode(t, tt.next))
			if err != nil {
				t.Fatalf("MergeValues failed: %v", err)
			}
			got, _ := json.Marshal(merged)
			if string(got) != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestMergeValues_Arrays(t *testing.T) {
	merged, err := MergeValues([]interface{}{1, 2}, []interface{}{"x"})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := json.Marshal(merged)
	if string(got) != `[1,2,"x"]` {
		t.Errorf("unexpected %s", got)
	}
}

func TestMergeValues_MismatchedTypesTakeNext(t *testing.T) {
	merged, err := MergeValues(map[string]interface{}{"a": 1}, "scalar")
	if err != nil {
		t.Fatal(err)
	}
	if merged != "scalar" {
		t.Errorf("expected next value, got %v", merged)
	}
}

func TestMergeValues_DoesNotMutateInputs(t *testing.T) {
	current := map[string]interface{}{"user": map[string]interface{}{"name": "a"}}
	next := map[string]interface{}{"user": map[string]interface{}{"name": "b"}}

	if _, err := MergeValues(current, next); err != nil {
		t.Fatal(err)
	}
	if current["user"].(map[string]interface{})["name"] != "a" {
		t.Error("current was mutated")
	}
}
