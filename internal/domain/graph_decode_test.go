package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGraph_JSON(t *testing.T) {
	graph, err := ParseGraph([]byte(`{
		"nodes": [
			{"id": "in", "spec": "input"},
			{"id": "llm", "spec": "llm.chat", "config": {"maxTokens": 64}, "failurePolicy": "use_fallback_value", "fallbackValue": "n/a", "maxRetries": 2}
		],
		"edges": [{"source": "in", "target": "llm", "edgeGating": "require_non_empty"}],
		"egress": {"allowHosts": ["api.openai.com"]}
	}`))
	require.NoError(t, err)

	require.Len(t, graph.Nodes, 2)
	llm := graph.Nodes[1]
	assert.Equal(t, UseFallbackValue, llm.FailurePolicy)
	assert.Equal(t, "n/a", llm.FallbackValue)
	assert.Equal(t, 2, *llm.MaxRetries)
	assert.Equal(t, float64(64), llm.Config["maxTokens"])
	assert.Equal(t, RequireNonEmpty, graph.Edges[0].Gating)
	assert.Equal(t, []string{"api.openai.com"}, graph.Egress.AllowHosts)
}

func TestParseGraph_YAMLMatchesJSON(t *testing.T) {
	fromYAML, err := ParseGraph([]byte(`
nodes:
  - id: in
    spec: input
  - id: llm
    spec: llm.chat
    config:
      maxTokens: 64
      prompt: "Summarize {{in}}"
edges:
  - source: in
    target: llm
`))
	require.NoError(t, err)

	fromJSON, err := ParseGraph([]byte(`{"nodes":[{"id":"in","spec":"input"},{"id":"llm","spec":"llm.chat","config":{"maxTokens":64,"prompt":"Summarize {{in}}"}}],"edges":[{"source":"in","target":"llm"}]}`))
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromYAML)
}

func TestParseGraph_Errors(t *testing.T) {
	for name, payload := range map[string]string{
		"empty":         "  ",
		"bad json":      `{"nodes": [`,
		"unknown field": `{"nodes": [], "triggers": []}`,
		"bad yaml":      "nodes: [\n  - id",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGraph([]byte(payload))
			assert.ErrorIs(t, err, ErrStructural)
		})
	}
}
