package weft_test

import (
	"context"
	"strings"
	"testing"

	"github.com/eleven-am/weft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wordCount struct {
	Field string `json:"field"`
}

func (s *wordCount) Validate() error { return nil }

func TestPublicAPI(t *testing.T) {
	manager, err := weft.New(weft.DefaultConfig())
	require.NoError(t, err)
	defer manager.Close()

	require.NoError(t, manager.RegisterNode(weft.NewNode("acme.words", weft.ResourceCPU,
		func() *wordCount { return &wordCount{} },
		func(ctx context.Context, req *weft.NodeRequest, s *wordCount) (interface{}, error) {
			text, _ := req.Inputs[s.Field].(string)
			return float64(len(strings.Fields(text))), nil
		})))

	graph, err := weft.ParseGraph([]byte(`
nodes:
  - id: text
    spec: input
  - id: count
    spec: acme.words
    config:
      field: text
  - id: big
    spec: conditional
    config:
      operator: gt
      value: 3
  - id: out
    spec: output
edges:
  - source: text
    target: count
  - source: count
    target: big
  - source: big
    target: out
    edgeGating: require_non_empty
`))
	require.NoError(t, err)

	result, err := manager.Execute(context.Background(), graph, weft.RunOptions{
		Mode:   weft.ModeDev,
		Inputs: map[string]interface{}{"text": "one two three four five"},
	})
	require.NoError(t, err)
	assert.Equal(t, weft.RunSucceeded, result.Status)
	assert.Equal(t, 5.0, result.Node("out").Output)

	hash, err := weft.ComputeVersionHash(graph)
	require.NoError(t, err)
	assert.Equal(t, hash, result.VersionHash)
}

func TestPublicAPI_UnknownConfigKeyRejected(t *testing.T) {
	manager, err := weft.New(weft.DefaultConfig())
	require.NoError(t, err)
	defer manager.Close()

	graph := &weft.Graph{Nodes: []weft.Node{
		{ID: "t", Spec: "transform", Config: map[string]interface{}{"template": "x", "tempalte": "typo"}},
	}}
	_, err = manager.Execute(context.Background(), graph, weft.RunOptions{})
	assert.ErrorIs(t, err, weft.ErrStructural)
	assert.Equal(t, weft.CategoryStructural, weft.GetErrorCategory(err))
}
