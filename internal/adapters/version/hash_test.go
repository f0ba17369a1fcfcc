package version

import (
	"testing"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph() *domain.Graph {
	return &domain.Graph{
		Nodes: []domain.Node{
			{ID: "in", Spec: domain.SpecInput, Config: map[string]interface{}{"key": "topic"}},
			{ID: "chat", Spec: domain.SpecLLMChat, Config: map[string]interface{}{
				"prompt":   "Summarize {{in}}",
				"model":    "gpt-4o-mini",
				"position": map[string]interface{}{"x": 10, "y": 20},
			}},
			{ID: "out", Spec: domain.SpecOutput},
		},
		Edges: []domain.Edge{
			{Source: "in", Target: "chat"},
			{Source: "chat", Target: "out"},
		},
	}
}

func TestComputeVersionHash_Idempotent(t *testing.T) {
	graph := sampleGraph()

	first, err := ComputeVersionHash(graph)
	require.NoError(t, err)
	second, err := ComputeVersionHash(graph)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, HashLength)
	assert.Regexp(t, "^[0-9a-f]{16}$", first)
}

func TestComputeVersionHash_IgnoresVolatileFields(t *testing.T) {
	base, err := ComputeVersionHash(sampleGraph())
	require.NoError(t, err)

	moved := sampleGraph()
	moved.Nodes[1].Config["position"] = map[string]interface{}{"x": 400, "y": -12}
	moved.Nodes[1].Config["updatedAt"] = "2026-10-19T10:00:00Z"
	moved.Nodes[1].Config["_selected"] = true

	hash, err := ComputeVersionHash(moved)
	require.NoError(t, err)
	assert.Equal(t, base, hash)
}

func TestComputeVersionHash_PromptChangesHash(t *testing.T) {
	base, err := ComputeVersionHash(sampleGraph())
	require.NoError(t, err)

	edited := sampleGraph()
	edited.Nodes[1].Config["prompt"] = "Translate {{in}}"

	hash, err := ComputeVersionHash(edited)
	require.NoError(t, err)
	assert.NotEqual(t, base, hash)
}

func TestComputeVersionHash_OrderIndependent(t *testing.T) {
	base, err := ComputeVersionHash(sampleGraph())
	require.NoError(t, err)

	shuffled := sampleGraph()
	shuffled.Nodes[0], shuffled.Nodes[2] = shuffled.Nodes[2], shuffled.Nodes[0]
	shuffled.Edges[0], shuffled.Edges[1] = shuffled.Edges[1], shuffled.Edges[0]

	hash, err := ComputeVersionHash(shuffled)
	require.NoError(t, err)
	assert.Equal(t, base, hash)
}

func TestComputeVersionHash_StructuralChanges(t *testing.T) {
	base, err := ComputeVersionHash(sampleGraph())
	require.NoError(t, err)

	t.Run("spec id", func(t *testing.T) {
		g := sampleGraph()
		g.Nodes[1].Spec = domain.SpecLLMEmbeddings
		hash, err := ComputeVersionHash(g)
		require.NoError(t, err)
		assert.NotEqual(t, base, hash)
	})

	t.Run("edge rewired", func(t *testing.T) {
		g := sampleGraph()
		g.Edges[1] = domain.Edge{Source: "in", Target: "out"}
		hash, err := ComputeVersionHash(g)
		require.NoError(t, err)
		assert.NotEqual(t, base, hash)
	})

	intPtr := func(v int) *int { return &v }
	behavior := []struct {
		name   string
		mutate func(g *domain.Graph)
	}{
		{"edge gating", func(g *domain.Graph) { g.Edges[0].Gating = domain.AllowOnFailure }},
		{"failure policy", func(g *domain.Graph) { g.Nodes[1].FailurePolicy = domain.Continue }},
		{"fallback value", func(g *domain.Graph) {
			g.Nodes[1].FailurePolicy = domain.UseFallbackValue
			g.Nodes[1].FallbackValue = "n/a"
		}},
		{"max retries", func(g *domain.Graph) { g.Nodes[1].MaxRetries = intPtr(0) }},
		{"timeout", func(g *domain.Graph) { g.Nodes[1].TimeoutMs = 1500 }},
		{"egress allow list", func(g *domain.Graph) {
			g.Egress = &domain.EgressDeclaration{AllowHosts: []string{"api.example.com"}}
		}},
		{"egress deny list", func(g *domain.Graph) {
			g.Egress = &domain.EgressDeclaration{DenyHosts: []string{"evil.example.net"}}
		}},
	}
	for _, tt := range behavior {
		t.Run(tt.name, func(t *testing.T) {
			g := sampleGraph()
			tt.mutate(g)
			hash, err := ComputeVersionHash(g)
			require.NoError(t, err)
			assert.NotEqual(t, base, hash)
		})
	}

	t.Run("nil and empty config match", func(t *testing.T) {
		g := sampleGraph()
		g.Nodes[2].Config = map[string]interface{}{}
		hash, err := ComputeVersionHash(g)
		require.NoError(t, err)
		assert.Equal(t, base, hash)
	})
}

func TestComputeVersionHash_NilGraph(t *testing.T) {
	_, err := ComputeVersionHash(nil)
	assert.True(t, domain.IsStructuralError(err))
}

func TestComputeVersionHash_EgressDeclaration(t *testing.T) {
	allow := func(hosts ...string) *domain.Graph {
		g := sampleGraph()
		g.Egress = &domain.EgressDeclaration{AllowHosts: hosts}
		return g
	}

	trusted, err := ComputeVersionHash(allow("api.example.com"))
	require.NoError(t, err)
	swapped, err := ComputeVersionHash(allow("evil.example.net"))
	require.NoError(t, err)
	assert.NotEqual(t, trusted, swapped)

	first, err := ComputeVersionHash(allow("a.example.com", "B.example.com"))
	require.NoError(t, err)
	second, err := ComputeVersionHash(allow("b.example.com", "a.example.com"))
	require.NoError(t, err)
	assert.Equal(t, first, second, "host order and case do not change identity")

	base, err := ComputeVersionHash(sampleGraph())
	require.NoError(t, err)
	empty, err := ComputeVersionHash(allow())
	require.NoError(t, err)
	assert.Equal(t, base, empty, "an empty declaration is no declaration")
}
