// Package version derives the content identity of a graph. Two graphs that
// only differ in editor state (positions, timestamps, underscore-prefixed
// hints) or in the order nodes, edges and egress hosts were listed share a
// hash. Failure policies, fallbacks, retry and timeout settings, edge
// gating and the egress declaration are part of the identity.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/xjson"
)

// HashLength is the number of hex characters in a version hash.
const HashLength = 16

var volatileKeys = map[string]struct{}{
	"position":     {},
	"ui":           {},
	"layout":       {},
	"createdAt":    {},
	"updatedAt":    {},
	"timestamp":    {},
	"lastModified": {},
}

func IsVolatileKey(key string) bool {
	if strings.HasPrefix(key, "_") {
		return true
	}
	_, ok := volatileKeys[key]
	return ok
}

type projectedNode struct {
	ID            string                 `json:"id"`
	Spec          string                 `json:"spec"`
	Config        map[string]interface{} `json:"config"`
	FailurePolicy domain.FailurePolicy   `json:"failurePolicy,omitempty"`
	FallbackValue interface{}            `json:"fallbackValue,omitempty"`
	MaxRetries    *int                   `json:"maxRetries,omitempty"`
	TimeoutMs     int                    `json:"timeoutMs,omitempty"`
}

type projectedEdge struct {
	Source string            `json:"source"`
	Target string            `json:"target"`
	Gating domain.EdgeGating `json:"edgeGating,omitempty"`
}

type projectedEgress struct {
	AllowHosts []string `json:"allowHosts,omitempty"`
	DenyHosts  []string `json:"denyHosts,omitempty"`
}

// projection keeps everything that changes how a run behaves: structure,
// settings, failure handling and the declared egress policy.
type projection struct {
	Nodes  []projectedNode  `json:"nodes"`
	Edges  []projectedEdge  `json:"edges"`
	Egress *projectedEgress `json:"egress,omitempty"`
}

func project(graph *domain.Graph) projection {
	p := projection{
		Nodes: make([]projectedNode, 0, len(graph.Nodes)),
		Edges: make([]projectedEdge, 0, len(graph.Edges)),
	}

	for _, node := range graph.Nodes {
		config := make(map[string]interface{}, len(node.Config))
		for key, value := range node.Config {
			if IsVolatileKey(key) {
				continue
			}
			config[key] = value
		}
		p.Nodes = append(p.Nodes, projectedNode{
			ID:            node.ID,
			Spec:          node.Spec,
			Config:        config,
			FailurePolicy: node.FailurePolicy,
			FallbackValue: node.FallbackValue,
			MaxRetries:    node.MaxRetries,
			TimeoutMs:     node.TimeoutMs,
		})
	}

	for _, edge := range graph.Edges {
		p.Edges = append(p.Edges, projectedEdge{Source: edge.Source, Target: edge.Target, Gating: edge.Gating})
	}

	if graph.Egress != nil && (len(graph.Egress.AllowHosts) > 0 || len(graph.Egress.DenyHosts) > 0) {
		p.Egress = &projectedEgress{
			AllowHosts: sortedHosts(graph.Egress.AllowHosts),
			DenyHosts:  sortedHosts(graph.Egress.DenyHosts),
		}
	}

	sort.SliceStable(p.Nodes, func(i, j int) bool { return p.Nodes[i].ID < p.Nodes[j].ID })
	sort.SliceStable(p.Edges, func(i, j int) bool {
		if p.Edges[i].Source != p.Edges[j].Source {
			return p.Edges[i].Source < p.Edges[j].Source
		}
		if p.Edges[i].Target != p.Edges[j].Target {
			return p.Edges[i].Target < p.Edges[j].Target
		}
		return p.Edges[i].Gating < p.Edges[j].Gating
	})

	return p
}

// sortedHosts lowercases and sorts a copy. Host matching is case-insensitive
// and order-free, so neither affects identity.
func sortedHosts(hosts []string) []string {
	if len(hosts) == 0 {
		return nil
	}
	out := make([]string, 0, len(hosts))
	for _, host := range hosts {
		out = append(out, strings.ToLower(strings.TrimSpace(host)))
	}
	sort.Strings(out)
	return out
}

// Canonical returns the byte form that is hashed.
func Canonical(graph *domain.Graph) ([]byte, error) {
	if graph == nil {
		return nil, domain.NewStructuralError("graph is nil", nil)
	}
	data, err := xjson.Marshal(project(graph))
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph projection: %w", err)
	}
	return data, nil
}

func ComputeVersionHash(graph *domain.Graph) (string, error) {
	data, err := Canonical(graph)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:HashLength], nil
}
