package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eleven-am/weft/internal/adapters/node_registry"
	"github.com/eleven-am/weft/internal/adapters/policy"
	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

// offense is one structural problem. nodeID is empty when the problem
// cannot be pinned on a node that exists.
type offense struct {
	nodeID string
	err    error
}

type link struct {
	source string
	target string
	gating domain.EdgeGating
}

// entry is everything resolved about one node before the run starts.
type entry struct {
	node        domain.Node
	impl        ports.NodePort
	class       domain.ResourceClass
	settings    ports.NodeSettings
	policy      domain.FailurePolicy
	fallback    interface{}
	hasFallback bool
	maxRetries  int
	timeout     time.Duration
	incoming    []link
	outgoing    []link
}

type plan struct {
	entries map[string]*entry
	order   []string
}

type limits struct {
	maxRetries  int
	nodeTimeout time.Duration
}

func structural(nodeID, message string, cause error) error {
	return domain.NewStructuralError(message, cause,
		domain.WithNodeID(nodeID),
		domain.WithComponent(validatorComponent),
	)
}

func misconfigured(nodeID, message string, cause error) error {
	return domain.NewConfigurationError(message, cause,
		domain.WithNodeID(nodeID),
		domain.WithComponent(validatorComponent),
	)
}

// validate checks the whole graph and resolves every node's behavior,
// settings and policies. Every problem found is reported, not just the
// first.
func (e *Engine) validate(graph *domain.Graph, mode domain.RunMode, lim limits) (*plan, []offense) {
	p := &plan{entries: make(map[string]*entry, len(graph.Nodes))}
	var offenses []offense

	for i, node := range graph.Nodes {
		if node.ID == "" {
			offenses = append(offenses, offense{
				err: structural("", fmt.Sprintf("node at index %d has an empty id", i), nil),
			})
			continue
		}
		if _, dup := p.entries[node.ID]; dup {
			offenses = append(offenses, offense{
				nodeID: node.ID,
				err:    structural(node.ID, "duplicate node id", nil),
			})
			continue
		}

		ent, err := e.resolveNode(node, mode, lim)
		if err != nil {
			offenses = append(offenses, offense{nodeID: node.ID, err: err})
		}
		p.entries[node.ID] = ent
		p.order = append(p.order, node.ID)
	}

	var edges []domain.Edge
	for _, edge := range graph.Edges {
		source, okSource := p.entries[edge.Source]
		target, okTarget := p.entries[edge.Target]

		if !okSource || !okTarget {
			blame := ""
			switch {
			case okSource:
				blame = edge.Source
			case okTarget:
				blame = edge.Target
			}
			offenses = append(offenses, offense{
				nodeID: blame,
				err:    structural(blame, fmt.Sprintf("dangling edge %s -> %s", edge.Source, edge.Target), domain.ErrNotFound),
			})
			continue
		}

		if err := policy.ValidateEdge(edge, source.node); err != nil {
			offenses = append(offenses, offense{
				nodeID: edge.Target,
				err:    misconfigured(edge.Target, fmt.Sprintf("edge %s -> %s", edge.Source, edge.Target), err),
			})
			continue
		}

		l := link{source: edge.Source, target: edge.Target, gating: policy.EdgeGating(edge, source.node)}
		source.outgoing = append(source.outgoing, l)
		target.incoming = append(target.incoming, l)
		edges = append(edges, edge)
	}

	_, dagOffenses := buildDAG(p.order, edges)
	offenses = append(offenses, dagOffenses...)

	return p, offenses
}

func (e *Engine) resolveNode(node domain.Node, mode domain.RunMode, lim limits) (*entry, error) {
	ent := &entry{
		node:       node,
		class:      node.Class(),
		policy:     policy.FailurePolicy(node),
		maxRetries: lim.maxRetries,
		timeout:    lim.nodeTimeout,
	}
	ent.fallback, ent.hasFallback = policy.FallbackValue(node)

	if err := policy.ValidateNode(node); err != nil {
		return ent, misconfigured(node.ID, "invalid failure policy", err)
	}
	if node.MaxRetries != nil {
		if *node.MaxRetries < 0 {
			return ent, misconfigured(node.ID, "maxRetries cannot be negative", domain.ErrInvalidInput)
		}
		ent.maxRetries = *node.MaxRetries
	}
	if node.TimeoutMs < 0 {
		return ent, misconfigured(node.ID, "timeoutMs cannot be negative", domain.ErrInvalidInput)
	}
	if node.TimeoutMs > 0 {
		ent.timeout = time.Duration(node.TimeoutMs) * time.Millisecond
	}

	impl, err := e.registry.GetNode(node.Spec)
	if err != nil {
		if !errors.Is(err, domain.ErrUnknownSpec) || mode == domain.ModeMarketplace {
			return ent, misconfigured(node.ID, fmt.Sprintf("unknown specification %q", node.Spec), err)
		}
		ent.impl = noopNode(node.Spec)
		ent.class = domain.ResourceCPU
		return ent, nil
	}
	ent.impl = impl
	ent.class = impl.Class()

	settings, err := e.registry.DecodeSettings(node)
	if err != nil {
		return ent, misconfigured(node.ID, fmt.Sprintf("invalid %s config", node.Spec), err)
	}
	ent.settings = settings
	return ent, nil
}

// noopNode stands in for an unknown specification in dev mode. It passes
// its inputs through so downstream nodes still have something to read.
func noopNode(spec string) ports.NodePort {
	return node_registry.NewFuncNode(spec, domain.ResourceCPU, func(ctx context.Context, req *ports.NodeRequest) (interface{}, error) {
		return map[string]interface{}{
			"noop":   true,
			"specId": spec,
			"inputs": req.Inputs,
		}, nil
	})
}
