// Package weft runs workflow graphs: nodes that call language models, fetch
// URLs or reshape data, connected by edges that decide what runs next.
//
// A run validates the graph, then walks it in dependency order. Each node
// waits for a slot in its resource class, may be retried on transient
// failures, and applies its failure policy when it finally fails. Outbound
// calls go through an egress guard and a per-provider rate limiter.
//
// Basic usage:
//
//	manager, err := weft.New(weft.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Close()
//
//	graph, err := weft.ParseGraph(payload)
//	result, err := manager.Execute(ctx, graph, weft.RunOptions{Mode: weft.ModeDev})
//
// Published workflows are immutable snapshots addressed by a content hash:
//
//	hash, err := manager.Publish("summarizer", graph)
//	err = manager.Activate("summarizer", hash)
//	result, err := manager.RunActive(ctx, "summarizer", weft.RunOptions{UserID: "u-1"})
package weft

import (
	"context"

	"github.com/eleven-am/weft/internal/adapters/node_registry"
	"github.com/eleven-am/weft/internal/adapters/version"
	"github.com/eleven-am/weft/internal/core"
	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

// Manager executes graphs, publishes versions and keeps run history.
type Manager = core.Manager

// Option customizes a Manager at construction.
type Option = core.Option

// WithTransport routes outbound node traffic through a custom round
// tripper. Egress checks still apply.
var WithTransport = core.WithTransport

// New builds a Manager with every built-in node registered.
func New(config *Config, opts ...Option) (*Manager, error) {
	return core.New(config, opts...)
}

// Graph is a workflow definition: nodes, edges and an optional egress
// declaration.
type Graph = domain.Graph

type Node = domain.Node

type Edge = domain.Edge

type EgressDeclaration = domain.EgressDeclaration

// ParseGraph decodes a JSON or YAML graph payload.
func ParseGraph(data []byte) (*Graph, error) {
	return domain.ParseGraph(data)
}

// ComputeVersionHash returns the content identity of graph. Editor-only
// fields and list order do not affect it.
func ComputeVersionHash(graph *Graph) (string, error) {
	return version.ComputeVersionHash(graph)
}

type RunMode = domain.RunMode

const (
	ModeDev         = domain.ModeDev
	ModeMarketplace = domain.ModeMarketplace
)

// RunOptions are the per-run inputs, credentials and overrides.
type RunOptions = domain.RunOptions

// RunResult is the outcome of a run: overall status, per-node state and
// the event log.
type RunResult = domain.RunResult

type RunStatus = domain.RunStatus

const (
	RunSucceeded = domain.RunSucceeded
	RunFailed    = domain.RunFailed
	RunCanceled  = domain.RunCanceled
)

type NodeState = domain.NodeState

type NodeStatus = domain.NodeStatus

type Event = domain.Event

type EventKind = domain.EventKind

type ResourceClass = domain.ResourceClass

const (
	ResourceLLM   = domain.ResourceLLM
	ResourceHTTP  = domain.ResourceHTTP
	ResourceImage = domain.ResourceImage
	ResourceCPU   = domain.ResourceCPU
)

type FailurePolicy = domain.FailurePolicy

const (
	FailFast         = domain.FailFast
	Continue         = domain.Continue
	SkipDownstream   = domain.SkipDownstream
	UseFallbackValue = domain.UseFallbackValue
)

type EdgeGating = domain.EdgeGating

const (
	RequireSuccess    = domain.RequireSuccess
	AllowOnFailure    = domain.AllowOnFailure
	RequireNonEmpty   = domain.RequireNonEmpty
	RequireTruthy     = domain.RequireTruthy
	RequireTypeJSON   = domain.RequireTypeJSON
	RequireTypeArray  = domain.RequireTypeArray
	RequireTypeString = domain.RequireTypeString
)

// NodePort is the behavior behind a node specification.
type NodePort = ports.NodePort

// NodeRequest is what a node sees for one attempt.
type NodeRequest = ports.NodeRequest

// NodeSettings is a typed node config, decoded and validated before the
// run starts.
type NodeSettings = ports.NodeSettings

type WorkflowVersion = ports.WorkflowVersion

// NewNode builds a node whose config decodes into S. Unknown config keys
// are rejected when the graph is validated.
func NewNode[S NodeSettings](
	spec string,
	class ResourceClass,
	newSettings func() S,
	run func(ctx context.Context, req *NodeRequest, settings S) (interface{}, error),
) NodePort {
	return node_registry.NewTypedNode(spec, class, newSettings, run)
}

// NewFuncNode builds a node without typed settings.
func NewFuncNode(spec string, class ResourceClass, fn func(ctx context.Context, req *NodeRequest) (interface{}, error)) NodePort {
	return node_registry.NewFuncNode(spec, class, fn)
}
