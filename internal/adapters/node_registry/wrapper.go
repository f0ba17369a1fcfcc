package node_registry

import (
	"context"
	"fmt"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

// TypedNode adapts a behavior over a concrete settings type S to NodePort.
// S is normally a pointer to a struct with json tags.
type TypedNode[S ports.NodeSettings] struct {
	name        string
	class       domain.ResourceClass
	newSettings func() S
	run         func(ctx context.Context, req *ports.NodeRequest, settings S) (interface{}, error)
}

func NewTypedNode[S ports.NodeSettings](
	name string,
	class domain.ResourceClass,
	newSettings func() S,
	run func(ctx context.Context, req *ports.NodeRequest, settings S) (interface{}, error),
) *TypedNode[S] {
	return &TypedNode[S]{
		name:        name,
		class:       class,
		newSettings: newSettings,
		run:         run,
	}
}

func (n *TypedNode[S]) GetName() string {
	return n.name
}

func (n *TypedNode[S]) Class() domain.ResourceClass {
	return n.class
}

func (n *TypedNode[S]) NewSettings() ports.NodeSettings {
	return n.newSettings()
}

func (n *TypedNode[S]) Execute(ctx context.Context, req *ports.NodeRequest) (interface{}, error) {
	var settings S
	switch s := req.Settings.(type) {
	case nil:
		settings = n.newSettings()
	case S:
		settings = s
	default:
		return nil, domain.NewConfigurationError(
			fmt.Sprintf("settings type %T does not match node %s", req.Settings, n.name), nil,
			domain.WithNodeID(req.NodeID),
			domain.WithComponent("node-registry"),
		)
	}
	return n.run(ctx, req, settings)
}

// FuncNode is a NodePort without typed settings. Its config is passed
// through untouched in NodeRequest.Config.
type FuncNode struct {
	name  string
	class domain.ResourceClass
	fn    func(ctx context.Context, req *ports.NodeRequest) (interface{}, error)
}

func NewFuncNode(name string, class domain.ResourceClass, fn func(ctx context.Context, req *ports.NodeRequest) (interface{}, error)) *FuncNode {
	return &FuncNode{name: name, class: class, fn: fn}
}

func (n *FuncNode) GetName() string                 { return n.name }
func (n *FuncNode) Class() domain.ResourceClass     { return n.class }
func (n *FuncNode) NewSettings() ports.NodeSettings { return nil }

func (n *FuncNode) Execute(ctx context.Context, req *ports.NodeRequest) (interface{}, error) {
	return n.fn(ctx, req)
}
