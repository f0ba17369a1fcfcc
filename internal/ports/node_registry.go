package ports

import (
	"context"
	"log/slog"

	"github.com/eleven-am/weft/internal/domain"
)

// NodeSettings is the typed form of a node's config map. It is decoded and
// validated before the run starts.
type NodeSettings interface {
	Validate() error
}

// EgressPolicy is the effective outbound policy of one run.
type EgressPolicy struct {
	// Every non-empty list must admit the host.
	AllowLists       [][]string
	DenyHosts        []string
	MaxResponseBytes int64
	MaxJSONDepth     int
	MaxStringLength  int
	MaxRedirects     int
}

// NodeRequest is everything a behavior sees for one attempt.
type NodeRequest struct {
	RunID    string
	NodeID   string
	Spec     string
	Attempt  int
	Mode     domain.RunMode
	UserID   string
	Settings NodeSettings
	Config   map[string]interface{}
	// Outputs of satisfied, succeeded sources keyed by source id.
	Inputs      map[string]interface{}
	InputOrder  []string
	RunInputs   map[string]interface{}
	Credentials map[string]string
	Egress      EgressPolicy
	Logger      *slog.Logger
}

type NodePort interface {
	GetName() string
	Class() domain.ResourceClass
	NewSettings() NodeSettings
	Execute(ctx context.Context, req *NodeRequest) (interface{}, error)
}

type NodeRegistryPort interface {
	RegisterNode(node NodePort) error
	GetNode(nodeName string) (NodePort, error)
	ListNodes() []string
	UnregisterNode(nodeName string) error
	HasNode(nodeName string) bool
	GetNodeCount() int
	// DecodeSettings turns node.Config into the node type's validated settings.
	// Specs without typed settings return nil.
	DecodeSettings(node domain.Node) (NodeSettings, error)
}

type NodeRegistrationError struct {
	NodeName string
	Reason   string
}

func (e NodeRegistrationError) Error() string {
	return "node registration failed for '" + e.NodeName + "': " + e.Reason
}
