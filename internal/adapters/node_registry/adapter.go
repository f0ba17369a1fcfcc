package node_registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/eleven-am/weft/internal/adapters/version"
	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
	"github.com/eleven-am/weft/internal/xjson"
)

// Keys read by the policy resolver rather than by node settings.
var policyKeys = map[string]struct{}{
	"failurePolicy": {},
	"fallbackValue": {},
	"edgeGating":    {},
}

type Adapter struct {
	nodes  map[string]ports.NodePort
	mu     sync.RWMutex
	logger *slog.Logger
}

var _ ports.NodeRegistryPort = (*Adapter)(nil)

func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		nodes:  make(map[string]ports.NodePort),
		logger: logger.With("component", "node-registry"),
	}
}

func (r *Adapter) RegisterNode(node ports.NodePort) error {
	if node == nil {
		r.logger.Error("attempted to register nil node")
		return &ports.NodeRegistrationError{
			NodeName: "<nil>",
			Reason:   "node cannot be nil",
		}
	}

	nodeName := node.GetName()
	if nodeName == "" {
		r.logger.Error("attempted to register node with empty name")
		return &ports.NodeRegistrationError{
			NodeName: nodeName,
			Reason:   "node name cannot be empty",
		}
	}
	if !node.Class().IsValid() {
		return &ports.NodeRegistrationError{
			NodeName: nodeName,
			Reason:   fmt.Sprintf("unknown resource class %q", node.Class()),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[nodeName]; exists {
		r.logger.Debug("node registration failed - already exists", "node_name", nodeName)
		return &ports.NodeRegistrationError{
			NodeName: nodeName,
			Reason:   "node already registered",
		}
	}

	r.nodes[nodeName] = node
	r.logger.Debug("node registered", "node_name", nodeName, "class", node.Class(), "total_nodes", len(r.nodes))
	return nil
}

func (r *Adapter) GetNode(nodeName string) (ports.NodePort, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, exists := r.nodes[nodeName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSpec, nodeName)
	}
	return node, nil
}

func (r *Adapter) ListNodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodeNames := make([]string, 0, len(r.nodes))
	for nodeName := range r.nodes {
		nodeNames = append(nodeNames, nodeName)
	}
	sort.Strings(nodeNames)
	return nodeNames
}

func (r *Adapter) UnregisterNode(nodeName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[nodeName]; !exists {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, nodeName)
	}

	delete(r.nodes, nodeName)
	r.logger.Debug("node unregistered", "node_name", nodeName, "remaining_nodes", len(r.nodes))
	return nil
}

func (r *Adapter) HasNode(nodeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.nodes[nodeName]
	return exists
}

func (r *Adapter) GetNodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// DecodeSettings turns a node's config map into its registered settings
// type and validates it. Volatile editor keys and policy keys are dropped
// first; anything else the settings type does not know is an error.
func (r *Adapter) DecodeSettings(node domain.Node) (ports.NodeSettings, error) {
	impl, err := r.GetNode(node.Spec)
	if err != nil {
		return nil, err
	}

	settings := impl.NewSettings()
	if settings == nil {
		return nil, nil
	}

	config := make(map[string]interface{}, len(node.Config))
	for key, value := range node.Config {
		if _, ok := policyKeys[key]; ok || version.IsVolatileKey(key) {
			continue
		}
		config[key] = value
	}

	data, err := xjson.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := xjson.UnmarshalStrict(data, settings); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}
