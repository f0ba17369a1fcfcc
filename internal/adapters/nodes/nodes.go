// Package nodes holds the built-in node specifications and registers them
// with a node registry.
package nodes

import (
	"fmt"
	"log/slog"

	"github.com/eleven-am/weft/internal/adapters/egress"
	"github.com/eleven-am/weft/internal/adapters/node_registry"
	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

// Deps are the process-wide collaborators built-in nodes call into. A nil
// Guard is replaced with one using the default egress configuration; a nil
// Limiter disables provider budgets.
type Deps struct {
	Guard     *egress.Guard
	Limiter   ports.RateLimiter
	Providers map[string]domain.ProviderConfig
	Logger    *slog.Logger
}

type builtins struct {
	guard     *egress.Guard
	limiter   ports.RateLimiter
	providers map[string]domain.ProviderConfig
	logger    *slog.Logger
}

func newBuiltins(deps Deps) *builtins {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := deps.Guard
	if guard == nil {
		guard = egress.NewGuard(domain.DefaultEgressConfig(), logger)
	}
	providers := deps.Providers
	if providers == nil {
		providers = map[string]domain.ProviderConfig{
			domain.ProviderOpenAI: {BaseURL: domain.DefaultOpenAIBaseURL},
		}
	}
	return &builtins{
		guard:     guard,
		limiter:   deps.Limiter,
		providers: providers,
		logger:    logger.With("component", "nodes"),
	}
}

// RegisterBuiltins registers every built-in specification.
func RegisterBuiltins(registry ports.NodeRegistryPort, deps Deps) error {
	b := newBuiltins(deps)

	builtinNodes := []ports.NodePort{
		node_registry.NewTypedNode(domain.SpecInput, domain.ResourceCPU,
			func() *InputSettings { return &InputSettings{} }, runInput),
		node_registry.NewTypedNode(domain.SpecOutput, domain.ResourceCPU,
			func() *OutputSettings { return &OutputSettings{} }, runOutput),
		node_registry.NewTypedNode(domain.SpecTransform, domain.ResourceCPU,
			func() *TransformSettings { return &TransformSettings{Operation: OpTemplate} }, runTransform),
		node_registry.NewTypedNode(domain.SpecConditional, domain.ResourceCPU,
			func() *ConditionalSettings { return &ConditionalSettings{Operator: CmpTruthy} }, runConditional),
		node_registry.NewTypedNode(domain.SpecMerge, domain.ResourceCPU,
			func() *MergeSettings { return &MergeSettings{Strategy: MergeObject} }, runMerge),
		node_registry.NewTypedNode(domain.SpecHTTPRequest, domain.ResourceHTTP,
			func() *HTTPSettings { return &HTTPSettings{Method: "GET", ResponseFormat: FormatJSON} }, b.runHTTP),
		node_registry.NewTypedNode(domain.SpecLLMChat, domain.ResourceLLM,
			func() *ChatSettings { return &ChatSettings{Provider: domain.ProviderOpenAI, ResponseFormat: FormatText} }, b.runChat),
		node_registry.NewTypedNode(domain.SpecLLMEmbeddings, domain.ResourceLLM,
			func() *EmbeddingsSettings { return &EmbeddingsSettings{Provider: domain.ProviderOpenAI} }, b.runEmbeddings),
		node_registry.NewTypedNode(domain.SpecImageGenerate, domain.ResourceImage,
			func() *ImageSettings { return &ImageSettings{Provider: domain.ProviderOpenAI, Size: "1024x1024"} }, b.runImage),
	}

	for _, n := range builtinNodes {
		if n.Class() != domain.ClassForSpec(n.GetName()) {
			return fmt.Errorf("node %s registered as %s but spec maps to %s", n.GetName(), n.Class(), domain.ClassForSpec(n.GetName()))
		}
		if err := registry.RegisterNode(n); err != nil {
			return err
		}
	}

	b.logger.Debug("built-in nodes registered", "count", len(builtinNodes))
	return nil
}

func settingsError(spec, message string) error {
	return fmt.Errorf("%s: %s", spec, message)
}

func nodeError(req *ports.NodeRequest, message string, cause error) error {
	return domain.NewTerminalError(message, cause,
		domain.WithNodeID(req.NodeID),
		domain.WithRunID(req.RunID),
		domain.WithComponent("nodes"),
		domain.WithOperation(req.Spec),
	)
}
