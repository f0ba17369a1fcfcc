package domain

// ResourceClass groups node specifications that compete for the same
// concurrency budget inside a run.
type ResourceClass string

const (
	ResourceLLM   ResourceClass = "llm"
	ResourceHTTP  ResourceClass = "http"
	ResourceImage ResourceClass = "image"
	ResourceCPU   ResourceClass = "cpu"
)

var ResourceClasses = []ResourceClass{ResourceLLM, ResourceHTTP, ResourceImage, ResourceCPU}

func (c ResourceClass) IsValid() bool {
	switch c {
	case ResourceLLM, ResourceHTTP, ResourceImage, ResourceCPU:
		return true
	}
	return false
}

const (
	SpecInput         = "input"
	SpecOutput        = "output"
	SpecTransform     = "transform"
	SpecConditional   = "conditional"
	SpecMerge         = "merge"
	SpecHTTPRequest   = "http.request"
	SpecLLMChat       = "llm.chat"
	SpecLLMEmbeddings = "llm.embeddings"
	SpecImageGenerate = "image.generate"
)

var specClasses = map[string]ResourceClass{
	SpecLLMChat:       ResourceLLM,
	SpecLLMEmbeddings: ResourceLLM,
	SpecHTTPRequest:   ResourceHTTP,
	SpecImageGenerate: ResourceImage,
}

// ClassForSpec maps a specification id to its resource class. Anything not
// listed runs as cpu.
func ClassForSpec(spec string) ResourceClass {
	if class, ok := specClasses[spec]; ok {
		return class
	}
	return ResourceCPU
}

type FailurePolicy string

const (
	FailFast         FailurePolicy = "fail_fast"
	Continue         FailurePolicy = "continue"
	SkipDownstream   FailurePolicy = "skip_downstream"
	UseFallbackValue FailurePolicy = "use_fallback_value"
)

func (p FailurePolicy) IsValid() bool {
	switch p {
	case FailFast, Continue, SkipDownstream, UseFallbackValue:
		return true
	}
	return false
}

type EdgeGating string

const (
	RequireSuccess    EdgeGating = "require_success"
	AllowOnFailure    EdgeGating = "allow_on_failure"
	RequireNonEmpty   EdgeGating = "require_non_empty"
	RequireTruthy     EdgeGating = "require_truthy"
	RequireTypeJSON   EdgeGating = "require_type:json"
	RequireTypeArray  EdgeGating = "require_type:array"
	RequireTypeString EdgeGating = "require_type:string"
)

func (g EdgeGating) IsValid() bool {
	switch g {
	case RequireSuccess, AllowOnFailure, RequireNonEmpty, RequireTruthy,
		RequireTypeJSON, RequireTypeArray, RequireTypeString:
		return true
	}
	return false
}

type Graph struct {
	Nodes  []Node             `json:"nodes" yaml:"nodes"`
	Edges  []Edge             `json:"edges" yaml:"edges"`
	Egress *EgressDeclaration `json:"egress,omitempty" yaml:"egress,omitempty"`
}

// EgressDeclaration is the host policy a workflow author declares for its
// own outbound calls. It can only narrow the platform policy.
type EgressDeclaration struct {
	AllowHosts []string `json:"allowHosts,omitempty" yaml:"allowHosts,omitempty"`
	DenyHosts  []string `json:"denyHosts,omitempty" yaml:"denyHosts,omitempty"`
}

type Node struct {
	ID            string                 `json:"id" yaml:"id"`
	Spec          string                 `json:"spec" yaml:"spec"`
	Config        map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	FailurePolicy FailurePolicy          `json:"failurePolicy,omitempty" yaml:"failurePolicy,omitempty"`
	FallbackValue interface{}            `json:"fallbackValue,omitempty" yaml:"fallbackValue,omitempty"`
	MaxRetries    *int                   `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	TimeoutMs     int                    `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
}

func (n Node) Class() ResourceClass {
	return ClassForSpec(n.Spec)
}

type Edge struct {
	Source string     `json:"source" yaml:"source"`
	Target string     `json:"target" yaml:"target"`
	Gating EdgeGating `json:"edgeGating,omitempty" yaml:"edgeGating,omitempty"`
}

func (g *Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
