package weft

import "github.com/eleven-am/weft/internal/domain"

type Config = domain.Config

type EngineConfig = domain.EngineConfig

type ResourceConfig = domain.ResourceConfig

type CircuitBreakerConfig = domain.CircuitBreakerConfig

type RateLimiterConfig = domain.RateLimiterConfig

type EgressConfig = domain.EgressConfig

type ProviderConfig = domain.ProviderConfig

type StorageConfig = domain.StorageConfig

// DefaultConfig returns a single-process, in-memory configuration with the
// OpenAI provider at its public endpoint and no platform key.
func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

// LoadConfig reads a YAML file (optional) and WEFT_* environment variables
// on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	return domain.LoadConfig(path)
}

// Error taxonomy.
type (
	DomainError   = domain.DomainError
	ErrorCategory = domain.ErrorCategory
	StatusError   = domain.StatusError
	ConfigError   = domain.ConfigError
)

const (
	CategoryStructural    = domain.CategoryStructural
	CategoryTransient     = domain.CategoryTransient
	CategoryTerminal      = domain.CategoryTerminal
	CategorySecurity      = domain.CategorySecurity
	CategoryResource      = domain.CategoryResource
	CategoryConfiguration = domain.CategoryConfiguration
	CategoryCanceled      = domain.CategoryCanceled
)

var (
	ErrStructural   = domain.ErrStructural
	ErrCycle        = domain.ErrCycle
	ErrUnknownSpec  = domain.ErrUnknownSpec
	ErrNotFound     = domain.ErrNotFound
	ErrEgressDenied = domain.ErrEgressDenied
	ErrRateLimited  = domain.ErrRateLimited
)

func GetErrorCategory(err error) ErrorCategory {
	return domain.GetErrorCategory(err)
}

func IsRetryableError(err error) bool {
	return domain.IsRetryableError(err)
}

func IsSecurityError(err error) bool {
	return domain.IsSecurityError(err)
}
