package domain

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI        = "openai"
	DefaultOpenAIBaseURL  = "https://api.openai.com"
	DefaultProviderBudget = 60
)

const (
	StorageBadger   = "badger"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

func DefaultConfig() *Config {
	return &Config{
		Engine:         DefaultEngineConfig(),
		Resources:      DefaultResourceConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		RateLimiter:    DefaultRateLimiterConfig(),
		Egress:         DefaultEgressConfig(),
		Providers: map[string]ProviderConfig{
			ProviderOpenAI: {BaseURL: DefaultOpenAIBaseURL},
		},
		Storage: DefaultStorageConfig(),
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultMode:       ModeDev,
		MaxRetries:        3,
		NodeTimeout:       2 * time.Minute,
		RunTimeout:        30 * time.Minute,
		RetryBaseDelay:    250 * time.Millisecond,
		RetryMaxDelay:     8 * time.Second,
		RetryAfterCeiling: 60 * time.Second,
	}
}

// DefaultResourceLimits returns a fresh copy of the per-class defaults.
func DefaultResourceLimits() map[ResourceClass]int {
	return map[ResourceClass]int{
		ResourceLLM:   2,
		ResourceHTTP:  4,
		ResourceImage: 1,
		ResourceCPU:   4,
	}
}

func DefaultResourceConfig() ResourceConfig {
	return ResourceConfig{Limits: DefaultResourceLimits()}
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5}
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Window:        60 * time.Second,
		Cooldown:      60 * time.Second,
		DefaultBudget: DefaultProviderBudget,
		Budgets: map[string]int{
			ProviderOpenAI: DefaultProviderBudget,
		},
		CleanupInterval: 5 * time.Minute,
		KeyExpiry:       10 * time.Minute,
	}
}

func DefaultEgressConfig() EgressConfig {
	return EgressConfig{
		MaxResponseBytes:            10 << 20,
		MarketplaceMaxResponseBytes: 2 << 20,
		MaxJSONDepth:                32,
		MaxStringLength:             1 << 20,
		MaxRedirects:                5,
		RequestTimeout:              60 * time.Second,
	}
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{RunTTL: 24 * time.Hour}
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if !c.Engine.DefaultMode.IsValid() {
		return NewConfigError("engine.default_mode", ErrInvalidInput)
	}
	if c.Engine.MaxRetries < 0 {
		return NewConfigError("engine.max_retries", ErrInvalidInput)
	}
	if c.Engine.RetryBaseDelay < 0 || c.Engine.RetryMaxDelay < c.Engine.RetryBaseDelay {
		return NewConfigError("engine.retry_max_delay", ErrInvalidInput)
	}
	if c.Engine.RetryAfterCeiling < 0 {
		return NewConfigError("engine.retry_after_ceiling", ErrInvalidInput)
	}

	for class, limit := range c.Resources.Limits {
		if !class.IsValid() {
			return NewConfigError("resources.limits", fmt.Errorf("unknown resource class %q", class))
		}
		if limit <= 0 {
			return NewConfigError("resources.limits."+string(class), ErrInvalidInput)
		}
	}

	if c.CircuitBreaker.FailureThreshold <= 0 {
		return NewConfigError("circuit_breaker.failure_threshold", ErrInvalidInput)
	}

	if c.RateLimiter.Window <= 0 {
		return NewConfigError("rate_limiter.window", ErrInvalidInput)
	}
	if c.RateLimiter.DefaultBudget <= 0 {
		return NewConfigError("rate_limiter.default_budget", ErrInvalidInput)
	}
	for provider, budget := range c.RateLimiter.Budgets {
		if budget <= 0 {
			return NewConfigError("rate_limiter.budgets."+provider, ErrInvalidInput)
		}
	}

	// A throttled call retries after the cooldown; a lower ceiling would
	// schedule the retry while the bucket still refuses it.
	ceiling, cooldown := c.Engine.RetryAfterCeiling, c.RateLimiter.Cooldown
	if ceiling == 0 {
		ceiling = DefaultEngineConfig().RetryAfterCeiling
	}
	if cooldown <= 0 {
		cooldown = DefaultRateLimiterConfig().Cooldown
	}
	if cooldown > ceiling {
		return NewConfigError("engine.retry_after_ceiling",
			fmt.Errorf("%w: %s is below the rate limiter cooldown %s", ErrInvalidInput, ceiling, cooldown))
	}

	if c.Egress.MaxResponseBytes <= 0 || c.Egress.MarketplaceMaxResponseBytes <= 0 {
		return NewConfigError("egress.max_response_bytes", ErrInvalidInput)
	}
	if c.Egress.MaxJSONDepth <= 0 {
		return NewConfigError("egress.max_json_depth", ErrInvalidInput)
	}
	if c.Egress.MaxStringLength <= 0 {
		return NewConfigError("egress.max_string_length", ErrInvalidInput)
	}
	if c.Egress.MaxRedirects < 0 {
		return NewConfigError("egress.max_redirects", ErrInvalidInput)
	}

	switch c.Storage.Driver {
	case "", StorageBadger:
	case StoragePostgres, StorageSQLite:
		if c.Storage.DSN == "" {
			return NewConfigError("storage.dsn", ErrInvalidInput)
		}
	default:
		return NewConfigError("storage.driver", fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	for name, provider := range c.Providers {
		if provider.BaseURL == "" {
			return NewConfigError("providers."+name+".base_url", ErrInvalidInput)
		}
	}

	return nil
}

// LoadConfig overlays a YAML file and the environment on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, NewConfigError(path, err)
		}
	}

	ApplyEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnvironment reads WEFT_* variables. Provider variables follow
// WEFT_<PROVIDER>_API_KEY and WEFT_<PROVIDER>_BASE_URL.
func ApplyEnvironment(config *Config) {
	if dir := os.Getenv("WEFT_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
	if driver := os.Getenv("WEFT_STORAGE_DRIVER"); driver != "" {
		config.Storage.Driver = driver
	}
	if dsn := os.Getenv("WEFT_STORAGE_DSN"); dsn != "" {
		config.Storage.DSN = dsn
	}

	if config.Providers == nil {
		config.Providers = make(map[string]ProviderConfig)
	}

	for _, name := range []string{ProviderOpenAI} {
		prefix := "WEFT_" + strings.ToUpper(name)
		provider := config.Providers[name]
		if key := os.Getenv(prefix + "_API_KEY"); key != "" {
			provider.APIKey = key
		}
		if baseURL := os.Getenv(prefix + "_BASE_URL"); baseURL != "" {
			provider.BaseURL = baseURL
		}
		if provider.BaseURL == "" {
			provider.BaseURL = DefaultOpenAIBaseURL
		}
		config.Providers[name] = provider
	}
}
