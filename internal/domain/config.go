package domain

import (
	"log/slog"
	"time"
)

type Config struct {
	DataDir string       `json:"data_dir" yaml:"data_dir"`
	Logger  *slog.Logger `json:"-" yaml:"-"`

	Engine         EngineConfig              `json:"engine" yaml:"engine"`
	Resources      ResourceConfig            `json:"resources" yaml:"resources"`
	CircuitBreaker CircuitBreakerConfig      `json:"circuit_breaker" yaml:"circuit_breaker"`
	RateLimiter    RateLimiterConfig         `json:"rate_limiter" yaml:"rate_limiter"`
	Egress         EgressConfig              `json:"egress" yaml:"egress"`
	Providers      map[string]ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
	Storage        StorageConfig             `json:"storage" yaml:"storage"`
}

type EngineConfig struct {
	DefaultMode       RunMode       `json:"default_mode" yaml:"default_mode"`
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	NodeTimeout       time.Duration `json:"node_timeout" yaml:"node_timeout"`
	RunTimeout        time.Duration `json:"run_timeout" yaml:"run_timeout"`
	RetryBaseDelay    time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay     time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
	RetryAfterCeiling time.Duration `json:"retry_after_ceiling" yaml:"retry_after_ceiling"`
}

type ResourceConfig struct {
	Limits map[ResourceClass]int `json:"limits,omitempty" yaml:"limits,omitempty"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
}

type RateLimiterConfig struct {
	Window          time.Duration  `json:"window" yaml:"window"`
	Cooldown        time.Duration  `json:"cooldown" yaml:"cooldown"`
	DefaultBudget   int            `json:"default_budget" yaml:"default_budget"`
	Budgets         map[string]int `json:"budgets,omitempty" yaml:"budgets,omitempty"`
	CleanupInterval time.Duration  `json:"cleanup_interval" yaml:"cleanup_interval"`
	KeyExpiry       time.Duration  `json:"key_expiry" yaml:"key_expiry"`
}

type EgressConfig struct {
	AllowHosts                  []string      `json:"allow_hosts,omitempty" yaml:"allow_hosts,omitempty"`
	DenyHosts                   []string      `json:"deny_hosts,omitempty" yaml:"deny_hosts,omitempty"`
	MaxResponseBytes            int64         `json:"max_response_bytes" yaml:"max_response_bytes"`
	MarketplaceMaxResponseBytes int64         `json:"marketplace_max_response_bytes" yaml:"marketplace_max_response_bytes"`
	MaxJSONDepth                int           `json:"max_json_depth" yaml:"max_json_depth"`
	MaxStringLength             int           `json:"max_string_length" yaml:"max_string_length"`
	MaxRedirects                int           `json:"max_redirects" yaml:"max_redirects"`
	RequestTimeout              time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"-" yaml:"api_key"`
}

// StorageConfig selects the snapshot store. An empty Driver means badger
// under Config.DataDir; postgres and sqlite use DSN.
type StorageConfig struct {
	Driver string        `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string        `json:"-" yaml:"dsn,omitempty"`
	RunTTL time.Duration `json:"run_ttl" yaml:"run_ttl"`
}

func (c *Config) WithDataDir(dir string) *Config {
	c.DataDir = dir
	return c
}

func (c *Config) WithSQLStorage(driver, dsn string) *Config {
	c.Storage.Driver = driver
	c.Storage.DSN = dsn
	return c
}

func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

func (c *Config) WithResourceLimit(class ResourceClass, limit int) *Config {
	if c.Resources.Limits == nil {
		c.Resources.Limits = make(map[ResourceClass]int)
	}
	c.Resources.Limits[class] = limit
	return c
}

func (c *Config) WithRetrySettings(maxRetries int, baseDelay, maxDelay time.Duration) *Config {
	c.Engine.MaxRetries = maxRetries
	c.Engine.RetryBaseDelay = baseDelay
	c.Engine.RetryMaxDelay = maxDelay
	return c
}

func (c *Config) WithProvider(name, baseURL, apiKey string) *Config {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	c.Providers[name] = ProviderConfig{BaseURL: baseURL, APIKey: apiKey}
	return c
}

func (c *Config) WithEgressHosts(allow, deny []string) *Config {
	c.Egress.AllowHosts = allow
	c.Egress.DenyHosts = deny
	return c
}
