// Package core wires the engine, the built-in nodes, the rate limiter, the
// egress guard and the snapshot store into one Manager.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/eleven-am/weft/internal/adapters/egress"
	"github.com/eleven-am/weft/internal/adapters/engine"
	"github.com/eleven-am/weft/internal/adapters/node_registry"
	"github.com/eleven-am/weft/internal/adapters/nodes"
	"github.com/eleven-am/weft/internal/adapters/rate_limiter"
	"github.com/eleven-am/weft/internal/adapters/storage"
	"github.com/eleven-am/weft/internal/adapters/storage/sqlstore"
	"github.com/eleven-am/weft/internal/adapters/version"
	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

type Manager struct {
	engine   ports.EnginePort
	storage  ports.StoragePort
	registry ports.NodeRegistryPort
	limiter  *rate_limiter.Limiter

	config *domain.Config
	logger *slog.Logger
}

type options struct {
	transport http.RoundTripper
	engine    []engine.Option
}

type Option func(*options)

// WithTransport sends all outbound node traffic through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) {
		o.engine = append(o.engine, opts...)
	}
}

// New validates config and builds a Manager with every built-in node
// registered.
func New(config *domain.Config, opts ...Option) (*Manager, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := config.Logger.With("component", "weft")

	var guardOpts []egress.Option
	if o.transport != nil {
		guardOpts = append(guardOpts, egress.WithTransport(o.transport))
	}
	guard := egress.NewGuard(config.Egress, logger, guardOpts...)

	limiter := rate_limiter.NewLimiter(config.RateLimiter, logger)

	registry := node_registry.NewAdapter(logger)
	if err := nodes.RegisterBuiltins(registry, nodes.Deps{
		Guard:     guard,
		Limiter:   limiter,
		Providers: config.Providers,
		Logger:    logger,
	}); err != nil {
		_ = limiter.Close()
		return nil, fmt.Errorf("failed to register built-in nodes: %w", err)
	}

	store, err := openStore(config, logger)
	if err != nil {
		_ = limiter.Close()
		return nil, err
	}

	m := &Manager{
		engine:   engine.NewEngine(config, registry, guard, logger, o.engine...),
		storage:  store,
		registry: registry,
		limiter:  limiter,
		config:   config,
		logger:   logger,
	}

	logger.Info("manager ready",
		"data_dir", config.DataDir,
		"storage", storageDriver(config.Storage),
		"default_mode", config.Engine.DefaultMode,
		"nodes", registry.GetNodeCount(),
	)
	return m, nil
}

func storageDriver(config domain.StorageConfig) string {
	if config.Driver == "" {
		return domain.StorageBadger
	}
	return config.Driver
}

func openStore(config *domain.Config, logger *slog.Logger) (ports.StoragePort, error) {
	switch storageDriver(config.Storage) {
	case domain.StoragePostgres:
		return sqlstore.Open(sqlstore.DriverPostgres, config.Storage.DSN, config.Storage, logger)
	case domain.StorageSQLite:
		return sqlstore.Open(sqlstore.DriverSQLite, config.Storage.DSN, config.Storage, logger)
	default:
		return storage.NewAdapter(config.DataDir, config.Storage, logger)
	}
}

// Registry is where custom node specifications are registered.
func (m *Manager) Registry() ports.NodeRegistryPort {
	return m.registry
}

func (m *Manager) RegisterNode(node ports.NodePort) error {
	return m.registry.RegisterNode(node)
}

// Execute runs graph and archives the result, including rejected runs.
func (m *Manager) Execute(ctx context.Context, graph *domain.Graph, opts domain.RunOptions) (*domain.RunResult, error) {
	result, runErr := m.engine.Execute(ctx, graph, opts)
	if result != nil {
		if err := m.storage.SaveRun(result); err != nil {
			m.logger.Error("failed to archive run", "run_id", result.RunID, "error", err)
		}
	}
	return result, runErr
}

// Publish validates graph for marketplace execution and stores it as an
// immutable version. Publishing the same content twice returns the same
// hash.
func (m *Manager) Publish(workflowID string, graph *domain.Graph) (string, error) {
	if err := m.engine.Validate(graph, domain.ModeMarketplace); err != nil {
		return "", err
	}

	hash, err := version.ComputeVersionHash(graph)
	if err != nil {
		return "", err
	}
	if err := m.storage.PutVersion(workflowID, hash, graph); err != nil {
		return "", err
	}
	return hash, nil
}

func (m *Manager) Activate(workflowID, hash string) error {
	return m.storage.SetActive(workflowID, hash)
}

func (m *Manager) Versions(workflowID string) ([]ports.WorkflowVersion, error) {
	return m.storage.ListVersions(workflowID)
}

// RunActive executes the active version of a published workflow. Published
// workflows always run in marketplace mode.
func (m *Manager) RunActive(ctx context.Context, workflowID string, opts domain.RunOptions) (*domain.RunResult, error) {
	hash, err := m.storage.Active(workflowID)
	if err != nil {
		return nil, err
	}
	snapshot, err := m.storage.GetVersion(workflowID, hash)
	if err != nil {
		return nil, err
	}

	computed, err := version.ComputeVersionHash(snapshot.Graph)
	if err != nil {
		return nil, err
	}
	if computed != hash {
		return nil, domain.NewSecurityError("stored version does not match its hash", domain.ErrInvalidState,
			domain.WithComponent("manager"),
			domain.WithDetail("workflow_id", workflowID),
			domain.WithDetail("expected", hash),
			domain.WithDetail("actual", computed),
		)
	}

	opts.Mode = domain.ModeMarketplace
	m.logger.Debug("running active version", "workflow_id", workflowID, "hash", hash)
	return m.Execute(ctx, snapshot.Graph, opts)
}

func (m *Manager) GetRun(runID string) (*domain.RunResult, error) {
	return m.storage.GetRun(runID)
}

func (m *Manager) Close() error {
	if err := m.limiter.Close(); err != nil {
		m.logger.Warn("failed to stop rate limiter", "error", err)
	}
	return m.storage.Close()
}
