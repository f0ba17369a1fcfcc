// Package engine schedules a validated graph: it walks dependency order,
// bounds concurrency per resource class, retries transient failures and
// applies each node's failure policy and each edge's gating rule.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eleven-am/weft/internal/adapters/circuit_breaker"
	"github.com/eleven-am/weft/internal/adapters/egress"
	"github.com/eleven-am/weft/internal/adapters/resource_manager"
	"github.com/eleven-am/weft/internal/adapters/version"
	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

type Engine struct {
	config   *domain.Config
	registry ports.NodeRegistryPort
	guard    *egress.Guard
	retry    circuit_breaker.RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

type Option func(*Engine)

// WithClock replaces time.Now for event and node timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleep replaces the retry backoff wait. It must return early with the
// context's error once ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

var _ ports.EnginePort = (*Engine)(nil)

func NewEngine(config *domain.Config, registry ports.NodeRegistryPort, guard *egress.Guard, logger *slog.Logger, opts ...Option) *Engine {
	if config == nil {
		config = domain.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = egress.NewGuard(config.Egress, logger)
	}

	e := &Engine{
		config:   config,
		registry: registry,
		guard:    guard,
		retry:    circuit_breaker.NewRetryPolicy(config.Engine),
		logger:   logger.With("component", "engine"),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs graph to completion. Structural problems reject the graph
// before anything is scheduled; the result then marks offending nodes
// failed and everything else skipped, and the error wraps ErrStructural.
func (e *Engine) Execute(ctx context.Context, graph *domain.Graph, opts domain.RunOptions) (*domain.RunResult, error) {
	if graph == nil {
		graph = &domain.Graph{}
	}

	runID := uuid.New().String()
	logger := e.logger.With("run_id", runID)

	result := &domain.RunResult{
		RunID:     runID,
		Mode:      opts.Mode,
		StartedAt: e.now(),
		Nodes:     make(map[string]*domain.NodeState, len(graph.Nodes)),
	}
	if result.Mode == "" {
		result.Mode = e.config.Engine.DefaultMode
	}

	hash, err := version.ComputeVersionHash(graph)
	if err != nil {
		logger.Warn("failed to compute version hash", errorLogAttrs(err)...)
	}
	result.VersionHash = hash

	for _, node := range graph.Nodes {
		if node.ID == "" {
			continue
		}
		if _, exists := result.Nodes[node.ID]; exists {
			continue
		}
		result.Nodes[node.ID] = &domain.NodeState{
			NodeID: node.ID,
			Spec:   node.Spec,
			Class:  node.Class(),
			Status: domain.NodePending,
		}
	}

	settings, optErr := e.resolveOptions(result.Mode, opts)
	if optErr != nil {
		return e.reject(result, logger, []offense{{err: optErr}})
	}

	p, offenses := e.validate(graph, result.Mode, limits{maxRetries: settings.maxRetries, nodeTimeout: settings.nodeTimeout})
	if len(offenses) > 0 {
		return e.reject(result, logger, offenses)
	}
	for id, ent := range p.entries {
		result.Nodes[id].Class = ent.class
	}

	runCtx, cancel := context.WithTimeout(ctx, settings.runTimeout)
	defer cancel()

	r := newRun(e, runCtx, result, p, graph, opts, settings, logger)
	return r.execute(ctx)
}

func (e *Engine) Validate(graph *domain.Graph, mode domain.RunMode) error {
	if graph == nil {
		graph = &domain.Graph{}
	}
	if mode == "" {
		mode = e.config.Engine.DefaultMode
	}

	settings, err := e.resolveOptions(mode, domain.RunOptions{})
	if err != nil {
		return structuralFailure("", []offense{{err: err}})
	}
	_, offenses := e.validate(graph, mode, limits{maxRetries: settings.maxRetries, nodeTimeout: settings.nodeTimeout})
	if len(offenses) > 0 {
		return structuralFailure("", offenses)
	}
	return nil
}

func structuralFailure(runID string, offenses []offense) error {
	causes := make([]error, 0, len(offenses))
	for _, o := range offenses {
		causes = append(causes, o.err)
	}
	opts := []domain.ErrorOption{domain.WithComponent(engineComponent)}
	if runID != "" {
		opts = append(opts, domain.WithRunID(runID))
	}
	return domain.NewStructuralError(
		fmt.Sprintf("graph rejected with %d problem(s)", len(offenses)),
		errors.Join(causes...),
		opts...,
	)
}

type runSettings struct {
	limits           map[domain.ResourceClass]int
	maxRetries       int
	breakerThreshold int
	nodeTimeout      time.Duration
	runTimeout       time.Duration
}

func (e *Engine) resolveOptions(mode domain.RunMode, opts domain.RunOptions) (runSettings, error) {
	if !mode.IsValid() {
		return runSettings{}, domain.NewConfigurationError(fmt.Sprintf("unknown run mode %q", mode), domain.ErrInvalidInput,
			domain.WithComponent(engineComponent),
		)
	}

	limits, err := resource_manager.ResolveLimits(e.config.Resources.Limits, opts.Concurrency)
	if err != nil {
		return runSettings{}, domain.NewConfigurationError("invalid concurrency overrides", err,
			domain.WithComponent(engineComponent),
		)
	}

	s := runSettings{
		limits:           limits,
		maxRetries:       e.config.Engine.MaxRetries,
		breakerThreshold: e.config.CircuitBreaker.FailureThreshold,
		nodeTimeout:      e.config.Engine.NodeTimeout,
		runTimeout:       e.config.Engine.RunTimeout,
	}
	if opts.MaxRetries != nil {
		if *opts.MaxRetries < 0 {
			return runSettings{}, domain.NewConfigurationError("max retries cannot be negative", domain.ErrInvalidInput,
				domain.WithComponent(engineComponent),
			)
		}
		s.maxRetries = *opts.MaxRetries
	}
	if opts.BreakerThreshold > 0 {
		s.breakerThreshold = opts.BreakerThreshold
	}
	if opts.NodeTimeout > 0 {
		s.nodeTimeout = opts.NodeTimeout
	}
	if opts.RunTimeout > 0 {
		s.runTimeout = opts.RunTimeout
	}

	defaults := domain.DefaultEngineConfig()
	if s.nodeTimeout <= 0 {
		s.nodeTimeout = defaults.NodeTimeout
	}
	if s.runTimeout <= 0 {
		s.runTimeout = defaults.RunTimeout
	}
	if s.breakerThreshold <= 0 {
		s.breakerThreshold = circuit_breaker.DefaultFailureThreshold
	}
	return s, nil
}

// reject finishes a run that never started.
func (e *Engine) reject(result *domain.RunResult, logger *slog.Logger, offenses []offense) (*domain.RunResult, error) {
	now := e.now()
	for _, o := range offenses {
		if st, ok := result.Nodes[o.nodeID]; ok && st.Status != domain.NodeFailed {
			st.Status = domain.NodeFailed
			st.Error = o.err.Error()
			st.ErrorKind = errorKind(o.err)
			st.FinishedAt = &now
		}
	}
	for _, st := range result.Nodes {
		if st.Status == domain.NodePending {
			st.Status = domain.NodeSkipped
			st.FinishedAt = &now
		}
	}

	err := structuralFailure(result.RunID, offenses)

	result.Status = domain.RunFailed
	result.Error = err.Error()
	result.FinishedAt = now
	result.Events = append(result.Events, domain.Event{
		Seq:     1,
		Time:    now,
		Kind:    domain.EventRunRejected,
		Message: err.Error(),
	})

	logger.Warn("graph rejected", errorLogAttrs(err)...)
	return result, err
}
