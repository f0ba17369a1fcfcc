package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eleven-am/weft/internal/adapters/circuit_breaker"
	"github.com/eleven-am/weft/internal/adapters/policy"
	"github.com/eleven-am/weft/internal/adapters/resource_manager"
	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

type updateKind int

const (
	updateStarted updateKind = iota
	updateRetrying
	updateFinished
)

// update is how a node task reports progress. The scheduler goroutine is
// the only reader and the only writer of run state.
type update struct {
	kind    updateKind
	nodeID  string
	attempt int
	output  interface{}
	err     error
	delay   time.Duration
	// Set when the task gave up waiting for its first slot.
	interrupted bool
	// Set when the run context ended the task.
	canceled bool
}

type run struct {
	engine  *Engine
	logger  *slog.Logger
	ctx     context.Context
	result  *domain.RunResult
	plan    *plan
	graph   *domain.Graph
	opts    domain.RunOptions
	pool    *resource_manager.Adapter
	breaker ports.CircuitBreaker
	retry   circuit_breaker.RetryPolicy
	egress  ports.EgressPolicy

	// interruptCtx ends slot waits and backoff sleeps. It is canceled on a
	// propagating failure; running attempts keep ctx.
	interruptCtx context.Context
	interrupt    context.CancelFunc

	updates  chan update
	inflight int
	seq      int
	stopping bool
	failure  string
}

func newRun(e *Engine, ctx context.Context, result *domain.RunResult, p *plan, graph *domain.Graph, opts domain.RunOptions, settings runSettings, logger *slog.Logger) *run {
	interruptCtx, interrupt := context.WithCancel(ctx)

	r := &run{
		engine:       e,
		logger:       logger,
		ctx:          ctx,
		result:       result,
		plan:         p,
		graph:        graph,
		opts:         opts,
		pool:         resource_manager.NewAdapter(settings.limits, logger),
		retry:        e.retry,
		egress:       e.guard.PolicyFor(result.Mode, graph.Egress),
		interruptCtx: interruptCtx,
		interrupt:    interrupt,
		updates:      make(chan update, len(p.order)+1),
	}
	r.breaker = circuit_breaker.NewCircuitBreaker(result.RunID, settings.breakerThreshold, logger)
	return r
}

func (r *run) execute(parent context.Context) (*domain.RunResult, error) {
	defer r.interrupt()

	r.emit(domain.EventRunStarted, "", 0, "run started in %s mode with %d node(s)", r.result.Mode, len(r.plan.order))
	r.logger.Info("run started", "mode", r.result.Mode, "nodes", len(r.plan.order), "version_hash", r.result.VersionHash)

	if r.ctx.Err() != nil {
		r.cancelRun()
	} else {
		for _, id := range r.plan.order {
			if len(r.plan.entries[id].incoming) == 0 {
				r.dispatch(id)
			}
		}
	}

	done := r.ctx.Done()
	for r.inflight > 0 {
		select {
		case u := <-r.updates:
			r.apply(u)
		case <-done:
			r.cancelRun()
			done = nil
		}
	}

	r.skipPending("never became ready")
	return r.finish(parent)
}

func (r *run) finish(parent context.Context) (*domain.RunResult, error) {
	r.result.FinishedAt = r.engine.now()

	var err error
	switch {
	case r.ctx.Err() != nil:
		reason := "run canceled"
		if parent.Err() == nil {
			reason = "run timed out"
		}
		err = domain.NewCanceledError(reason, r.ctx.Err(),
			domain.WithRunID(r.result.RunID),
			domain.WithComponent(engineComponent),
		)
		r.result.Status = domain.RunCanceled
		r.result.Error = err.Error()
	case r.failure != "":
		r.result.Status = domain.RunFailed
		r.result.Error = r.failure
	default:
		r.result.Status = domain.RunSucceeded
	}

	r.emit(domain.EventRunCompleted, "", 0, "run %s", r.result.Status)
	r.logger.Info("run completed",
		"status", r.result.Status,
		"duration", r.result.FinishedAt.Sub(r.result.StartedAt),
		"breaker_failures", r.breaker.Metrics().FailureCount,
	)
	return r.result, err
}

// transition moves a node forward, refusing anything that would leave a
// terminal state or go backwards.
func (r *run) transition(st *domain.NodeState, next domain.NodeStatus) bool {
	if !st.Status.CanTransitionTo(next) {
		r.logger.Error("illegal node transition", "node_id", st.NodeID, "from", st.Status, "to", next)
		return false
	}
	st.Status = next
	now := r.engine.now()
	switch next {
	case domain.NodeQueued:
		st.QueuedAt = &now
	case domain.NodeRunning:
		st.StartedAt = &now
	default:
		st.FinishedAt = &now
	}
	return true
}

func (r *run) dispatch(id string) {
	st := r.result.Nodes[id]
	if !r.transition(st, domain.NodeQueued) {
		return
	}
	ent := r.plan.entries[id]
	r.emit(domain.EventNodeQueued, id, 0, "queued for %s slot", ent.class)

	r.inflight++
	go r.runTask(ent, r.request(ent))
}

// request assembles what the node sees: outputs of succeeded sources keyed
// by source id, in edge order.
func (r *run) request(ent *entry) *ports.NodeRequest {
	inputs := make(map[string]interface{}, len(ent.incoming))
	order := make([]string, 0, len(ent.incoming))
	for _, in := range ent.incoming {
		order = append(order, in.source)
		src := r.result.Nodes[in.source]
		if src.Status == domain.NodeSucceeded {
			inputs[in.source] = src.Output
		}
	}

	return &ports.NodeRequest{
		RunID:       r.result.RunID,
		NodeID:      ent.node.ID,
		Spec:        ent.node.Spec,
		Mode:        r.result.Mode,
		UserID:      r.opts.UserID,
		Settings:    ent.settings,
		Config:      ent.node.Config,
		Inputs:      inputs,
		InputOrder:  order,
		RunInputs:   r.opts.Inputs,
		Credentials: r.opts.Credentials,
		Egress:      r.egress,
		Logger:      r.logger.With("node_id", ent.node.ID, "spec", ent.node.Spec),
	}
}

func (r *run) apply(u update) {
	st := r.result.Nodes[u.nodeID]

	switch u.kind {
	case updateStarted:
		st.Attempts = u.attempt
		if u.attempt == 1 {
			r.transition(st, domain.NodeRunning)
		}
		r.emit(domain.EventNodeStarted, u.nodeID, u.attempt, "attempt %d started", u.attempt)

	case updateRetrying:
		r.emit(domain.EventNodeRetrying, u.nodeID, u.attempt, "attempt %d failed (%s), retrying in %s", u.attempt, u.err, u.delay)

	case updateFinished:
		r.inflight--
		r.finishNode(st, u)
	}
}

func (r *run) finishNode(st *domain.NodeState, u update) {
	ent := r.plan.entries[u.nodeID]

	if u.interrupted && st.Status == domain.NodeQueued {
		r.skip(u.nodeID, "interrupted while waiting for a slot")
		return
	}

	if u.err == nil {
		r.succeed(st, u.output, false)
		r.emit(domain.EventNodeSucceeded, u.nodeID, st.Attempts, "succeeded after %d attempt(s)", st.Attempts)
		r.evaluateDependents(ent)
		return
	}

	if u.canceled {
		r.fail(st, u.err)
		r.emit(domain.EventNodeFailed, u.nodeID, st.Attempts, "interrupted: %s", u.err)
		return
	}

	if r.breaker.RecordFailure() {
		r.emit(domain.EventBreakerOpen, u.nodeID, 0, "circuit breaker open after %d failures; no further retries", r.breaker.Metrics().FailureCount)
	}

	r.logger.Warn("node failed", append([]any{"node_id", u.nodeID, "attempts", st.Attempts, "policy", ent.policy}, errorLogAttrs(u.err)...)...)

	switch ent.policy {
	case domain.UseFallbackValue:
		if !domain.IsSecurityError(u.err) {
			r.succeed(st, ent.fallback, true)
			st.Error = u.err.Error()
			st.ErrorKind = errorKind(u.err)
			r.emit(domain.EventNodeFallback, u.nodeID, st.Attempts, "failed (%s), using fallback value", u.err)
			r.evaluateDependents(ent)
			return
		}
		r.fail(st, u.err)
		r.emit(domain.EventNodeFailed, u.nodeID, st.Attempts, "failed: %s (security errors never use fallback)", u.err)
		r.evaluateDependents(ent)

	case domain.Continue:
		r.fail(st, u.err)
		r.emit(domain.EventNodeFailed, u.nodeID, st.Attempts, "failed: %s", u.err)
		r.evaluateDependents(ent)

	case domain.SkipDownstream:
		r.fail(st, u.err)
		r.emit(domain.EventNodeFailed, u.nodeID, st.Attempts, "failed: %s; skipping downstream", u.err)
		r.skipDescendants(ent)

	default:
		r.fail(st, u.err)
		r.emit(domain.EventNodeFailed, u.nodeID, st.Attempts, "failed: %s", u.err)
		if propagates(ent) {
			r.stop(fmt.Sprintf("node %s failed: %s", u.nodeID, u.err))
			return
		}
		r.evaluateDependents(ent)
	}
}

// propagates reports whether a fail_fast failure ends the run: nothing
// downstream is prepared to handle it.
func propagates(ent *entry) bool {
	if len(ent.outgoing) == 0 {
		return true
	}
	for _, out := range ent.outgoing {
		if out.gating != domain.AllowOnFailure {
			return true
		}
	}
	return false
}

func (r *run) succeed(st *domain.NodeState, output interface{}, fallback bool) {
	if !r.transition(st, domain.NodeSucceeded) {
		return
	}
	st.Output = output
	st.HasOutput = true
	st.FallbackUsed = fallback
}

func (r *run) fail(st *domain.NodeState, err error) {
	if !r.transition(st, domain.NodeFailed) {
		return
	}
	st.Error = err.Error()
	st.ErrorKind = errorKind(err)
}

// skip marks a pending or queued node skipped and lets its dependents
// react.
func (r *run) skip(id, reason string) {
	if !r.markSkipped(id, reason) {
		return
	}
	r.evaluateDependents(r.plan.entries[id])
}

func (r *run) markSkipped(id, reason string) bool {
	st := r.result.Nodes[id]
	if st.Status != domain.NodePending && st.Status != domain.NodeQueued {
		return false
	}
	if !r.transition(st, domain.NodeSkipped) {
		return false
	}
	r.emit(domain.EventNodeSkipped, id, 0, "skipped: %s", reason)
	return true
}

func (r *run) skipDescendants(ent *entry) {
	queue := []string{ent.node.ID}
	visited := map[string]bool{ent.node.ID: true}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, out := range r.plan.entries[current].outgoing {
			if visited[out.target] {
				continue
			}
			visited[out.target] = true
			r.markSkipped(out.target, fmt.Sprintf("upstream %s failed with skip_downstream", ent.node.ID))
			queue = append(queue, out.target)
		}
	}
}

func (r *run) evaluateDependents(ent *entry) {
	for _, out := range ent.outgoing {
		r.evaluate(out.target)
	}
}

// evaluate dispatches a pending node once every incoming edge is
// satisfied. A terminal source whose edge is unsatisfied means the node can
// never run, so it is skipped at once.
func (r *run) evaluate(id string) {
	st := r.result.Nodes[id]
	if st.Status != domain.NodePending || r.stopping {
		return
	}

	ready := true
	for _, in := range r.plan.entries[id].incoming {
		src := r.result.Nodes[in.source]
		if !src.Status.IsTerminal() {
			ready = false
			continue
		}
		if !policy.Satisfies(src.Output, src.Status, in.gating) {
			r.skip(id, fmt.Sprintf("edge from %s not satisfied (%s, source %s)", in.source, in.gating, src.Status))
			return
		}
	}

	if ready {
		r.dispatch(id)
	}
}

// stop handles a propagating failure: nothing new is dispatched, queued
// nodes are interrupted and running nodes finish without retrying.
func (r *run) stop(reason string) {
	if r.failure == "" {
		r.failure = reason
	}
	if r.stopping {
		return
	}
	r.stopping = true
	r.interrupt()
	r.emit(domain.EventRunStopping, "", 0, "stopping: %s", reason)
	r.logger.Warn("run stopping", "reason", reason, "inflight", r.inflight)
	r.skipPending("run stopping after failure")
}

func (r *run) cancelRun() {
	if r.stopping {
		return
	}
	r.stopping = true
	r.interrupt()
	r.emit(domain.EventRunStopping, "", 0, "stopping: %s", r.ctx.Err())
	r.skipPending("run canceled")
}

func (r *run) skipPending(reason string) {
	for _, id := range r.plan.order {
		if r.result.Nodes[id].Status == domain.NodePending {
			r.markSkipped(id, reason)
		}
	}
}
