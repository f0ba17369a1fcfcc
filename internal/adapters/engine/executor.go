package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

// runTask drives one node through its attempts. It holds a slot only while
// an attempt runs; backoff happens with the slot released.
func (r *run) runTask(ent *entry, req *ports.NodeRequest) {
	id := ent.node.ID
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := r.pool.Acquire(r.interruptCtx, ent.class); err != nil {
			if attempt == 1 {
				r.updates <- update{kind: updateFinished, nodeID: id, err: err, interrupted: r.interruptCtx.Err() != nil}
				return
			}
			r.updates <- r.gaveUp(id, lastErr)
			return
		}

		r.updates <- update{kind: updateStarted, nodeID: id, attempt: attempt}

		attemptReq := *req
		attemptReq.Attempt = attempt
		output, err := r.invoke(ent, &attemptReq)

		if releaseErr := r.pool.Release(ent.class); releaseErr != nil {
			r.logger.Error("failed to release slot", append([]any{"node_id", id}, errorLogAttrs(releaseErr)...)...)
		}

		if err == nil {
			r.updates <- update{kind: updateFinished, nodeID: id, attempt: attempt, output: output}
			return
		}

		if r.ctx.Err() != nil {
			r.updates <- r.gaveUp(id, err)
			return
		}

		decision := r.retry.Decide(err, attempt, ent.maxRetries, domain.ResponseMeta{})
		if !decision.Retry || r.breaker.IsOpen() || r.interruptCtx.Err() != nil {
			r.logger.Debug("not retrying", "node_id", id, "attempt", attempt, "reason", decision.Reason, "breaker_open", r.breaker.IsOpen())
			r.updates <- update{kind: updateFinished, nodeID: id, attempt: attempt, err: err}
			return
		}

		r.updates <- update{kind: updateRetrying, nodeID: id, attempt: attempt, err: err, delay: decision.Delay}
		lastErr = err

		if err := r.engine.sleep(r.interruptCtx, decision.Delay); err != nil {
			r.updates <- r.gaveUp(id, lastErr)
			return
		}
	}
}

// gaveUp reports a node that stopped between or during attempts. When the
// run itself ended, the failure is a cancellation rather than the node's
// own error.
func (r *run) gaveUp(nodeID string, lastErr error) update {
	if r.ctx.Err() != nil {
		return update{
			kind:   updateFinished,
			nodeID: nodeID,
			err: domain.NewCanceledError("node interrupted", r.ctx.Err(),
				domain.WithNodeID(nodeID),
				domain.WithRunID(r.result.RunID),
				domain.WithComponent(executorComponent),
			),
			canceled: true,
		}
	}
	if lastErr == nil {
		lastErr = domain.NewCanceledError("node interrupted", context.Canceled,
			domain.WithNodeID(nodeID),
			domain.WithComponent(executorComponent),
		)
	}
	return update{kind: updateFinished, nodeID: nodeID, err: lastErr}
}

// invoke runs a single attempt under the node's timeout. A panic becomes a
// terminal failure.
func (r *run) invoke(ent *entry, req *ports.NodeRequest) (output interface{}, err error) {
	ctx, cancel := context.WithTimeout(r.ctx, ent.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("node execution panicked",
				"node_id", req.NodeID,
				"spec", req.Spec,
				"attempt", req.Attempt,
				"panic_value", p,
				"stack_trace", string(debug.Stack()),
			)
			output = nil
			err = domain.NewTerminalError(fmt.Sprintf("node panicked: %v", p), nil,
				domain.WithNodeID(req.NodeID),
				domain.WithRunID(req.RunID),
				domain.WithComponent(executorComponent),
				domain.WithOperation(req.Spec),
			)
		}
	}()

	output, err = ent.impl.Execute(ctx, req)
	duration := time.Since(start)

	if err != nil && r.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = domain.NewTransientError(fmt.Sprintf("node timed out after %s", ent.timeout), err,
			domain.WithNodeID(req.NodeID),
			domain.WithRunID(req.RunID),
			domain.WithComponent(executorComponent),
			domain.WithOperation(req.Spec),
		)
	}

	if err != nil {
		r.logger.Debug("attempt failed", append([]any{"node_id", req.NodeID, "attempt", req.Attempt, "duration", duration}, errorLogAttrs(err)...)...)
	} else {
		r.logger.Debug("attempt succeeded", "node_id", req.NodeID, "attempt", req.Attempt, "duration", duration)
	}
	return output, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
