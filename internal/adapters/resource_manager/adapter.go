package resource_manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dario.cat/mergo"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

// Adapter owns one FIFO pool per resource class. A new Adapter is built for
// every run; classes never share slots.
type Adapter struct {
	logger  *slog.Logger
	pools   map[domain.ResourceClass]*classPool
	monitor *WaitMonitor
}

var _ ports.ResourcePool = (*Adapter)(nil)

// ResolveLimits overlays per-run overrides onto base. Zero overrides keep
// the base value; negative ones are rejected.
func ResolveLimits(base, overrides map[domain.ResourceClass]int) (map[domain.ResourceClass]int, error) {
	limits := domain.DefaultResourceLimits()
	if err := mergo.Merge(&limits, nonZero(base), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge base limits: %w", err)
	}

	for class, limit := range overrides {
		if !class.IsValid() {
			return nil, domain.NewConfigError("concurrency."+string(class), domain.ErrInvalidInput)
		}
		if limit < 0 {
			return nil, domain.NewConfigError("concurrency."+string(class), fmt.Errorf("negative limit %d", limit))
		}
	}

	if err := mergo.Merge(&limits, nonZero(overrides), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge concurrency overrides: %w", err)
	}
	return limits, nil
}

func nonZero(in map[domain.ResourceClass]int) map[domain.ResourceClass]int {
	out := make(map[domain.ResourceClass]int, len(in))
	for class, limit := range in {
		if limit > 0 {
			out[class] = limit
		}
	}
	return out
}

func NewAdapter(limits map[domain.ResourceClass]int, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	adapter := &Adapter{
		logger:  logger.With("component", "resource-manager"),
		pools:   make(map[domain.ResourceClass]*classPool, len(domain.ResourceClasses)),
		monitor: NewWaitMonitor(),
	}

	defaults := domain.DefaultResourceLimits()
	for _, class := range domain.ResourceClasses {
		limit := limits[class]
		if limit <= 0 {
			limit = defaults[class]
		}
		adapter.pools[class] = newClassPool(class, limit)
	}
	return adapter
}

func (rm *Adapter) pool(class domain.ResourceClass, operation string) (*classPool, error) {
	pool, ok := rm.pools[class]
	if !ok {
		return nil, domain.NewResourceError(fmt.Sprintf("unknown resource class %q", class), domain.ErrInvalidInput,
			domain.WithComponent("resource-manager"),
			domain.WithOperation(operation),
		)
	}
	return pool, nil
}

func (rm *Adapter) Acquire(ctx context.Context, class domain.ResourceClass) error {
	pool, err := rm.pool(class, "acquire")
	if err != nil {
		return err
	}

	start := time.Now()
	queued, err := pool.acquire(ctx)
	if err != nil {
		rm.logger.Debug("acquire abandoned", "class", class, "queued", queued, "error", err)
		return domain.NewCanceledError("slot acquisition canceled", err,
			domain.WithComponent("resource-manager"),
			domain.WithOperation("acquire"),
			domain.WithDetail("class", string(class)),
		)
	}

	wait := time.Since(start)
	rm.monitor.RecordWait(class, wait)
	if queued {
		rm.logger.Debug("slot handed off", "class", class, "wait", wait)
	}
	return nil
}

func (rm *Adapter) Release(class domain.ResourceClass) error {
	pool, err := rm.pool(class, "release")
	if err != nil {
		return err
	}
	if err := pool.release(); err != nil {
		rm.logger.Error("attempted to release slot with no holders", "class", class)
		return err
	}
	return nil
}

func (rm *Adapter) Stats() map[domain.ResourceClass]ports.PoolStats {
	stats := make(map[domain.ResourceClass]ports.PoolStats, len(rm.pools))
	for class, pool := range rm.pools {
		limit, active, waiting, peak, acquired := pool.snapshot()
		stats[class] = ports.PoolStats{
			Class:       class,
			Limit:       limit,
			Active:      active,
			Waiting:     waiting,
			Peak:        peak,
			Acquired:    acquired,
			Utilization: utilization(active, limit),
			AvgWait:     rm.monitor.AvgWait(class),
			MaxWait:     rm.monitor.MaxWait(class),
		}
	}
	return stats
}
