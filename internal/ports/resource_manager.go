package ports

import (
	"context"
	"time"

	"github.com/eleven-am/weft/internal/domain"
)

// ResourcePool bounds how many nodes of each resource class run at once
// within a single run.
type ResourcePool interface {
	// Acquire suspends until a slot for class is free or ctx is done.
	Acquire(ctx context.Context, class domain.ResourceClass) error
	Release(class domain.ResourceClass) error
	Stats() map[domain.ResourceClass]PoolStats
}

type PoolStats struct {
	Class       domain.ResourceClass `json:"class"`
	Limit       int                  `json:"limit"`
	Active      int                  `json:"active"`
	Waiting     int                  `json:"waiting"`
	Peak        int                  `json:"peak"`
	Acquired    int64                `json:"acquired"`
	Utilization float64              `json:"utilization"`
	AvgWait     time.Duration        `json:"avg_wait"`
	MaxWait     time.Duration        `json:"max_wait"`
}
