package ports

import (
	"context"

	"github.com/eleven-am/weft/internal/domain"
)

// EnginePort runs one graph to completion. The returned result always
// carries a definite status; the error is set for structural rejections
// and cancellation.
type EnginePort interface {
	Execute(ctx context.Context, graph *domain.Graph, opts domain.RunOptions) (*domain.RunResult, error)
	// Validate reports the structural problems Execute would reject graph
	// for in mode, without running anything.
	Validate(graph *domain.Graph, mode domain.RunMode) error
}
