package ports

import (
	"time"

	"github.com/eleven-am/weft/internal/domain"
)

// WorkflowVersion is one published, immutable snapshot of a graph.
type WorkflowVersion struct {
	WorkflowID  string        `json:"workflow_id"`
	Hash        string        `json:"hash"`
	Graph       *domain.Graph `json:"graph"`
	PublishedAt time.Time     `json:"published_at"`
}

// StoragePort persists published versions, the active pointer of each
// workflow and finished runs.
type StoragePort interface {
	// PutVersion is write-once: storing a hash that already exists is a
	// no-op and keeps the original snapshot.
	PutVersion(workflowID, hash string, graph *domain.Graph) error
	GetVersion(workflowID, hash string) (*WorkflowVersion, error)
	ListVersions(workflowID string) ([]WorkflowVersion, error)

	SetActive(workflowID, hash string) error
	Active(workflowID string) (string, error)

	SaveRun(result *domain.RunResult) error
	GetRun(runID string) (*domain.RunResult, error)

	Close() error
}
