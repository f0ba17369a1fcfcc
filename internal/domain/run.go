package domain

import "time"

type RunMode string

const (
	ModeDev         RunMode = "dev"
	ModeMarketplace RunMode = "marketplace"
)

func (m RunMode) IsValid() bool {
	return m == ModeDev || m == ModeMarketplace
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeQueued    NodeStatus = "queued"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

func (s NodeStatus) rank() int {
	switch s {
	case NodePending:
		return 0
	case NodeQueued:
		return 1
	case NodeRunning:
		return 2
	case NodeSucceeded, NodeFailed, NodeSkipped:
		return 3
	}
	return -1
}

func (s NodeStatus) IsTerminal() bool {
	return s == NodeSucceeded || s == NodeFailed || s == NodeSkipped
}

// CanTransitionTo reports whether next is a forward move from s. Terminal
// states accept nothing.
func (s NodeStatus) CanTransitionTo(next NodeStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

type NodeState struct {
	NodeID       string        `json:"node_id"`
	Spec         string        `json:"spec"`
	Class        ResourceClass `json:"class"`
	Status       NodeStatus    `json:"status"`
	Output       interface{}   `json:"output,omitempty"`
	HasOutput    bool          `json:"has_output"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	Attempts     int           `json:"attempts"`
	FallbackUsed bool          `json:"fallback_used,omitempty"`
	QueuedAt     *time.Time    `json:"queued_at,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

func (s *NodeState) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

type EventKind string

const (
	EventRunStarted    EventKind = "run_started"
	EventRunCompleted  EventKind = "run_completed"
	EventRunRejected   EventKind = "run_rejected"
	EventRunStopping   EventKind = "run_stopping"
	EventNodeQueued    EventKind = "node_queued"
	EventNodeStarted   EventKind = "node_started"
	EventNodeRetrying  EventKind = "node_retrying"
	EventNodeSucceeded EventKind = "node_succeeded"
	EventNodeFailed    EventKind = "node_failed"
	EventNodeSkipped   EventKind = "node_skipped"
	EventNodeFallback  EventKind = "node_fallback"
	EventBreakerOpen   EventKind = "breaker_open"
)

// Event is one line of the human-readable run log.
type Event struct {
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
	Kind    EventKind `json:"kind"`
	NodeID  string    `json:"node_id,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Message string    `json:"message"`
}

type RunResult struct {
	RunID       string                `json:"run_id"`
	Mode        RunMode               `json:"mode"`
	Status      RunStatus             `json:"status"`
	VersionHash string                `json:"version_hash"`
	Error       string                `json:"error,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
	Nodes       map[string]*NodeState `json:"nodes"`
	Events      []Event               `json:"events"`
}

func (r *RunResult) Node(id string) *NodeState {
	return r.Nodes[id]
}

// EventsFor returns the node's events in occurrence order.
func (r *RunResult) EventsFor(nodeID string) []Event {
	var out []Event
	for _, ev := range r.Events {
		if ev.NodeID == nodeID {
			out = append(out, ev)
		}
	}
	return out
}

type RunOptions struct {
	Mode        RunMode                `json:"mode" yaml:"mode"`
	UserID      string                 `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Credentials map[string]string      `json:"-" yaml:"-"`
	Inputs      map[string]interface{} `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Concurrency map[ResourceClass]int  `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// Zero values fall back to EngineConfig.
	MaxRetries       *int          `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BreakerThreshold int           `json:"breaker_threshold,omitempty" yaml:"breaker_threshold,omitempty"`
	NodeTimeout      time.Duration `json:"node_timeout,omitempty" yaml:"node_timeout,omitempty"`
	RunTimeout       time.Duration `json:"run_timeout,omitempty" yaml:"run_timeout,omitempty"`
}
