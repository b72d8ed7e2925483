package domain

import "context"

// ConfigSource loads a configuration document by path.
type ConfigSource interface {
	Load(ctx context.Context, path string) ([]byte, error)
}

// ChangeSource answers revision queries for change detection. Implementations
// must be deterministic and side-effect free.
type ChangeSource interface {
	// Resolve verifies that rev names an existing revision.
	Resolve(ctx context.Context, rev string) error
	// ChangedFiles lists the paths that differ between base and head.
	ChangedFiles(ctx context.Context, base, head string) ([]string, error)
}

// Action is the opaque descriptor of a node's work.
type Action struct {
	Uses string            `json:"uses"`
	With map[string]string `json:"with,omitempty"`
}

// ActionRequest is handed to an executor for one node.
type ActionRequest struct {
	RunID    string
	Node     string
	Action   Action
	Matrix   map[string]any
	Inputs   map[string]string
	Upstream map[string]map[string]string // predecessor name -> outputs
	Trigger  Trigger
}

// ActionResult is an executor's terminal report. Status must be NodeSucceeded
// or NodeFailed.
type ActionResult struct {
	Status  NodeState
	Outputs map[string]string
	Message string
}

// ActionExecutor performs the build/test/scan work behind a node. Execute must
// honor ctx cancellation.
type ActionExecutor interface {
	Execute(ctx context.Context, req ActionRequest) (ActionResult, error)
}

// ReportSink receives rendered reports. Upsert replaces any report previously
// stored under the same target.
type ReportSink interface {
	Upsert(ctx context.Context, target string, report *Report) error
}

// RunHistoryRepository archives terminal runs.
type RunHistoryRepository interface {
	SaveRun(ctx context.Context, run *RunSnapshot) error
	GetRun(ctx context.Context, id string) (*RunSnapshot, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunSnapshot, int64, error)
}

// ReportRepository reads back reports stored by a persistent sink.
type ReportRepository interface {
	Get(ctx context.Context, target string) (*Report, error)
	GetByRunID(ctx context.Context, runID string) (*Report, error)
}
