package domain

import "time"

// NodeState is the lifecycle state of a job node within one run.
type NodeState string

// Node states. Skipped, Succeeded, Failed and Cancelled are terminal.
const (
	NodePending   NodeState = "pending"
	NodeReady     NodeState = "ready"
	NodeRunning   NodeState = "running"
	NodeSkipped   NodeState = "skipped"
	NodeSucceeded NodeState = "succeeded"
	NodeFailed    NodeState = "failed"
	NodeCancelled NodeState = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s NodeState) Terminal() bool {
	switch s {
	case NodeSkipped, NodeSucceeded, NodeFailed, NodeCancelled:
		return true
	}
	return false
}

// RunStatus is the overall status of a pipeline run.
type RunStatus string

// Run statuses.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// EventKind identifies what triggered a run.
type EventKind string

// Trigger event kinds.
const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
	EventSchedule    EventKind = "schedule"
	EventManual      EventKind = "manual"
)

// ValidEventKind reports whether k is a known event kind.
func ValidEventKind(k EventKind) bool {
	switch k {
	case EventPush, EventPullRequest, EventSchedule, EventManual:
		return true
	}
	return false
}

// Cancellation reasons recorded on runs.
const (
	CancelSuperseded = "superseded"
	CancelExplicit   = "cancelled by request"
)

// Trigger is the event that starts a pipeline run.
type Trigger struct {
	Workflow    string            `json:"workflow"`
	Event       EventKind         `json:"event"`
	Ref         string            `json:"ref"`
	Revision    string            `json:"revision"`
	Base        string            `json:"base,omitempty"`
	PullRequest *int              `json:"pull_request,omitempty"`
	Actor       string            `json:"actor,omitempty"`
	Inputs      map[string]string `json:"inputs,omitempty"`
}

// IsPullRequest reports whether the trigger carries a pull-request identifier.
func (t Trigger) IsPullRequest() bool {
	return t.Event == EventPullRequest && t.PullRequest != nil
}

// Validate checks that the trigger is well-formed.
func (t *Trigger) Validate() error {
	if t.Workflow == "" {
		return ErrValidation("workflow is required")
	}
	if !ValidEventKind(t.Event) {
		return ErrValidation("unknown event kind %q", t.Event)
	}
	if t.Event == EventPullRequest && t.PullRequest == nil {
		return ErrValidation("pull_request events require a pull request number")
	}
	if t.Ref == "" && t.Revision == "" {
		return ErrValidation("one of ref or revision is required")
	}
	return nil
}

// NodeSnapshot is a point-in-time copy of one node's state.
type NodeSnapshot struct {
	Name         string            `json:"name"`
	Template     string            `json:"template,omitempty"`
	Aggregate    bool              `json:"aggregate,omitempty"`
	Needs        []string          `json:"needs,omitempty"`
	State        NodeState         `json:"state"`
	ErrorKind    ErrorKind         `json:"error_kind,omitempty"`
	Error        string            `json:"error,omitempty"`
	Reason       string            `json:"reason,omitempty"` // why a node was skipped or cancelled
	AllowFailure bool              `json:"allow_failure,omitempty"`
	Matrix       map[string]any    `json:"matrix,omitempty"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
}

// RunSnapshot is a point-in-time copy of a run and its nodes.
type RunSnapshot struct {
	ID             string         `json:"id"`
	ConcurrencyKey string         `json:"concurrency_key"`
	Trigger        Trigger        `json:"trigger"`
	Status         RunStatus      `json:"status"`
	CancelReason   string         `json:"cancel_reason,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	Nodes          []NodeSnapshot `json:"nodes"`
}

// Node returns the snapshot of the named node, or nil.
func (s *RunSnapshot) Node(name string) *NodeSnapshot {
	for i := range s.Nodes {
		if s.Nodes[i].Name == name {
			return &s.Nodes[i]
		}
	}
	return nil
}

// RunFilter holds filter parameters for querying run history.
type RunFilter struct {
	Workflow *string
	Status   *RunStatus
	Page     PageRequest
}
