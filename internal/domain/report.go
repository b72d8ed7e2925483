package domain

import "time"

// FailedNode identifies a node that terminated in Failed.
type FailedNode struct {
	Name    string    `json:"name"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// ThresholdResult is the outcome of one threshold check.
type ThresholdResult struct {
	Threshold
	Value   *float64 `json:"value,omitempty"`
	Passed  bool     `json:"passed"`
	Message string   `json:"message,omitempty"`
}

// ReportSection carries the outputs of one sink node.
type ReportSection struct {
	Node    string            `json:"node"`
	State   NodeState         `json:"state"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// Report is the aggregated, human-readable result of a run.
type Report struct {
	RunID            string            `json:"run_id"`
	Target           string            `json:"target"`
	Title            string            `json:"title"`
	Trigger          Trigger           `json:"trigger"`
	RunStatus        RunStatus         `json:"run_status"`
	AggregatorStatus NodeState         `json:"aggregator_status"`
	Counts           map[NodeState]int `json:"counts"`
	Failures         []FailedNode      `json:"failures,omitempty"`
	Thresholds       []ThresholdResult `json:"thresholds,omitempty"`
	Sections         []ReportSection   `json:"sections,omitempty"`
	Markdown         string            `json:"markdown"`
	GeneratedAt      time.Time         `json:"generated_at"`
}

// ExitCode is 0 when the run succeeded and every threshold passed.
func (r *Report) ExitCode() int {
	if r.RunStatus == RunSucceeded && r.AggregatorStatus == NodeSucceeded {
		return 0
	}
	return 1
}
