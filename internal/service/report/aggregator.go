// Package report aggregates terminal run results into human-readable reports
// and upserts them to report sinks.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ci-core/internal/domain"
)

// Aggregator builds reports from terminal run snapshots.
type Aggregator struct {
	sinks  []domain.ReportSink
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregator creates an Aggregator that upserts to sinks.
func NewAggregator(logger *slog.Logger, sinks ...domain.ReportSink) *Aggregator {
	return &Aggregator{sinks: sinks, logger: logger, now: time.Now}
}

// AddSink registers another sink.
func (a *Aggregator) AddSink(s domain.ReportSink) {
	a.sinks = append(a.sinks, s)
}

// Target returns the key a run's report is stored under: one report per pull
// request, otherwise one per run.
func Target(snap *domain.RunSnapshot) string {
	if snap.Trigger.IsPullRequest() {
		return fmt.Sprintf("%s#pr-%d", snap.Trigger.Workflow, *snap.Trigger.PullRequest)
	}
	return "run-" + snap.ID
}

// Aggregate builds the report for a terminal run and upserts it to every sink.
// Threshold failures mark only the report as failed. Sink errors are joined
// and returned alongside the report.
func (a *Aggregator) Aggregate(ctx context.Context, snap *domain.RunSnapshot, spec domain.ReportSpec) (*domain.Report, error) {
	if snap.Status == domain.RunRunning {
		return nil, domain.ErrValidation("run %s is still running", snap.ID)
	}

	rep := Build(snap, spec)
	rep.GeneratedAt = a.now().UTC()

	var errs []error
	for _, sink := range a.sinks {
		if err := sink.Upsert(ctx, rep.Target, rep); err != nil {
			a.logger.Error("report sink upsert failed", "run_id", snap.ID, "target", rep.Target, "error", err)
			errs = append(errs, err)
		}
	}
	a.logger.Info("report published",
		"run_id", snap.ID, "target", rep.Target,
		"run_status", rep.RunStatus, "aggregator_status", rep.AggregatorStatus,
		"failures", len(rep.Failures),
	)
	return rep, errors.Join(errs...)
}

// Build computes a report without publishing it.
func Build(snap *domain.RunSnapshot, spec domain.ReportSpec) *domain.Report {
	title := spec.Title
	if title == "" {
		title = snap.Trigger.Workflow
	}
	rep := &domain.Report{
		RunID:            snap.ID,
		Target:           Target(snap),
		Title:            title,
		Trigger:          snap.Trigger,
		RunStatus:        snap.Status,
		AggregatorStatus: domain.NodeSucceeded,
		Counts:           make(map[domain.NodeState]int),
	}

	for _, n := range snap.Nodes {
		if n.Aggregate {
			continue
		}
		rep.Counts[n.State]++
	}
	for _, n := range snap.Nodes {
		if n.State == domain.NodeFailed {
			rep.Failures = append(rep.Failures, domain.FailedNode{Name: n.Name, Kind: n.ErrorKind, Message: n.Error})
		}
	}
	for _, name := range spec.Sinks {
		if n := snap.Node(name); n != nil {
			rep.Sections = append(rep.Sections, domain.ReportSection{Node: n.Name, State: n.State, Outputs: n.Outputs})
		}
	}
	for _, th := range spec.Thresholds {
		res := checkThreshold(snap, th)
		if !res.Passed {
			rep.AggregatorStatus = domain.NodeFailed
		}
		rep.Thresholds = append(rep.Thresholds, res)
	}

	rep.Markdown = RenderMarkdown(rep)
	return rep
}

// checkThreshold evaluates one bound. A skipped node is not measured, so its
// thresholds pass; a node that ran without producing the output fails them.
func checkThreshold(snap *domain.RunSnapshot, th domain.Threshold) domain.ThresholdResult {
	res := domain.ThresholdResult{Threshold: th}
	n := snap.Node(th.Node)
	switch {
	case n == nil:
		res.Message = fmt.Sprintf("node %s not found", th.Node)
		return res
	case n.State == domain.NodeSkipped:
		res.Passed = true
		res.Message = fmt.Sprintf("node %s was skipped", th.Node)
		return res
	}

	raw, ok := n.Outputs[th.Output]
	if !ok {
		res.Message = fmt.Sprintf("node %s (%s) did not report %s", th.Node, n.State, th.Output)
		return res
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(raw), "%"), 64)
	if err != nil {
		res.Message = fmt.Sprintf("%s.%s is not numeric: %q", th.Node, th.Output, raw)
		return res
	}
	res.Value = &v

	switch {
	case th.Min != nil && v < *th.Min:
		res.Message = fmt.Sprintf("%s.%s = %g is below minimum %g", th.Node, th.Output, v, *th.Min)
	case th.Max != nil && v > *th.Max:
		res.Message = fmt.Sprintf("%s.%s = %g exceeds maximum %g", th.Node, th.Output, v, *th.Max)
	default:
		res.Passed = true
	}
	return res
}
