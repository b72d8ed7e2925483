package report

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ci-core/internal/domain"
	"ci-core/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func terminalRun() *domain.RunSnapshot {
	return &domain.RunSnapshot{
		ID:             "run-1",
		ConcurrencyKey: "ci/pr-42",
		Trigger: domain.Trigger{
			Workflow: "ci", Event: domain.EventPullRequest, Ref: "feature/x",
			Revision: "0123456789abcdef", PullRequest: ptr(42),
		},
		Status: domain.RunFailed,
		Nodes: []domain.NodeSnapshot{
			{Name: "lint", State: domain.NodeSucceeded},
			{Name: "test", State: domain.NodeSucceeded, Outputs: map[string]string{"coverage": "81.5%"}},
			{Name: "build[0]", Template: "build", State: domain.NodeSucceeded},
			{Name: "build[1]", Template: "build", State: domain.NodeFailed, ErrorKind: domain.KindTimeout, Error: "exceeded timeout of 30m0s"},
			{Name: "build", Aggregate: true, State: domain.NodeFailed, ErrorKind: domain.KindTimeout, Error: "matrix instance build[1] failed"},
			{Name: "scan", State: domain.NodeSkipped},
		},
	}
}

func newAggregator(sinks ...domain.ReportSink) *Aggregator {
	a := NewAggregator(slog.New(slog.DiscardHandler), sinks...)
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return a
}

func TestTarget(t *testing.T) {
	snap := terminalRun()
	assert.Equal(t, "ci#pr-42", Target(snap))

	snap.Trigger = domain.Trigger{Workflow: "ci", Event: domain.EventPush, Ref: "main"}
	assert.Equal(t, "run-run-1", Target(snap))
}

func TestAggregate_ListsFailuresWithKinds(t *testing.T) {
	rep, err := newAggregator().Aggregate(context.Background(), terminalRun(), domain.ReportSpec{Title: "CI"})
	require.NoError(t, err)

	require.Len(t, rep.Failures, 2)
	assert.Equal(t, domain.FailedNode{Name: "build[1]", Kind: domain.KindTimeout, Message: "exceeded timeout of 30m0s"}, rep.Failures[0])
	assert.Equal(t, "build", rep.Failures[1].Name)
	assert.Equal(t, 1, rep.Counts[domain.NodeFailed], "aggregate nodes are not counted")
	assert.Equal(t, 3, rep.Counts[domain.NodeSucceeded])
	assert.Equal(t, 1, rep.Counts[domain.NodeSkipped])
	assert.Equal(t, 1, rep.ExitCode())
	assert.Contains(t, rep.Markdown, "| `build[1]` | Timeout |")
}

func TestAggregate_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		threshold  domain.Threshold
		wantPassed bool
		wantValue  *float64
	}{
		{"min satisfied", domain.Threshold{Node: "test", Output: "coverage", Min: ptr(80.0)}, true, ptr(81.5)},
		{"min violated", domain.Threshold{Node: "test", Output: "coverage", Min: ptr(90.0)}, false, ptr(81.5)},
		{"max violated", domain.Threshold{Node: "test", Output: "coverage", Max: ptr(50.0)}, false, ptr(81.5)},
		{"missing output", domain.Threshold{Node: "lint", Output: "warnings", Max: ptr(0.0)}, false, nil},
		{"skipped node passes", domain.Threshold{Node: "scan", Output: "findings", Max: ptr(0.0)}, true, nil},
		{"unknown node", domain.Threshold{Node: "ghost", Output: "x", Min: ptr(1.0)}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := terminalRun()
			snap.Status = domain.RunSucceeded
			rep := Build(snap, domain.ReportSpec{Thresholds: []domain.Threshold{tt.threshold}})

			require.Len(t, rep.Thresholds, 1)
			res := rep.Thresholds[0]
			assert.Equal(t, tt.wantPassed, res.Passed, res.Message)
			assert.Equal(t, tt.wantValue, res.Value)
			if tt.wantPassed {
				assert.Equal(t, domain.NodeSucceeded, rep.AggregatorStatus)
				assert.Equal(t, 0, rep.ExitCode())
			} else {
				assert.Equal(t, domain.NodeFailed, rep.AggregatorStatus)
				assert.Equal(t, 1, rep.ExitCode())
			}
		})
	}
}

func TestAggregate_ThresholdFailureIsLocal(t *testing.T) {
	snap := terminalRun()
	snap.Status = domain.RunSucceeded
	rep := Build(snap, domain.ReportSpec{Thresholds: []domain.Threshold{{Node: "test", Output: "coverage", Min: ptr(95.0)}}})

	assert.Equal(t, domain.NodeFailed, rep.AggregatorStatus)
	assert.Equal(t, domain.RunSucceeded, rep.RunStatus)
	assert.Equal(t, domain.NodeSucceeded, snap.Node("test").State)
}

func TestAggregate_IdempotentUpsert(t *testing.T) {
	sink := NewMemorySink()
	agg := newAggregator(sink)
	snap := terminalRun()

	first, err := agg.Aggregate(context.Background(), snap, domain.ReportSpec{Sinks: []string{"test"}})
	require.NoError(t, err)
	second, err := agg.Aggregate(context.Background(), snap, domain.ReportSpec{Sinks: []string{"test"}})
	require.NoError(t, err)

	assert.Equal(t, 1, sink.Len())
	assert.Equal(t, 2, sink.Writes())
	stored, ok := sink.Get("ci#pr-42")
	require.True(t, ok)
	assert.Equal(t, second.Markdown, stored.Markdown)
	assert.Equal(t, first.Markdown, second.Markdown)
}

func TestAggregate_SinkSections(t *testing.T) {
	rep := Build(terminalRun(), domain.ReportSpec{Sinks: []string{"test", "scan", "absent"}})

	require.Len(t, rep.Sections, 2)
	assert.Equal(t, "test", rep.Sections[0].Node)
	assert.Equal(t, "81.5%", rep.Sections[0].Outputs["coverage"])
	assert.Contains(t, rep.Markdown, "### scan (skipped)")
	assert.Contains(t, rep.Markdown, "_No outputs._")
}

func TestAggregate_SinkErrorsAreJoined(t *testing.T) {
	failing := &testutil.MockReportSink{
		UpsertFn: func(context.Context, string, *domain.Report) error { return errors.New("sink down") },
	}
	mem := NewMemorySink()
	rep, err := newAggregator(failing, mem).Aggregate(context.Background(), terminalRun(), domain.ReportSpec{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	require.NotNil(t, rep)
	assert.Equal(t, 1, mem.Len(), "other sinks still receive the report")
}

func TestAggregate_RejectsRunningRun(t *testing.T) {
	snap := terminalRun()
	snap.Status = domain.RunRunning
	_, err := newAggregator().Aggregate(context.Background(), snap, domain.ReportSpec{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRenderHTML(t *testing.T) {
	rep := Build(terminalRun(), domain.ReportSpec{
		Title:      "CI <main>",
		Sinks:      []string{"test"},
		Thresholds: []domain.Threshold{{Node: "test", Output: "coverage", Min: ptr(90.0)}},
	})

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, rep))
	out := buf.String()
	assert.Contains(t, out, "<!doctype html>")
	assert.Contains(t, out, "CI &lt;main&gt;: failed")
	assert.Contains(t, out, "build[1]")
	assert.Contains(t, out, `<tr class="fail">`)
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	rep := Build(terminalRun(), domain.ReportSpec{Title: "CI"})
	require.NoError(t, NewWriterSink(&buf).Upsert(context.Background(), rep.Target, rep))
	assert.Equal(t, rep.Markdown, buf.String())
}
