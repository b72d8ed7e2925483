package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ci-core/internal/domain"
)

func TestLoadFile(t *testing.T) {
	wf, err := LoadFile(filepath.Join("testdata", "workflow.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "ci", wf.Name)
	assert.True(t, wf.Concurrency.CancelsInProgress())
	assert.Len(t, wf.Jobs, 6)
	assert.Equal(t, []string{"server/**", "go.mod"}, wf.Changes.Filters["backend"])

	docker := wf.Job("docker")
	require.NotNil(t, docker)
	require.NotNil(t, docker.Matrix)
	assert.Equal(t, "images", docker.Matrix.Source)
	assert.Equal(t, 2, docker.Matrix.MaxParallel)

	summary := wf.Job("summary")
	require.NotNil(t, summary)
	assert.True(t, summary.Always)
	assert.Equal(t, "report", summary.ActionClass())

	require.Len(t, wf.Report.Thresholds, 1)
	assert.InDelta(t, 70.0, *wf.Report.Thresholds[0].Min, 0)
}

func TestLoadFile_NotFound(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestParse_UnknownField(t *testing.T) {
	doc := "name: ci\njobs:\n  - name: a\n    uses: shell\n    runs_on: linux\n"

	_, err := Parse([]byte(doc), LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runs_on")

	wf, err := Parse([]byte(doc), LoadOptions{AllowUnknownFields: true})
	require.NoError(t, err)
	assert.Equal(t, "a", wf.Jobs[0].Name)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(nil, LoadOptions{})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "empty")
}

func TestParse_CancelInProgressFalse(t *testing.T) {
	doc := "name: ci\nconcurrency:\n  cancel_in_progress: false\njobs:\n  - name: a\n    uses: shell\n"
	wf, err := Parse([]byte(doc), LoadOptions{})
	require.NoError(t, err)
	assert.False(t, wf.Concurrency.CancelsInProgress())
}

func TestValidate(t *testing.T) {
	minF := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		mutate  func(wf *domain.Workflow)
		wantMsg string
	}{
		{
			name:    "missing name",
			mutate:  func(wf *domain.Workflow) { wf.Name = "" },
			wantMsg: "name is required",
		},
		{
			name:    "no jobs",
			mutate:  func(wf *domain.Workflow) { wf.Jobs = nil },
			wantMsg: "at least one job",
		},
		{
			name: "duplicate job",
			mutate: func(wf *domain.Workflow) {
				wf.Jobs = append(wf.Jobs, domain.JobSpec{Name: "build", Uses: "shell"})
			},
			wantMsg: `duplicate job name "build"`,
		},
		{
			name:    "bracket in job name",
			mutate:  func(wf *domain.Workflow) { wf.Jobs[0].Name = "build[0]" },
			wantMsg: "invalid job name",
		},
		{
			name:    "missing uses",
			mutate:  func(wf *domain.Workflow) { wf.Jobs[0].Uses = "" },
			wantMsg: "uses is required",
		},
		{
			name:    "unknown need",
			mutate:  func(wf *domain.Workflow) { wf.Jobs[1].Needs = []string{"ghost"} },
			wantMsg: `unknown job "ghost"`,
		},
		{
			name:    "bad timeout",
			mutate:  func(wf *domain.Workflow) { wf.Jobs[0].Timeout = "soon" },
			wantMsg: `invalid duration "soon"`,
		},
		{
			name:    "bad class timeout",
			mutate:  func(wf *domain.Workflow) { wf.Timeouts = domain.ClassTimeouts{"shell": "-1m"} },
			wantMsg: "must be positive",
		},
		{
			name: "bad cron",
			mutate: func(wf *domain.Workflow) {
				wf.Schedules = []domain.Schedule{{Cron: "every day", Ref: "main"}}
			},
			wantMsg: "invalid cron expression",
		},
		{
			name: "matrix source unknown",
			mutate: func(wf *domain.Workflow) {
				wf.Jobs[1].Matrix = &domain.MatrixSpec{Source: "nope"}
			},
			wantMsg: `unknown config query "nope"`,
		},
		{
			name: "matrix source scalar",
			mutate: func(wf *domain.Workflow) {
				wf.Jobs[1].Matrix = &domain.MatrixSpec{Source: "dir"}
			},
			wantMsg: "must be a list query",
		},
		{
			name: "matrix without source or include",
			mutate: func(wf *domain.Workflow) {
				wf.Jobs[1].Matrix = &domain.MatrixSpec{}
			},
			wantMsg: "source or include is required",
		},
		{
			name: "threshold on unknown job",
			mutate: func(wf *domain.Workflow) {
				wf.Report.Thresholds = []domain.Threshold{{Node: "ghost", Output: "coverage", Min: minF(1)}}
			},
			wantMsg: `unknown job "ghost"`,
		},
		{
			name: "threshold without bounds",
			mutate: func(wf *domain.Workflow) {
				wf.Report.Thresholds = []domain.Threshold{{Node: "build", Output: "coverage"}}
			},
			wantMsg: "one of min or max",
		},
		{
			name: "threshold inverted bounds",
			mutate: func(wf *domain.Workflow) {
				wf.Report.Thresholds = []domain.Threshold{{Node: "build", Output: "coverage", Min: minF(9), Max: minF(1)}}
			},
			wantMsg: "exceeds max",
		},
		{
			name:    "unknown sink",
			mutate:  func(wf *domain.Workflow) { wf.Report.Sinks = []string{"ghost"} },
			wantMsg: `unknown job "ghost"`,
		},
		{
			name: "query without path",
			mutate: func(wf *domain.Workflow) {
				wf.Config.Queries = append(wf.Config.Queries, domain.ConfigQuery{Name: "x"})
			},
			wantMsg: "path is required",
		},
		{
			name: "query bad kind",
			mutate: func(wf *domain.Workflow) {
				wf.Config.Queries[0].Kind = "tuple"
			},
			wantMsg: `unknown kind "tuple"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := validWorkflow()
			tt.mutate(wf)
			problems := Validate(wf)
			require.NotEmpty(t, problems)

			var found bool
			for _, p := range problems {
				if strings.Contains(p.Error(), tt.wantMsg) {
					found = true
				}
			}
			assert.True(t, found, "want %q in %v", tt.wantMsg, problems)
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	assert.Empty(t, Validate(validWorkflow()))
}

func TestLoadFile_InvalidReportsAllProblems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.yaml")
	doc := "name: ci\njobs:\n  - name: a\n  - name: b\n    uses: shell\n    needs: [zzz]\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uses is required")
	assert.Contains(t, err.Error(), `unknown job "zzz"`)
}

func validWorkflow() *domain.Workflow {
	return &domain.Workflow{
		Name: "ci",
		Config: domain.ConfigSpec{
			Path: "ci.yaml",
			Queries: []domain.ConfigQuery{
				{Name: "targets", Path: "build.targets", Kind: domain.QueryList},
				{Name: "dir", Path: "frontend.dir", Kind: domain.QueryScalar},
			},
		},
		Jobs: []domain.JobSpec{
			{Name: "build", Uses: "shell"},
			{Name: "test", Uses: "shell", Needs: []string{"build"}},
		},
	}
}
