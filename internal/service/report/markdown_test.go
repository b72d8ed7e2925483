package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ci-core/internal/domain"
)

func TestRenderMarkdown(t *testing.T) {
	rep := Build(terminalRun(), domain.ReportSpec{Title: "CI"})
	md := rep.Markdown

	assert.Contains(t, md, "## ❌ CI: failed\n")
	assert.Contains(t, md, "Run `run-1` for pull_request on `feature/x` at `0123456789ab`.")
	assert.Contains(t, md, "| `build[1]` | Timeout | exceeded timeout of 30m0s |")
}

func TestRenderMarkdown_Succeeded(t *testing.T) {
	snap := &domain.RunSnapshot{
		ID:      "run-2",
		Trigger: domain.Trigger{Workflow: "ci", Event: domain.EventPush, Ref: "main"},
		Status:  domain.RunSucceeded,
		Nodes:   []domain.NodeSnapshot{{Name: "lint", State: domain.NodeSucceeded}},
	}
	md := Build(snap, domain.ReportSpec{}).Markdown

	assert.Contains(t, md, "## ✅ ci: succeeded\n")
	assert.NotContains(t, md, "### Failures")
}

func TestEscapeCell(t *testing.T) {
	assert.Equal(t, `a \| b c`, escapeCell("a | b\nc"))
}

func TestBounds(t *testing.T) {
	lo, hi := 70.0, 90.0
	tests := []struct {
		name string
		th   domain.Threshold
		want string
	}{
		{"both", domain.Threshold{Min: &lo, Max: &hi}, " in [70, 90]"},
		{"min", domain.Threshold{Min: &lo}, " >= 70"},
		{"max", domain.Threshold{Max: &hi}, " <= 90"},
		{"none", domain.Threshold{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bounds(tt.th))
		})
	}
}
