package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ci-core/internal/domain"
)

func TestPrintTable(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		rows    [][]string
		want    string
	}{
		{
			name:    "aligned with upper-cased headers",
			columns: []string{"node", "state"},
			rows:    [][]string{{"build", "succeeded"}, {"lint-and-vet", "failed"}},
			want: "NODE          STATE\n" +
				"build         succeeded\n" +
				"lint-and-vet  failed\n",
		},
		{
			name:    "header only",
			columns: []string{"id", "value"},
			want:    "ID  VALUE\n",
		},
		{
			name:    "short rows are padded",
			columns: []string{"a", "b", "c"},
			rows:    [][]string{{"1"}},
			want:    "A  B  C\n1\n",
		},
		{
			name: "no columns prints nothing",
			rows: [][]string{{"x"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			PrintTable(&buf, tt.columns, tt.rows)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]string{"hello": "world"}))
	assert.Equal(t, "{\n  \"hello\": \"world\"\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, PrintJSON(&buf, nil))
	assert.Equal(t, "null\n", buf.String())
}

func TestColorStatus(t *testing.T) {
	assert.Equal(t, "failed", colorStatus("failed", false))
	assert.Equal(t, ansiRed+"failed"+ansiReset, colorStatus("failed", true))
	assert.Equal(t, ansiGreen+"succeeded"+ansiReset, colorStatus("succeeded", true))
	assert.Equal(t, "running", colorStatus("running", true))
}

func TestIsTerminal_Buffer(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	printRun(&buf, &domain.RunSnapshot{
		ID:           "r1",
		Trigger:      domain.Trigger{Workflow: "ci"},
		Status:       domain.RunCancelled,
		CancelReason: domain.CancelSuperseded,
		Nodes: []domain.NodeSnapshot{
			{Name: "build", State: domain.NodeFailed, Error: "exit status 2"},
			{Name: "deploy", State: domain.NodeSkipped, Reason: "guard false"},
		},
	})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Run r1 (ci) cancelled\n"))
	assert.Contains(t, out, "Cancelled: superseded")
	assert.Contains(t, out, "exit status 2")
	assert.Contains(t, out, "guard false")
}
