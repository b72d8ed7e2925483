package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestTrigger_Validate(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid push",
			trigger: Trigger{Workflow: "ci", Event: EventPush, Ref: "refs/heads/main"},
		},
		{
			name:    "valid pull request",
			trigger: Trigger{Workflow: "ci", Event: EventPullRequest, Ref: "refs/pull/7/merge", PullRequest: intPtr(7)},
		},
		{
			name:    "missing workflow",
			trigger: Trigger{Event: EventPush, Ref: "main"},
			wantErr: true,
			errMsg:  "workflow is required",
		},
		{
			name:    "unknown event",
			trigger: Trigger{Workflow: "ci", Event: "release", Ref: "main"},
			wantErr: true,
			errMsg:  "unknown event kind",
		},
		{
			name:    "pull request without number",
			trigger: Trigger{Workflow: "ci", Event: EventPullRequest, Ref: "main"},
			wantErr: true,
			errMsg:  "pull request number",
		},
		{
			name:    "no ref or revision",
			trigger: Trigger{Workflow: "ci", Event: EventManual},
			wantErr: true,
			errMsg:  "ref or revision",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trigger.Validate()
			if tt.wantErr {
				require.Error(t, err)
				var valErr *ValidationError
				require.ErrorAs(t, err, &valErr)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNodeState_Terminal(t *testing.T) {
	terminal := []NodeState{NodeSkipped, NodeSucceeded, NodeFailed, NodeCancelled}
	nonTerminal := []NodeState{NodePending, NodeReady, NodeRunning}

	for _, s := range terminal {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range nonTerminal {
		assert.False(t, s.Terminal(), s)
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("build graph: %w", NewError(KindGraphCyclic, "cycle through %s", "a"))

	assert.True(t, errors.Is(err, ErrGraphCyclic))
	assert.False(t, errors.Is(err, ErrConfigMissing))
	assert.Equal(t, KindGraphCyclic, KindOf(err))
	assert.Contains(t, err.Error(), "GraphCyclic: cycle through a")
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("exit status 128")
	err := WrapError(KindBaseUnresolvable, cause, "resolve %s", "origin/main")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrBaseUnresolvable)
	assert.Equal(t, ErrorKind(""), KindOf(cause))
}

func TestReport_ExitCode(t *testing.T) {
	tests := []struct {
		name   string
		run    RunStatus
		agg    NodeState
		expect int
	}{
		{"success", RunSucceeded, NodeSucceeded, 0},
		{"run failed", RunFailed, NodeSucceeded, 1},
		{"threshold failed", RunSucceeded, NodeFailed, 1},
		{"cancelled", RunCancelled, NodeSucceeded, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Report{RunStatus: tt.run, AggregatorStatus: tt.agg}
			assert.Equal(t, tt.expect, r.ExitCode())
		})
	}
}

func TestConcurrency_CancelsInProgressDefault(t *testing.T) {
	assert.True(t, Concurrency{}.CancelsInProgress())
	off := false
	assert.False(t, Concurrency{CancelInProgress: &off}.CancelsInProgress())
}

func TestPageRequest_RoundTripOffset(t *testing.T) {
	tok := NextPageToken(0, 50, 120)
	require.NotEmpty(t, tok)
	assert.Equal(t, 50, PageRequest{PageToken: tok}.Offset())
	assert.Empty(t, NextPageToken(100, 50, 120))
	assert.Equal(t, 0, PageRequest{PageToken: "%%%"}.Offset())
	assert.Equal(t, DefaultPageSize, PageRequest{}.Limit())
	assert.Equal(t, MaxPageSize, PageRequest{MaxResults: 10_000}.Limit())
}
