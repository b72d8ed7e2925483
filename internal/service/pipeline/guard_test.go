package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ci-core/internal/domain"
	"ci-core/internal/settings"
)

func TestGuard_Eval(t *testing.T) {
	lint := &Node{Name: "lint", state: domain.NodeSucceeded, outputs: map[string]string{"warnings": "0"}}
	test := &Node{Name: "test", state: domain.NodeFailed}
	n := &Node{
		Name:   "deploy",
		preds:  []*Node{lint, test},
		Matrix: map[string]any{"os": "linux", "arch": "arm64"},
	}

	in, err := newGuardInputs(
		map[string]bool{"backend": true, "docs": false},
		settings.Settings{
			"targets": settings.NewValue([]any{"staging", "prod"}),
			"enabled": settings.NewValue(true),
			"owner":   settings.NewValue(map[string]any{"team": "infra"}),
		},
	)
	require.NoError(t, err)
	env, err := in.envFor(n)
	require.NoError(t, err)

	flags := map[string]bool{"backend": true, "docs": true}
	config := map[string]bool{"targets": true, "enabled": true, "owner": true}

	tests := []struct {
		src  string
		want bool
	}{
		{"flags.backend", true},
		{"flags.docs", false},
		{"flags.backend and not flags.docs", true},
		{"config.enabled", true},
		{`"prod" in config.targets`, true},
		{`config.owner["team"] == "infra"`, true},
		{`needs["lint"] == "succeeded"`, true},
		{`needs["test"] == "failed"`, true},
		{"success()", false},
		{"failure()", true},
		{`outputs["lint"]["warnings"] == "0"`, true},
		{`matrix.os == "linux" and matrix.arch != "amd64"`, true},
		{"len(config.targets) > 2", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			g, err := compileGuard(tt.src, flags, config)
			require.NoError(t, err)
			got, err := g.eval(env, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuard_EvalIsRepeatable(t *testing.T) {
	g, err := compileGuard("flags.a", map[string]bool{"a": true}, nil)
	require.NoError(t, err)
	in, err := newGuardInputs(map[string]bool{"a": true}, nil)
	require.NoError(t, err)
	env, err := in.envFor(&Node{Name: "x"})
	require.NoError(t, err)

	for range 3 {
		ok, err := g.eval(env, 0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestGuard_RuntimeErrors(t *testing.T) {
	in, err := newGuardInputs(nil, settings.Settings{"n": settings.NewValue(3)})
	require.NoError(t, err)
	env, err := in.envFor(&Node{Name: "x"})
	require.NoError(t, err)

	tests := []struct {
		name string
		src  string
	}{
		{"missing dict key", `outputs["build"]["version"] == "1"`},
		{"type error", `config.n + "x" == "3x"`},
		{"missing matrix field", `matrix.os == "linux"`},
		{"step budget exhausted", `len([i for i in range(1000000)]) > 0`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := compileGuard(tt.src, nil, map[string]bool{"n": true})
			require.NoError(t, err)
			_, err = g.eval(env, 1000)
			require.Error(t, err)
			assert.Equal(t, domain.KindGuardError, domain.KindOf(err))
		})
	}
}

func TestGuard_CompileRejectsAssignmentLikeSyntax(t *testing.T) {
	_, err := compileGuard("x = 1", nil, nil)
	require.Error(t, err)
}
