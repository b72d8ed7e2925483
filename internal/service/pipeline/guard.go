package pipeline

import (
	"fmt"
	"sort"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"ci-core/internal/domain"
	"ci-core/internal/settings"
)

const defaultGuardMaxSteps = uint64(10_000)

// Names predeclared in every guard environment.
const (
	guardFlags   = "flags"
	guardConfig  = "config"
	guardNeeds   = "needs"
	guardOutputs = "outputs"
	guardMatrix  = "matrix"
	guardSuccess = "success"
	guardFailure = "failure"
)

var guardPredeclared = map[string]bool{
	guardFlags: true, guardConfig: true, guardNeeds: true, guardOutputs: true,
	guardMatrix: true, guardSuccess: true, guardFailure: true,
}

var guardFileOptions = &syntax.FileOptions{}

// Guard is a checked guard expression. Resolving a Starlark expression
// mutates its syntax tree, so eval parses Source again.
type Guard struct {
	Source    string
	refsFlags bool
}

// compileGuard parses src and checks every identifier and every flags.X /
// config.X selector against the names known at construction time.
func compileGuard(src string, flagNames, configNames map[string]bool) (*Guard, error) {
	expr, err := guardFileOptions.ParseExpr("guard", src, 0)
	if err != nil {
		return nil, fmt.Errorf("parse guard %q: %w", src, err)
	}
	if _, err := resolve.ExprOptions(guardFileOptions, expr,
		func(name string) bool { return guardPredeclared[name] },
		starlark.Universe.Has,
	); err != nil {
		return nil, fmt.Errorf("guard %q: %w", src, err)
	}

	g := &Guard{Source: src}
	var refErr error
	syntax.Walk(expr, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.Ident:
			if n.Name == guardFlags {
				g.refsFlags = true
			}
		case *syntax.DotExpr:
			x, ok := n.X.(*syntax.Ident)
			if !ok || refErr != nil {
				return true
			}
			switch {
			case x.Name == guardFlags && !flagNames[n.Name.Name]:
				refErr = fmt.Errorf("guard %q references unknown change filter %q", src, n.Name.Name)
			case x.Name == guardConfig && !configNames[n.Name.Name]:
				refErr = fmt.Errorf("guard %q references unknown config query %q", src, n.Name.Name)
			}
		}
		return true
	})
	if refErr != nil {
		return nil, refErr
	}
	return g, nil
}

// ReferencesFlags reports whether the expression reads change-detection flags.
func (g *Guard) ReferencesFlags() bool { return g.refsFlags }

// eval evaluates the guard once. Errors are classified as GuardError.
func (g *Guard) eval(env starlark.StringDict, maxSteps uint64) (bool, error) {
	thread := &starlark.Thread{Name: "guard"}
	if maxSteps == 0 {
		maxSteps = defaultGuardMaxSteps
	}
	thread.SetMaxExecutionSteps(maxSteps)

	expr, err := guardFileOptions.ParseExpr("guard", g.Source, 0)
	if err != nil {
		return false, domain.WrapError(domain.KindGuardError, err, "parse %q", g.Source)
	}
	v, err := starlark.EvalExprOptions(guardFileOptions, thread, expr, env)
	if err != nil {
		return false, domain.WrapError(domain.KindGuardError, err, "evaluate %q", g.Source)
	}
	return bool(v.Truth()), nil
}

// guardInputs are the per-run, immutable parts of a guard environment.
type guardInputs struct {
	flags  starlark.Value
	config starlark.Value
}

func newGuardInputs(flags map[string]bool, set settings.Settings) (guardInputs, error) {
	fd := make(starlark.StringDict, len(flags))
	for k, v := range flags {
		fd[k] = starlark.Bool(v)
	}
	cd := make(starlark.StringDict, len(set))
	for k, v := range set {
		sv, err := toStarlark(v.Raw())
		if err != nil {
			return guardInputs{}, fmt.Errorf("config %s: %w", k, err)
		}
		cd[k] = sv
	}
	flagsStruct := starlarkstruct.FromStringDict(starlarkstruct.Default, fd)
	configStruct := starlarkstruct.FromStringDict(starlarkstruct.Default, cd)
	flagsStruct.Freeze()
	configStruct.Freeze()
	return guardInputs{flags: flagsStruct, config: configStruct}, nil
}

// envFor builds the environment for n. Caller holds the run lock.
func (in guardInputs) envFor(n *Node) (starlark.StringDict, error) {
	needs := starlark.NewDict(len(n.preds))
	outputs := starlark.NewDict(len(n.preds))
	allSucceeded, anyFailed := true, false
	for _, p := range n.preds {
		if p.state != domain.NodeSucceeded {
			allSucceeded = false
		}
		if p.state == domain.NodeFailed {
			anyFailed = true
		}
		if err := needs.SetKey(starlark.String(p.Name), starlark.String(p.state)); err != nil {
			return nil, err
		}
		od := starlark.NewDict(len(p.outputs))
		for _, k := range sortedKeys(p.outputs) {
			if err := od.SetKey(starlark.String(k), starlark.String(p.outputs[k])); err != nil {
				return nil, err
			}
		}
		if err := outputs.SetKey(starlark.String(p.Name), od); err != nil {
			return nil, err
		}
	}

	md := make(starlark.StringDict, len(n.Matrix))
	for k, v := range n.Matrix {
		sv, err := toStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("matrix %s: %w", k, err)
		}
		md[k] = sv
	}

	env := starlark.StringDict{
		guardFlags:   in.flags,
		guardConfig:  in.config,
		guardNeeds:   needs,
		guardOutputs: outputs,
		guardMatrix:  starlarkstruct.FromStringDict(starlarkstruct.Default, md),
		guardSuccess: constBuiltin(guardSuccess, allSucceeded),
		guardFailure: constBuiltin(guardFailure, anyFailed),
	}
	env.Freeze()
	return env, nil
}

func constBuiltin(name string, v bool) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		return starlark.Bool(v), nil
	})
}

// toStarlark converts decoded YAML values into Starlark values.
func toStarlark(v any) (starlark.Value, error) {
	switch t := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(t), nil
	case string:
		return starlark.String(t), nil
	case int:
		return starlark.MakeInt(t), nil
	case int64:
		return starlark.MakeInt64(t), nil
	case uint64:
		return starlark.MakeUint64(t), nil
	case float64:
		return starlark.Float(t), nil
	case []any:
		elems := make([]starlark.Value, len(t))
		for i, el := range t {
			sv, err := toStarlark(el)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(t))
		for _, k := range sortedKeys(t) {
			sv, err := toStarlark(t[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return starlark.String(fmt.Sprint(v)), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
