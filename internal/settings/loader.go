package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v4"

	"ci-core/internal/domain"
)

// FileSource reads configuration documents relative to Root. A missing file
// yields an empty document.
type FileSource struct {
	Root string
}

// Load implements domain.ConfigSource.
func (s FileSource) Load(_ context.Context, path string) ([]byte, error) {
	full := path
	if !filepath.IsAbs(path) && s.Root != "" {
		full = filepath.Join(s.Root, path)
	}
	data, err := os.ReadFile(full) //nolint:gosec // path comes from the workflow definition
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", full, err)
	}
	return data, nil
}

// BytesSource serves documents from memory, keyed by path.
type BytesSource map[string][]byte

// Load implements domain.ConfigSource.
func (s BytesSource) Load(_ context.Context, path string) ([]byte, error) {
	return s[path], nil
}

// Loader resolves a workflow's configuration queries.
type Loader struct {
	source domain.ConfigSource
	logger *slog.Logger
}

// NewLoader creates a Loader over source.
func NewLoader(source domain.ConfigSource, logger *slog.Logger) *Loader {
	return &Loader{source: source, logger: logger}
}

// Resolve loads spec.Path and answers every query in spec.Queries.
func (l *Loader) Resolve(ctx context.Context, spec domain.ConfigSpec) (Settings, error) {
	var data []byte
	if spec.Path != "" {
		var err error
		data, err = l.source.Load(ctx, spec.Path)
		if err != nil {
			return nil, domain.WrapError(domain.KindConfigMalformed, err, "load %s", spec.Path)
		}
		if data == nil {
			l.logger.Info("configuration document absent, using defaults", "path", spec.Path)
		}
	}
	return Query(data, spec.Queries)
}

// Query answers queries against a raw YAML (or JSON) document. An empty
// document is treated as having no keys.
func Query(data []byte, queries []domain.ConfigQuery) (Settings, error) {
	root, err := parse(data)
	if err != nil {
		return nil, err
	}

	out := make(Settings, len(queries))
	for _, q := range queries {
		v, err := resolve(root, q)
		if err != nil {
			return nil, err
		}
		out[q.Name] = v
	}
	return out, nil
}

func parse(data []byte) (*yaml.Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, domain.WrapError(domain.KindConfigMalformed, err, "parse configuration")
	}
	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, nil
		}
		root = root.Content[0]
	}
	return root, nil
}

func resolve(root *yaml.Node, q domain.ConfigQuery) (Value, error) {
	node := lookup(root, q.Path)
	if node == nil || isNull(node) {
		if q.Required {
			return Value{}, domain.NewError(domain.KindConfigMissing, "%s: required path %q is absent", q.Name, q.Path)
		}
		return Value{raw: normalize(q.Default), defaulted: true}, nil
	}

	if err := checkKind(node, q); err != nil {
		return Value{}, err
	}

	var raw any
	if err := node.Decode(&raw); err != nil {
		return Value{}, domain.WrapError(domain.KindConfigMalformed, err, "%s: decode %q", q.Name, q.Path)
	}
	return Value{raw: normalize(raw)}, nil
}

func checkKind(node *yaml.Node, q domain.ConfigQuery) error {
	var want yaml.Kind
	switch q.Kind {
	case domain.QueryAny:
		return nil
	case domain.QueryList:
		want = yaml.SequenceNode
	case domain.QueryObject:
		want = yaml.MappingNode
	case domain.QueryScalar:
		want = yaml.ScalarNode
	default:
		return domain.ErrValidation("%s: unknown query kind %q", q.Name, q.Kind)
	}
	if node.Kind != want {
		return domain.NewError(domain.KindConfigTypeMismatch,
			"%s: %q expected %s, found %s (line %d)", q.Name, q.Path, q.Kind, kindName(node.Kind), node.Line)
	}
	return nil
}

// lookup walks a dotted path; numeric segments index sequences.
func lookup(root *yaml.Node, path string) *yaml.Node {
	node := root
	for _, seg := range strings.Split(path, ".") {
		node = deref(node)
		if node == nil {
			return nil
		}
		switch node.Kind {
		case yaml.MappingNode:
			var next *yaml.Node
			for i := 0; i+1 < len(node.Content); i += 2 {
				if node.Content[i].Value == seg {
					next = node.Content[i+1]
					break
				}
			}
			node = next
		case yaml.SequenceNode:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node.Content) {
				return nil
			}
			node = node.Content[idx]
		default:
			return nil
		}
	}
	return deref(node)
}

func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "object"
	case yaml.ScalarNode:
		return "scalar"
	}
	return "unknown"
}

// normalize converts decoded YAML into []any / map[string]any trees.
func normalize(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = normalize(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = normalize(el)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[fmt.Sprint(k)] = normalize(el)
		}
		return out
	}
	return v
}
