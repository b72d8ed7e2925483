// Package workflow loads and validates pipeline definitions.
package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"ci-core/internal/domain"
)

// LoadOptions configures YAML loading behavior.
type LoadOptions struct {
	AllowUnknownFields bool
}

// LoadFile reads, parses and validates the workflow definition at path.
func LoadFile(path string) (*domain.Workflow, error) {
	return LoadFileWithOptions(path, LoadOptions{})
}

// LoadFileWithOptions is LoadFile with caller-provided loading options.
func LoadFileWithOptions(path string, opts LoadOptions) (*domain.Workflow, error) {
	data, err := os.ReadFile(path) //nolint:gosec // intentional: reading user-specified workflow files
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound("workflow file %s not found", path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	wf, err := Parse(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// Parse decodes and validates a workflow definition.
func Parse(data []byte, opts LoadOptions) (*domain.Workflow, error) {
	var wf domain.Workflow
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(!opts.AllowUnknownFields)
	if err := decoder.Decode(&wf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrValidation("empty workflow definition")
		}
		return nil, domain.ErrValidation("parse workflow: %v", err)
	}

	if problems := Validate(&wf); len(problems) > 0 {
		msgs := make([]string, len(problems))
		for i, p := range problems {
			msgs[i] = p.Error()
		}
		return nil, domain.ErrValidation("invalid workflow:\n  %s", strings.Join(msgs, "\n  "))
	}
	return &wf, nil
}
