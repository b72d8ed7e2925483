package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ci-core/internal/domain"
)

// Registry serves workflow definitions loaded from a file or a directory of
// *.yaml / *.yml files. Reload swaps the whole set atomically.
type Registry struct {
	path   string
	opts   LoadOptions
	logger *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*domain.Workflow
}

// NewRegistry creates a Registry rooted at path. Call Reload to load it.
func NewRegistry(path string, opts LoadOptions, logger *slog.Logger) *Registry {
	return &Registry{path: path, opts: opts, logger: logger, workflows: make(map[string]*domain.Workflow)}
}

// NewStaticRegistry serves a fixed set of definitions.
func NewStaticRegistry(defs ...*domain.Workflow) *Registry {
	r := &Registry{logger: slog.New(slog.DiscardHandler), workflows: make(map[string]*domain.Workflow, len(defs))}
	for _, d := range defs {
		r.workflows[d.Name] = d
	}
	return r
}

// Reload re-reads every definition. On any error the previous set is kept.
func (r *Registry) Reload(_ context.Context) error {
	if r.path == "" {
		return nil
	}
	files, err := definitionFiles(r.path)
	if err != nil {
		return err
	}

	next := make(map[string]*domain.Workflow, len(files))
	origin := make(map[string]string, len(files))
	var errs []error
	for _, f := range files {
		wf, err := LoadFileWithOptions(f, r.opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := origin[wf.Name]; dup {
			errs = append(errs, domain.ErrValidation("workflow %q defined in both %s and %s", wf.Name, prev, f))
			continue
		}
		next[wf.Name] = wf
		origin[wf.Name] = f
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	r.mu.Lock()
	r.workflows = next
	r.mu.Unlock()
	r.logger.Info("workflows loaded", "path", r.path, "count", len(next))
	return nil
}

// GetWorkflow returns the named definition.
func (r *Registry) GetWorkflow(_ context.Context, name string) (*domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[name]
	if !ok {
		return nil, domain.ErrNotFound("workflow %q not found", name)
	}
	return wf, nil
}

// ListWorkflows returns every definition sorted by name.
func (r *Registry) ListWorkflows(_ context.Context) ([]*domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func definitionFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound("workflow path %s not found", path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
