// Package executor provides the action executors behind job nodes and a
// registry that dispatches each node to one of them by its "uses" name.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"ci-core/internal/domain"
)

var _ domain.ActionExecutor = (*Registry)(nil)

// Registry implements ActionExecutor by resolving Action.Uses to a registered
// executor. Resolution order: exact name → fallback → error.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]domain.ActionExecutor
	fallback  domain.ActionExecutor
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[string]domain.ActionExecutor),
		logger:    logger,
	}
}

// Register binds uses to exec, replacing any previous binding.
func (r *Registry) Register(uses string, exec domain.ActionExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[uses] = exec
}

// SetFallback sets the executor used for unregistered names. nil disables it.
func (r *Registry) SetFallback(exec domain.ActionExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = exec
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the executor for uses.
func (r *Registry) Resolve(uses string) (domain.ActionExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if exec, ok := r.executors[uses]; ok {
		return exec, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, domain.NewError(domain.KindActionFailed, "no executor registered for %q", uses)
}

// Execute implements domain.ActionExecutor.
func (r *Registry) Execute(ctx context.Context, req domain.ActionRequest) (domain.ActionResult, error) {
	exec, err := r.Resolve(req.Action.Uses)
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("node %s: %w", req.Node, err)
	}
	r.logger.Debug("dispatching action", "run_id", req.RunID, "node", req.Node, "uses", req.Action.Uses)
	return exec.Execute(ctx, req)
}
