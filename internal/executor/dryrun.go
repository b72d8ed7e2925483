package executor

import (
	"context"
	"log/slog"
	"strings"

	"ci-core/internal/domain"
)

// DryRunOutputPrefix marks "with" keys that a dry run echoes as outputs, so
// "output.coverage: 80" yields the output coverage=80.
const DryRunOutputPrefix = "output."

var (
	_ domain.ActionExecutor = (*DryRun)(nil)
	_ domain.ActionExecutor = Noop{}
)

// DryRun logs each request and succeeds without doing any work.
type DryRun struct {
	logger *slog.Logger
}

// NewDryRun creates a DryRun executor.
func NewDryRun(logger *slog.Logger) *DryRun {
	return &DryRun{logger: logger}
}

// Execute implements domain.ActionExecutor.
func (d *DryRun) Execute(ctx context.Context, req domain.ActionRequest) (domain.ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ActionResult{}, err
	}
	outputs := make(map[string]string)
	for k, v := range req.Action.With {
		if name, ok := strings.CutPrefix(k, DryRunOutputPrefix); ok && name != "" {
			outputs[name] = v
		}
	}
	d.logger.Info("dry run",
		"run_id", req.RunID,
		"node", req.Node,
		"uses", req.Action.Uses,
		"matrix", req.Matrix,
	)
	return domain.ActionResult{Status: domain.NodeSucceeded, Outputs: outputs}, nil
}

// Noop succeeds immediately. It backs nodes that exist only to order or
// collect other nodes, such as report sinks.
type Noop struct{}

// Execute implements domain.ActionExecutor.
func (Noop) Execute(ctx context.Context, _ domain.ActionRequest) (domain.ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ActionResult{}, err
	}
	return domain.ActionResult{Status: domain.NodeSucceeded}, nil
}
