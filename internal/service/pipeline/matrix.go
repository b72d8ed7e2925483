package pipeline

import (
	"fmt"
	"maps"

	"ci-core/internal/domain"
	"ci-core/internal/settings"
)

// expandMatrix returns the parameter records for a matrix template: the
// records of its source setting followed by its static include entries.
func expandMatrix(job *domain.JobSpec, set settings.Settings) ([]map[string]any, error) {
	spec := job.Matrix
	var records []map[string]any

	if spec.Source != "" {
		v, ok := set[spec.Source]
		if !ok {
			return nil, domain.ErrValidation("unresolved template reference: job %q matrix source %q is not a config query", job.Name, spec.Source)
		}
		recs, err := v.Records()
		if err != nil {
			return nil, fmt.Errorf("job %q matrix source %q: %w", job.Name, spec.Source, err)
		}
		records = append(records, recs...)
	}
	for _, inc := range spec.Include {
		records = append(records, maps.Clone(inc))
	}

	if len(records) == 0 && spec.RequireNonEmpty {
		return nil, domain.NewError(domain.KindMatrixSourceEmpty, "job %q: matrix source %q produced no instances", job.Name, spec.Source)
	}
	return records, nil
}

// aggregateState derives a matrix template's state from its instances,
// which must all be terminal. Zero instances succeed vacuously.
func aggregateState(instances []*Node) (domain.NodeState, *Node) {
	if len(instances) == 0 {
		return domain.NodeSucceeded, nil
	}
	skipped, cancelled := 0, 0
	var firstFailed *Node
	for _, inst := range instances {
		switch inst.state {
		case domain.NodeSkipped:
			skipped++
		case domain.NodeFailed:
			if firstFailed == nil {
				firstFailed = inst
			}
		case domain.NodeCancelled:
			cancelled++
		}
	}
	switch {
	case skipped == len(instances):
		return domain.NodeSkipped, nil
	case firstFailed != nil:
		return domain.NodeFailed, firstFailed
	case cancelled > 0:
		return domain.NodeCancelled, nil
	}
	return domain.NodeSucceeded, nil
}
