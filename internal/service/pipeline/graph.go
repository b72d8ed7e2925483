// Package pipeline implements the CI pipeline orchestration core: job graph
// construction, guard evaluation, matrix expansion and run coordination.
package pipeline

import (
	"fmt"
	"sort"
	"time"

	"ci-core/internal/domain"
	"ci-core/internal/settings"
)

// Node is one vertex of a run's job graph. Exported fields are fixed at
// construction; the rest is run state guarded by the owning Run's mutex.
type Node struct {
	Name         string
	Template     string // set on matrix instances
	Aggregate    bool   // a matrix template's non-executed summary node
	Needs        []string
	Guard        *Guard // nil means no guard
	Always       bool
	AllowFailure bool
	Action       domain.Action
	Class        string
	Timeout      time.Duration // 0 defers to the coordinator's defaults
	Matrix       map[string]any

	// Matrix policy, set on aggregates.
	FailFast    bool
	MaxParallel int

	preds      []*Node
	succs      []*Node
	instances  []*Node // aggregates only
	aggregate  *Node   // instances only
	waitingFor int

	state      domain.NodeState
	errKind    domain.ErrorKind
	errMsg     string
	reason     string
	outputs    map[string]string
	startedAt  *time.Time
	finishedAt *time.Time
	holdsSlot  bool
	limited    bool // counted against the template's max_parallel
	cancel     func()
	stopTimer  func() bool
}

// Graph is the validated job graph for one run.
type Graph struct {
	Workflow string
	nodes    []*Node
	byName   map[string]*Node
	levels   [][]string

	submitted bool // a graph carries run state and is submitted once
}

// BuildInputs carries the run-scoped values graph construction consumes.
type BuildInputs struct {
	Settings settings.Settings
	// Filters lists the change-filter names guards may reference.
	Filters []string
}

// Build expands matrices, synthesises aggregate nodes, checks references and
// cycles, and compiles guards. Any error aborts the run before a node runs.
func Build(def *domain.Workflow, in BuildInputs) (*Graph, error) {
	g := &Graph{Workflow: def.Name, byName: make(map[string]*Node)}

	flagNames := make(map[string]bool, len(in.Filters))
	for _, f := range in.Filters {
		flagNames[f] = true
	}
	configNames := make(map[string]bool, len(in.Settings))
	for k := range in.Settings {
		configNames[k] = true
	}

	add := func(n *Node) error {
		if _, dup := g.byName[n.Name]; dup {
			return domain.ErrValidation("duplicate job name %q", n.Name)
		}
		g.byName[n.Name] = n
		g.nodes = append(g.nodes, n)
		return nil
	}

	for i := range def.Jobs {
		job := &def.Jobs[i]
		timeout, err := jobTimeout(job, def.Timeouts)
		if err != nil {
			return nil, err
		}
		var guard *Guard
		if job.If != "" {
			guard, err = compileGuard(job.If, flagNames, configNames)
			if err != nil {
				return nil, domain.ErrValidation("job %q: %v", job.Name, err)
			}
		}

		base := Node{
			Name:         job.Name,
			Needs:        append([]string(nil), job.Needs...),
			Guard:        guard,
			Always:       job.Always,
			AllowFailure: job.AllowFailure,
			Action:       domain.Action{Uses: job.Uses, With: job.With},
			Class:        job.ActionClass(),
			Timeout:      timeout,
		}

		if job.Matrix == nil {
			n := base
			if err := add(&n); err != nil {
				return nil, err
			}
			continue
		}

		records, err := expandMatrix(job, in.Settings)
		if err != nil {
			return nil, err
		}
		agg := &Node{
			Name:         job.Name,
			Aggregate:    true,
			AllowFailure: job.AllowFailure,
			Action:       base.Action,
			Class:        base.Class,
			FailFast:     job.Matrix.FailFast,
			MaxParallel:  job.Matrix.MaxParallel,
		}
		for idx, rec := range records {
			inst := base
			inst.Name = instanceName(job.Name, idx)
			inst.Template = job.Name
			inst.Needs = append([]string(nil), job.Needs...)
			inst.Matrix = rec
			inst.aggregate = agg
			if err := add(&inst); err != nil {
				return nil, err
			}
			agg.Needs = append(agg.Needs, inst.Name)
			agg.instances = append(agg.instances, &inst)
		}
		if len(records) == 0 {
			// An empty matrix still orders after the template's needs.
			agg.Needs = append([]string(nil), job.Needs...)
		}
		if err := add(agg); err != nil {
			return nil, err
		}
	}

	if err := g.link(); err != nil {
		return nil, err
	}
	levels, err := resolveLevels(g.nodes)
	if err != nil {
		return nil, err
	}
	g.levels = levels
	return g, nil
}

// link resolves predecessor names into pointers.
func (g *Graph) link() error {
	for _, n := range g.nodes {
		for _, dep := range n.Needs {
			p, ok := g.byName[dep]
			if !ok {
				return domain.ErrValidation("unresolved template reference: job %q needs unknown job %q", n.Name, dep)
			}
			if p == n {
				return domain.NewError(domain.KindGraphCyclic, "self dependency: %s", n.Name)
			}
			n.preds = append(n.preds, p)
			p.succs = append(p.succs, n)
		}
	}
	return nil
}

// resolveLevels computes a topological ordering using Kahn's algorithm.
// Each level holds node names that may run in parallel.
func resolveLevels(nodes []*Node) ([][]string, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[*Node]int, len(nodes))
	var queue []*Node
	for _, n := range nodes {
		inDegree[n] = len(n.preds)
		if len(n.preds) == 0 {
			queue = append(queue, n)
		}
	}

	var levels [][]string
	processed := 0
	for len(queue) > 0 {
		level := make([]string, len(queue))
		for i, n := range queue {
			level[i] = n.Name
		}
		sort.Strings(level)
		levels = append(levels, level)
		processed += len(queue)

		var next []*Node
		for _, n := range queue {
			for _, s := range n.succs {
				inDegree[s]--
				if inDegree[s] == 0 {
					next = append(next, s)
				}
			}
		}
		queue = next
	}

	if processed != len(nodes) {
		var stuck []string
		for _, n := range nodes {
			if inDegree[n] > 0 {
				stuck = append(stuck, n.Name)
			}
		}
		sort.Strings(stuck)
		return nil, domain.NewError(domain.KindGraphCyclic, "cycle detected among jobs %v", stuck)
	}
	return levels, nil
}

func jobTimeout(job *domain.JobSpec, classes domain.ClassTimeouts) (time.Duration, error) {
	raw := job.Timeout
	if raw == "" {
		raw = classes[job.ActionClass()]
	}
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, domain.ErrValidation("job %q: invalid timeout %q", job.Name, raw)
	}
	return d, nil
}

// Levels returns the topological levels of the graph.
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, l := range g.levels {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// Node returns the named node, or nil.
func (g *Graph) Node(name string) *Node { return g.byName[name] }

// Len returns the number of nodes, aggregates included.
func (g *Graph) Len() int { return len(g.nodes) }

// Names returns node names in construction order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Name
	}
	return out
}

// Instances returns the instance names of a matrix template, or nil.
func (g *Graph) Instances(template string) []string {
	agg := g.byName[template]
	if agg == nil || !agg.Aggregate {
		return nil
	}
	out := make([]string, len(agg.instances))
	for i, inst := range agg.instances {
		out[i] = inst.Name
	}
	return out
}

func instanceName(template string, idx int) string {
	return fmt.Sprintf("%s[%d]", template, idx)
}
