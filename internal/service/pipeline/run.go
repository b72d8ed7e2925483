package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"ci-core/internal/domain"
)

// Run is one execution of a job graph. All node state is owned by the run and
// guarded by mu; no other run reads or writes it.
type Run struct {
	id      string
	key     string
	trigger domain.Trigger
	graph   *Graph
	coord   *Coordinator
	guards  guardInputs
	logger  *slog.Logger

	flagsUnresolved bool

	ctx       context.Context
	cancelCtx context.CancelFunc
	done      chan struct{}

	mu           sync.Mutex
	status       domain.RunStatus
	cancelled    bool
	cancelReason string
	warnings     []string
	startedAt    time.Time
	finishedAt   *time.Time
	remaining    int
	inflight     map[string]int     // template -> instances counted against max_parallel
	held         map[string][]*Node // template -> ready instances over max_parallel
}

type transition struct {
	node   *Node
	state  domain.NodeState
	kind   domain.ErrorKind
	detail string
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// ConcurrencyKey returns the key the run was admitted under.
func (r *Run) ConcurrencyKey() string { return r.key }

// Done is closed once the run is terminal and archived.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run is done or ctx ends, and returns the final snapshot.
func (r *Run) Wait(ctx context.Context) (domain.RunSnapshot, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Status returns the current run status.
func (r *Run) Status() domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Cancel aborts the run: every non-terminal node becomes Cancelled and
// in-flight actions have their contexts cancelled.
func (r *Run) Cancel(reason string) error {
	if !r.cancelRun(reason) {
		return domain.ErrValidation("cannot cancel run with status %s", r.Status())
	}
	return nil
}

// Snapshot returns a consistent copy of the run and its nodes.
func (r *Run) Snapshot() domain.RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() domain.RunSnapshot {
	snap := domain.RunSnapshot{
		ID:             r.id,
		ConcurrencyKey: r.key,
		Trigger:        r.trigger,
		Status:         r.status,
		CancelReason:   r.cancelReason,
		Warnings:       append([]string(nil), r.warnings...),
		StartedAt:      r.startedAt,
		FinishedAt:     r.finishedAt,
		Nodes:          make([]domain.NodeSnapshot, 0, len(r.graph.nodes)),
	}
	for _, n := range r.graph.nodes {
		snap.Nodes = append(snap.Nodes, domain.NodeSnapshot{
			Name:         n.Name,
			Template:     n.Template,
			Aggregate:    n.Aggregate,
			Needs:        append([]string(nil), n.Needs...),
			State:        n.state,
			ErrorKind:    n.errKind,
			Error:        n.errMsg,
			Reason:       n.reason,
			AllowFailure: n.AllowFailure,
			Matrix:       maps.Clone(n.Matrix),
			Outputs:      maps.Clone(n.outputs),
			StartedAt:    n.startedAt,
			FinishedAt:   n.finishedAt,
		})
	}
	return snap
}

// start evaluates root nodes. Everything after that is driven by terminal
// transitions. A run cancelled between admission and start stays as it is.
func (r *Run) start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.RunRunning {
		return
	}
	r.logger.Info("run started", "nodes", len(r.graph.nodes))
	var queue []transition
	for _, n := range r.graph.nodes {
		if n.waitingFor == 0 && n.state == domain.NodePending {
			if t := r.evaluateLocked(n); t != nil {
				queue = append(queue, *t)
			}
		}
	}
	r.settleLocked(queue...)
}

// evaluateLocked decides a node whose predecessors are all terminal. It
// returns the terminal transition to apply, or nil when the node became Ready.
// Each node is evaluated exactly once.
func (r *Run) evaluateLocked(n *Node) *transition {
	if n.Aggregate {
		if len(n.instances) == 0 {
			for _, p := range n.preds {
				if p.state != domain.NodeSucceeded {
					return &transition{node: n, state: domain.NodeSkipped,
						detail: fmt.Sprintf("predecessor %s is %s", p.Name, p.state)}
				}
			}
		}
		state, failed := aggregateState(n.instances)
		t := &transition{node: n, state: state}
		if failed != nil {
			t.kind = failed.errKind
			t.detail = fmt.Sprintf("matrix instance %s failed", failed.Name)
		}
		n.outputs = make(map[string]string)
		for _, inst := range n.instances {
			for k, v := range inst.outputs {
				n.outputs[inst.Name+"."+k] = v
			}
		}
		return t
	}

	if !n.Always {
		for _, p := range n.preds {
			if p.state != domain.NodeSucceeded {
				return &transition{node: n, state: domain.NodeSkipped,
					detail: fmt.Sprintf("predecessor %s is %s", p.Name, p.state)}
			}
		}
	}

	if n.Guard != nil {
		if r.flagsUnresolved && n.Guard.ReferencesFlags() {
			return &transition{node: n, state: domain.NodeSkipped, detail: "change flags unresolved"}
		}
		env, err := r.guards.envFor(n)
		if err != nil {
			return &transition{node: n, state: domain.NodeFailed, kind: domain.KindGuardError, detail: err.Error()}
		}
		ok, err := n.Guard.eval(env, r.coord.opts.GuardMaxSteps)
		if err != nil {
			return &transition{node: n, state: domain.NodeFailed, kind: domain.KindGuardError, detail: err.Error()}
		}
		if !ok {
			return &transition{node: n, state: domain.NodeSkipped, detail: "guard is false"}
		}
	}

	n.state = domain.NodeReady
	r.enqueueLocked(n)
	return nil
}

// settleLocked applies terminal transitions and everything they trigger.
func (r *Run) settleLocked(queue ...transition) {
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if t.node.state.Terminal() {
			continue
		}
		r.finishNodeLocked(t.node, t.state, t.kind, t.detail)
		queue = append(queue, r.propagateLocked(t.node)...)
	}
	if r.remaining == 0 {
		r.finishLocked()
	}
}

// propagateLocked handles matrix bookkeeping for a node that just turned
// terminal and evaluates successors whose last predecessor it was.
func (r *Run) propagateLocked(n *Node) []transition {
	var out []transition

	if agg := n.aggregate; agg != nil {
		if n.limited {
			n.limited = false
			r.inflight[agg.Name]--
			r.pumpLocked(agg)
		}
		if n.state == domain.NodeFailed && agg.FailFast {
			for _, sib := range agg.instances {
				if sib != n && !sib.state.Terminal() {
					out = append(out, transition{node: sib, state: domain.NodeCancelled,
						detail: fmt.Sprintf("fail-fast: %s failed", n.Name)})
				}
			}
		}
	}

	for _, s := range n.succs {
		s.waitingFor--
		if s.waitingFor == 0 && s.state == domain.NodePending {
			if t := r.evaluateLocked(s); t != nil {
				out = append(out, *t)
			}
		}
	}
	return out
}

// enqueueLocked hands a Ready node to the worker pool, holding it back when
// its template is at max_parallel.
func (r *Run) enqueueLocked(n *Node) {
	if agg := n.aggregate; agg != nil && agg.MaxParallel > 0 {
		if r.inflight[agg.Name] >= agg.MaxParallel {
			r.held[agg.Name] = append(r.held[agg.Name], n)
			return
		}
		r.inflight[agg.Name]++
		n.limited = true
	}
	ctx, cancel := context.WithCancel(r.ctx)
	n.cancel = cancel
	go r.dispatch(ctx, n)
}

func (r *Run) pumpLocked(agg *Node) {
	queue := r.held[agg.Name]
	for len(queue) > 0 && r.inflight[agg.Name] < agg.MaxParallel {
		next := queue[0]
		queue = queue[1:]
		if next.state == domain.NodeReady {
			r.enqueueLocked(next)
		}
	}
	r.held[agg.Name] = queue
}

// dispatch waits for a worker slot and runs the node's action. The node moves
// to Running only if it is still Ready once the slot is granted.
func (r *Run) dispatch(ctx context.Context, n *Node) {
	if err := r.coord.sem.Acquire(ctx, 1); err != nil {
		return
	}

	r.mu.Lock()
	if n.state != domain.NodeReady || r.cancelled {
		r.mu.Unlock()
		r.coord.sem.Release(1)
		return
	}
	now := time.Now()
	n.state = domain.NodeRunning
	n.startedAt = &now
	n.holdsSlot = true
	timeout := r.coord.timeoutFor(n)
	timer := time.AfterFunc(timeout, func() { r.expire(n, timeout) })
	n.stopTimer = timer.Stop
	req := r.requestLocked(n)
	r.mu.Unlock()

	r.logger.Debug("node running", "node", n.Name, "uses", n.Action.Uses, "timeout", timeout)
	res, err := r.execute(ctx, req)
	r.complete(n, res, err)
}

func (r *Run) execute(ctx context.Context, req domain.ActionRequest) (res domain.ActionResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.coord.exec.Execute(ctx, req)
}

func (r *Run) requestLocked(n *Node) domain.ActionRequest {
	upstream := make(map[string]map[string]string, len(n.preds))
	for _, p := range n.preds {
		upstream[p.Name] = maps.Clone(p.outputs)
	}
	return domain.ActionRequest{
		RunID:    r.id,
		Node:     n.Name,
		Action:   domain.Action{Uses: n.Action.Uses, With: maps.Clone(n.Action.With)},
		Matrix:   maps.Clone(n.Matrix),
		Inputs:   maps.Clone(r.trigger.Inputs),
		Upstream: upstream,
		Trigger:  r.trigger,
	}
}

// complete records the executor's outcome unless the node already left
// Running through a timeout or cancellation.
func (r *Run) complete(n *Node, res domain.ActionResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.state != domain.NodeRunning {
		return
	}

	t := transition{node: n}
	switch {
	case err != nil:
		t.state, t.kind, t.detail = domain.NodeFailed, domain.KindActionFailed, err.Error()
	case res.Status == domain.NodeSucceeded:
		t.state = domain.NodeSucceeded
		n.outputs = maps.Clone(res.Outputs)
	case res.Status == domain.NodeFailed:
		t.state, t.kind, t.detail = domain.NodeFailed, domain.KindActionFailed, res.Message
		n.outputs = maps.Clone(res.Outputs)
		if t.detail == "" {
			t.detail = "action reported failure"
		}
	default:
		t.state, t.kind = domain.NodeFailed, domain.KindActionFailed
		t.detail = fmt.Sprintf("executor returned invalid status %q", res.Status)
	}
	r.settleLocked(t)
}

// expire force-fails a node that outlived its timeout without waiting for
// the executor to return.
func (r *Run) expire(n *Node, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.state != domain.NodeRunning {
		return
	}
	r.logger.Warn("node timed out", "node", n.Name, "timeout", timeout)
	r.settleLocked(transition{node: n, state: domain.NodeFailed, kind: domain.KindTimeout,
		detail: fmt.Sprintf("exceeded timeout of %s", timeout)})
}

func (r *Run) finishNodeLocked(n *Node, state domain.NodeState, kind domain.ErrorKind, detail string) {
	n.state = state
	n.errKind = kind
	switch state {
	case domain.NodeFailed:
		n.errMsg = detail
	case domain.NodeSkipped, domain.NodeCancelled:
		n.reason = detail
	}
	now := time.Now()
	n.finishedAt = &now
	if n.stopTimer != nil {
		n.stopTimer()
	}
	if n.cancel != nil {
		n.cancel()
	}
	if n.holdsSlot {
		n.holdsSlot = false
		r.coord.sem.Release(1)
	}
	r.remaining--

	switch state {
	case domain.NodeFailed:
		r.logger.Warn("node failed", "node", n.Name, "kind", kind, "error", detail)
	default:
		r.logger.Debug("node finished", "node", n.Name, "state", state, "reason", detail)
	}
}

// cancelRun transitions every non-terminal node to Cancelled. It reports
// false if the run had already finished.
func (r *Run) cancelRun(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != domain.RunRunning {
		return false
	}
	r.cancelled = true
	r.cancelReason = reason
	r.cancelCtx()
	for _, n := range r.graph.nodes {
		if !n.state.Terminal() {
			r.finishNodeLocked(n, domain.NodeCancelled, "", reason)
		}
	}
	r.logger.Info("run cancelled", "reason", reason)
	r.finishLocked()
	return true
}

func (r *Run) finishLocked() {
	if r.status != domain.RunRunning {
		return
	}
	status := domain.RunSucceeded
	switch {
	case r.cancelled:
		status = domain.RunCancelled
	default:
		for _, n := range r.graph.nodes {
			if n.state == domain.NodeFailed && !n.AllowFailure {
				status = domain.RunFailed
				break
			}
		}
	}
	now := time.Now()
	r.status = status
	r.finishedAt = &now
	r.cancelCtx()
	r.logger.Info("run finished", "status", status, "duration", now.Sub(r.startedAt))

	snap := r.snapshotLocked()
	go r.coord.retire(r, snap)
}
