package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"ci-core/internal/domain"
	"ci-core/internal/settings"
)

const (
	defaultMaxWorkers  = 4
	defaultNodeTimeout = time.Hour
)

// Options configures a Coordinator.
type Options struct {
	MaxWorkers     int
	DefaultTimeout time.Duration
	// ClassTimeouts are per-action-class defaults, consulted when neither the
	// job nor the workflow sets a timeout.
	ClassTimeouts map[string]time.Duration
	GuardMaxSteps uint64
}

// Submission is everything the coordinator needs to admit a run.
type Submission struct {
	Trigger         domain.Trigger
	Graph           *Graph
	Concurrency     domain.Concurrency
	Flags           map[string]bool
	FlagsUnresolved bool
	Settings        settings.Settings
	Warnings        []string
}

// Coordinator admits runs under concurrency keys and schedules their ready
// nodes onto a shared, bounded worker pool.
type Coordinator struct {
	exec    domain.ActionExecutor
	history domain.RunHistoryRepository
	sem     *semaphore.Weighted
	opts    Options
	logger  *slog.Logger

	mu     sync.Mutex
	groups map[string]*Run // concurrency key -> active run
	runs   map[string]*Run // run id -> run not yet archived
}

// NewCoordinator creates a Coordinator. history may be nil, in which case
// finished runs stay queryable in memory.
func NewCoordinator(exec domain.ActionExecutor, history domain.RunHistoryRepository, opts Options, logger *slog.Logger) *Coordinator {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultNodeTimeout
	}
	return &Coordinator{
		exec:    exec,
		history: history,
		sem:     semaphore.NewWeighted(int64(opts.MaxWorkers)),
		opts:    opts,
		logger:  logger,
		groups:  make(map[string]*Run),
		runs:    make(map[string]*Run),
	}
}

// ConcurrencyKey renders a concurrency group template for t. An empty
// template selects "${workflow}/pr-${pr}" for pull requests and
// "${workflow}/${ref}" otherwise.
func ConcurrencyKey(group string, t domain.Trigger) string {
	if group == "" {
		if t.IsPullRequest() {
			group = "${workflow}/pr-${pr}"
		} else {
			group = "${workflow}/${ref}"
		}
	}
	pr := ""
	if t.PullRequest != nil {
		pr = strconv.Itoa(*t.PullRequest)
	}
	ref := t.Ref
	if ref == "" {
		ref = t.Revision
	}
	return strings.NewReplacer(
		"${workflow}", t.Workflow,
		"${ref}", ref,
		"${pr}", pr,
		"${event}", string(t.Event),
	).Replace(group)
}

// Submit admits a run. If another run holds the same concurrency key it is
// cancelled, synchronously, before the new run schedules anything; with
// cancel_in_progress disabled the submission is rejected instead.
func (c *Coordinator) Submit(ctx context.Context, sub Submission) (*Run, error) {
	r, err := c.admit(ctx, sub)
	if err != nil {
		return nil, err
	}
	r.start()
	return r, nil
}

// admit registers a run under its concurrency key without scheduling it. The
// run is visible to Cancel and to later submissions from this point on.
func (c *Coordinator) admit(ctx context.Context, sub Submission) (*Run, error) {
	if err := sub.Trigger.Validate(); err != nil {
		return nil, err
	}
	if sub.Graph == nil {
		return nil, domain.ErrValidation("graph is required")
	}
	guards, err := newGuardInputs(sub.Flags, sub.Settings)
	if err != nil {
		return nil, err
	}

	key := ConcurrencyKey(sub.Concurrency.Group, sub.Trigger)
	id := domain.NewID()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Run{
		id:              id,
		key:             key,
		trigger:         sub.Trigger,
		graph:           sub.Graph,
		coord:           c,
		guards:          guards,
		logger:          c.logger.With("run_id", id, "concurrency_key", key),
		flagsUnresolved: sub.FlagsUnresolved,
		ctx:             runCtx,
		cancelCtx:       cancel,
		done:            make(chan struct{}),
		status:          domain.RunRunning,
		warnings:        append([]string(nil), sub.Warnings...),
		startedAt:       time.Now(),
		remaining:       len(sub.Graph.nodes),
		inflight:        make(map[string]int),
		held:            make(map[string][]*Node),
	}

	c.mu.Lock()
	if sub.Graph.submitted {
		c.mu.Unlock()
		cancel()
		return nil, domain.ErrValidation("graph has already been submitted")
	}
	if prev := c.groups[key]; prev != nil && prev.Status() == domain.RunRunning {
		if !sub.Concurrency.CancelsInProgress() {
			c.mu.Unlock()
			cancel()
			return nil, domain.ErrConflict("run %s is already in progress for %s", prev.id, key)
		}
		prev.cancelRun(domain.CancelSuperseded)
		r.logger.Info("superseded previous run", "previous_run_id", prev.id)
	}
	sub.Graph.submitted = true
	for _, n := range sub.Graph.nodes {
		n.state = domain.NodePending
		n.waitingFor = len(n.preds)
	}
	c.groups[key] = r
	c.runs[id] = r
	c.mu.Unlock()
	return r, nil
}

// Options returns the options the coordinator was created with, defaults applied.
func (c *Coordinator) Options() Options { return c.opts }

// Get returns a run that has not yet been archived.
func (c *Coordinator) Get(id string) (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[id]
	return r, ok
}

// Active returns snapshots of all runs still in progress.
func (c *Coordinator) Active() []domain.RunSnapshot {
	c.mu.Lock()
	runs := make([]*Run, 0, len(c.groups))
	for _, r := range c.groups {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	out := make([]domain.RunSnapshot, 0, len(runs))
	for _, r := range runs {
		if snap := r.Snapshot(); snap.Status == domain.RunRunning {
			out = append(out, snap)
		}
	}
	return out
}

// Runs returns snapshots of every run not yet archived, newest first.
func (c *Coordinator) Runs() []domain.RunSnapshot {
	c.mu.Lock()
	runs := make([]*Run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	out := make([]domain.RunSnapshot, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel aborts a run by id.
func (c *Coordinator) Cancel(id, reason string) error {
	r, ok := c.Get(id)
	if !ok {
		return domain.ErrNotFound("run %q not found", id)
	}
	if reason == "" {
		reason = domain.CancelExplicit
	}
	return r.Cancel(reason)
}

// Shutdown cancels every active run and waits for them to be archived.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	runs := make([]*Run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	for _, r := range runs {
		r.cancelRun("server shutting down")
	}
	for _, r := range runs {
		if _, err := r.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// retire archives a terminal run and releases its concurrency key.
func (c *Coordinator) retire(r *Run, snap domain.RunSnapshot) {
	defer close(r.done)

	archived := false
	if c.history != nil {
		if err := c.history.SaveRun(context.Background(), &snap); err != nil {
			r.logger.Error("archive run", "error", err)
		} else {
			archived = true
		}
	}

	c.mu.Lock()
	if c.groups[r.key] == r {
		delete(c.groups, r.key)
	}
	if archived {
		delete(c.runs, r.id)
	}
	c.mu.Unlock()
}

func (c *Coordinator) timeoutFor(n *Node) time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	if d, ok := c.opts.ClassTimeouts[n.Class]; ok && d > 0 {
		return d
	}
	return c.opts.DefaultTimeout
}
