package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"ci-core/internal/changes"
	"ci-core/internal/domain"
	"ci-core/internal/service/report"
	"ci-core/internal/settings"
)

// WorkflowProvider supplies workflow definitions by name.
type WorkflowProvider interface {
	GetWorkflow(ctx context.Context, name string) (*domain.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*domain.Workflow, error)
}

// ScheduleReloader allows the service to notify the scheduler to reload.
type ScheduleReloader interface {
	Reload(ctx context.Context) error
}

// Service drives a trigger through configuration, change detection, graph
// construction, coordination and reporting.
type Service struct {
	workflows WorkflowProvider
	settings  *settings.Loader
	detector  *changes.Detector
	coord     *Coordinator
	reports   *report.Aggregator
	history   domain.RunHistoryRepository
	stored    domain.ReportRepository
	logger    *slog.Logger
	reloader  ScheduleReloader

	publishing sync.WaitGroup
}

// NewService creates a new Service. history may be nil.
func NewService(
	workflows WorkflowProvider,
	loader *settings.Loader,
	detector *changes.Detector,
	coord *Coordinator,
	reports *report.Aggregator,
	history domain.RunHistoryRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		workflows: workflows,
		settings:  loader,
		detector:  detector,
		coord:     coord,
		reports:   reports,
		history:   history,
		logger:    logger,
	}
}

// SetScheduleReloader sets the schedule reloader (breaks circular dep).
func (s *Service) SetScheduleReloader(r ScheduleReloader) {
	s.reloader = r
}

// SetReportStore sets where GetReport reads published reports from.
func (s *Service) SetReportStore(r domain.ReportRepository) {
	s.stored = r
}

// Plan is what a trigger would run, computed without executing anything.
type Plan struct {
	Workflow        string          `json:"workflow"`
	ConcurrencyKey  string          `json:"concurrency_key"`
	Flags           map[string]bool `json:"flags"`
	FlagsUnresolved bool            `json:"flags_unresolved,omitempty"`
	Config          map[string]any  `json:"config,omitempty"`
	Levels          [][]string      `json:"levels"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// prepared is a trigger that passed every construction-time check.
type prepared struct {
	workflow *domain.Workflow
	sub      Submission
}

func (s *Service) prepare(ctx context.Context, t domain.Trigger) (*prepared, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	wf, err := s.workflows.GetWorkflow(ctx, t.Workflow)
	if err != nil {
		return nil, err
	}

	set, err := s.settings.Resolve(ctx, wf.Config)
	if err != nil {
		return nil, fmt.Errorf("resolve config for %s: %w", wf.Name, err)
	}

	base := wf.Changes.Base
	if base == "" {
		base = t.Base
	}
	head := t.Revision
	if head == "" {
		head = t.Ref
	}
	detected, err := s.detector.Detect(ctx, base, head, wf.Changes.Filters)
	if err != nil {
		return nil, fmt.Errorf("detect changes: %w", err)
	}
	var warnings []string
	if detected.Unresolved && len(wf.Changes.Filters) > 0 {
		warnings = append(warnings, detected.Err.Error())
	}

	filters := make([]string, 0, len(wf.Changes.Filters))
	for name := range wf.Changes.Filters {
		filters = append(filters, name)
	}
	sort.Strings(filters)

	g, err := Build(wf, BuildInputs{Settings: set, Filters: filters})
	if err != nil {
		return nil, err
	}
	return &prepared{
		workflow: wf,
		sub: Submission{
			Trigger:         t,
			Graph:           g,
			Concurrency:     wf.Concurrency,
			Flags:           detected.Flags,
			FlagsUnresolved: detected.Unresolved,
			Settings:        set,
			Warnings:        warnings,
		},
	}, nil
}

// Plan resolves configuration and change flags for t and returns the
// execution levels its run would follow.
func (s *Service) Plan(ctx context.Context, t domain.Trigger) (*Plan, error) {
	p, err := s.prepare(ctx, t)
	if err != nil {
		return nil, err
	}
	cfg := make(map[string]any, len(p.sub.Settings))
	for k, v := range p.sub.Settings {
		cfg[k] = v.Raw()
	}
	return &Plan{
		Workflow:        p.workflow.Name,
		ConcurrencyKey:  ConcurrencyKey(p.workflow.Concurrency.Group, t),
		Flags:           p.sub.Flags,
		FlagsUnresolved: p.sub.FlagsUnresolved,
		Config:          cfg,
		Levels:          p.sub.Graph.Levels(),
		Warnings:        p.sub.Warnings,
	}, nil
}

// Trigger admits a run and returns immediately. The report is published in
// the background once the run is terminal.
func (s *Service) Trigger(ctx context.Context, t domain.Trigger) (*domain.RunSnapshot, error) {
	p, err := s.prepare(ctx, t)
	if err != nil {
		return nil, err
	}
	r, err := s.coord.Submit(ctx, p.sub)
	if err != nil {
		return nil, err
	}
	s.logger.Info("run triggered", "run_id", r.ID(), "workflow", t.Workflow, "event", t.Event, "actor", t.Actor)

	spec := p.workflow.Report
	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		snap, _ := r.Wait(context.Background())
		if _, err := s.reports.Aggregate(context.Background(), &snap, spec); err != nil {
			s.logger.Error("publish report", "run_id", snap.ID, "error", err)
		}
	}()

	snap := r.Snapshot()
	return &snap, nil
}

// RunAndReport runs t to completion and publishes its report. If ctx ends
// first the run is cancelled and the cancelled run is reported.
func (s *Service) RunAndReport(ctx context.Context, t domain.Trigger) (*domain.RunSnapshot, *domain.Report, error) {
	p, err := s.prepare(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.coord.Submit(ctx, p.sub)
	if err != nil {
		return nil, nil, err
	}

	snap, err := r.Wait(ctx)
	if err != nil {
		_ = r.Cancel(fmt.Sprintf("interrupted: %v", err))
		snap, _ = r.Wait(context.Background())
	}
	rep, err := s.reports.Aggregate(context.WithoutCancel(ctx), &snap, p.workflow.Report)
	if err != nil && rep == nil {
		return &snap, nil, err
	}
	return &snap, rep, err
}

// Flush waits for background report publishing to finish.
func (s *Service) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.publishing.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetRun returns an active or archived run.
func (s *Service) GetRun(ctx context.Context, id string) (*domain.RunSnapshot, error) {
	if r, ok := s.coord.Get(id); ok {
		snap := r.Snapshot()
		return &snap, nil
	}
	if s.history == nil {
		return nil, domain.ErrNotFound("run %q not found", id)
	}
	return s.history.GetRun(ctx, id)
}

// ListRuns lists runs. Running runs are served from the coordinator, the
// rest from history when one is configured. Without a status filter, runs in
// progress lead the first page and count towards the total.
func (s *Service) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.RunSnapshot, int64, error) {
	if s.history != nil && (filter.Status == nil || *filter.Status != domain.RunRunning) {
		runs, total, err := s.history.ListRuns(ctx, filter)
		if err != nil || filter.Status != nil {
			return runs, total, err
		}
		active := s.activeRuns(filter.Workflow)
		total += int64(len(active))
		if filter.Page.Offset() > 0 || len(active) == 0 {
			return runs, total, nil
		}
		return append(active, runs...), total, nil
	}

	var matched []domain.RunSnapshot
	for _, snap := range s.coord.Runs() {
		if filter.Workflow != nil && snap.Trigger.Workflow != *filter.Workflow {
			continue
		}
		if filter.Status != nil && snap.Status != *filter.Status {
			continue
		}
		matched = append(matched, snap)
	}
	total := int64(len(matched))
	offset, limit := filter.Page.Offset(), filter.Page.Limit()
	if offset >= len(matched) {
		return []domain.RunSnapshot{}, total, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], total, nil
}

// activeRuns returns runs in progress, newest first.
func (s *Service) activeRuns(workflow *string) []domain.RunSnapshot {
	var out []domain.RunSnapshot
	for _, snap := range s.coord.Active() {
		if workflow != nil && snap.Trigger.Workflow != *workflow {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// CancelRun cancels an active run.
func (s *Service) CancelRun(_ context.Context, principal, id string) error {
	reason := domain.CancelExplicit
	if principal != "" {
		reason = fmt.Sprintf("%s by %s", domain.CancelExplicit, principal)
	}
	if err := s.coord.Cancel(id, reason); err != nil {
		return err
	}
	s.logger.Info("run cancelled", "run_id", id, "principal", principal)
	return nil
}

// GetReport returns the published report of a run.
func (s *Service) GetReport(ctx context.Context, runID string) (*domain.Report, error) {
	if s.stored == nil {
		return nil, domain.ErrNotFound("report for run %q not found", runID)
	}
	return s.stored.GetByRunID(ctx, runID)
}

// ListWorkflows returns the known workflow definitions.
func (s *Service) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	return s.workflows.ListWorkflows(ctx)
}

// ReloadWorkflows re-reads workflow definitions, when the provider supports
// it, and refreshes cron schedules.
func (s *Service) ReloadWorkflows(ctx context.Context) error {
	if r, ok := s.workflows.(interface{ Reload(context.Context) error }); ok {
		if err := r.Reload(ctx); err != nil {
			return err
		}
	}
	if s.reloader != nil {
		if err := s.reloader.Reload(ctx); err != nil {
			s.logger.Warn("failed to reload scheduler", "error", err)
		}
	}
	return nil
}
