package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/robfig/cron/v3"

	"ci-core/internal/domain"
)

// scheduleActor is recorded as the actor of cron-triggered runs.
const scheduleActor = "scheduler"

// Scheduler manages cron-based workflow triggers.
type Scheduler struct {
	cron      *cron.Cron
	svc       *Service
	workflows WorkflowProvider
	logger    *slog.Logger
	mu        sync.Mutex
	entries   map[string]cron.EntryID // "workflow#index" → cron entry
}

// NewScheduler creates a new workflow scheduler.
func NewScheduler(svc *Service, workflows WorkflowProvider, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		svc:       svc,
		workflows: workflows,
		logger:    logger,
		entries:   make(map[string]cron.EntryID),
	}
}

// Start loads all workflow schedules and starts the cron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	err := s.loadSchedules(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("workflow scheduler started", "entries", s.Len())
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("workflow scheduler stopped")
}

// Reload clears all cron entries and reloads them from the workflow set.
// Implements the ScheduleReloader interface.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)

	return s.loadSchedules(ctx)
}

// Len returns the number of registered schedules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// loadSchedules adds one cron entry per workflow schedule. Caller holds mu.
func (s *Scheduler) loadSchedules(ctx context.Context) error {
	workflows, err := s.workflows.ListWorkflows(ctx)
	if err != nil {
		return err
	}

	for _, wf := range workflows {
		for i, sched := range wf.Schedules {
			trigger := domain.Trigger{
				Workflow: wf.Name,
				Event:    domain.EventSchedule,
				Ref:      sched.Ref,
				Actor:    scheduleActor,
				Inputs:   maps.Clone(sched.Inputs),
			}

			entryID, err := s.cron.AddFunc(sched.Cron, func() { s.fire(trigger) })
			if err != nil {
				s.logger.Warn("invalid cron schedule",
					"workflow", wf.Name,
					"schedule", sched.Cron,
					"error", err,
				)
				continue
			}

			s.entries[fmt.Sprintf("%s#%d", wf.Name, i)] = entryID
			s.logger.Info("scheduled workflow", "workflow", wf.Name, "schedule", sched.Cron, "ref", sched.Ref)
		}
	}

	return nil
}

func (s *Scheduler) fire(t domain.Trigger) {
	if _, err := s.svc.Trigger(context.Background(), t); err != nil {
		s.logger.Warn("scheduled trigger failed",
			"workflow", t.Workflow,
			"error", err,
		)
	}
}

// Compile-time check that Scheduler implements ScheduleReloader.
var _ ScheduleReloader = (*Scheduler)(nil)
