package api

import (
	"context"

	"ci-core/internal/domain"
	"ci-core/internal/service/pipeline"
)

type mockPipelineService struct {
	planFn            func(ctx context.Context, t domain.Trigger) (*pipeline.Plan, error)
	triggerFn         func(ctx context.Context, t domain.Trigger) (*domain.RunSnapshot, error)
	getRunFn          func(ctx context.Context, id string) (*domain.RunSnapshot, error)
	listRunsFn        func(ctx context.Context, filter domain.RunFilter) ([]domain.RunSnapshot, int64, error)
	cancelRunFn       func(ctx context.Context, principal, id string) error
	getReportFn       func(ctx context.Context, runID string) (*domain.Report, error)
	listWorkflowsFn   func(ctx context.Context) ([]*domain.Workflow, error)
	reloadWorkflowsFn func(ctx context.Context) error
}

func (m *mockPipelineService) Plan(ctx context.Context, t domain.Trigger) (*pipeline.Plan, error) {
	if m.planFn != nil {
		return m.planFn(ctx, t)
	}
	panic("unexpected call to Plan")
}

func (m *mockPipelineService) Trigger(ctx context.Context, t domain.Trigger) (*domain.RunSnapshot, error) {
	if m.triggerFn != nil {
		return m.triggerFn(ctx, t)
	}
	panic("unexpected call to Trigger")
}

func (m *mockPipelineService) GetRun(ctx context.Context, id string) (*domain.RunSnapshot, error) {
	if m.getRunFn != nil {
		return m.getRunFn(ctx, id)
	}
	panic("unexpected call to GetRun")
}

func (m *mockPipelineService) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.RunSnapshot, int64, error) {
	if m.listRunsFn != nil {
		return m.listRunsFn(ctx, filter)
	}
	panic("unexpected call to ListRuns")
}

func (m *mockPipelineService) CancelRun(ctx context.Context, principal, id string) error {
	if m.cancelRunFn != nil {
		return m.cancelRunFn(ctx, principal, id)
	}
	panic("unexpected call to CancelRun")
}

func (m *mockPipelineService) GetReport(ctx context.Context, runID string) (*domain.Report, error) {
	if m.getReportFn != nil {
		return m.getReportFn(ctx, runID)
	}
	panic("unexpected call to GetReport")
}

func (m *mockPipelineService) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	if m.listWorkflowsFn != nil {
		return m.listWorkflowsFn(ctx)
	}
	panic("unexpected call to ListWorkflows")
}

func (m *mockPipelineService) ReloadWorkflows(ctx context.Context) error {
	if m.reloadWorkflowsFn != nil {
		return m.reloadWorkflowsFn(ctx)
	}
	panic("unexpected call to ReloadWorkflows")
}
