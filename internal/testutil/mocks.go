// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"ci-core/internal/domain"
)

// === Config Source Mock ===

// MockConfigSource implements domain.ConfigSource for testing.
type MockConfigSource struct {
	LoadFn func(ctx context.Context, path string) ([]byte, error)
}

// Load implements the interface method for testing.
func (m *MockConfigSource) Load(ctx context.Context, path string) ([]byte, error) {
	if m.LoadFn != nil {
		return m.LoadFn(ctx, path)
	}
	return nil, domain.ErrNotFound("config %q not found", path)
}

// === Change Source Mock ===

// MockChangeSource implements domain.ChangeSource for testing. Unset
// functions resolve every revision and report no changed files.
type MockChangeSource struct {
	ResolveFn      func(ctx context.Context, rev string) error
	ChangedFilesFn func(ctx context.Context, base, head string) ([]string, error)
}

// Resolve implements the interface method for testing.
func (m *MockChangeSource) Resolve(ctx context.Context, rev string) error {
	if m.ResolveFn != nil {
		return m.ResolveFn(ctx, rev)
	}
	return nil
}

// ChangedFiles implements the interface method for testing.
func (m *MockChangeSource) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	if m.ChangedFilesFn != nil {
		return m.ChangedFilesFn(ctx, base, head)
	}
	return nil, nil
}

// === Action Executor Mock ===

// MockActionExecutor implements domain.ActionExecutor for testing. It records
// every request it receives; with no ExecuteFn every action succeeds.
type MockActionExecutor struct {
	ExecuteFn func(ctx context.Context, req domain.ActionRequest) (domain.ActionResult, error)

	mu       sync.Mutex
	requests []domain.ActionRequest
}

// Execute implements the interface method for testing.
func (m *MockActionExecutor) Execute(ctx context.Context, req domain.ActionRequest) (domain.ActionResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, req)
	}
	return domain.ActionResult{Status: domain.NodeSucceeded}, nil
}

// Requests returns a copy of the requests received so far.
func (m *MockActionExecutor) Requests() []domain.ActionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ActionRequest(nil), m.requests...)
}

// Executed reports whether a request for node was received.
func (m *MockActionExecutor) Executed(node string) bool {
	for _, req := range m.Requests() {
		if req.Node == node {
			return true
		}
	}
	return false
}

// === Report Sink Mock ===

// MockReportSink implements domain.ReportSink for testing.
type MockReportSink struct {
	UpsertFn func(ctx context.Context, target string, report *domain.Report) error
}

// Upsert implements the interface method for testing.
func (m *MockReportSink) Upsert(ctx context.Context, target string, report *domain.Report) error {
	if m.UpsertFn != nil {
		return m.UpsertFn(ctx, target, report)
	}
	return nil
}

// === Run History Mock ===

// MockRunHistoryRepo implements domain.RunHistoryRepository for testing. When
// a function is unset it falls back to an in-memory store.
type MockRunHistoryRepo struct {
	SaveRunFn  func(ctx context.Context, run *domain.RunSnapshot) error
	GetRunFn   func(ctx context.Context, id string) (*domain.RunSnapshot, error)
	ListRunsFn func(ctx context.Context, filter domain.RunFilter) ([]domain.RunSnapshot, int64, error)

	mu   sync.Mutex
	runs []domain.RunSnapshot
}

// SaveRun implements the interface method for testing.
func (m *MockRunHistoryRepo) SaveRun(ctx context.Context, run *domain.RunSnapshot) error {
	if m.SaveRunFn != nil {
		if err := m.SaveRunFn(ctx, run); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

// GetRun implements the interface method for testing.
func (m *MockRunHistoryRepo) GetRun(ctx context.Context, id string) (*domain.RunSnapshot, error) {
	if m.GetRunFn != nil {
		return m.GetRunFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == id {
			run := m.runs[i]
			return &run, nil
		}
	}
	return nil, domain.ErrNotFound("run %q not found", id)
}

// ListRuns implements the interface method for testing.
func (m *MockRunHistoryRepo) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.RunSnapshot, int64, error) {
	if m.ListRunsFn != nil {
		return m.ListRunsFn(ctx, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RunSnapshot
	for _, r := range m.runs {
		if filter.Workflow != nil && r.Trigger.Workflow != *filter.Workflow {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, int64(len(out)), nil
}

// Saved returns the archived runs in save order.
func (m *MockRunHistoryRepo) Saved() []domain.RunSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RunSnapshot(nil), m.runs...)
}

// === Report Repository Mock ===

// MockReportRepo implements domain.ReportRepository for testing.
type MockReportRepo struct {
	GetByRunIDFn func(ctx context.Context, runID string) (*domain.Report, error)
	GetFn        func(ctx context.Context, target string) (*domain.Report, error)
}

// GetByRunID implements the interface method for testing.
func (m *MockReportRepo) GetByRunID(ctx context.Context, runID string) (*domain.Report, error) {
	if m.GetByRunIDFn != nil {
		return m.GetByRunIDFn(ctx, runID)
	}
	return nil, domain.ErrNotFound("report for run %q not found", runID)
}

// Get implements the interface method for testing.
func (m *MockReportRepo) Get(ctx context.Context, target string) (*domain.Report, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, target)
	}
	return nil, domain.ErrNotFound("report %q not found", target)
}

// === Workflow Provider Mock ===

// MockWorkflowProvider serves workflow definitions for testing.
type MockWorkflowProvider struct {
	GetWorkflowFn   func(ctx context.Context, name string) (*domain.Workflow, error)
	ListWorkflowsFn func(ctx context.Context) ([]*domain.Workflow, error)
	Workflows       []*domain.Workflow
}

// GetWorkflow implements the interface method for testing.
func (m *MockWorkflowProvider) GetWorkflow(ctx context.Context, name string) (*domain.Workflow, error) {
	if m.GetWorkflowFn != nil {
		return m.GetWorkflowFn(ctx, name)
	}
	for _, wf := range m.Workflows {
		if wf.Name == name {
			return wf, nil
		}
	}
	return nil, domain.ErrNotFound("workflow %q not found", name)
}

// ListWorkflows implements the interface method for testing.
func (m *MockWorkflowProvider) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	if m.ListWorkflowsFn != nil {
		return m.ListWorkflowsFn(ctx)
	}
	return m.Workflows, nil
}
