// Package api serves the HTTP trigger API of the pipeline service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ci-core/internal/domain"
	"ci-core/internal/middleware"
	"ci-core/internal/service/pipeline"
	"ci-core/internal/service/report"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// pipelineService defines the pipeline operations used by the API handler.
type pipelineService interface {
	Plan(ctx context.Context, t domain.Trigger) (*pipeline.Plan, error)
	Trigger(ctx context.Context, t domain.Trigger) (*domain.RunSnapshot, error)
	GetRun(ctx context.Context, id string) (*domain.RunSnapshot, error)
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.RunSnapshot, int64, error)
	CancelRun(ctx context.Context, principal, id string) error
	GetReport(ctx context.Context, runID string) (*domain.Report, error)
	ListWorkflows(ctx context.Context) ([]*domain.Workflow, error)
	ReloadWorkflows(ctx context.Context) error
}

// Handler implements the trigger API endpoints.
type Handler struct {
	svc    pipelineService
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc pipelineService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the versioned endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/plan", h.PlanRun)
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.TriggerRun)
		r.Get("/", h.ListRuns)
		r.Get("/{runID}", h.GetRun)
		r.Post("/{runID}/cancel", h.CancelRun)
		r.Get("/{runID}/report", h.GetReport)
	})
	r.Get("/workflows", h.ListWorkflows)
	r.Post("/workflows/reload", h.ReloadWorkflows)
}

// decodeTrigger reads a trigger body. An authenticated principal replaces
// any actor the caller supplied.
func decodeTrigger(r *http.Request) (domain.Trigger, error) {
	var t domain.Trigger
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return t, domain.ErrValidation("invalid trigger body: %v", err)
	}
	if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
		t.Actor = principal
	}
	return t, nil
}

// PlanRun answers POST /v1/plan with the levels a trigger would run.
func (h *Handler) PlanRun(w http.ResponseWriter, r *http.Request) {
	t, err := decodeTrigger(r)
	if err != nil {
		writeError(w, err)
		return
	}
	plan, err := h.svc.Plan(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// TriggerRun answers POST /v1/runs. The run continues after the response.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	t, err := decodeTrigger(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.svc.Trigger(r.Context(), t)
	if err != nil {
		h.logger.Warn("trigger rejected",
			"workflow", t.Workflow,
			"error", err,
			"request_id", middleware.RequestIDFromContext(r.Context()),
		)
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+snap.ID)
	writeJSON(w, http.StatusAccepted, snap)
}

type runList struct {
	Data          []domain.RunSnapshot `json:"data"`
	Total         int64                `json:"total"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

// ListRuns answers GET /v1/runs?workflow=&status=&max_results=&page_token=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RunFilter{Page: domain.PageRequest{PageToken: q.Get("page_token")}}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, domain.ErrValidation("max_results must be a non-negative integer"))
			return
		}
		filter.Page.MaxResults = n
	}
	if v := q.Get("workflow"); v != "" {
		filter.Workflow = &v
	}
	if v := q.Get("status"); v != "" {
		status := domain.RunStatus(v)
		switch status {
		case domain.RunRunning, domain.RunSucceeded, domain.RunFailed, domain.RunCancelled:
		default:
			writeError(w, domain.ErrValidation("unknown run status %q", v))
			return
		}
		filter.Status = &status
	}

	runs, total, err := h.svc.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []domain.RunSnapshot{}
	}
	writeJSON(w, http.StatusOK, runList{
		Data:          runs,
		Total:         total,
		NextPageToken: domain.NextPageToken(filter.Page.Offset(), filter.Page.Limit(), total),
	})
}

// GetRun answers GET /v1/runs/{runID}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CancelRun answers POST /v1/runs/{runID}/cancel with the cancelled run.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	principal, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.svc.CancelRun(r.Context(), principal, id); err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetReport answers GET /v1/runs/{runID}/report. The format query parameter
// selects markdown (default), html or json.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.GetReport(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, rep.Markdown)
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.RenderHTML(w, rep); err != nil {
			h.logger.Error("render report", "run_id", rep.RunID, "error", err)
		}
	case "json":
		writeJSON(w, http.StatusOK, rep)
	default:
		writeError(w, domain.ErrValidation("unknown report format %q", format))
	}
}

type workflowSummary struct {
	Name      string            `json:"name"`
	Jobs      []string          `json:"jobs"`
	Schedules []domain.Schedule `json:"schedules,omitempty"`
	Filters   []string          `json:"filters,omitempty"`
}

// ListWorkflows answers GET /v1/workflows.
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := h.svc.ListWorkflows(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]workflowSummary, 0, len(wfs))
	for _, wf := range wfs {
		s := workflowSummary{Name: wf.Name, Jobs: make([]string, 0, len(wf.Jobs)), Schedules: wf.Schedules}
		for _, j := range wf.Jobs {
			s.Jobs = append(s.Jobs, j.Name)
		}
		for name := range wf.Changes.Filters {
			s.Filters = append(s.Filters, name)
		}
		sort.Strings(s.Filters)
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": out})
}

// ReloadWorkflows answers POST /v1/workflows/reload.
func (h *Handler) ReloadWorkflows(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ReloadWorkflows(r.Context()); err != nil {
		writeError(w, fmt.Errorf("reload workflows: %w", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
