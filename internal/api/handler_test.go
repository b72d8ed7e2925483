package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ci-core/internal/domain"
	"ci-core/internal/middleware"
	"ci-core/internal/service/pipeline"
)

func newTestRouter(t *testing.T, svc *mockPipelineService, opts RouterOptions) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	opts.Logger = logger
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRouter(ctx, NewHandler(svc, logger), opts)
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHTTPStatusFromDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: domain.ErrNotFound("run %q not found", "x"), want: http.StatusNotFound},
		{name: "validation", err: domain.ErrValidation("bad"), want: http.StatusBadRequest},
		{name: "conflict", err: domain.ErrConflict("busy"), want: http.StatusConflict},
		{name: "classified", err: domain.NewError(domain.KindGraphCyclic, "cycle"), want: http.StatusUnprocessableEntity},
		{name: "wrapped classified", err: errors.Join(errors.New("ctx"), domain.NewError(domain.KindConfigMissing, "x")), want: http.StatusUnprocessableEntity},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatusFromDomainError(tt.err))
		})
	}
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, &mockPipelineService{}, RouterOptions{Validators: []middleware.JWTValidator{mustHS256(t)}})
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestTriggerRun(t *testing.T) {
	var got domain.Trigger
	svc := &mockPipelineService{
		triggerFn: func(_ context.Context, tr domain.Trigger) (*domain.RunSnapshot, error) {
			got = tr
			return &domain.RunSnapshot{ID: "run-1", Trigger: tr, Status: domain.RunRunning}, nil
		},
	}
	h := newTestRouter(t, svc, RouterOptions{})

	rec := do(t, h, http.MethodPost, "/v1/runs",
		`{"workflow":"ci","event":"pull_request","ref":"feature","revision":"abc","pull_request":12,"actor":"octo"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "/v1/runs/run-1", rec.Header().Get("Location"))

	snap := decodeBody[domain.RunSnapshot](t, rec)
	assert.Equal(t, "run-1", snap.ID)
	assert.Equal(t, domain.RunRunning, snap.Status)
	require.NotNil(t, got.PullRequest)
	assert.Equal(t, 12, *got.PullRequest)
	assert.Equal(t, "octo", got.Actor)
}

func TestTriggerRun_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantKind string
	}{
		{name: "malformed body", body: `{"workflow":`, wantCode: http.StatusBadRequest},
		{name: "unknown field", body: `{"workflow":"ci","colour":"blue"}`, wantCode: http.StatusBadRequest},
		{name: "unknown workflow", body: `{"workflow":"nope"}`, err: domain.ErrNotFound(`workflow "nope" not found`), wantCode: http.StatusNotFound},
		{name: "run in progress", body: `{"workflow":"ci"}`, err: domain.ErrConflict("run in progress"), wantCode: http.StatusConflict},
		{
			name:     "cyclic graph",
			body:     `{"workflow":"ci"}`,
			err:      domain.NewError(domain.KindGraphCyclic, "cycle [a b]"),
			wantCode: http.StatusUnprocessableEntity,
			wantKind: "GraphCyclic",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPipelineService{
				triggerFn: func(context.Context, domain.Trigger) (*domain.RunSnapshot, error) {
					return nil, tt.err
				},
			}
			rec := do(t, newTestRouter(t, svc, RouterOptions{}), http.MethodPost, "/v1/runs", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			body := decodeBody[errorBody](t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantKind, body.Kind)
		})
	}
}

func mustHS256(t *testing.T) *middleware.HS256Validator {
	t.Helper()
	v, err := middleware.NewHS256Validator("api-secret")
	require.NoError(t, err)
	return v
}

func TestTriggerRun_PrincipalReplacesActor(t *testing.T) {
	var got domain.Trigger
	svc := &mockPipelineService{
		triggerFn: func(_ context.Context, tr domain.Trigger) (*domain.RunSnapshot, error) {
			got = tr
			return &domain.RunSnapshot{ID: "run-1"}, nil
		},
	}
	h := newTestRouter(t, svc, RouterOptions{Validators: []middleware.JWTValidator{mustHS256(t)}})

	rec := do(t, h, http.MethodPost, "/v1/runs", `{"workflow":"ci","event":"push","ref":"main","actor":"spoofed"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "deploy-bot",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("api-secret"))
	require.NoError(t, err)

	rec = do(t, h, http.MethodPost, "/v1/runs", `{"workflow":"ci","event":"push","ref":"main","actor":"spoofed"}`,
		"Authorization", "Bearer "+signed)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "deploy-bot", got.Actor)
}

func TestPlanRun(t *testing.T) {
	svc := &mockPipelineService{
		planFn: func(_ context.Context, tr domain.Trigger) (*pipeline.Plan, error) {
			return &pipeline.Plan{
				Workflow:       tr.Workflow,
				ConcurrencyKey: "ci/main",
				Flags:          map[string]bool{"backend": true},
				Levels:         [][]string{{"lint"}, {"test"}},
			}, nil
		},
	}
	rec := do(t, newTestRouter(t, svc, RouterOptions{}), http.MethodPost, "/v1/plan", `{"workflow":"ci","event":"push","ref":"main"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	plan := decodeBody[pipeline.Plan](t, rec)
	assert.Equal(t, "ci/main", plan.ConcurrencyKey)
	assert.Equal(t, [][]string{{"lint"}, {"test"}}, plan.Levels)
}

func TestListRuns(t *testing.T) {
	var got domain.RunFilter
	svc := &mockPipelineService{
		listRunsFn: func(_ context.Context, f domain.RunFilter) ([]domain.RunSnapshot, int64, error) {
			got = f
			return []domain.RunSnapshot{{ID: "run-2"}, {ID: "run-1"}}, 5, nil
		},
	}
	h := newTestRouter(t, svc, RouterOptions{})

	rec := do(t, h, http.MethodGet, "/v1/runs?workflow=ci&status=failed&max_results=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeBody[runList](t, rec)
	assert.Len(t, list.Data, 2)
	assert.Equal(t, int64(5), list.Total)
	assert.Equal(t, domain.NextPageToken(0, 2, 5), list.NextPageToken)
	require.NotNil(t, got.Workflow)
	assert.Equal(t, "ci", *got.Workflow)
	require.NotNil(t, got.Status)
	assert.Equal(t, domain.RunFailed, *got.Status)
	assert.Equal(t, 2, got.Page.MaxResults)

	for _, q := range []string{"status=done", "max_results=-1", "max_results=x"} {
		rec := do(t, h, http.MethodGet, "/v1/runs?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestListRuns_EmptyIsArray(t *testing.T) {
	svc := &mockPipelineService{
		listRunsFn: func(context.Context, domain.RunFilter) ([]domain.RunSnapshot, int64, error) {
			return nil, 0, nil
		},
	}
	rec := do(t, newTestRouter(t, svc, RouterOptions{}), http.MethodGet, "/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[],"total":0}`, rec.Body.String())
}

func TestGetRun(t *testing.T) {
	svc := &mockPipelineService{
		getRunFn: func(_ context.Context, id string) (*domain.RunSnapshot, error) {
			if id == "run-1" {
				return &domain.RunSnapshot{ID: id, Status: domain.RunSucceeded}, nil
			}
			return nil, domain.ErrNotFound("run %q not found", id)
		},
	}
	h := newTestRouter(t, svc, RouterOptions{})

	rec := do(t, h, http.MethodGet, "/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RunSucceeded, decodeBody[domain.RunSnapshot](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/v1/runs/run-9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRun(t *testing.T) {
	var gotID string
	svc := &mockPipelineService{
		cancelRunFn: func(_ context.Context, _ string, id string) error {
			if id == "done" {
				return domain.ErrConflict("run %q is not active", id)
			}
			gotID = id
			return nil
		},
		getRunFn: func(_ context.Context, id string) (*domain.RunSnapshot, error) {
			return &domain.RunSnapshot{ID: id, Status: domain.RunCancelled, CancelReason: domain.CancelExplicit}, nil
		},
	}
	h := newTestRouter(t, svc, RouterOptions{})

	rec := do(t, h, http.MethodPost, "/v1/runs/run-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", gotID)
	assert.Equal(t, domain.RunCancelled, decodeBody[domain.RunSnapshot](t, rec).Status)

	rec = do(t, h, http.MethodPost, "/v1/runs/done/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetReport(t *testing.T) {
	rep := &domain.Report{
		RunID:            "run-1",
		Target:           "ci#pr-12",
		Title:            "CI",
		RunStatus:        domain.RunFailed,
		AggregatorStatus: domain.NodeFailed,
		Markdown:         "## CI: failed\n",
	}
	svc := &mockPipelineService{
		getReportFn: func(_ context.Context, id string) (*domain.Report, error) {
			if id != "run-1" {
				return nil, domain.ErrNotFound("report for run %q not found", id)
			}
			return rep, nil
		},
	}
	h := newTestRouter(t, svc, RouterOptions{})

	tests := []struct {
		query        string
		wantCode     int
		wantType     string
		wantContains string
	}{
		{query: "", wantCode: http.StatusOK, wantType: "text/markdown; charset=utf-8", wantContains: "## CI: failed"},
		{query: "?format=html", wantCode: http.StatusOK, wantType: "text/html; charset=utf-8", wantContains: "<!doctype html>"},
		{query: "?format=json", wantCode: http.StatusOK, wantType: "application/json", wantContains: `"target":"ci#pr-12"`},
		{query: "?format=pdf", wantCode: http.StatusBadRequest, wantType: "application/json", wantContains: "unknown report format"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/v1/runs/run-1/report"+tt.query, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantType, rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), tt.wantContains)
		})
	}

	rec := do(t, h, http.MethodGet, "/v1/runs/run-2/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkflows(t *testing.T) {
	reloaded := false
	svc := &mockPipelineService{
		listWorkflowsFn: func(context.Context) ([]*domain.Workflow, error) {
			return []*domain.Workflow{{
				Name:      "ci",
				Jobs:      []domain.JobSpec{{Name: "lint"}, {Name: "test"}},
				Changes:   domain.ChangesSpec{Filters: map[string][]string{"web": {"web/**"}, "backend": {"**/*.go"}}},
				Schedules: []domain.Schedule{{Cron: "@daily", Ref: "main"}},
			}}, nil
		},
		reloadWorkflowsFn: func(context.Context) error {
			reloaded = true
			return nil
		},
	}
	h := newTestRouter(t, svc, RouterOptions{})

	rec := do(t, h, http.MethodGet, "/v1/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Data []workflowSummary `json:"data"`
	}](t, rec)
	require.Len(t, body.Data, 1)
	assert.Equal(t, []string{"lint", "test"}, body.Data[0].Jobs)
	assert.Equal(t, []string{"backend", "web"}, body.Data[0].Filters)

	rec = do(t, h, http.MethodPost, "/v1/workflows/reload", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, reloaded)
}

func TestRouter_CORSAndRateLimit(t *testing.T) {
	svc := &mockPipelineService{
		getRunFn: func(_ context.Context, id string) (*domain.RunSnapshot, error) {
			return &domain.RunSnapshot{ID: id}, nil
		},
	}
	h := newTestRouter(t, svc, RouterOptions{
		CORSAllowedOrigins: []string{"https://ci.example.com"},
		RateLimit:          middleware.RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
	})

	rec := do(t, h, http.MethodGet, "/v1/runs/run-1", "", "Origin", "https://ci.example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://ci.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/v1/runs/run-1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health checks are not rate limited")
}
