package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ci-core/internal/domain"
)

// Compile-time checks.
var (
	_ domain.ReportSink       = (*ReportRepo)(nil)
	_ domain.ReportRepository = (*ReportRepo)(nil)
)

// ReportRepo stores one report per target. Upserting a target replaces the
// report of the previous run for the same pull request or run.
type ReportRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewReportRepo creates a ReportRepo. read may be the same pool as write.
func NewReportRepo(write, read *sql.DB) *ReportRepo {
	if read == nil {
		read = write
	}
	return &ReportRepo{write: write, read: read}
}

// Upsert implements domain.ReportSink.
func (r *ReportRepo) Upsert(ctx context.Context, target string, report *domain.Report) error {
	if target == "" {
		return domain.ErrValidation("report target is required")
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	_, err = r.write.ExecContext(ctx, `
		INSERT INTO reports (target, run_id, workflow, run_status, aggregator_status, markdown,
		                     report_json, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (target) DO UPDATE SET
		    run_id = excluded.run_id,
		    workflow = excluded.workflow,
		    run_status = excluded.run_status,
		    aggregator_status = excluded.aggregator_status,
		    markdown = excluded.markdown,
		    report_json = excluded.report_json,
		    generated_at = excluded.generated_at,
		    updated_at = CURRENT_TIMESTAMP
	`, target, report.RunID, report.Trigger.Workflow, string(report.RunStatus),
		string(report.AggregatorStatus), report.Markdown, string(reportJSON), formatTime(report.GeneratedAt))
	if err != nil {
		return fmt.Errorf("upsert report %s: %w", target, err)
	}
	return nil
}

// Get returns the report currently stored under target.
func (r *ReportRepo) Get(ctx context.Context, target string) (*domain.Report, error) {
	var raw string
	err := r.read.QueryRowContext(ctx, `SELECT report_json FROM reports WHERE target = ?`, target).Scan(&raw)
	if err != nil {
		return nil, mapDBError(err, "report %q not found", target)
	}
	return decodeReport(raw)
}

// GetByRunID returns the report generated for runID. A report replaced by a
// later run under the same target is no longer found.
func (r *ReportRepo) GetByRunID(ctx context.Context, runID string) (*domain.Report, error) {
	var raw string
	err := r.read.QueryRowContext(ctx, `
		SELECT report_json FROM reports WHERE run_id = ?
		ORDER BY generated_at DESC LIMIT 1
	`, runID).Scan(&raw)
	if err != nil {
		return nil, mapDBError(err, "report for run %q not found", runID)
	}
	return decodeReport(raw)
}

func decodeReport(raw string) (*domain.Report, error) {
	var report domain.Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}
