package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"ci-core/internal/domain"
)

// Compile-time check.
var _ domain.RunHistoryRepository = (*RunHistoryRepo)(nil)

// RunHistoryRepo archives terminal runs as JSON snapshots, with the columns
// used for filtering stored alongside.
type RunHistoryRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewRunHistoryRepo creates a RunHistoryRepo. read may be the same pool as
// write.
func NewRunHistoryRepo(write, read *sql.DB) *RunHistoryRepo {
	if read == nil {
		read = write
	}
	return &RunHistoryRepo{write: write, read: read}
}

// SaveRun inserts or replaces the snapshot of run.
func (r *RunHistoryRepo) SaveRun(ctx context.Context, run *domain.RunSnapshot) error {
	if run.ID == "" {
		return domain.ErrValidation("run id is required")
	}
	snapshotJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run snapshot: %w", err)
	}

	_, err = r.write.ExecContext(ctx, `
		INSERT INTO runs (id, workflow, concurrency_key, event, ref, revision, actor, status,
		                  cancel_reason, snapshot_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		    status = excluded.status,
		    cancel_reason = excluded.cancel_reason,
		    snapshot_json = excluded.snapshot_json,
		    finished_at = excluded.finished_at
	`, run.ID, run.Trigger.Workflow, run.ConcurrencyKey, string(run.Trigger.Event),
		run.Trigger.Ref, run.Trigger.Revision, run.Trigger.Actor, string(run.Status),
		run.CancelReason, string(snapshotJSON), formatTime(run.StartedAt), formatTimePtr(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, mapDBError(err, "run %q", run.ID))
	}
	return nil
}

// GetRun returns an archived run by ID.
func (r *RunHistoryRepo) GetRun(ctx context.Context, id string) (*domain.RunSnapshot, error) {
	var raw string
	err := r.read.QueryRowContext(ctx, `SELECT snapshot_json FROM runs WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		return nil, mapDBError(err, "run %q not found", id)
	}
	return decodeRun(raw)
}

// ListRuns returns archived runs, newest first, with the total match count.
func (r *RunHistoryRepo) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.RunSnapshot, int64, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Workflow != nil {
		conds = append(conds, "workflow = ?")
		args = append(args, *filter.Workflow)
	}
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := r.read.QueryContext(ctx, `
		SELECT snapshot_json FROM runs `+where+`
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.RunSnapshot, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, err
		}
		run, err := decodeRun(raw)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

func decodeRun(raw string) (*domain.RunSnapshot, error) {
	var run domain.RunSnapshot
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		return nil, fmt.Errorf("decode run snapshot: %w", err)
	}
	return &run, nil
}
