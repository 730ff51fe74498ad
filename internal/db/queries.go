package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Run represents a row in the audit_runs table: one stagegate invocation
// and the finding totals it produced.
type Run struct {
	ID         uuid.UUID
	Command    string
	RepoRoot   string
	Errors     int
	Warnings   int
	Infos      int
	StartedAt  time.Time
	FinishedAt time.Time
}

// LockEvent represents a row in the lock_events table.
type LockEvent struct {
	ID          int64
	RunID       uuid.UUID
	MilestoneID string
	Operation   string
	Outcome     string
	Detail      string
	CreatedAt   time.Time
}

// RecordRun inserts a run. A zero ID is replaced with a new random one; the
// stored ID is returned.
func (d *DB) RecordRun(ctx context.Context, run Run) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := d.pool.Exec(ctx,
		`INSERT INTO audit_runs (id, command, repo_root, errors, warnings, infos, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID.String(), run.Command, run.RepoRoot, run.Errors, run.Warnings, run.Infos, run.StartedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("record run: %w", err)
	}
	return run.ID, nil
}

// RecordLockEvent inserts a lock lifecycle event and returns its id.
func (d *DB) RecordLockEvent(ctx context.Context, ev LockEvent) (int64, error) {
	var id int64
	err := d.pool.QueryRow(ctx,
		`INSERT INTO lock_events (run_id, milestone_id, operation, outcome, detail)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		ev.RunID.String(), ev.MilestoneID, ev.Operation, ev.Outcome, ev.Detail,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record lock event: %w", err)
	}
	return id, nil
}

// RecentRuns returns the most recent runs, newest first.
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id::text, command, repo_root, errors, warnings, infos, started_at, finished_at
		 FROM audit_runs ORDER BY started_at DESC, finished_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var id string
		if err := rows.Scan(&id, &r.Command, &r.RepoRoot, &r.Errors, &r.Warnings, &r.Infos, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LockEvents returns events for a milestone, newest first. An empty
// milestoneID returns events for every milestone.
func (d *DB) LockEvents(ctx context.Context, milestoneID string, limit int) ([]LockEvent, error) {
	var (
		rows pgx.Rows
		err  error
	)
	const cols = `SELECT id, run_id::text, milestone_id, operation, outcome, COALESCE(detail, ''), created_at FROM lock_events`
	if milestoneID == "" {
		rows, err = d.pool.Query(ctx, cols+` ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	} else {
		rows, err = d.pool.Query(ctx, cols+` WHERE milestone_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, milestoneID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query lock events: %w", err)
	}
	defer rows.Close()

	var events []LockEvent
	for rows.Next() {
		var e LockEvent
		var runID string
		if err := rows.Scan(&e.ID, &runID, &e.MilestoneID, &e.Operation, &e.Outcome, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lock event: %w", err)
		}
		if e.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
