package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testDB connects to the database named by STAGEGATE_TEST_DATABASE_URL and
// resets the ledger tables. Tests are skipped when it is unset.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("STAGEGATE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STAGEGATE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Reset(ctx); err != nil {
		t.Fatalf("reset test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_BadURL(t *testing.T) {
	if _, err := Open(context.Background(), "not a url ::"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var version int
	if err := d.pool.QueryRow(ctx, "SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}
}

func TestRecordRunAndEvents(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	id, err := d.RecordRun(ctx, Run{Command: "audit", RepoRoot: "/repo", Errors: 2, Warnings: 1, StartedAt: started})
	if err != nil {
		t.Fatalf("record run: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected generated run id")
	}

	for _, op := range []string{"create", "verify"} {
		if _, err := d.RecordLockEvent(ctx, LockEvent{RunID: id, MilestoneID: "m1", Operation: op, Outcome: "ok"}); err != nil {
			t.Fatalf("record %s: %v", op, err)
		}
	}
	if _, err := d.RecordLockEvent(ctx, LockEvent{RunID: id, MilestoneID: "m2", Operation: "use", Outcome: "failed", Detail: "adr:locked file hash mismatch"}); err != nil {
		t.Fatalf("record use: %v", err)
	}

	runs, err := d.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].ID != id || runs[0].Errors != 2 || runs[0].Command != "audit" {
		t.Errorf("unexpected run: %+v", runs[0])
	}
	if !runs[0].StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", runs[0].StartedAt, started)
	}

	events, err := d.LockEvents(ctx, "m1", 10)
	if err != nil {
		t.Fatalf("lock events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for m1, got %d", len(events))
	}
	if events[0].Operation != "verify" {
		t.Errorf("expected newest event first, got %s", events[0].Operation)
	}

	all, err := d.LockEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("all lock events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Detail != "adr:locked file hash mismatch" || all[0].RunID != id {
		t.Errorf("unexpected newest event: %+v", all[0])
	}
}

func TestRecordLockEvent_RejectsUnknownOperation(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	id, err := d.RecordRun(ctx, Run{Command: "milestone", RepoRoot: "/repo"})
	if err != nil {
		t.Fatalf("record run: %v", err)
	}
	if _, err := d.RecordLockEvent(ctx, LockEvent{RunID: id, MilestoneID: "m1", Operation: "explode", Outcome: "ok"}); err == nil {
		t.Fatal("expected check constraint violation")
	}
}
