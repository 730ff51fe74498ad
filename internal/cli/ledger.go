package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/stagegate/internal/db"
	"github.com/lucasnoah/stagegate/internal/finding"
)

const ledgerTimeout = 10 * time.Second

var errNoDatabase = errors.New("database_url is not configured (set --database-url or STAGEGATE_DATABASE_URL)")

// openDB opens and migrates the run ledger.
func openDB(ctx context.Context) (*db.DB, func(), error) {
	if env.settings.DatabaseURL == "" {
		return nil, nil, errNoDatabase
	}
	d, err := db.Open(ctx, env.settings.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(ctx); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

// lockEvent describes one milestone lifecycle operation for the ledger.
func lockEvent(milestoneID, operation string, fs finding.List, detail string) db.LockEvent {
	outcome := "ok"
	if fs.HasErrors() {
		outcome = "failed"
	}
	return db.LockEvent{MilestoneID: milestoneID, Operation: operation, Outcome: outcome, Detail: detail}
}

// recordRun stores the run totals and lock events when a database is
// configured. Ledger failures are logged and never change the exit status.
func recordRun(cmd *cobra.Command, command string, fs finding.List, events ...db.LockEvent) {
	if env.settings.DatabaseURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), ledgerTimeout)
	defer cancel()

	d, cleanup, err := openDB(ctx)
	if err != nil {
		env.log.Warn().Err(err).Msg("run ledger unavailable")
		return
	}
	defer cleanup()

	c := fs.Count()
	runID, err := d.RecordRun(ctx, db.Run{
		Command:   command,
		RepoRoot:  env.settings.RepoRoot,
		Errors:    c.Errors,
		Warnings:  c.Warnings,
		Infos:     c.Infos,
		StartedAt: env.started,
	})
	if err != nil {
		env.log.Warn().Err(err).Msg("run not recorded")
		return
	}
	for _, ev := range events {
		if ev.MilestoneID == "" {
			continue
		}
		ev.RunID = runID
		if _, err := d.RecordLockEvent(ctx, ev); err != nil {
			env.log.Warn().Err(err).Str("milestone", ev.MilestoneID).Msg("lock event not recorded")
		}
	}
	env.log.Debug().Str("run", runID.String()).Msg("run recorded")
}
