package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/milestone"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

var milestoneCmd = &cobra.Command{
	Use:   "milestone",
	Short: "Manage milestone locks (frozen spec artifacts)",
}

func newEngine(cmd *cobra.Command) (*milestone.Engine, error) {
	spec, err := loadSpec(cmd)
	if err != nil {
		return nil, err
	}
	return milestone.NewEngine(env.settings.RepoRoot, spec, env.settings.State, env.log), nil
}

func keyNames(keys []workflow.ArtifactKey) string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

var milestoneStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show milestone configuration and check the active lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")
		e, err := newEngine(cmd)
		if err != nil {
			return err
		}
		res, err := e.Status(strict)
		if err != nil {
			return err
		}

		root := env.settings.RepoRoot
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "workflow: %s\n", fsutil.Rel(res.WorkflowPath, root))
		fmt.Fprintf(out, "enabled: %t\n", res.Enabled)
		fmt.Fprintf(out, "artifacts_dir: %s\n", res.ArtifactsRoot)
		fmt.Fprintf(out, "milestone_dir: %s\n", res.MilestoneRoot)
		fmt.Fprintf(out, "active_pointer: %s\n", res.PointerPath)
		fmt.Fprintf(out, "keys: %s\n", keyNames(res.Keys))
		if !res.Enabled {
			return nil
		}

		active := res.Active
		if active == "" {
			active = "<none>"
		}
		fmt.Fprintf(out, "active_milestone: %s\n", active)
		if res.Active != "" && !res.LockFound {
			fmt.Fprintf(out, "lock: MISSING (%s)\n", res.LockPath)
		}

		p := printer(cmd)
		for _, k := range res.Results {
			p.Status(k.Status == milestone.KeyOK, k.Label(), fmt.Sprintf("%s -> %s", k.Key, k.Path))
		}
		recordRun(cmd, "milestone status", res.Findings, lockEvent(res.Active, "status", res.Findings, ""))
		return exitFor(res.Findings.ExitCode())
	},
}

func createOpts(cmd *cobra.Command) milestone.CreateOpts {
	id, _ := cmd.Flags().GetString("milestone-id")
	force, _ := cmd.Flags().GetBool("force")
	partial, _ := cmd.Flags().GetBool("allow-partial")
	setActive, _ := cmd.Flags().GetBool("set-active")
	return milestone.CreateOpts{MilestoneID: id, Force: force, AllowPartial: partial, SetActive: setActive}
}

// finishCreate prints and records a create or import outcome.
func finishCreate(cmd *cobra.Command, e *milestone.Engine, res *milestone.CreateResult, op string) error {
	out := cmd.OutOrStdout()
	printer(cmd).List(res.Findings)

	if res.Findings.Has(milestone.CodeMilestoneDisabled) {
		recordRun(cmd, "milestone "+op, res.Findings)
		return exitFor(1)
	}
	reportPath, _ := cmd.Flags().GetString("report")
	if err := writeReport(cmd, res.Document(env.settings.RepoRoot, e.Now()), reportPath); err != nil {
		return err
	}

	if res.Failed() {
		fmt.Fprintf(out, "milestone lock not created: %s\n", res.MilestoneID)
		if len(res.MissingSource) > 0 || len(res.MissingMapping) > 0 {
			fmt.Fprintln(out, "missing sources or mapping (use --allow-partial to bypass)")
		}
	} else {
		fmt.Fprintf(out, "milestone lock created: %s (copied=%d, missing_source=%d, missing_mapping=%d)\n",
			res.MilestoneID, len(res.Copied), len(res.MissingSource), len(res.MissingMapping))
		fmt.Fprintf(out, "lock=%s\n", res.LockPath)
	}
	recordRun(cmd, "milestone "+op, res.Findings,
		lockEvent(res.MilestoneID, op, res.Findings, fmt.Sprintf("source=%s copied=%d", res.SourceType, len(res.Copied))))
	if res.Failed() {
		return exitFor(1)
	}
	return nil
}

var milestoneCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a lock from the current artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd)
		if err != nil {
			return err
		}
		res, err := e.Create(createOpts(cmd))
		if err != nil {
			return err
		}
		return finishCreate(cmd, e, res, "create")
	},
}

var milestoneImportCmd = &cobra.Command{
	Use:   "import-archive",
	Short: "Create a lock from an archive directory (default: the latest one)",
	RunE: func(cmd *cobra.Command, args []string) error {
		archiveDir, _ := cmd.Flags().GetString("archive-dir")
		e, err := newEngine(cmd)
		if err != nil {
			return err
		}
		res, err := e.ImportArchive(env.settings.ArchiveDir, archiveDir, createOpts(cmd))
		if err != nil {
			return err
		}
		if res.Findings.Has("MILESTONE_ARCHIVE_NOT_FOUND") {
			printer(cmd).List(res.Findings)
			recordRun(cmd, "milestone import-archive", res.Findings)
			return exitFor(1)
		}
		return finishCreate(cmd, e, res, "import-archive")
	},
}

var milestoneUseCmd = &cobra.Command{
	Use:   "use",
	Short: "Restore artifacts from a lock (default: the active milestone)",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("milestone-id")
		force, _ := cmd.Flags().GetBool("force")
		e, err := newEngine(cmd)
		if err != nil {
			return err
		}
		res, err := e.Use(id, force)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printer(cmd).List(res.Findings)
		if milestone.Unresolved(res.Findings) {
			recordRun(cmd, "milestone use", res.Findings, lockEvent(res.MilestoneID, "use", res.Findings, ""))
			return exitFor(1)
		}

		reportPath, _ := cmd.Flags().GetString("report")
		if err := writeReport(cmd, res.Document(env.settings.RepoRoot, e.Now()), reportPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "milestone seeded: %s (copied=%d, skipped=%d, failed=%d)\n",
			res.MilestoneID, len(res.Copied), len(res.Skipped), len(res.Failed))
		recordRun(cmd, "milestone use", res.Findings,
			lockEvent(res.MilestoneID, "use", res.Findings, strings.Join(res.Failed, "; ")))
		if !res.Succeeded() {
			return exitFor(1)
		}
		return nil
	},
}

var milestoneVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify that artifacts still match a lock (default: the active milestone)",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("milestone-id")
		e, err := newEngine(cmd)
		if err != nil {
			return err
		}
		res, err := e.Verify(id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if milestone.Unresolved(res.Findings) {
			printer(cmd).List(res.Findings)
			recordRun(cmd, "milestone verify", res.Findings, lockEvent(res.MilestoneID, "verify", res.Findings, ""))
			return exitFor(1)
		}

		p := printer(cmd)
		for _, k := range res.Keys {
			p.Status(k.Status == milestone.KeyOK, k.Label(), fmt.Sprintf("%s -> %s", k.Key, k.Path))
		}
		for _, k := range res.Extra {
			p.Status(false, "EXTRA", string(k))
		}

		reportPath, _ := cmd.Flags().GetString("report")
		if err := writeReport(cmd, res.Document(env.settings.RepoRoot, e.Now()), reportPath); err != nil {
			return err
		}
		ok, drift, missing := len(res.ByStatus(milestone.KeyOK)), len(res.ByStatus(milestone.KeyDrift)), len(res.ByStatus(milestone.KeyMissing))
		fmt.Fprintf(out, "milestone verify: %s (ok=%d, drift=%d, missing=%d)\n", res.MilestoneID, ok, drift, missing)
		recordRun(cmd, "milestone verify", res.Findings,
			lockEvent(res.MilestoneID, "verify", res.Findings, fmt.Sprintf("ok=%d drift=%d missing=%d", ok, drift, missing)))
		if res.Failed() {
			return exitFor(1)
		}
		return nil
	},
}

var milestoneSetActiveCmd = &cobra.Command{
	Use:   "set-active",
	Short: "Point the active-milestone pointer at an existing lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("milestone-id")
		e, err := newEngine(cmd)
		if err != nil {
			return err
		}
		fs, err := e.SetActive(id)
		if err != nil {
			return err
		}
		printer(cmd).List(fs)
		recordRun(cmd, "milestone set-active", fs, lockEvent(id, "set-active", fs, ""))
		return exitFor(fs.ExitCode())
	},
}

func init() {
	milestoneStatusCmd.Flags().Bool("strict", false, "exit non-zero when no active milestone, the lock is missing or any key is not OK")

	for _, c := range []*cobra.Command{milestoneCreateCmd, milestoneImportCmd} {
		c.Flags().String("milestone-id", "", "milestone id")
		c.Flags().Bool("force", false, "overwrite an existing lock")
		c.Flags().Bool("allow-partial", false, "create the lock even when some configured keys are missing")
		c.Flags().Bool("set-active", true, "point the active milestone at the new lock")
		c.Flags().String("report", milestone.DefaultCreateReport, "report path")
		_ = c.MarkFlagRequired("milestone-id")
	}
	milestoneImportCmd.Flags().String("archive-dir", "", "archive directory (default: latest under --archive-root)")

	milestoneUseCmd.Flags().String("milestone-id", "", "milestone id (default: active milestone)")
	milestoneUseCmd.Flags().Bool("force", false, "overwrite existing artifacts")
	milestoneUseCmd.Flags().String("report", milestone.DefaultSeedReport, "report path")

	milestoneVerifyCmd.Flags().String("milestone-id", "", "milestone id (default: active milestone)")
	milestoneVerifyCmd.Flags().String("report", milestone.DefaultVerifyReport, "report path")

	milestoneSetActiveCmd.Flags().String("milestone-id", "", "milestone id")
	_ = milestoneSetActiveCmd.MarkFlagRequired("milestone-id")

	milestoneCmd.AddCommand(milestoneStatusCmd)
	milestoneCmd.AddCommand(milestoneCreateCmd)
	milestoneCmd.AddCommand(milestoneImportCmd)
	milestoneCmd.AddCommand(milestoneUseCmd)
	milestoneCmd.AddCommand(milestoneVerifyCmd)
	milestoneCmd.AddCommand(milestoneSetActiveCmd)
}
