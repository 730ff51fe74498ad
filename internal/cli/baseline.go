package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/stagegate/internal/baseline"
	"github.com/lucasnoah/stagegate/internal/finding"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage the long-lived spec baseline",
}

func newStore(cmd *cobra.Command) (*baseline.Store, error) {
	spec, err := loadSpec(cmd)
	if err != nil {
		return nil, err
	}
	return baseline.NewStore(env.settings.RepoRoot, spec, env.log), nil
}

var baselineStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which baseline files are present",
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")
		store, err := newStore(cmd)
		if err != nil {
			return err
		}
		res := store.Status()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "baseline_dir: %s\n", res.BaselineRoot)
		fmt.Fprintf(out, "artifacts_dir: %s\n", res.ArtifactsRoot)
		fmt.Fprintf(out, "keys: %s\n", keyNames(res.Keys))

		p := printer(cmd)
		for _, e := range res.Entries {
			subject := fmt.Sprintf("%s -> %s", e.Key, e.Path)
			if e.Path == "" {
				subject = fmt.Sprintf("%s -> <not mapped in workflow.artifacts>", e.Key)
			}
			p.Status(e.Status == "OK", e.Status, subject)
		}
		if strict && res.Missing() > 0 {
			return exitFor(1)
		}
		return nil
	},
}

// finishSync writes the sync report and prints the totals.
func finishSync(cmd *cobra.Command, res *baseline.SyncResult) error {
	reportPath, _ := cmd.Flags().GetString("report")
	if err := writeReport(cmd, res.Document(env.settings.RepoRoot, time.Now()), reportPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "baseline %s: copied=%d, skipped=%d, missing_source=%d, missing_mapping=%d\n",
		res.Op, len(res.Copied), len(res.Skipped), len(res.MissingSource), len(res.MissingMapping))

	var fs finding.List
	for _, m := range res.MissingSource {
		fs.Warnf("BASELINE_SOURCE_MISSING", res.Source, "missing source %s", m)
	}
	for _, k := range res.MissingMapping {
		fs.Warnf("BASELINE_ARTIFACT_UNMAPPED", "", "baseline key '%s' is not mapped in workflow.artifacts", k)
	}
	recordRun(cmd, "baseline "+string(res.Op), fs)
	return nil
}

var baselineSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Copy baseline files into the artifacts workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		store, err := newStore(cmd)
		if err != nil {
			return err
		}
		res, err := store.Seed(force)
		if err != nil {
			return err
		}
		return finishSync(cmd, res)
	},
}

var baselineSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Copy frozen spec artifacts from the workspace into the baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newStore(cmd)
		if err != nil {
			return err
		}
		res, err := store.Snapshot()
		if err != nil {
			return err
		}
		return finishSync(cmd, res)
	},
}

var baselineImportCmd = &cobra.Command{
	Use:   "import-archive",
	Short: "Bootstrap baseline files from an archive directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		archiveDir, _ := cmd.Flags().GetString("archive-dir")
		store, err := newStore(cmd)
		if err != nil {
			return err
		}
		res, err := store.ImportArchive(env.settings.ArchiveDir, archiveDir)
		if err != nil {
			return err
		}
		return finishSync(cmd, res)
	},
}

func init() {
	baselineStatusCmd.Flags().Bool("strict", false, "exit non-zero if any baseline file is missing")

	baselineSeedCmd.Flags().Bool("force", false, "overwrite existing artifacts files")
	baselineSeedCmd.Flags().String("report", baseline.DefaultSeedReport, "report path")
	baselineSnapshotCmd.Flags().String("report", baseline.DefaultSnapshotReport, "report path")
	baselineImportCmd.Flags().String("archive-dir", "", "archive directory (default: latest under --archive-root)")
	baselineImportCmd.Flags().String("report", baseline.DefaultImportReport, "report path")

	baselineCmd.AddCommand(baselineStatusCmd)
	baselineCmd.AddCommand(baselineSeedCmd)
	baselineCmd.AddCommand(baselineSnapshotCmd)
	baselineCmd.AddCommand(baselineImportCmd)
}
