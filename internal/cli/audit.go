package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/stagegate/internal/audit"
	"github.com/lucasnoah/stagegate/internal/report"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit workflow definitions, the workflow state and milestone locks",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		reportPath, _ := cmd.Flags().GetString("report")
		if format != "text" && format != "json" {
			return fmt.Errorf("unknown format %q (want text or json)", format)
		}

		s := env.settings
		res := audit.New(audit.Options{
			RepoRoot:  s.RepoRoot,
			Workflows: s.Workflows,
			State:     s.State,
			Template:  s.Template,
		}, env.log).Run()

		code := res.Findings.ExitCode()
		if format == "json" {
			if err := report.WriteJSON(cmd.OutOrStdout(), res.Findings); err != nil {
				return err
			}
		} else {
			printer(cmd).Findings(res.Findings)
		}

		if reportPath != "" {
			doc := report.FindingsDocument("Workflow Audit Report", time.Now(), res.Findings)
			if err := doc.WriteFile(s.Path(reportPath)); err != nil {
				return err
			}
			env.log.Info().Str("report", s.Path(reportPath)).Msg("audit report written")
		}

		recordRun(cmd, "audit", res.Findings)
		return exitFor(code)
	},
}

func init() {
	auditCmd.Flags().String("format", "text", "output format: text|json")
	auditCmd.Flags().String("report", "", "also write a Markdown report to this path")
}
