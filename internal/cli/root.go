package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/logging"
	"github.com/lucasnoah/stagegate/internal/report"
	"github.com/lucasnoah/stagegate/internal/settings"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "stagegate",
	Short: "Consistency checks for staged spec workflows",
	Long: `stagegate audits a staged workflow repository: the workflow definitions,
the workflow-state record, the artifacts on disk and the milestone locks that
freeze spec artifacts once implementation starts.

Settings come from flags, STAGEGATE_* environment variables and an optional
.stagegate.yaml in the repo root.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError reports a non-zero exit status for a run whose outcome has
// already been printed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// exitFor maps a findings exit code to a command error.
func exitFor(code int) error {
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code}
}

func Execute() error {
	return rootCmd.Execute()
}

// runEnv is the per-invocation context built by setup.
type runEnv struct {
	settings *settings.Settings
	log      zerolog.Logger
	started  time.Time
	noColor  bool
}

var env *runEnv

// flagKeys binds persistent flags to settings keys.
var flagKeys = map[string]string{
	settings.KeyRepoRoot:    "repo-root",
	settings.KeyWorkflow:    "workflow",
	settings.KeyState:       "state",
	settings.KeyTemplate:    "template",
	settings.KeyArchiveDir:  "archive-root",
	settings.KeyDatabaseURL: "database-url",
	settings.KeyLogLevel:    "log-level",
	settings.KeyLogFormat:   "log-format",
}

func setup(cmd *cobra.Command, args []string) error {
	v := settings.New()
	for key, name := range flagKeys {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	s, err := settings.Load(v)
	if err != nil {
		return err
	}

	noColor, _ := rootCmd.PersistentFlags().GetBool("no-color")
	env = &runEnv{
		settings: s,
		started:  time.Now(),
		noColor:  noColor,
		log: logging.New(cmd.ErrOrStderr(), logging.Options{
			Level:   s.LogLevel,
			Format:  s.LogFormat,
			NoColor: noColor || !isTerminal(cmd.ErrOrStderr()),
		}),
	}
	if s.ConfigFile != "" {
		env.log.Debug().Str("config", s.ConfigFile).Msg("loaded settings file")
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printer returns a findings printer for the command's output, styled only
// on a terminal.
func printer(cmd *cobra.Command) *report.Printer {
	out := cmd.OutOrStdout()
	return report.NewPrinter(out, !env.noColor && isTerminal(out))
}

// loadSpec loads the primary workflow for commands that act on it. A
// definition with ERROR findings is refused: its findings are printed and
// the command exits 1.
func loadSpec(cmd *cobra.Command) (*workflow.Spec, error) {
	path := env.settings.Path(env.settings.PrimaryWorkflow())
	spec, fs, err := workflow.LoadSpec(path)
	if err != nil {
		return nil, err
	}
	if fs.HasErrors() {
		p := printer(cmd)
		p.Findings(fs)
		p.Line("workflow definition is invalid: %s", fsutil.Rel(path, env.settings.RepoRoot))
		env.log.Warn().Str("workflow", path).Int("errors", fs.Count().Errors).Msg("refusing to run on an invalid workflow")
		return nil, exitFor(1)
	}
	return spec, nil
}

// writeReport writes doc to the repo-relative path and prints where it went.
func writeReport(cmd *cobra.Command, doc *report.Document, path string) error {
	abs := env.settings.Path(path)
	if err := doc.WriteFile(abs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "report=%s\n", abs)
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = setup

	pf := rootCmd.PersistentFlags()
	pf.String("repo-root", "", "repository root (default: current directory)")
	pf.StringSlice("workflow", nil, "workflow YAML path, repeatable (default: .bmad/workflows/workflow.yml,.bmad/workflows/bugfix.yml)")
	pf.String("state", settings.DefaultState, "workflow-state JSON path")
	pf.String("template", settings.DefaultTemplate, "workflow-state template path")
	pf.String("archive-root", settings.DefaultArchiveDir, "directory holding archived runs")
	pf.String("database-url", "", "PostgreSQL URL for the run ledger (optional)")
	pf.String("log-level", "info", "log level: trace|debug|info|warn|error|disabled")
	pf.String("log-format", "console", "log format: console|json")
	pf.Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(milestoneCmd)
	rootCmd.AddCommand(baselineCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(historyCmd)
}
