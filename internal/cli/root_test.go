package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores every flag to its default so executions don't leak
// values into each other through the shared command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// inRepo runs a command against root with logging disabled.
func inRepo(root string, args ...string) (string, error) {
	return executeCommand(append(args, "--repo-root", root, "--log-level", "disabled")...)
}

const cliWorkflow = `
artifacts:
  prd: prd.md
  scope: scope.md
  adr: adr.md
  brief: brief.md
stages:
  - id: discovery
    owner: pm
    outputs_required: [prd]
    exit_gate: {criteria: [approved]}
  - id: design
    owner: architect
    outputs_required: [scope, adr]
    exit_gate: {criteria: [reviewed]}
  - id: parallel_dev
    owner: dev
    outputs_required: [brief]
    exit_gate: {criteria: [merged]}
milestone:
  enabled: true
  keys: [prd, scope]
  enforce_from_stage: parallel_dev
baseline:
  keys: [prd]
`

func newRepo(t *testing.T) string {
	t.Helper()
	t.Setenv("STAGEGATE_DATABASE_URL", "")
	root := t.TempDir()
	writeFile(t, root, ".bmad/workflows/workflow.yml", cliWorkflow)
	writeFile(t, root, ".bmad/artifacts/prd.md", "# PRD\n")
	writeFile(t, root, ".bmad/artifacts/scope.md", "# Scope\n")
	return root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func exitCode(err error) int {
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	if err != nil {
		return -1
	}
	return 0
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{"audit", "milestone", "baseline", "workflow", "db", "history", "version"}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestMilestoneSubcommands(t *testing.T) {
	subcmds := []string{"status", "create", "import-archive", "use", "verify", "set-active"}
	for _, sub := range subcmds {
		out, err := executeCommand("milestone", sub, "--help")
		if err != nil {
			t.Errorf("milestone %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("milestone %s --help produced no output", sub)
		}
	}
}

func TestBaselineSubcommands(t *testing.T) {
	subcmds := []string{"status", "seed", "snapshot", "import-archive"}
	for _, sub := range subcmds {
		out, err := executeCommand("baseline", sub, "--help")
		if err != nil {
			t.Errorf("baseline %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("baseline %s --help produced no output", sub)
		}
	}
}

func TestAudit_WarningsOnly(t *testing.T) {
	root := newRepo(t)
	out, err := inRepo(root, "audit", "--workflow", ".bmad/workflows/workflow.yml")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "WARN STATE_NOT_FOUND") {
		t.Errorf("expected STATE_NOT_FOUND warning, got: %s", out)
	}
	if !strings.Contains(out, "Summary: 0 error(s), 1 warning(s), 0 info") {
		t.Errorf("unexpected summary: %s", out)
	}
}

func TestAudit_ErrorsExitNonZero(t *testing.T) {
	root := newRepo(t)
	out, err := inRepo(root, "audit", "--workflow", ".bmad/workflows/missing.yml", "--report", "audit.md")
	if code := exitCode(err); code != 1 {
		t.Fatalf("expected exit 1, got %d (%v)", code, err)
	}
	if !strings.Contains(out, "ERROR WF_FILE_MISSING") {
		t.Errorf("expected WF_FILE_MISSING, got: %s", out)
	}
	if md := readFile(t, root, "audit.md"); !strings.Contains(md, "# Workflow Audit Report") {
		t.Errorf("unexpected report: %s", md)
	}
}

func TestAudit_JSON(t *testing.T) {
	root := newRepo(t)
	out, err := inRepo(root, "audit", "--workflow", ".bmad/workflows/workflow.yml", "--format", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Findings []map[string]any `json:"findings"`
		ExitCode int              `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got.Findings) != 1 || got.ExitCode != 0 {
		t.Errorf("unexpected JSON result: %+v", got)
	}

	if _, err := inRepo(root, "audit", "--format", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestMilestoneLifecycle(t *testing.T) {
	root := newRepo(t)

	out, err := inRepo(root, "milestone", "create", "--milestone-id", "m1")
	if err != nil {
		t.Fatalf("create failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "milestone lock created: m1 (copied=2") {
		t.Errorf("unexpected create output: %s", out)
	}
	if got := readFile(t, root, ".bmad/milestones/ACTIVE"); got != "m1\n" {
		t.Errorf("ACTIVE = %q, want m1", got)
	}
	report := readFile(t, root, ".bmad/artifacts/milestone-lock-report.md")
	for _, marker := range []string{"Milestone ID", "Locked Keys", "Lock File"} {
		if !strings.Contains(report, marker) {
			t.Errorf("create report missing %q", marker)
		}
	}

	out, err = inRepo(root, "milestone", "verify")
	if err != nil {
		t.Fatalf("verify failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[OK] prd") || !strings.Contains(out, "ok=2, drift=0, missing=0") {
		t.Errorf("unexpected verify output: %s", out)
	}

	writeFile(t, root, ".bmad/artifacts/prd.md", "# PRD (edited)\n")
	out, err = inRepo(root, "milestone", "verify")
	if code := exitCode(err); code != 1 {
		t.Fatalf("expected verify to fail after drift, got %d\n%s", code, out)
	}
	if !strings.Contains(out, "[DRIFT] prd") {
		t.Errorf("expected drift line, got: %s", out)
	}

	out, err = inRepo(root, "milestone", "use", "--force")
	if err != nil {
		t.Fatalf("use failed: %v\n%s", err, out)
	}
	if got := readFile(t, root, ".bmad/artifacts/prd.md"); got != "# PRD\n" {
		t.Errorf("prd.md not restored: %q", got)
	}

	out, err = inRepo(root, "milestone", "status", "--strict")
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "active_milestone: m1") {
		t.Errorf("unexpected status output: %s", out)
	}
}

func TestMilestoneCreate_RefusesExistingLock(t *testing.T) {
	root := newRepo(t)
	if out, err := inRepo(root, "milestone", "create", "--milestone-id", "m1"); err != nil {
		t.Fatalf("create failed: %v\n%s", err, out)
	}
	out, err := inRepo(root, "milestone", "create", "--milestone-id", "m1")
	if code := exitCode(err); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out, "MILESTONE_LOCK_EXISTS") {
		t.Errorf("expected MILESTONE_LOCK_EXISTS, got: %s", out)
	}
	if _, err := inRepo(root, "milestone", "create", "--milestone-id", "m1", "--force"); err != nil {
		t.Errorf("forced create failed: %v", err)
	}
}

func TestMilestoneCommands_RefuseInvalidWorkflow(t *testing.T) {
	root := newRepo(t)
	writeFile(t, root, ".bmad/workflows/workflow.yml", strings.Replace(cliWorkflow, "keys: [prd, scope]", "keys: prd", 1))

	for _, args := range [][]string{
		{"milestone", "create", "--milestone-id", "m1"},
		{"milestone", "verify", "--milestone-id", "m1"},
		{"milestone", "use", "--milestone-id", "m1"},
		{"milestone", "set-active", "--milestone-id", "m1"},
		{"baseline", "snapshot"},
	} {
		out, err := inRepo(root, args...)
		if code := exitCode(err); code != 1 {
			t.Errorf("%v: expected exit 1, got %d (%v)", args, code, err)
		}
		if !strings.Contains(out, "WF_MILESTONE_KEYS_INVALID") || !strings.Contains(out, "workflow definition is invalid") {
			t.Errorf("%v: unexpected output: %s", args, out)
		}
	}
	if _, err := os.Stat(filepath.Join(root, ".bmad", "milestones")); !os.IsNotExist(err) {
		t.Errorf("no lock store should be created for an invalid workflow")
	}
}

func TestMilestoneCreate_EmptyKeySet(t *testing.T) {
	root := newRepo(t)
	writeFile(t, root, ".bmad/workflows/workflow.yml", strings.Replace(cliWorkflow, "keys: [prd, scope]", "keys: []", 1))

	out, err := inRepo(root, "milestone", "create", "--milestone-id", "m1")
	if code := exitCode(err); code != 1 {
		t.Fatalf("expected exit 1, got %d\n%s", code, out)
	}
	if !strings.Contains(out, "MILESTONE_KEYS_EMPTY") || !strings.Contains(out, "milestone lock not created: m1") {
		t.Errorf("unexpected create output: %s", out)
	}
	if _, err := os.Stat(filepath.Join(root, ".bmad", "milestones", "m1", "milestone-lock.yml")); !os.IsNotExist(err) {
		t.Errorf("lock should not be written for an empty key set")
	}
}

func TestMilestoneStatus_NoActive(t *testing.T) {
	root := newRepo(t)
	out, err := inRepo(root, "milestone", "status")
	if err != nil {
		t.Fatalf("non-strict status should succeed: %v", err)
	}
	if !strings.Contains(out, "active_milestone: <none>") {
		t.Errorf("unexpected status output: %s", out)
	}
	if _, err := inRepo(root, "milestone", "status", "--strict"); exitCode(err) != 1 {
		t.Errorf("strict status should fail without an active milestone, got %v", err)
	}
}

func TestMilestoneSetActive(t *testing.T) {
	root := newRepo(t)
	if _, err := inRepo(root, "milestone", "set-active", "--milestone-id", "nope"); exitCode(err) != 1 {
		t.Fatalf("expected failure for unknown lock, got %v", err)
	}
	if out, err := inRepo(root, "milestone", "create", "--milestone-id", "m1", "--set-active=false"); err != nil {
		t.Fatalf("create failed: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(root, ".bmad", "milestones", "ACTIVE")); !os.IsNotExist(err) {
		t.Fatalf("ACTIVE should not exist after --set-active=false")
	}
	if out, err := inRepo(root, "milestone", "set-active", "--milestone-id", "m1"); err != nil {
		t.Fatalf("set-active failed: %v\n%s", err, out)
	}
	if got := readFile(t, root, ".bmad/milestones/ACTIVE"); got != "m1\n" {
		t.Errorf("ACTIVE = %q", got)
	}
}

func TestBaselineSnapshotAndSeed(t *testing.T) {
	root := newRepo(t)

	out, err := inRepo(root, "baseline", "snapshot")
	if err != nil {
		t.Fatalf("snapshot failed: %v\n%s", err, out)
	}
	if got := readFile(t, root, ".bmad/baseline/spec/prd.md"); got != "# PRD\n" {
		t.Errorf("baseline prd.md = %q", got)
	}

	if err := os.Remove(filepath.Join(root, ".bmad", "artifacts", "prd.md")); err != nil {
		t.Fatal(err)
	}
	out, err = inRepo(root, "baseline", "seed")
	if err != nil {
		t.Fatalf("seed failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "baseline seed: copied=1") {
		t.Errorf("unexpected seed output: %s", out)
	}
	if got := readFile(t, root, ".bmad/artifacts/prd.md"); got != "# PRD\n" {
		t.Errorf("seeded prd.md = %q", got)
	}

	out, err = inRepo(root, "baseline", "status", "--strict")
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[OK] prd") {
		t.Errorf("unexpected status output: %s", out)
	}
}

func TestBaselineImportArchive_NoArchive(t *testing.T) {
	root := newRepo(t)
	if _, err := inRepo(root, "baseline", "import-archive"); err == nil {
		t.Fatal("expected error without an archive directory")
	}
}

func TestWorkflowValidateAndShow(t *testing.T) {
	root := newRepo(t)
	writeFile(t, root, "bad.yml", "artifacts: []\nstages: {}\n")

	out, err := inRepo(root, "workflow", "validate", "-f", ".bmad/workflows/workflow.yml")
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Summary: 0 error(s)") {
		t.Errorf("unexpected validate output: %s", out)
	}

	if _, err := inRepo(root, "workflow", "validate", "-f", "bad.yml"); exitCode(err) != 1 {
		t.Errorf("expected bad.yml to fail validation, got %v", err)
	}

	out, err = inRepo(root, "workflow", "show")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	for _, want := range []string{"artifacts_dir: .bmad/artifacts", "enforce_from_stage: parallel_dev", "lock_filename: milestone-lock.yml", "exit_gate:", "criteria:"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "exit_criteria") {
		t.Errorf("show output should use the exit_gate shape:\n%s", out)
	}

	writeFile(t, root, "shown.yml", out)
	if out, err := inRepo(root, "workflow", "validate", "-f", "shown.yml"); err != nil {
		t.Errorf("shown workflow should validate: %v\n%s", err, out)
	}
}

func TestDBCommandsRequireURL(t *testing.T) {
	root := newRepo(t)
	for _, args := range [][]string{{"db", "migrate"}, {"history"}} {
		_, err := inRepo(root, args...)
		if !errors.Is(err, errNoDatabase) {
			t.Errorf("%v: expected errNoDatabase, got %v", args, err)
		}
	}
	if _, err := inRepo(root, "db", "reset"); err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("expected reset to demand --yes, got %v", err)
	}
}
