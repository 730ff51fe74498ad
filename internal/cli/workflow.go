package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/stagegate/internal/finding"
	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect workflow definitions",
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate workflow definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringSlice("file")
		if len(files) == 0 {
			files = env.settings.Workflows
		}

		var fs finding.List
		for _, f := range files {
			path := env.settings.Path(f)
			if !fsutil.Exists(path) {
				fs.Errorf("WF_FILE_MISSING", path, "workflow file does not exist")
				continue
			}
			wf, _, err := workflow.Load(path)
			if err != nil {
				fs.Errorf("WF_LOAD_FAILED", path, "failed to parse workflow: %v", err)
				continue
			}
			fs.Extend(wf)
		}
		return exitFor(printer(cmd).Findings(fs))
	},
}

// specView is the YAML rendering of a normalized workflow, in the same shape
// the loader accepts.
type specView struct {
	ArtifactsDir string                          `yaml:"artifacts_dir"`
	Artifacts    map[workflow.ArtifactKey]string `yaml:"artifacts"`
	Stages       []stageView                     `yaml:"stages"`
	Milestone    workflow.MilestonePolicy        `yaml:"milestone"`
	Baseline     workflow.BaselinePolicy         `yaml:"baseline"`
}

type stageView struct {
	ID       string                 `yaml:"id"`
	Owners   []string               `yaml:"owners"`
	Outputs  []workflow.ArtifactKey `yaml:"outputs_required"`
	ExitGate struct {
		Criteria []string `yaml:"criteria"`
	} `yaml:"exit_gate"`
}

func newSpecView(spec *workflow.Spec) specView {
	v := specView{
		ArtifactsDir: spec.ArtifactsDir,
		Artifacts:    spec.Artifacts,
		Milestone:    spec.Milestone,
		Baseline:     spec.Baseline,
	}
	for _, st := range spec.Stages {
		sv := stageView{ID: st.ID, Owners: st.Owners, Outputs: st.Outputs}
		sv.ExitGate.Criteria = st.Criteria
		v.Stages = append(v.Stages, sv)
	}
	return v
}

var workflowShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the normalized workflow with defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			file = env.settings.PrimaryWorkflow()
		}
		spec, _, err := workflow.LoadSpec(env.settings.Path(file))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", fsutil.Rel(spec.Path, env.settings.RepoRoot))
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(newSpecView(spec)); err != nil {
			return fmt.Errorf("encode workflow: %w", err)
		}
		return enc.Close()
	},
}

func init() {
	workflowValidateCmd.Flags().StringSliceP("file", "f", nil, "workflow file to validate (default: configured workflows)")
	workflowShowCmd.Flags().StringP("file", "f", "", "workflow file to show (default: primary workflow)")

	workflowCmd.AddCommand(workflowValidateCmd)
	workflowCmd.AddCommand(workflowShowCmd)
}
