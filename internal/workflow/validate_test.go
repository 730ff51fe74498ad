package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDefinition = `
artifacts_dir: .bmad/artifacts
artifacts:
  prd: prd.md
  scope: scope.md
  adr: adr.md
  impact: impact.md
  ui_ux_spec: ui-ux-spec.md
  api_design: api-design.md
  qa_test_plan: qa-test-plan.md
  scope_gate_report: scope-gate-report.md
stages:
  - id: discovery
    owner: pm
    outputs_required: [prd]
    exit_gate:
      criteria: ["prd approved"]
  - id: scope_freeze
    owners: [pm, architect]
    outputs_required: [scope, adr, impact, ui_ux_spec, api_design, scope_gate_report]
    exit_gate:
      criteria: ["scope frozen"]
  - id: parallel_dev
    owner: dev
    outputs_required: [qa_test_plan]
    exit_gate:
      criteria: ["tasks merged"]
milestone:
  enabled: true
  enforce_from_stage: parallel_dev
`

func parse(t *testing.T, src string) fsutil.Object {
	t.Helper()
	obj, err := fsutil.ParseYAMLObject([]byte(src), "workflow.yml")
	require.NoError(t, err)
	return obj
}

func TestValidate_ValidDefinition(t *testing.T) {
	fs, spec := Validate(parse(t, validDefinition), "workflow.yml")

	assert.Empty(t, fs, "unexpected findings: %v", fs)
	assert.Equal(t, []string{"discovery", "scope_freeze", "parallel_dev"}, spec.StageIDs())
	assert.Equal(t, []string{"pm", "architect"}, spec.Stages[1].Owners)
	assert.Equal(t, "parallel_dev", spec.Milestone.EnforceFromStage)
	assert.Equal(t, DefaultKeys, spec.Milestone.Keys)
	assert.Equal(t, DefaultMilestoneDir, spec.Milestone.Dir)
	assert.Equal(t, DefaultLockFilename, spec.Milestone.LockFilename)
	assert.True(t, spec.Milestone.Enabled)

	name, ok := spec.Filename("prd")
	assert.True(t, ok)
	assert.Equal(t, "prd.md", name)
}

func TestValidate_NonMappingsDegradeToDefaults(t *testing.T) {
	fs, spec := Validate(parse(t, `
artifacts: [a, b]
stages: {}
milestone: "yes"
`), "wf.yml")

	assert.True(t, fs.Has("WF_ARTIFACTS_MISSING"))
	assert.True(t, fs.Has("WF_STAGES_MISSING"))
	assert.True(t, fs.Has("WF_MILESTONE_INVALID"))
	require.NotNil(t, spec)
	assert.Empty(t, spec.Artifacts)
	assert.Empty(t, spec.Stages)
	assert.True(t, spec.Milestone.Enabled)
	assert.Equal(t, DefaultMilestoneDir, spec.Milestone.Dir)
	for _, f := range fs {
		assert.Equal(t, "wf.yml", f.Ref)
	}
}

func TestValidate_MilestoneFieldTypes(t *testing.T) {
	fs, spec := Validate(parse(t, `
artifacts: {prd: prd.md}
stages:
  - id: a
    owner: pm
    outputs_required: [prd]
    exit_gate: {criteria: [done]}
milestone:
  enabled: "true"
  dir: ""
  active_pointer: 3
  lock_filename: "   "
  keys: prd
  enforce_from_stage: [a]
`), "wf.yml")

	for _, code := range []string{
		"WF_MILESTONE_ENABLED_INVALID",
		"WF_MILESTONE_DIR_INVALID",
		"WF_MILESTONE_POINTER_INVALID",
		"WF_MILESTONE_LOCK_FILENAME_INVALID",
		"WF_MILESTONE_KEYS_INVALID",
		"WF_MILESTONE_ENFORCE_INVALID",
	} {
		assert.True(t, fs.Has(code), "missing %s in %v", code, fs.Codes())
	}
	assert.True(t, spec.Milestone.Enabled)
	assert.Equal(t, DefaultMilestoneDir, spec.Milestone.Dir)
	assert.Equal(t, DefaultActivePointer, spec.Milestone.ActivePointer)
	assert.Equal(t, DefaultLockFilename, spec.Milestone.LockFilename)
	assert.Empty(t, spec.Milestone.Keys)
	assert.Equal(t, "", spec.Milestone.EnforceFromStage)
}

func TestValidate_MilestoneKeyUnmapped(t *testing.T) {
	fs, _ := Validate(parse(t, `
artifacts: {prd: prd.md}
stages:
  - id: a
    owner: pm
    outputs_required: [prd]
    exit_gate: {criteria: [done]}
milestone:
  keys: [prd, scope]
  enforce_from_stage: null
`), "wf.yml")

	unmapped := fs.WithCode("WF_MILESTONE_KEY_UNMAPPED")
	require.Len(t, unmapped, 1)
	assert.Contains(t, unmapped[0].Message, "'scope'")
	assert.False(t, fs.Has("WF_MILESTONE_ENFORCE_STAGE_UNKNOWN"))
}

func TestValidate_DisabledMilestoneSkipsKeyChecks(t *testing.T) {
	fs, spec := Validate(parse(t, `
artifacts: {prd: prd.md}
stages:
  - id: a
    owner: pm
    outputs_required: [prd]
    exit_gate: {criteria: [done]}
milestone:
  enabled: false
`), "wf.yml")

	assert.Empty(t, fs, "unexpected findings: %v", fs.Codes())
	assert.False(t, spec.Milestone.Enabled)
}

func TestValidate_StageProblemsAreAllReported(t *testing.T) {
	fs, spec := Validate(parse(t, `
artifacts: {prd: prd.md}
milestone: {enabled: false}
stages:
  - not-a-mapping
  - owner: pm
  - id: nobody
    outputs_required: [prd]
    exit_gate: {criteria: [done]}
  - id: no_outputs
    owner: pm
    outputs_required: []
    exit_gate: {criteria: [done]}
  - id: bad_key
    owner: pm
    outputs_required: [ghost]
    exit_gate: {criteria: [done]}
  - id: no_gate
    owner: pm
    outputs_required: [prd]
    exit_gate: {}
  - id: no_gate
    owner: pm
    outputs_required: [prd]
    exit_gate: {criteria: [x]}
`), "wf.yml")

	want := []string{
		"WF_STAGE_INVALID",
		"WF_STAGE_ID_MISSING",
		"WF_STAGE_OWNER_MISSING",
		"WF_STAGE_OUTPUTS_MISSING",
		"WF_OUTPUT_KEY_UNMAPPED",
		"WF_STAGE_EXIT_GATE_MISSING",
		"WF_STAGE_DUPLICATE",
	}
	for _, code := range want {
		assert.True(t, fs.Has(code), "missing %s in %v", code, fs.Codes())
	}
	// Invalid stages are skipped, structurally valid ones are kept.
	assert.Equal(t, []string{"nobody", "no_outputs", "bad_key", "no_gate", "no_gate"}, spec.StageIDs())
	idx, ok := spec.StageIndex("no_gate")
	assert.True(t, ok)
	assert.Equal(t, 3, idx)
}

func TestValidate_EnforceStageUnknown(t *testing.T) {
	fs, _ := Validate(parse(t, `
artifacts: {prd: prd.md, scope: scope.md, adr: adr.md, impact: impact.md, ui_ux_spec: u.md, api_design: api.md}
stages:
  - id: a
    owner: pm
    outputs_required: [prd]
    exit_gate: {criteria: [done]}
`), "wf.yml")

	// The default enforce_from_stage names parallel_dev, which this workflow lacks.
	assert.Equal(t, []string{"WF_MILESTONE_ENFORCE_STAGE_UNKNOWN"}, fs.Codes())
}

func TestValidate_ArtifactFilenameInvalid(t *testing.T) {
	fs, spec := Validate(parse(t, `
artifacts: {prd: prd.md, scope: 7, adr: ""}
milestone: {enabled: false}
stages:
  - id: a
    owner: pm
    outputs_required: [prd]
    exit_gate: {criteria: [done]}
`), "wf.yml")

	assert.Len(t, fs.WithCode("WF_ARTIFACT_FILENAME_INVALID"), 2)
	_, ok := spec.Filename("scope")
	assert.False(t, ok)
}

func TestValidate_Baseline(t *testing.T) {
	_, spec := Validate(parse(t, `
artifacts: {prd: prd.md}
baseline:
  dir: specs/base
  keys: [prd]
`), "wf.yml")
	assert.Equal(t, "specs/base", spec.Baseline.Dir)
	assert.Equal(t, []ArtifactKey{"prd"}, spec.Baseline.Keys)

	fs, spec := Validate(parse(t, `baseline: [x]`), "wf.yml")
	assert.True(t, fs.Has("WF_BASELINE_INVALID"))
	assert.Equal(t, DefaultBaselineDir, spec.Baseline.Dir)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yml")
	require.NoError(t, os.WriteFile(path, []byte(validDefinition), 0o644))

	fs, spec, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, fs)
	assert.Equal(t, path, spec.Path)

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("- just\n- a list\n"), 0o644))
	_, _, err = Load(bad)
	assert.Error(t, err)

	_, _, err = Load(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}

func TestSpecPaths(t *testing.T) {
	_, spec := Validate(parse(t, validDefinition), "workflow.yml")
	root := "/repo"

	assert.Equal(t, filepath.Join("/repo", ".bmad", "milestones", "m1", "milestone-lock.yml"), spec.LockPath(root, "m1"))
	assert.Equal(t, ".bmad/milestones/m1/milestone-lock.yml", spec.LockRelPath("m1"))
	assert.Equal(t, filepath.Join("/repo", ".bmad", "artifacts", "prd.md"), spec.ArtifactPath(root, "prd.md"))
	assert.Equal(t, filepath.Join("/repo", ".bmad", "milestones", "ACTIVE"), spec.PointerPath(root))
}
