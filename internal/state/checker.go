package state

import (
	"os"
	"sort"
	"strings"

	"github.com/lucasnoah/stagegate/internal/finding"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

// Check validates a state record against its workflow spec and template.
// It covers shape, stage sequence, produced artifacts, staleness of the
// current stage's outputs and the enumerated fields. Milestone checks live in
// the milestone package.
func Check(repoRoot string, st *State, spec *workflow.Spec, tmpl *Template) finding.List {
	var fs finding.List
	ref := st.Path

	fs.Extend(checkShape(st, tmpl))
	fs.Extend(checkSequence(st, spec))

	if !st.ArtifactsCreatedValid {
		fs.Errorf("STATE_ARTIFACTS_CREATED_INVALID", ref, "artifacts_created must be a list")
	}
	fs.Extend(checkCompletedOutputs(repoRoot, st, spec))
	fs.Extend(checkStaleness(repoRoot, st, spec))

	if !contains(VerificationPolicies, st.VerificationPolicy) {
		fs.Errorf("STATE_VERIFICATION_POLICY_INVALID", ref, "verification_policy must be one of: %s", strings.Join(VerificationPolicies, "|"))
	}
	if !contains(VerificationDecisions, st.VerificationDecision) {
		fs.Errorf("STATE_VERIFICATION_DECISION_INVALID", ref, "verification_decision must be one of: %s", strings.Join(VerificationDecisions, "|"))
	}

	if !st.TaskIDsValid {
		fs.Errorf("STATE_TASK_IDS_INVALID", ref, "task_ids must be a list")
	} else if st.Completed(workflow.StageParallelDev) && len(st.TaskIDs) == 0 {
		fs.Errorf("STATE_TASK_IDS_EMPTY", ref, "parallel_dev is completed but task_ids is empty")
	}

	return fs
}

func checkShape(st *State, tmpl *Template) finding.List {
	var fs finding.List
	if tmpl == nil {
		tmpl = &Template{}
	}
	if !tmpl.Found {
		fs.Infof("STATE_TEMPLATE_MISSING", tmpl.Path, "workflow-state template not found; every state field is treated as unknown")
	}

	expected := make(map[string]bool, len(tmpl.Fields))
	for _, f := range tmpl.Fields {
		expected[f] = true
	}

	for _, f := range tmpl.Fields {
		if !st.Fields.Has(f) {
			fs.Errorf("STATE_FIELD_MISSING", st.Path, "workflow-state missing required field '%s'", f)
		}
	}

	present := st.Fields.Keys()
	sort.Strings(present)
	for _, f := range present {
		if !expected[f] {
			fs.Warnf("STATE_FIELD_UNKNOWN", st.Path, "workflow-state has unknown field '%s'", f)
		}
	}
	return fs
}

func checkSequence(st *State, spec *workflow.Spec) finding.List {
	var fs finding.List
	ref := st.Path

	if !st.CompletedValid {
		fs.Errorf("STATE_COMPLETED_INVALID", ref, "completed_stages must be a list")
	}

	idx, known := -1, false
	if st.CurrentStageValid {
		idx, known = spec.StageIndex(st.CurrentStage)
	}
	if !known {
		fs.Errorf("STATE_CURRENT_STAGE_INVALID", ref, "current_stage is missing or not in workflow stages")
	} else if !equalStrings(st.CompletedStages, spec.StageIDs()[:idx]) {
		fs.Errorf("STATE_STAGE_SEQUENCE_INVALID", ref, "completed_stages must exactly match stages before current_stage")
	}

	seen := make(map[string]bool, len(st.CompletedStages))
	dup := false
	for _, id := range st.CompletedStages {
		if seen[id] {
			dup = true
		}
		seen[id] = true
	}
	if dup {
		fs.Errorf("STATE_COMPLETED_DUPLICATE", ref, "completed_stages contains duplicates")
	}

	for _, id := range st.CompletedStages {
		if _, ok := spec.StageIndex(id); !ok {
			fs.Errorf("STATE_COMPLETED_UNKNOWN", ref, "completed stage '%s' is unknown", id)
		}
	}
	return fs
}

// checkCompletedOutputs requires every output of every completed stage to be
// present, non-empty and carrying its content markers.
func checkCompletedOutputs(repoRoot string, st *State, spec *workflow.Spec) finding.List {
	var fs finding.List
	visited := map[string]bool{}

	for _, sid := range st.CompletedStages {
		stage, ok := spec.Stage(sid)
		if !ok || visited[sid] {
			continue
		}
		visited[sid] = true

		for _, key := range stage.Outputs {
			filename, ok := spec.Filename(key)
			if !ok {
				fs.Errorf("STATE_OUTPUT_UNMAPPED", "", "stage '%s' output key '%s' has no artifact mapping", sid, key)
				continue
			}

			path := spec.ArtifactPath(repoRoot, filename)
			info, err := os.Stat(path)
			if err != nil {
				fs.Errorf("STATE_OUTPUT_MISSING_FILE", path, "stage '%s' expected artifact missing: %s", sid, path)
				continue
			}
			if info.Size() == 0 {
				fs.Errorf("STATE_OUTPUT_EMPTY_FILE", path, "stage '%s' expected artifact is empty: %s", sid, path)
			} else {
				fs.Extend(checkMarkers(path, key, filename))
			}

			if !st.Tracked(filename) {
				fs.Warnf("STATE_OUTPUT_NOT_TRACKED", st.Path, "artifact '%s' exists for completed stage '%s' but is missing from state.artifacts_created", filename, sid)
			}
		}
	}
	return fs
}

// checkStaleness flags outputs of the current stage that already exist with
// a modification time older than last_updated_at. Completed stages are not
// inspected.
func checkStaleness(repoRoot string, st *State, spec *workflow.Spec) finding.List {
	var fs finding.List
	if !st.LastUpdatedValid {
		fs.Errorf("STATE_LAST_UPDATED_INVALID", st.Path, "last_updated_at is missing or not valid ISO8601")
		return fs
	}
	if !st.CurrentStageValid {
		return fs
	}
	stage, ok := spec.Stage(st.CurrentStage)
	if !ok {
		return fs
	}

	var stale []string
	for _, key := range stage.Outputs {
		filename, ok := spec.Filename(key)
		if !ok {
			continue
		}
		info, err := os.Stat(spec.ArtifactPath(repoRoot, filename))
		if err != nil {
			continue
		}
		if info.ModTime().Before(st.LastUpdatedAt) {
			stale = append(stale, filename)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		fs.Warnf("STATE_CURRENT_STAGE_STALE_OUTPUTS", st.Path,
			"current_stage already has older output artifacts before last_updated_at; possible stale evidence reuse: %s",
			strings.Join(stale, ", "))
	}
	return fs
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
