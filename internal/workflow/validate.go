package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/stagegate/internal/finding"
	"github.com/lucasnoah/stagegate/internal/fsutil"
)

// Validate normalizes a parsed workflow definition into a Spec and reports
// every structural and semantic problem it finds. It never fails: malformed
// input degrades to defaults plus an ERROR finding. ref names the definition
// in findings.
func Validate(def fsutil.Object, ref string) (finding.List, *Spec) {
	var fs finding.List
	spec := &Spec{
		Path:         ref,
		ArtifactsDir: DefaultArtifactsDir,
		Artifacts:    map[ArtifactKey]string{},
	}

	if v, ok := def["artifacts_dir"]; ok && v != nil {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			spec.ArtifactsDir = s
		} else {
			fs.Errorf("WF_ARTIFACTS_DIR_INVALID", ref, "workflow.artifacts_dir must be a non-empty string")
		}
	}

	artifacts, ok := def.Object("artifacts")
	if !ok {
		fs.Errorf("WF_ARTIFACTS_MISSING", ref, "workflow.artifacts must be a mapping")
		artifacts = fsutil.Object{}
	}
	for _, key := range sortedKeys(artifacts) {
		name, ok := artifacts.NonBlank(key)
		if !ok {
			fs.Errorf("WF_ARTIFACT_FILENAME_INVALID", ref, "workflow.artifacts.%s must be a non-empty filename", key)
			continue
		}
		spec.Artifacts[ArtifactKey(key)] = name
	}

	rawStages, ok := fsutil.AsList(def["stages"])
	if !ok || len(rawStages) == 0 {
		fs.Errorf("WF_STAGES_MISSING", ref, "workflow.stages must be a non-empty list")
		rawStages = nil
	}

	spec.Milestone = validateMilestone(def, ref, &fs)
	spec.Baseline = validateBaseline(def, ref, &fs)

	if spec.Milestone.Enabled {
		for _, key := range spec.Milestone.Keys {
			if _, ok := artifacts[string(key)]; !ok {
				fs.Errorf("WF_MILESTONE_KEY_UNMAPPED", ref, "milestone key '%s' is not mapped in workflow.artifacts", key)
			}
		}
	}

	for i, raw := range rawStages {
		st, ok := validateStage(i, raw, artifacts, ref, &fs)
		if ok {
			spec.Stages = append(spec.Stages, st)
		}
	}

	if dups := duplicateIDs(spec.StageIDs()); len(dups) > 0 {
		fs.Errorf("WF_STAGE_DUPLICATE", ref, "workflow has duplicate stage ids: %s", strings.Join(dups, ", "))
	}

	enforce := spec.Milestone.EnforceFromStage
	if spec.Milestone.Enabled && enforce != "" {
		if _, ok := spec.StageIndex(enforce); !ok {
			fs.Errorf("WF_MILESTONE_ENFORCE_STAGE_UNKNOWN", ref, "workflow.milestone.enforce_from_stage '%s' is not a valid stage id", enforce)
		}
	}

	return fs, spec
}

func validateMilestone(def fsutil.Object, ref string, fs *finding.List) MilestonePolicy {
	p := MilestonePolicy{
		Enabled:          true,
		Dir:              DefaultMilestoneDir,
		ActivePointer:    DefaultActivePointer,
		LockFilename:     DefaultLockFilename,
		Keys:             append([]ArtifactKey(nil), DefaultKeys...),
		EnforceFromStage: DefaultEnforceFromStage,
	}

	m := fsutil.Object{}
	if raw, present := def["milestone"]; present && raw != nil {
		obj, ok := fsutil.AsObject(raw)
		if !ok {
			fs.Errorf("WF_MILESTONE_INVALID", ref, "workflow.milestone must be a mapping")
		} else {
			m = obj
		}
	}

	if v, ok := m["enabled"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			fs.Errorf("WF_MILESTONE_ENABLED_INVALID", ref, "workflow.milestone.enabled must be bool")
		} else {
			p.Enabled = b
		}
	}

	stringField := func(key, code string, dst *string) {
		if !m.Has(key) {
			return
		}
		s, ok := m.NonBlank(key)
		if !ok {
			fs.Errorf(code, ref, "workflow.milestone.%s must be a non-empty string", key)
			return
		}
		*dst = s
	}
	stringField("dir", "WF_MILESTONE_DIR_INVALID", &p.Dir)
	stringField("active_pointer", "WF_MILESTONE_POINTER_INVALID", &p.ActivePointer)
	stringField("lock_filename", "WF_MILESTONE_LOCK_FILENAME_INVALID", &p.LockFilename)

	if v, ok := m["keys"]; ok {
		list, isList := fsutil.AsList(v)
		if !isList {
			fs.Errorf("WF_MILESTONE_KEYS_INVALID", ref, "workflow.milestone.keys must be a list")
			p.Keys = nil
		} else {
			p.Keys = toKeys(list)
		}
	}

	if v, ok := m["enforce_from_stage"]; ok {
		switch s := v.(type) {
		case nil:
			p.EnforceFromStage = ""
		case string:
			p.EnforceFromStage = strings.TrimSpace(s)
		default:
			fs.Errorf("WF_MILESTONE_ENFORCE_INVALID", ref, "workflow.milestone.enforce_from_stage must be string")
			p.EnforceFromStage = ""
		}
	}

	return p
}

func validateBaseline(def fsutil.Object, ref string, fs *finding.List) BaselinePolicy {
	p := BaselinePolicy{
		Dir:  DefaultBaselineDir,
		Keys: append([]ArtifactKey(nil), DefaultKeys...),
	}
	raw, present := def["baseline"]
	if !present || raw == nil {
		return p
	}
	b, ok := fsutil.AsObject(raw)
	if !ok {
		fs.Errorf("WF_BASELINE_INVALID", ref, "workflow.baseline must be a mapping")
		return p
	}
	if s, ok := b.NonBlank("dir"); ok {
		p.Dir = s
	}
	// Non-list keys fall back to the default set.
	if list, ok := fsutil.AsList(b["keys"]); ok {
		p.Keys = toKeys(list)
	}
	return p
}

func validateStage(idx int, raw any, artifacts fsutil.Object, ref string, fs *finding.List) (Stage, bool) {
	obj, ok := fsutil.AsObject(raw)
	if !ok {
		fs.Errorf("WF_STAGE_INVALID", ref, "stage[%d] must be an object", idx)
		return Stage{}, false
	}

	sid, ok := obj.NonBlank("id")
	if !ok {
		fs.Errorf("WF_STAGE_ID_MISSING", ref, "stage[%d] has no valid id", idx)
		return Stage{}, false
	}
	st := Stage{ID: sid}

	st.Owners = owners(obj)
	if len(st.Owners) == 0 {
		fs.Errorf("WF_STAGE_OWNER_MISSING", ref, "stage '%s' must define owner or owners", sid)
	}

	outputs, ok := fsutil.AsList(obj["outputs_required"])
	if !ok || len(outputs) == 0 {
		fs.Errorf("WF_STAGE_OUTPUTS_MISSING", ref, "stage '%s' must define non-empty outputs_required", sid)
	} else {
		st.Outputs = toKeys(outputs)
		for _, key := range st.Outputs {
			if _, ok := artifacts[string(key)]; !ok {
				fs.Errorf("WF_OUTPUT_KEY_UNMAPPED", ref, "stage '%s' outputs_required key '%s' is not mapped in workflow.artifacts", sid, key)
			}
		}
	}

	var criteria []any
	if gate, ok := obj.Object("exit_gate"); ok {
		criteria, _ = fsutil.AsList(gate["criteria"])
	}
	if len(criteria) == 0 {
		fs.Errorf("WF_STAGE_EXIT_GATE_MISSING", ref, "stage '%s' must define exit_gate.criteria with at least one item", sid)
	} else {
		st.Criteria = fsutil.StringList(criteria)
	}

	return st, true
}

// owners accepts `owner: name`, `owner: [names]` and `owners: [names]`.
func owners(obj fsutil.Object) []string {
	var out []string
	for _, field := range []string{"owner", "owners"} {
		v := obj[field]
		if !fsutil.Truthy(v) {
			continue
		}
		if list, ok := fsutil.AsList(v); ok {
			for _, o := range fsutil.StringList(list) {
				if strings.TrimSpace(o) != "" {
					out = append(out, o)
				}
			}
			continue
		}
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func toKeys(list []any) []ArtifactKey {
	strs := fsutil.StringList(list)
	keys := make([]ArtifactKey, 0, len(strs))
	for _, s := range strs {
		keys = append(keys, ArtifactKey(s))
	}
	return keys
}

func duplicateIDs(ids []string) []string {
	seen := make(map[string]int, len(ids))
	var dups []string
	for _, id := range ids {
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}

func sortedKeys(o fsutil.Object) []string {
	keys := o.Keys()
	sort.Strings(keys)
	return keys
}
