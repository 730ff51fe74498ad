package workflow

import (
	"path"
	"path/filepath"

	"github.com/lucasnoah/stagegate/internal/fsutil"
)

// Defaults applied before validation when the definition omits a field.
const (
	DefaultArtifactsDir     = ".bmad/artifacts"
	DefaultMilestoneDir     = ".bmad/milestones"
	DefaultActivePointer    = ".bmad/milestones/ACTIVE"
	DefaultLockFilename     = "milestone-lock.yml"
	DefaultEnforceFromStage = "parallel_dev"
	DefaultBaselineDir      = ".bmad/baseline/spec"
)

// Stage ids with built-in meaning.
const (
	StageScopeFreeze = "scope_freeze"
	StageParallelDev = "parallel_dev"
)

// DefaultKeys is the artifact set frozen by milestones and baselines unless
// the definition names its own.
var DefaultKeys = []ArtifactKey{"prd", "scope", "adr", "impact", "ui_ux_spec", "api_design"}

// ArtifactKey names an entry of the artifact map. Keys are checked against
// the map once at load time; Spec.Filename is the only lookup.
type ArtifactKey string

// Spec is the validated, normalized form of a workflow definition. It is
// always well-typed, even when the definition produced ERROR findings.
type Spec struct {
	Path         string
	ArtifactsDir string
	Artifacts    map[ArtifactKey]string
	Stages       []Stage
	Milestone    MilestonePolicy
	Baseline     BaselinePolicy
}

// Stage is one ordered checkpoint of the workflow.
type Stage struct {
	ID       string
	Owners   []string
	Outputs  []ArtifactKey
	Criteria []string
}

// MilestonePolicy controls when and how milestone locks are enforced.
type MilestonePolicy struct {
	Enabled          bool          `yaml:"enabled"`
	Dir              string        `yaml:"dir"`
	ActivePointer    string        `yaml:"active_pointer"`
	LockFilename     string        `yaml:"lock_filename"`
	Keys             []ArtifactKey `yaml:"keys"`
	EnforceFromStage string        `yaml:"enforce_from_stage"`
}

// BaselinePolicy describes the long-lived spec baseline store.
type BaselinePolicy struct {
	Dir  string        `yaml:"dir"`
	Keys []ArtifactKey `yaml:"keys"`
}

// Filename returns the artifact filename mapped to key.
func (s *Spec) Filename(key ArtifactKey) (string, bool) {
	name, ok := s.Artifacts[key]
	return name, ok && name != ""
}

// StageIDs returns stage ids in definition order.
func (s *Spec) StageIDs() []string {
	ids := make([]string, 0, len(s.Stages))
	for _, st := range s.Stages {
		ids = append(ids, st.ID)
	}
	return ids
}

// StageIndex returns the position of the first stage with the given id.
func (s *Spec) StageIndex(id string) (int, bool) {
	for i, st := range s.Stages {
		if st.ID == id {
			return i, true
		}
	}
	return -1, false
}

// Stage returns the first stage with the given id.
func (s *Spec) Stage(id string) (*Stage, bool) {
	i, ok := s.StageIndex(id)
	if !ok {
		return nil, false
	}
	return &s.Stages[i], true
}

// ArtifactsRoot is the absolute artifacts directory under repoRoot.
func (s *Spec) ArtifactsRoot(repoRoot string) string {
	return fsutil.Resolve(repoRoot, s.ArtifactsDir)
}

// ArtifactPath is the workspace path of a mapped filename.
func (s *Spec) ArtifactPath(repoRoot, filename string) string {
	return filepath.Join(s.ArtifactsRoot(repoRoot), filepath.FromSlash(filename))
}

// MilestoneRoot is the absolute lock store directory.
func (s *Spec) MilestoneRoot(repoRoot string) string {
	return fsutil.Resolve(repoRoot, s.Milestone.Dir)
}

// PointerPath is the absolute path of the active-milestone pointer file.
func (s *Spec) PointerPath(repoRoot string) string {
	return fsutil.Resolve(repoRoot, s.Milestone.ActivePointer)
}

// LockPath is the canonical {dir}/{id}/{lock_filename} location of a lock.
func (s *Spec) LockPath(repoRoot, milestoneID string) string {
	return filepath.Join(s.MilestoneRoot(repoRoot), milestoneID, s.Milestone.LockFilename)
}

// LockRelPath is LockPath expressed relative to the repo root in slash form.
func (s *Spec) LockRelPath(milestoneID string) string {
	return path.Join(filepath.ToSlash(s.Milestone.Dir), milestoneID, s.Milestone.LockFilename)
}

// BaselineRoot is the absolute baseline directory.
func (s *Spec) BaselineRoot(repoRoot string) string {
	return fsutil.Resolve(repoRoot, s.Baseline.Dir)
}
