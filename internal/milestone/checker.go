package milestone

import (
	"errors"

	"github.com/lucasnoah/stagegate/internal/finding"
	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/state"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

// Check cross-validates the state's milestone binding against the lock store
// and the workspace. It reports nothing while a lock is not yet Required.
func Check(repoRoot string, st *state.State, spec *workflow.Spec) finding.List {
	var fs finding.List
	if !Required(spec, st) {
		return fs
	}

	if st.MilestoneID == "" {
		fs.Errorf("STATE_MILESTONE_ID_MISSING", st.Path, "milestone is required at current stage but state.milestone_id is missing")
		return fs
	}
	if st.MilestoneLockPath == "" {
		fs.Errorf("STATE_MILESTONE_LOCK_PATH_MISSING", st.Path, "milestone is required at current stage but state.milestone_lock_path is missing")
		return fs
	}

	lockPath := fsutil.Resolve(repoRoot, st.MilestoneLockPath)
	expected := spec.LockPath(repoRoot, st.MilestoneID)
	if !fsutil.SamePath(lockPath, expected) {
		fs.Warnf("STATE_MILESTONE_LOCK_PATH_UNEXPECTED", st.Path, "state.milestone_lock_path differs from expected convention: %s", expected)
	}

	if !fsutil.Exists(lockPath) {
		fs.Errorf(CodeLockMissing, lockPath, "milestone lock file does not exist: %s", lockPath)
		return fs
	}
	rec, err := ReadRecord(lockPath)
	if errors.Is(err, ErrNoFiles) {
		fs.Errorf(CodeLockFilesInvalid, lockPath, "milestone lock must include files mapping")
		return fs
	}
	if err != nil {
		fs.Errorf(CodeLockInvalid, lockPath, "failed to parse milestone lock: %v", err)
		return fs
	}

	if rec.MilestoneID != "" && rec.MilestoneID != st.MilestoneID {
		fs.Errorf(CodeIDMismatch, lockPath, "state milestone_id '%s' does not match lock milestone_id '%s'", st.MilestoneID, rec.MilestoneID)
	}

	kc := &keyChecker{repoRoot: repoRoot, spec: spec, rec: rec, mapRef: st.Path}
	kc.checkAll(spec.Milestone.Keys, &fs)
	return fs
}
