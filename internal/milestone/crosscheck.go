package milestone

import (
	"github.com/lucasnoah/stagegate/internal/finding"
	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

// KeyStatus classifies one milestone key after the three-way check.
type KeyStatus string

const (
	KeyOK      KeyStatus = "OK"
	KeyDrift   KeyStatus = "DRIFT"
	KeyMissing KeyStatus = "MISSING"
)

// Finding codes produced by the per-key check.
const (
	CodeArtifactUnmapped   = "MILESTONE_ARTIFACT_UNMAPPED"
	CodeEntryMissing       = "MILESTONE_LOCK_ENTRY_MISSING"
	CodeLockedPathInvalid  = "MILESTONE_LOCKED_PATH_INVALID"
	CodeLockHashInvalid    = "MILESTONE_LOCK_HASH_INVALID"
	CodeArtifactNameDrift  = "MILESTONE_LOCK_ARTIFACT_NAME_DRIFT"
	CodeLockedFileMissing  = "MILESTONE_LOCKED_FILE_MISSING"
	CodeLockHashMismatch   = "MILESTONE_LOCK_HASH_MISMATCH"
	CodeArtifactMissing    = "MILESTONE_ARTIFACT_MISSING"
	CodeArtifactDrift      = "MILESTONE_ARTIFACT_DRIFT"
	CodeLockKeyExtra       = "MILESTONE_LOCK_KEY_EXTRA"
	CodeLockMissing        = "MILESTONE_LOCK_MISSING"
	CodeLockInvalid        = "MILESTONE_LOCK_INVALID"
	CodeLockFilesInvalid   = "MILESTONE_LOCK_FILES_INVALID"
	CodeIDMismatch         = "MILESTONE_ID_MISMATCH"
	CodeMilestoneDisabled  = "MILESTONE_DISABLED"
	CodeMilestoneIDMissing = "MILESTONE_ID_REQUIRED"
	CodeIDInvalid          = "MILESTONE_ID_INVALID"
	CodeKeysEmpty          = "MILESTONE_KEYS_EMPTY"
)

// KeyResult is the outcome of checking one milestone key. Code names the
// finding that decided a non-OK status, so a tampered lock copy
// (CodeLockHashMismatch) stays distinguishable from workspace drift
// (CodeArtifactDrift) even though both classify as KeyDrift.
type KeyResult struct {
	Key      workflow.ArtifactKey
	Status   KeyStatus
	Code     string
	Artifact string
	Path     string
}

// Label is the short bracketed tag used by status listings.
func (k KeyResult) Label() string {
	switch k.Code {
	case "":
		return "OK"
	case CodeArtifactUnmapped:
		return "MISSING MAP"
	case CodeEntryMissing, CodeLockedPathInvalid, CodeLockHashInvalid:
		return "MISSING LOCK"
	case CodeLockedFileMissing:
		return "MISSING LOCK FILE"
	case CodeLockHashMismatch:
		return "LOCK HASH MISMATCH"
	case CodeArtifactMissing:
		return "ARTIFACT MISSING"
	default:
		return string(k.Status)
	}
}

// keyChecker runs the three-way state/lock/workspace check for milestone keys.
type keyChecker struct {
	repoRoot string
	spec     *workflow.Spec
	rec      *Record
	// mapRef is the ref attached to findings about the artifact map itself.
	mapRef string
}

// check verifies one configured key: it must be mapped, the lock must hold a
// well-formed entry, the locked copy must exist and hash to the recorded
// digest, and the workspace artifact must exist and hash to the same digest.
// The check stops at the first failing link.
func (c *keyChecker) check(key workflow.ArtifactKey, fs *finding.List) KeyResult {
	res := KeyResult{Key: key}
	fail := func(status KeyStatus, code string) KeyResult {
		res.Status = status
		res.Code = code
		return res
	}

	filename, ok := c.spec.Filename(key)
	if !ok {
		fs.Errorf(CodeArtifactUnmapped, c.mapRef, "milestone key '%s' is not mapped in workflow artifacts", key)
		return fail(KeyMissing, CodeArtifactUnmapped)
	}
	res.Artifact = filename

	entry, ok := c.rec.entry(key)
	if !ok {
		fs.Errorf(CodeEntryMissing, c.rec.Path, "milestone lock missing entry for key '%s'", key)
		return fail(KeyMissing, CodeEntryMissing)
	}
	if !entry.PathValid {
		fs.Errorf(CodeLockedPathInvalid, c.rec.Path, "milestone entry '%s' has invalid locked_path", key)
		return fail(KeyMissing, CodeLockedPathInvalid)
	}
	if !entry.HashValid {
		fs.Errorf(CodeLockHashInvalid, c.rec.Path, "milestone entry '%s' has invalid sha256", key)
		return fail(KeyMissing, CodeLockHashInvalid)
	}
	if entry.ArtifactSet && entry.Artifact != filename {
		fs.Warnf(CodeArtifactNameDrift, c.rec.Path, "milestone entry '%s' artifact name '%s' differs from workflow mapping '%s'", key, entry.Artifact, filename)
	}

	locked := fsutil.Resolve(c.repoRoot, entry.LockedPath)
	res.Path = locked
	if !fsutil.NonEmpty(locked) {
		fs.Errorf(CodeLockedFileMissing, locked, "milestone locked file missing/empty for key '%s': %s", key, locked)
		return fail(KeyMissing, CodeLockedFileMissing)
	}
	lockedHash, err := fsutil.HashFile(locked)
	if err != nil {
		fs.Errorf(CodeLockedFileMissing, locked, "milestone locked file unreadable for key '%s': %v", key, err)
		return fail(KeyMissing, CodeLockedFileMissing)
	}
	if lockedHash != entry.SHA256 {
		fs.Errorf(CodeLockHashMismatch, locked, "milestone locked file hash mismatch for key '%s'", key)
		return fail(KeyDrift, CodeLockHashMismatch)
	}

	artifact := c.spec.ArtifactPath(c.repoRoot, filename)
	res.Path = artifact
	if !fsutil.NonEmpty(artifact) {
		fs.Errorf(CodeArtifactMissing, artifact, "artifact missing/empty for milestone key '%s': %s", key, artifact)
		return fail(KeyMissing, CodeArtifactMissing)
	}
	liveHash, err := fsutil.HashFile(artifact)
	if err != nil {
		fs.Errorf(CodeArtifactMissing, artifact, "artifact unreadable for milestone key '%s': %v", key, err)
		return fail(KeyMissing, CodeArtifactMissing)
	}
	if liveHash != entry.SHA256 {
		fs.Errorf(CodeArtifactDrift, artifact, "artifact drift detected for milestone key '%s'", key)
		return fail(KeyDrift, CodeArtifactDrift)
	}

	res.Status = KeyOK
	return res
}

// checkAll runs check over keys in order.
func (c *keyChecker) checkAll(keys []workflow.ArtifactKey, fs *finding.List) []KeyResult {
	out := make([]KeyResult, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.check(k, fs))
	}
	return out
}
