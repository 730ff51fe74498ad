package milestone

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/stagegate/internal/finding"
	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/state"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

// Engine runs the milestone lock lifecycle for one workflow in one repo.
// Operations are synchronous and assume a single writer per repo.
type Engine struct {
	repoRoot     string
	spec         *workflow.Spec
	workflowPath string
	statePath    string
	log          zerolog.Logger
	now          func() time.Time
}

// NewEngine creates an Engine. statePath may be repo-relative.
func NewEngine(repoRoot string, spec *workflow.Spec, statePath string, log zerolog.Logger) *Engine {
	wfPath := ""
	if spec.Path != "" {
		wfPath = fsutil.Rel(fsutil.Resolve(repoRoot, spec.Path), repoRoot)
	}
	return &Engine{
		repoRoot:     repoRoot,
		spec:         spec,
		workflowPath: wfPath,
		statePath:    fsutil.Resolve(repoRoot, statePath),
		log:          log.With().Str("component", "milestone").Logger(),
		now:          time.Now,
	}
}

// SetClock replaces the time source used for lock and state timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// CreateOpts holds options for creating a lock.
type CreateOpts struct {
	MilestoneID string
	// SourceDir defaults to the workflow artifacts directory.
	SourceDir string
	// SourceType defaults to SourceArtifacts.
	SourceType   string
	Force        bool
	AllowPartial bool
	SetActive    bool
}

// CreateResult reports the outcome of Create or ImportArchive.
type CreateResult struct {
	MilestoneID    string
	SourceDir      string
	SourceType     string
	LockPath       string
	Lock           *Lock
	Copied         []string
	MissingSource  []string
	MissingMapping []string
	SetActive      bool
	StateBound     bool
	Findings       finding.List
}

// Failed reports whether the lock was not written.
func (r *CreateResult) Failed() bool {
	return r.Lock == nil || r.Findings.HasErrors()
}

// Create copies every configured milestone artifact from the source
// directory into the lock store, hashes the copies and writes the lock
// record. When a key is unmapped or its source is missing or empty and
// AllowPartial is unset, nothing is written. An existing lock is only
// replaced with Force.
func (e *Engine) Create(opts CreateOpts) (*CreateResult, error) {
	res := &CreateResult{
		MilestoneID: opts.MilestoneID,
		SourceType:  opts.SourceType,
		SetActive:   opts.SetActive,
	}
	if res.SourceType == "" {
		res.SourceType = SourceArtifacts
	}
	if !e.checkEnabled(&res.Findings) || !e.checkID(opts.MilestoneID, &res.Findings) || !e.checkKeys(&res.Findings) {
		return res, nil
	}

	src := e.spec.ArtifactsRoot(e.repoRoot)
	if opts.SourceDir != "" {
		src = fsutil.Resolve(e.repoRoot, opts.SourceDir)
	}
	res.SourceDir = src
	if !fsutil.IsDir(src) {
		res.Findings.Errorf("MILESTONE_SOURCE_DIR_MISSING", src, "source directory not found: %s", src)
		return res, nil
	}

	lockPath := e.spec.LockPath(e.repoRoot, opts.MilestoneID)
	res.LockPath = lockPath
	if fsutil.Exists(lockPath) && !opts.Force {
		res.Findings.Errorf("MILESTONE_LOCK_EXISTS", lockPath, "lock already exists: %s (use --force to overwrite)", lockPath)
		return res, nil
	}

	type source struct {
		key      workflow.ArtifactKey
		filename string
		path     string
	}
	var available []source
	report := res.Findings.Errorf
	if opts.AllowPartial {
		report = res.Findings.Warnf
	}
	for _, key := range e.spec.Milestone.Keys {
		filename, ok := e.spec.Filename(key)
		if !ok {
			res.MissingMapping = append(res.MissingMapping, string(key))
			report(CodeArtifactUnmapped, e.spec.Path, "milestone key '%s' is not mapped in workflow artifacts", key)
			continue
		}
		p := filepath.Join(src, filepath.FromSlash(filename))
		if !fsutil.NonEmpty(p) {
			res.MissingSource = append(res.MissingSource, fmt.Sprintf("%s:%s", key, p))
			report("MILESTONE_SOURCE_MISSING", p, "source missing/empty for milestone key '%s': %s", key, p)
			continue
		}
		available = append(available, source{key: key, filename: filename, path: p})
	}
	if res.Findings.HasErrors() {
		e.log.Warn().Str("milestone", opts.MilestoneID).
			Int("missing_source", len(res.MissingSource)).
			Int("missing_map", len(res.MissingMapping)).
			Msg("lock not created: partial lock is not allowed")
		return res, nil
	}

	now := e.now()
	lock := &Lock{
		SchemaVersion: SchemaVersion,
		WorkflowPath:  e.workflowPath,
		MilestoneID:   opts.MilestoneID,
		CreatedAt:     state.FormatTimestamp(now),
		Source:        Source{Type: res.SourceType, Path: fsutil.Rel(src, e.repoRoot)},
		ArtifactsDir:  fsutil.Rel(e.spec.ArtifactsRoot(e.repoRoot), e.repoRoot),
		Keys:          append([]workflow.ArtifactKey{}, e.spec.Milestone.Keys...),
		Files:         make(map[workflow.ArtifactKey]Entry, len(available)),
	}

	// Copies are staged beside spec/ and swapped in with the record.
	lockDir := filepath.Dir(lockPath)
	specDir := filepath.Join(lockDir, "spec")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	staging, err := os.MkdirTemp(lockDir, ".spec-")
	if err != nil {
		return nil, fmt.Errorf("staging locked copies: %w", err)
	}
	defer os.RemoveAll(staging)
	if err := os.Chmod(staging, 0o755); err != nil {
		return nil, fmt.Errorf("staging locked copies: %w", err)
	}

	for _, s := range available {
		staged := filepath.Join(staging, filepath.FromSlash(s.filename))
		if err := fsutil.CopyFile(s.path, staged); err != nil {
			return nil, fmt.Errorf("locking %s: %w", s.key, err)
		}
		digest, err := fsutil.HashFile(staged)
		if err != nil {
			return nil, fmt.Errorf("hashing locked %s: %w", s.key, err)
		}
		rel := fsutil.Rel(filepath.Join(specDir, filepath.FromSlash(s.filename)), e.repoRoot)
		lock.Files[s.key] = Entry{Artifact: s.filename, LockedPath: rel, SHA256: digest}
		res.Copied = append(res.Copied, rel)
		e.log.Debug().Str("key", string(s.key)).Str("sha256", digest).Msg("locked artifact")
	}

	if err := fsutil.ReplaceDir(staging, specDir, func() error { return WriteLock(lockPath, lock) }); err != nil {
		return nil, err
	}
	res.Lock = lock

	if opts.SetActive {
		if err := WriteActive(e.spec.PointerPath(e.repoRoot), opts.MilestoneID); err != nil {
			return nil, err
		}
	}
	res.StateBound = e.bindState(opts.MilestoneID, lockPath, now, &res.Findings)

	e.log.Info().Str("milestone", opts.MilestoneID).
		Int("copied", len(res.Copied)).
		Str("lock", fsutil.Rel(lockPath, e.repoRoot)).
		Msg("milestone created")
	return res, nil
}

// ImportArchive creates a lock from an archive directory. An empty
// archiveDir selects the most recently modified directory under archiveRoot.
func (e *Engine) ImportArchive(archiveRoot, archiveDir string, opts CreateOpts) (*CreateResult, error) {
	opts.SourceType = SourceArchive
	if archiveDir == "" {
		root := fsutil.Resolve(e.repoRoot, archiveRoot)
		latest, err := fsutil.LatestDir(root)
		if err != nil {
			return nil, err
		}
		if latest == "" {
			res := &CreateResult{MilestoneID: opts.MilestoneID, SourceType: SourceArchive, SetActive: opts.SetActive}
			res.Findings.Errorf("MILESTONE_ARCHIVE_NOT_FOUND", root, "no archive directory found under %s", root)
			return res, nil
		}
		archiveDir = latest
	}
	opts.SourceDir = archiveDir
	return e.Create(opts)
}

// UseResult reports the outcome of Use.
type UseResult struct {
	MilestoneID string
	LockPath    string
	Copied      []string
	Skipped     []string
	Failed      []string
	StateBound  bool
	Findings    finding.List
}

// Succeeded reports whether every lock entry was restored or skipped.
func (r *UseResult) Succeeded() bool {
	return !r.Findings.HasErrors()
}

// Use restores the workspace artifacts from a lock. Each locked copy is
// re-hashed before it is copied, and a copy whose hash no longer matches the
// record is refused. Existing workspace files are skipped unless force is
// set. The state is bound to the milestone only when no entry failed.
func (e *Engine) Use(id string, force bool) (*UseResult, error) {
	res := &UseResult{}
	id, lockPath, rec, err := e.target(id, &res.Findings)
	res.MilestoneID, res.LockPath = id, lockPath
	if err != nil || rec == nil {
		return res, err
	}

	fail := func(key workflow.ArtifactKey, code, ref, reason string) {
		res.Failed = append(res.Failed, fmt.Sprintf("%s:%s", key, reason))
		res.Findings.Errorf(code, ref, "milestone key '%s': %s", key, reason)
	}

	for _, key := range rec.FileKeys() {
		entry, ok := rec.entry(key)
		if !ok {
			fail(key, "MILESTONE_LOCK_ENTRY_INVALID", lockPath, "invalid lock entry")
			continue
		}
		filename, ok := e.spec.Filename(key)
		if !ok {
			fail(key, CodeArtifactUnmapped, e.spec.Path, "not mapped in workflow.artifacts")
			continue
		}
		if !entry.PathValid {
			fail(key, CodeLockedPathInvalid, lockPath, "invalid locked_path in lock")
			continue
		}
		src := fsutil.Resolve(e.repoRoot, entry.LockedPath)
		if !fsutil.NonEmpty(src) {
			fail(key, CodeLockedFileMissing, src, "locked file missing "+src)
			continue
		}
		digest, err := fsutil.HashFile(src)
		if err != nil {
			fail(key, CodeLockedFileMissing, src, "locked file unreadable "+src)
			continue
		}
		if !entry.HashValid || digest != entry.SHA256 {
			fail(key, CodeLockHashMismatch, src, "locked file hash mismatch "+src)
			continue
		}

		dst := e.spec.ArtifactPath(e.repoRoot, filename)
		rel := fsutil.Rel(dst, e.repoRoot)
		if fsutil.Exists(dst) && !force {
			res.Skipped = append(res.Skipped, rel)
			res.Findings.Infof("MILESTONE_ARTIFACT_SKIPPED", dst, "artifact exists, not overwritten: %s", rel)
			continue
		}
		if err := fsutil.CopyFile(src, dst); err != nil {
			return nil, fmt.Errorf("restoring %s: %w", key, err)
		}
		res.Copied = append(res.Copied, rel)
	}

	if len(res.Failed) == 0 {
		res.StateBound = e.bindState(id, lockPath, e.now(), &res.Findings)
	}

	e.log.Info().Str("milestone", id).
		Int("copied", len(res.Copied)).
		Int("skipped", len(res.Skipped)).
		Int("failed", len(res.Failed)).
		Msg("milestone seeded")
	return res, nil
}

// VerifyResult reports the outcome of Verify.
type VerifyResult struct {
	MilestoneID string
	LockPath    string
	Keys        []KeyResult
	Extra       []workflow.ArtifactKey
	Findings    finding.List
}

// ByStatus returns the key results with the given status.
func (r *VerifyResult) ByStatus(s KeyStatus) []KeyResult {
	var out []KeyResult
	for _, k := range r.Keys {
		if k.Status == s {
			out = append(out, k)
		}
	}
	return out
}

// Failed reports whether any key drifted or went missing, or the lock could
// not be resolved.
func (r *VerifyResult) Failed() bool {
	return r.Findings.HasErrors()
}

// Verify runs the three-way check for every configured milestone key and
// lists lock entries outside the configured key set. It never writes.
func (e *Engine) Verify(id string) (*VerifyResult, error) {
	res := &VerifyResult{}
	id, lockPath, rec, err := e.target(id, &res.Findings)
	res.MilestoneID, res.LockPath = id, lockPath
	if err != nil || rec == nil {
		return res, err
	}
	if !e.checkKeys(&res.Findings) {
		return res, nil
	}

	if rec.MilestoneID != "" && rec.MilestoneID != id {
		res.Findings.Errorf(CodeIDMismatch, lockPath, "requested milestone '%s' does not match lock milestone_id '%s'", id, rec.MilestoneID)
	}

	kc := &keyChecker{repoRoot: e.repoRoot, spec: e.spec, rec: rec, mapRef: e.spec.Path}
	res.Keys = kc.checkAll(e.spec.Milestone.Keys, &res.Findings)

	configured := make(map[workflow.ArtifactKey]bool, len(e.spec.Milestone.Keys))
	for _, k := range e.spec.Milestone.Keys {
		configured[k] = true
	}
	for _, k := range rec.FileKeys() {
		if !configured[k] {
			res.Extra = append(res.Extra, k)
			res.Findings.Warnf(CodeLockKeyExtra, lockPath, "lock key '%s' is not in the configured milestone keys", k)
		}
	}
	return res, nil
}

// StatusResult describes the milestone configuration and the active lock.
type StatusResult struct {
	Enabled       bool
	WorkflowPath  string
	ArtifactsRoot string
	MilestoneRoot string
	PointerPath   string
	Keys          []workflow.ArtifactKey
	Active        string
	LockPath      string
	LockFound     bool
	Results       []KeyResult
	Findings      finding.List
}

// Healthy reports whether an active lock exists and every key checks OK.
func (r *StatusResult) Healthy() bool {
	if !r.Enabled {
		return true
	}
	if r.Active == "" || !r.LockFound {
		return false
	}
	for _, k := range r.Results {
		if k.Status != KeyOK {
			return false
		}
	}
	return true
}

// Status reports the milestone configuration and checks the active lock.
// Problems are WARN findings unless strict, where they become ERRORs.
func (e *Engine) Status(strict bool) (*StatusResult, error) {
	res := &StatusResult{
		Enabled:       e.spec.Milestone.Enabled,
		WorkflowPath:  e.spec.Path,
		ArtifactsRoot: e.spec.ArtifactsRoot(e.repoRoot),
		MilestoneRoot: e.spec.MilestoneRoot(e.repoRoot),
		PointerPath:   e.spec.PointerPath(e.repoRoot),
		Keys:          e.spec.Milestone.Keys,
	}
	if !res.Enabled {
		res.Findings.Infof(CodeMilestoneDisabled, e.spec.Path, "milestone is disabled in workflow")
		return res, nil
	}

	var fs finding.List
	defer func() {
		if !strict {
			demote(fs)
		}
		res.Findings.Extend(fs)
	}()

	if !e.checkKeys(&fs) {
		return res, nil
	}

	active, err := ReadActive(res.PointerPath)
	if err != nil {
		return nil, err
	}
	res.Active = active
	if active == "" {
		fs.Errorf("MILESTONE_ACTIVE_MISSING", res.PointerPath, "no active milestone")
		return res, nil
	}

	res.LockPath = e.spec.LockPath(e.repoRoot, active)
	if !fsutil.Exists(res.LockPath) {
		fs.Errorf(CodeLockMissing, res.LockPath, "lock file not found: %s", res.LockPath)
		return res, nil
	}
	res.LockFound = true

	rec, err := ReadRecord(res.LockPath)
	if err != nil {
		fs.Errorf(lockErrorCode(err), res.LockPath, "failed to load milestone lock: %v", err)
		res.LockFound = false
		return res, nil
	}
	kc := &keyChecker{repoRoot: e.repoRoot, spec: e.spec, rec: rec, mapRef: e.spec.Path}
	res.Results = kc.checkAll(e.spec.Milestone.Keys, &fs)
	return res, nil
}

// SetActive points the active-milestone pointer at an existing lock.
func (e *Engine) SetActive(id string) (finding.List, error) {
	var fs finding.List
	if !e.checkEnabled(&fs) || !e.checkID(id, &fs) {
		return fs, nil
	}
	lockPath := e.spec.LockPath(e.repoRoot, id)
	if !fsutil.Exists(lockPath) {
		fs.Errorf(CodeLockMissing, lockPath, "lock not found: %s", lockPath)
		return fs, nil
	}
	pointer := e.spec.PointerPath(e.repoRoot)
	if err := WriteActive(pointer, id); err != nil {
		return nil, err
	}
	fs.Infof("MILESTONE_ACTIVE_SET", pointer, "active milestone set: %s", id)
	e.log.Info().Str("milestone", id).Msg("active milestone set")
	return fs, nil
}

// target resolves the lock addressed by id, falling back to the active
// pointer. Resolution problems are appended to fs and leave the record nil.
func (e *Engine) target(id string, fs *finding.List) (string, string, *Record, error) {
	if !e.checkEnabled(fs) {
		return id, "", nil, nil
	}
	if id == "" {
		active, err := ReadActive(e.spec.PointerPath(e.repoRoot))
		if err != nil {
			return "", "", nil, err
		}
		id = active
	}
	if id == "" {
		fs.Errorf(CodeMilestoneIDMissing, e.spec.PointerPath(e.repoRoot), "milestone_id is required (or set an active milestone first)")
		return "", "", nil, nil
	}
	if !e.checkID(id, fs) {
		return id, "", nil, nil
	}

	lockPath := e.spec.LockPath(e.repoRoot, id)
	if !fsutil.Exists(lockPath) {
		fs.Errorf(CodeLockMissing, lockPath, "lock file not found: %s", lockPath)
		return id, lockPath, nil, nil
	}
	rec, err := ReadRecord(lockPath)
	if err != nil {
		fs.Errorf(lockErrorCode(err), lockPath, "invalid lock: %v", err)
		return id, lockPath, nil, nil
	}
	return id, lockPath, rec, nil
}

// unresolvedCodes are the findings target emits when no lock record could
// be loaded.
var unresolvedCodes = []string{
	CodeMilestoneDisabled, CodeMilestoneIDMissing, CodeIDInvalid,
	CodeLockMissing, CodeLockInvalid, CodeLockFilesInvalid, CodeKeysEmpty,
}

// Unresolved reports whether fs records a failure to resolve the lock an
// operation targeted.
func Unresolved(fs finding.List) bool {
	for _, code := range unresolvedCodes {
		if fs.Has(code) {
			return true
		}
	}
	return false
}

func (e *Engine) checkEnabled(fs *finding.List) bool {
	if !e.spec.Milestone.Enabled {
		fs.Errorf(CodeMilestoneDisabled, e.spec.Path, "milestone is disabled in workflow")
		return false
	}
	return true
}

// checkKeys requires at least one configured milestone key.
func (e *Engine) checkKeys(fs *finding.List) bool {
	if len(e.spec.Milestone.Keys) == 0 {
		fs.Errorf(CodeKeysEmpty, e.spec.Path, "workflow.milestone.keys is empty; nothing to lock")
		return false
	}
	return true
}

func (e *Engine) checkID(id string, fs *finding.List) bool {
	if !ValidID(id) {
		fs.Errorf(CodeIDInvalid, "", "invalid milestone id %q", id)
		return false
	}
	return true
}

// bindState writes the milestone binding into the state file. A missing
// state file is skipped; an unreadable one is reported as a warning since
// the lock itself is already in place.
func (e *Engine) bindState(id, lockPath string, now time.Time, fs *finding.List) bool {
	bound, err := state.BindMilestone(e.statePath, id, fsutil.Rel(lockPath, e.repoRoot), now)
	if err != nil {
		fs.Warnf("STATE_BIND_FAILED", e.statePath, "could not record milestone in state: %v", err)
		e.log.Warn().Err(err).Str("state", e.statePath).Msg("state binding skipped")
		return false
	}
	if !bound {
		e.log.Debug().Str("state", e.statePath).Msg("no state file, binding skipped")
	}
	return bound
}

func lockErrorCode(err error) string {
	if errors.Is(err, ErrNoFiles) {
		return CodeLockFilesInvalid
	}
	return CodeLockInvalid
}

// demote turns ERROR findings into WARN in place.
func demote(fs finding.List) {
	for i := range fs {
		if fs[i].Severity == finding.SeverityError {
			fs[i].Severity = finding.SeverityWarn
		}
	}
}
