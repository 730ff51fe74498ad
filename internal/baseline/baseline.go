// Package baseline syncs the long-lived spec baseline: the copy of the
// frozen spec artifacts kept across runs, seeded into each new run's
// workspace and refreshed from it before archiving.
package baseline

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

// Default report locations, relative to the repo root.
const (
	DefaultSeedReport     = ".bmad/artifacts/baseline-seed-report.md"
	DefaultSnapshotReport = ".bmad/artifacts/baseline-spec-snapshot-report.md"
	DefaultImportReport   = ".bmad/artifacts/baseline-import-report.md"
)

// ErrArchiveNotFound is returned when no archive directory can be used.
var ErrArchiveNotFound = errors.New("archive directory not found")

// Op names a sync direction.
type Op string

const (
	OpSeed     Op = "seed"
	OpSnapshot Op = "snapshot"
	OpImport   Op = "import-archive"
)

// Store copies baseline keys between the baseline directory, the artifacts
// workspace and archive directories.
type Store struct {
	repoRoot string
	spec     *workflow.Spec
	log      zerolog.Logger
}

// NewStore creates a Store for one workflow.
func NewStore(repoRoot string, spec *workflow.Spec, log zerolog.Logger) *Store {
	return &Store{
		repoRoot: repoRoot,
		spec:     spec,
		log:      log.With().Str("component", "baseline").Logger(),
	}
}

// Entry is the presence of one baseline key.
type Entry struct {
	Key      workflow.ArtifactKey
	Filename string
	Path     string
	// Status is OK, MISSING or MISSING MAP.
	Status string
}

// StatusResult lists every baseline key and whether its file is present.
type StatusResult struct {
	ArtifactsRoot string
	BaselineRoot  string
	Keys          []workflow.ArtifactKey
	Entries       []Entry
}

// Missing counts keys that are unmapped or have no baseline file.
func (r *StatusResult) Missing() int {
	n := 0
	for _, e := range r.Entries {
		if e.Status != "OK" {
			n++
		}
	}
	return n
}

// Status reports which baseline files are present.
func (s *Store) Status() *StatusResult {
	res := &StatusResult{
		ArtifactsRoot: s.spec.ArtifactsRoot(s.repoRoot),
		BaselineRoot:  s.spec.BaselineRoot(s.repoRoot),
		Keys:          s.spec.Baseline.Keys,
	}
	for _, key := range s.spec.Baseline.Keys {
		e := Entry{Key: key}
		filename, ok := s.spec.Filename(key)
		if !ok {
			e.Status = "MISSING MAP"
			res.Entries = append(res.Entries, e)
			continue
		}
		e.Filename = filename
		e.Path = filepath.Join(res.BaselineRoot, filepath.FromSlash(filename))
		e.Status = "MISSING"
		if fsutil.NonEmpty(e.Path) {
			e.Status = "OK"
		}
		res.Entries = append(res.Entries, e)
	}
	return res
}

// SyncResult reports the outcome of one sync.
type SyncResult struct {
	Op             Op
	Source         string
	Dest           string
	Copied         []string
	Skipped        []string
	MissingSource  []string
	MissingMapping []string
}

// Seed copies baseline files into the artifacts workspace. Existing
// workspace files are kept unless force is set.
func (s *Store) Seed(force bool) (*SyncResult, error) {
	return s.sync(OpSeed, s.spec.BaselineRoot(s.repoRoot), s.spec.ArtifactsRoot(s.repoRoot), force)
}

// Snapshot copies the workspace artifacts into the baseline, overwriting it.
func (s *Store) Snapshot() (*SyncResult, error) {
	return s.sync(OpSnapshot, s.spec.ArtifactsRoot(s.repoRoot), s.spec.BaselineRoot(s.repoRoot), true)
}

// ImportArchive copies baseline keys from an archive directory into the
// baseline. An empty archiveDir selects the most recently modified directory
// under archiveRoot.
func (s *Store) ImportArchive(archiveRoot, archiveDir string) (*SyncResult, error) {
	var src string
	if archiveDir != "" {
		src = fsutil.Resolve(s.repoRoot, archiveDir)
	} else {
		root := fsutil.Resolve(s.repoRoot, archiveRoot)
		latest, err := fsutil.LatestDir(root)
		if err != nil {
			return nil, err
		}
		if latest == "" {
			return nil, fmt.Errorf("%w under %s", ErrArchiveNotFound, root)
		}
		src = latest
	}
	if !fsutil.IsDir(src) {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, src)
	}
	return s.sync(OpImport, src, s.spec.BaselineRoot(s.repoRoot), true)
}

func (s *Store) sync(op Op, from, to string, overwrite bool) (*SyncResult, error) {
	res := &SyncResult{Op: op, Source: from, Dest: to}
	for _, key := range s.spec.Baseline.Keys {
		filename, ok := s.spec.Filename(key)
		if !ok {
			res.MissingMapping = append(res.MissingMapping, string(key))
			continue
		}
		src := filepath.Join(from, filepath.FromSlash(filename))
		dst := filepath.Join(to, filepath.FromSlash(filename))
		if !fsutil.NonEmpty(src) {
			res.MissingSource = append(res.MissingSource, fmt.Sprintf("%s:%s", key, src))
			continue
		}
		rel := fsutil.Rel(dst, s.repoRoot)
		if !overwrite && fsutil.Exists(dst) {
			res.Skipped = append(res.Skipped, rel)
			continue
		}
		if err := fsutil.CopyFile(src, dst); err != nil {
			return nil, fmt.Errorf("baseline %s %s: %w", op, key, err)
		}
		res.Copied = append(res.Copied, rel)
	}

	s.log.Info().Str("op", string(op)).
		Int("copied", len(res.Copied)).
		Int("skipped", len(res.Skipped)).
		Int("missing_source", len(res.MissingSource)).
		Int("missing_map", len(res.MissingMapping)).
		Msg("baseline synced")
	return res, nil
}
